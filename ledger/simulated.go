package ledger

import (
	"context"

	"github.com/TEENet-io/watchwallet/chainsource"
)

// SimWallet feeds ledger accounts straight from a SimChain, bypassing the
// scan coordinator. Used by tests and the server's sim mode seeding.
type SimWallet struct {
	Ledger   *Ledger
	Chain    *chainsource.SimChain
	detector *chainsource.ECDHDetector
}

func NewSimWallet(l *Ledger, chain *chainsource.SimChain) *SimWallet {
	return &SimWallet{Ledger: l, Chain: chain, detector: chainsource.NewECDHDetector()}
}

// Pay mines one block paying each value to the account.
func (w *SimWallet) Pay(acct *Account, values ...uint64) ([]chainsource.CipherOutput, error) {
	pub, err := acct.PubKey()
	if err != nil {
		return nil, err
	}
	outs := make([]chainsource.CipherOutput, 0, len(values))
	for _, v := range values {
		out, err := chainsource.PayTo(pub, v)
		if err != nil {
			return nil, err
		}
		outs = append(outs, out)
	}
	w.Chain.Mine(outs, nil)
	return outs, nil
}

// Spend mines one block spending outs.
func (w *SimWallet) Spend(outs ...chainsource.CipherOutput) {
	ins := make([]chainsource.CipherInput, 0, len(outs))
	for _, out := range outs {
		ins = append(ins, chainsource.SpendOf(out))
	}
	w.Chain.Mine(nil, ins)
}

// SyncTo applies the chain's blocks to the account up to height.
func (w *SimWallet) SyncTo(ctx context.Context, accountID int64, height uint64) error {
	acct, err := w.Ledger.AccountByID(ctx, accountID)
	if err != nil {
		return err
	}
	key, err := acct.WatchKey()
	if err != nil {
		return err
	}
	keys := []chainsource.WatchKey{key}

	for h := acct.ResumeHeight + 1; h <= height; h++ {
		b, ok := w.Chain.BlockAt(h)
		if !ok {
			break
		}
		det := w.detector.Detect(b, keys)
		if _, err := w.Ledger.ApplyBlock(ctx, accountID, NewBlockEffects(b, det[accountID])); err != nil {
			return err
		}
	}
	return nil
}

// Sync applies every block up to the chain tip.
func (w *SimWallet) Sync(ctx context.Context, accountID int64) error {
	return w.SyncTo(ctx, accountID, w.Chain.Tip())
}
