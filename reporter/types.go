package reporter

import (
	"encoding/hex"
	"time"

	"github.com/TEENet-io/watchwallet/chainsource"
	"github.com/TEENet-io/watchwallet/ledger"
	"github.com/btcsuite/btcd/chaincfg"
)

type AccountView struct {
	ID              int64   `json:"id"`
	Name            string  `json:"name"`
	Kind            string  `json:"kind"`
	ParentID        *int64  `json:"parent_id,omitempty"`
	DerivationIndex *uint32 `json:"derivation_index,omitempty"`
	PublicKey       string  `json:"public_key"`
	Address         string  `json:"address,omitempty"`
	BirthdayHeight  uint64  `json:"birthday_height"`
	ResumeHeight    uint64  `json:"resume_height"`
}

type OutputView struct {
	ID          int64  `json:"id"`
	Hash        string `json:"hash"`
	Value       uint64 `json:"value"`
	MinedHeight uint64 `json:"mined_height"`
	Status      string `json:"status"`
}

type RequestView struct {
	ID              string    `json:"id"`
	AccountID       int64     `json:"account_id"`
	IdempotencyKey  string    `json:"idempotency_key"`
	Amount          uint64    `json:"amount"`
	TotalValue      uint64    `json:"total_value"`
	Status          string    `json:"status"`
	MinedHeight     *uint64   `json:"mined_height,omitempty"`
	ConfirmedHeight *uint64   `json:"confirmed_height,omitempty"`
	ExpiresAt       time.Time `json:"expires_at"`
}

type LockView struct {
	Request  RequestView  `json:"request"`
	Outputs  []OutputView `json:"outputs"`
	Replayed bool         `json:"replayed"`
}

type RollbackView struct {
	AccountID               int64    `json:"account_id"`
	DivergenceHeight        uint64   `json:"divergence_height"`
	ResumeHeight            uint64   `json:"resume_height"`
	BlocksRolledBack        int      `json:"blocks_rolled_back"`
	OutputsDeleted          int      `json:"outputs_deleted"`
	InputsDeleted           int      `json:"inputs_deleted"`
	ChangesReversed         int      `json:"changes_reversed"`
	RequestsCancelled       []string `json:"requests_cancelled"`
	RequestsReorged         []string `json:"requests_reorged"`
	TransactionsReorganized []string `json:"transactions_reorganized"`
}

// request bodies

type LockBody struct {
	Amount         uint64 `json:"amount" binding:"required"`
	IdempotencyKey string `json:"idempotency_key" binding:"required"`
	TTLSeconds     int64  `json:"ttl_seconds"`
}

type FulfillBody struct {
	ChangeHash  string `json:"change_hash"`
	ChangeValue uint64 `json:"change_value"`
	TTLSeconds  int64  `json:"ttl_seconds"`
}

type RescanBody struct {
	FromHeight uint64 `json:"from_height"`
}

func accountView(a *ledger.Account, params *chaincfg.Params) AccountView {
	v := AccountView{
		ID:             a.ID,
		Name:           a.Name,
		Kind:           string(a.Kind),
		PublicKey:      hex.EncodeToString(a.PublicKey),
		BirthdayHeight: a.BirthdayHeight,
		ResumeHeight:   a.ResumeHeight,
	}
	if a.Child != nil {
		parent, index := a.Child.ParentID, a.Child.Index
		v.ParentID = &parent
		v.DerivationIndex = &index
	}
	if pub, err := a.PubKey(); err == nil {
		if addr, err := chainsource.AccountAddress(pub, params); err == nil {
			v.Address = addr
		}
	}
	return v
}

func outputView(o *ledger.Output) OutputView {
	return OutputView{
		ID:          o.ID,
		Hash:        o.Hash.String(),
		Value:       o.Value,
		MinedHeight: o.MinedHeight,
		Status:      string(o.Status),
	}
}

func requestView(r *ledger.PendingTransaction) RequestView {
	return RequestView{
		ID:              r.ID,
		AccountID:       r.AccountID,
		IdempotencyKey:  r.IdempotencyKey,
		Amount:          r.Amount,
		TotalValue:      r.TotalValue,
		Status:          string(r.Status),
		MinedHeight:     r.MinedHeight,
		ConfirmedHeight: r.ConfirmedHeight,
		ExpiresAt:       r.ExpiresAt.UTC(),
	}
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

func rollbackView(r *ledger.RollbackResult) RollbackView {
	return RollbackView{
		AccountID:               r.AccountID,
		DivergenceHeight:        r.DivergenceHeight,
		ResumeHeight:            r.ResumeHeight,
		BlocksRolledBack:        r.BlocksRolledBack,
		OutputsDeleted:          r.OutputsDeleted,
		InputsDeleted:           r.InputsDeleted,
		ChangesReversed:         r.ChangesReversed,
		RequestsCancelled:       nonNil(r.RequestsCancelled),
		RequestsReorged:         nonNil(r.RequestsReorged),
		TransactionsReorganized: nonNil(r.TransactionsReorganized),
	}
}
