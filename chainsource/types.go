package chainsource

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

const (
	TAG_SIZE    = 32
	MASKED_SIZE = 8
)

// CipherOutput is an output as it appears on chain: only the holder of the
// matching view key can recognise it (Tag) and recover its value (Masked).
type CipherOutput struct {
	Hash         chainhash.Hash // output hash, identity of the output
	EphemeralKey []byte         // compressed secp256k1 point chosen by the sender
	Tag          [TAG_SIZE]byte
	Masked       [MASKED_SIZE]byte
}

// CipherInput spends a previous output and reveals it.
type CipherInput struct {
	Spent CipherOutput
}

type Block struct {
	Height   uint64
	Hash     chainhash.Hash
	PrevHash chainhash.Hash
	Outputs  []CipherOutput
	Inputs   []CipherInput
}

// Batch is one answer of a block source session.
// MoreBlocks is false once the returned range reaches the chain tip.
type Batch struct {
	Blocks     []*Block
	MoreBlocks bool
}

// WatchKey binds a view key to the account that owns it.
type WatchKey struct {
	AccountID int64
	ViewKey   *btcec.PrivateKey
}

type DetectedOutput struct {
	Hash  chainhash.Hash
	Value uint64
}

type DetectedInput struct {
	OutputHash chainhash.Hash
}

// AccountDetection is what one account owns in one block.
type AccountDetection struct {
	Outputs []DetectedOutput
	Inputs  []DetectedInput
}

func (d *AccountDetection) IsEmpty() bool {
	return d == nil || (len(d.Outputs) == 0 && len(d.Inputs) == 0)
}
