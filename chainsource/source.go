// Block sources and output detectors consumed by the scanner.
//
// A BlockSource hands out Sessions bound to one watch-key set; a session may
// keep transport state (connections, server side cursors) between fetches.
// An OutputDetector recognises the outputs and inputs that belong to each key.
package chainsource

import (
	"context"
	"errors"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

var (
	ErrSourceUnavailable = errors.New("block source unavailable")
	ErrSessionClosed     = errors.New("block source session closed")
)

type BlockSource interface {
	// OpenSession starts a fetch session for the given watch keys.
	OpenSession(ctx context.Context, keys []WatchKey) (Session, error)

	// HeaderHash returns the canonical hash at height.
	// ok is false when the chain has no block at that height.
	HeaderHash(ctx context.Context, height uint64) (hash chainhash.Hash, ok bool, err error)

	// TipHeight returns the height of the current chain tip.
	TipHeight(ctx context.Context) (uint64, error)
}

type Session interface {
	// Fetch returns up to count blocks starting at startHeight.
	Fetch(ctx context.Context, startHeight uint64, count uint64) (*Batch, error)
	Close() error
}

type OutputDetector interface {
	// Detect returns, per account id, what the keys own in block.
	// Accounts owning nothing are absent from the result.
	Detect(block *Block, keys []WatchKey) map[int64]*AccountDetection
}
