package chainsource

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// SimChain is an in-memory chain used by tests and by the server's sim mode.
// It supports reorgs (Truncate + Mine) and injected transient failures.
type SimChain struct {
	mu       sync.RWMutex
	blocks   []*Block // index == height, genesis at 0
	salt     uint64   // bumped on every truncate so replacement blocks get new hashes
	failures int      // number of upcoming fetches that fail
	latency  time.Duration
	sessions int // sessions opened so far
}

func NewSimChain() *SimChain {
	c := &SimChain{}
	genesis := &Block{Height: 0}
	genesis.Hash = c.blockHash(genesis)
	c.blocks = []*Block{genesis}
	return c
}

// Mine appends a block holding outputs and inputs and returns it.
func (c *SimChain) Mine(outputs []CipherOutput, inputs []CipherInput) *Block {
	c.mu.Lock()
	defer c.mu.Unlock()

	tip := c.blocks[len(c.blocks)-1]
	b := &Block{
		Height:   tip.Height + 1,
		PrevHash: tip.Hash,
		Outputs:  outputs,
		Inputs:   inputs,
	}
	b.Hash = c.blockHash(b)
	c.blocks = append(c.blocks, b)
	return b
}

// MineEmpty appends n empty blocks.
func (c *SimChain) MineEmpty(n int) {
	for i := 0; i < n; i++ {
		c.Mine(nil, nil)
	}
}

// MineTo appends empty blocks until the tip is at height.
func (c *SimChain) MineTo(height uint64) {
	for c.Tip() < height {
		c.Mine(nil, nil)
	}
}

// Truncate drops every block at or above height, returning the dropped blocks.
// Blocks mined afterwards get hashes different from the dropped ones.
func (c *SimChain) Truncate(height uint64) ([]*Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if height == 0 {
		return nil, fmt.Errorf("cannot truncate genesis")
	}
	if height >= uint64(len(c.blocks)) {
		return nil, nil
	}
	dropped := c.blocks[height:]
	c.blocks = c.blocks[:height]
	c.salt++
	return dropped, nil
}

func (c *SimChain) Tip() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.blocks[len(c.blocks)-1].Height
}

func (c *SimChain) BlockAt(height uint64) (*Block, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if height >= uint64(len(c.blocks)) {
		return nil, false
	}
	return c.blocks[height], true
}

// BlocksRange returns up to count blocks from start and whether more follow.
func (c *SimChain) BlocksRange(start uint64, count uint64) ([]*Block, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	tip := uint64(len(c.blocks) - 1)
	if start > tip || count == 0 {
		return nil, false
	}
	end := start + count - 1
	if end > tip {
		end = tip
	}
	out := make([]*Block, 0, end-start+1)
	out = append(out, c.blocks[start:end+1]...)
	return out, end < tip
}

// FailNext makes the next n fetches return ErrSourceUnavailable.
func (c *SimChain) FailNext(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = n
}

// SetLatency delays every fetch by d, honoring the fetch context.
func (c *SimChain) SetLatency(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latency = d
}

func (c *SimChain) SessionsOpened() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessions
}

func (c *SimChain) OpenSession(ctx context.Context, keys []WatchKey) (Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions++
	return &simSession{chain: c}, nil
}

func (c *SimChain) HeaderHash(ctx context.Context, height uint64) (chainhash.Hash, bool, error) {
	b, ok := c.BlockAt(height)
	if !ok {
		return chainhash.Hash{}, false, nil
	}
	return b.Hash, true, nil
}

func (c *SimChain) TipHeight(ctx context.Context) (uint64, error) {
	return c.Tip(), nil
}

func (c *SimChain) takeFailure() (bool, time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failures > 0 {
		c.failures--
		return true, c.latency
	}
	return false, c.latency
}

func (c *SimChain) blockHash(b *Block) chainhash.Hash {
	buf := make([]byte, 0, 2*chainhash.HashSize+16+len(b.Outputs)*chainhash.HashSize)
	buf = append(buf, b.PrevHash[:]...)
	buf = binary.BigEndian.AppendUint64(buf, b.Height)
	buf = binary.BigEndian.AppendUint64(buf, c.salt)
	for _, out := range b.Outputs {
		buf = append(buf, out.Hash[:]...)
	}
	for _, in := range b.Inputs {
		buf = append(buf, in.Spent.Hash[:]...)
	}
	return chainhash.DoubleHashH(buf)
}

type simSession struct {
	chain  *SimChain
	closed bool
}

func (s *simSession) Fetch(ctx context.Context, startHeight uint64, count uint64) (*Batch, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}

	fail, latency := s.chain.takeFailure()
	if latency > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(latency):
		}
	}
	if fail {
		return nil, ErrSourceUnavailable
	}

	blocks, more := s.chain.BlocksRange(startHeight, count)
	return &Batch{Blocks: blocks, MoreBlocks: more}, nil
}

func (s *simSession) Close() error {
	s.closed = true
	return nil
}
