package chainsource

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newKey(t *testing.T) *btcec.PrivateKey {
	key, err := NewViewKey()
	require.NoError(t, err)
	return key
}

func TestDetectOwnOutputsOnly(t *testing.T) {
	alice := newKey(t)
	bob := newKey(t)

	toAlice, err := PayTo(alice.PubKey(), 1_000)
	require.NoError(t, err)
	toBob, err := PayTo(bob.PubKey(), 2_500)
	require.NoError(t, err)

	chain := NewSimChain()
	block := chain.Mine([]CipherOutput{toAlice, toBob}, nil)

	keys := []WatchKey{{AccountID: 1, ViewKey: alice}, {AccountID: 2, ViewKey: bob}}
	found := NewECDHDetector().Detect(block, keys)

	require.Len(t, found, 2)
	assert.Equal(t, []DetectedOutput{{Hash: toAlice.Hash, Value: 1_000}}, found[1].Outputs)
	assert.Equal(t, []DetectedOutput{{Hash: toBob.Hash, Value: 2_500}}, found[2].Outputs)

	// a stranger sees nothing
	stranger := []WatchKey{{AccountID: 3, ViewKey: newKey(t)}}
	assert.Empty(t, NewECDHDetector().Detect(block, stranger))
}

func TestDetectInputs(t *testing.T) {
	alice := newKey(t)
	out, err := PayTo(alice.PubKey(), 42)
	require.NoError(t, err)

	chain := NewSimChain()
	chain.Mine([]CipherOutput{out}, nil)
	spend := chain.Mine(nil, []CipherInput{SpendOf(out)})

	found := NewECDHDetector().Detect(spend, []WatchKey{{AccountID: 7, ViewKey: alice}})
	require.Contains(t, found, int64(7))
	assert.Empty(t, found[7].Outputs)
	assert.Equal(t, []DetectedInput{{OutputHash: out.Hash}}, found[7].Inputs)
}

func TestDeriveChildViewKey(t *testing.T) {
	parent := newKey(t)

	c1, err := DeriveChildViewKey(parent, 1)
	require.NoError(t, err)
	again, err := DeriveChildViewKey(parent, 1)
	require.NoError(t, err)
	c2, err := DeriveChildViewKey(parent, 2)
	require.NoError(t, err)

	assert.Equal(t, c1.Serialize(), again.Serialize())
	assert.NotEqual(t, c1.Serialize(), c2.Serialize())
	assert.NotEqual(t, parent.Serialize(), c1.Serialize())

	// outputs to the child are not visible with the parent key
	out, err := PayTo(c1.PubKey(), 5)
	require.NoError(t, err)
	_, ok := openOutput(parent, &out)
	assert.False(t, ok)
	v, ok := openOutput(c1, &out)
	assert.True(t, ok)
	assert.Equal(t, uint64(5), v)
}

func TestParseViewKey(t *testing.T) {
	key := newKey(t)
	chk, err := ParseViewKey(key.Serialize())
	require.NoError(t, err)
	assert.Equal(t, key.Serialize(), chk.Serialize())

	_, err = ParseViewKey([]byte{1, 2, 3})
	assert.Error(t, err)
	_, err = ParseViewKey(make([]byte, VIEW_KEY_SIZE))
	assert.Error(t, err)
}

func TestAccountAddress(t *testing.T) {
	key := newKey(t)
	addr, err := AccountAddress(key.PubKey(), NetworkParams("regtest"))
	require.NoError(t, err)
	assert.NotEmpty(t, addr)

	main, err := AccountAddress(key.PubKey(), NetworkParams("mainnet"))
	require.NoError(t, err)
	assert.NotEqual(t, addr, main)
}

func TestSimChainTruncateChangesHashes(t *testing.T) {
	chain := NewSimChain()
	chain.MineEmpty(10)
	old, ok := chain.BlockAt(8)
	require.True(t, ok)

	dropped, err := chain.Truncate(8)
	require.NoError(t, err)
	assert.Len(t, dropped, 3)
	assert.Equal(t, uint64(7), chain.Tip())

	chain.MineEmpty(3)
	replaced, ok := chain.BlockAt(8)
	require.True(t, ok)
	assert.NotEqual(t, old.Hash, replaced.Hash)

	prev, _ := chain.BlockAt(7)
	assert.Equal(t, prev.Hash, replaced.PrevHash)

	_, err = chain.Truncate(0)
	assert.Error(t, err)
}

func TestSimSessionFetch(t *testing.T) {
	chain := NewSimChain()
	chain.MineEmpty(25)
	ctx := context.Background()

	sess, err := chain.OpenSession(ctx, nil)
	require.NoError(t, err)

	batch, err := sess.Fetch(ctx, 1, 10)
	require.NoError(t, err)
	assert.Len(t, batch.Blocks, 10)
	assert.True(t, batch.MoreBlocks)

	batch, err = sess.Fetch(ctx, 21, 10)
	require.NoError(t, err)
	assert.Len(t, batch.Blocks, 5)
	assert.False(t, batch.MoreBlocks)

	batch, err = sess.Fetch(ctx, 26, 10)
	require.NoError(t, err)
	assert.Empty(t, batch.Blocks)
	assert.False(t, batch.MoreBlocks)

	chain.FailNext(1)
	_, err = sess.Fetch(ctx, 1, 1)
	assert.True(t, errors.Is(err, ErrSourceUnavailable))
	_, err = sess.Fetch(ctx, 1, 1)
	assert.NoError(t, err)

	assert.NoError(t, sess.Close())
	_, err = sess.Fetch(ctx, 1, 1)
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.Equal(t, 1, chain.SessionsOpened())
}

func TestSimSessionLatencyHonorsContext(t *testing.T) {
	chain := NewSimChain()
	chain.MineEmpty(2)
	chain.SetLatency(time.Second)

	sess, err := chain.OpenSession(context.Background(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = sess.Fetch(ctx, 1, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHttpSourceAgainstGateway(t *testing.T) {
	gin.SetMode(gin.TestMode)

	alice := newKey(t)
	out, err := PayTo(alice.PubKey(), 777)
	require.NoError(t, err)

	chain := NewSimChain()
	chain.MineEmpty(3)
	chain.Mine([]CipherOutput{out}, nil)
	chain.Mine(nil, []CipherInput{SpendOf(out)})

	server := httptest.NewServer(NewGateway(chain))
	defer server.Close()

	src := NewHttpSource(server.URL, time.Second)
	ctx := context.Background()

	tip, err := src.TipHeight(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), tip)

	hash, ok, err := src.HeaderHash(ctx, 4)
	require.NoError(t, err)
	require.True(t, ok)
	want, _ := chain.BlockAt(4)
	assert.Equal(t, want.Hash, hash)

	_, ok, err = src.HeaderHash(ctx, 99)
	assert.NoError(t, err)
	assert.False(t, ok)

	sess, err := src.OpenSession(ctx, []WatchKey{{AccountID: 1, ViewKey: alice}})
	require.NoError(t, err)
	defer sess.Close()

	batch, err := sess.Fetch(ctx, 4, 10)
	require.NoError(t, err)
	require.Len(t, batch.Blocks, 2)
	assert.False(t, batch.MoreBlocks)
	assert.Equal(t, want.Hash, batch.Blocks[0].Hash)
	assert.Equal(t, want.PrevHash, batch.Blocks[0].PrevHash)

	// detection still works after the json round trip
	found := NewECDHDetector().Detect(batch.Blocks[0], []WatchKey{{AccountID: 1, ViewKey: alice}})
	assert.Equal(t, []DetectedOutput{{Hash: out.Hash, Value: 777}}, found[1].Outputs)
	found = NewECDHDetector().Detect(batch.Blocks[1], []WatchKey{{AccountID: 1, ViewKey: alice}})
	assert.Equal(t, []DetectedInput{{OutputHash: out.Hash}}, found[1].Inputs)
}

func TestHttpSourceUnavailable(t *testing.T) {
	src := NewHttpSource("http://127.0.0.1:1", 100*time.Millisecond)
	_, err := src.OpenSession(context.Background(), nil)
	assert.ErrorIs(t, err, ErrSourceUnavailable)
}
