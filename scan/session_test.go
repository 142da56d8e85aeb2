package scan

import (
	"context"
	"testing"

	"github.com/TEENet-io/watchwallet/chainsource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func watchKey(t *testing.T, id int64) chainsource.WatchKey {
	key, err := chainsource.NewViewKey()
	require.NoError(t, err)
	return chainsource.WatchKey{AccountID: id, ViewKey: key}
}

func TestKeySetSignature(t *testing.T) {
	a, b, c := watchKey(t, 1), watchKey(t, 2), watchKey(t, 3)

	assert.Equal(t, KeySetSignature([]chainsource.WatchKey{a, b}), KeySetSignature([]chainsource.WatchKey{b, a}))
	assert.NotEqual(t, KeySetSignature([]chainsource.WatchKey{a, b}), KeySetSignature([]chainsource.WatchKey{a, c}))
	assert.NotEqual(t, KeySetSignature([]chainsource.WatchKey{a}), KeySetSignature([]chainsource.WatchKey{a, b}))

	// same account id, different key
	other := watchKey(t, 1)
	assert.NotEqual(t, KeySetSignature([]chainsource.WatchKey{a}), KeySetSignature([]chainsource.WatchKey{other}))
}

func TestSessionManager(t *testing.T) {
	ctx := context.Background()
	chain := chainsource.NewSimChain()
	chain.MineTo(30)

	a, b := watchKey(t, 1), watchKey(t, 2)
	pub := a.ViewKey.PubKey()
	out, err := chainsource.PayTo(pub, 42)
	require.NoError(t, err)
	chain.Mine([]chainsource.CipherOutput{out}, nil) // 31

	m := NewSessionManager(chain, chainsource.NewECDHDetector())
	defer m.Close()

	batch, err := m.Fetch(ctx, 1, 20, []chainsource.WatchKey{a})
	require.NoError(t, err)
	assert.Len(t, batch.Blocks, 20)
	assert.True(t, batch.MoreBlocks)

	batch, err = m.Fetch(ctx, 21, 20, []chainsource.WatchKey{a})
	require.NoError(t, err)
	require.Len(t, batch.Blocks, 11)
	assert.False(t, batch.MoreBlocks)
	assert.Equal(t, 1, m.Opened())

	last := batch.Blocks[10]
	assert.Equal(t, uint64(31), last.Block.Height)
	require.Contains(t, last.Detections, int64(1))
	assert.Equal(t, uint64(42), last.Detections[1].Outputs[0].Value)

	// the key set changed
	_, err = m.Fetch(ctx, 21, 20, []chainsource.WatchKey{b, a})
	require.NoError(t, err)
	assert.Equal(t, 2, m.Opened())

	// a failed fetch drops the session
	chain.FailNext(1)
	_, err = m.Fetch(ctx, 21, 20, []chainsource.WatchKey{a, b})
	require.ErrorIs(t, err, chainsource.ErrSourceUnavailable)
	_, err = m.Fetch(ctx, 21, 20, []chainsource.WatchKey{a, b})
	require.NoError(t, err)
	assert.Equal(t, 3, m.Opened())
}
