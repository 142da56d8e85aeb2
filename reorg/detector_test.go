package reorg

import (
	"context"
	"os"
	"testing"

	"github.com/TEENet-io/watchwallet/chainsource"
	"github.com/TEENet-io/watchwallet/common"
	"github.com/TEENet-io/watchwallet/database"
	"github.com/TEENet-io/watchwallet/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	ledger *ledger.Ledger
	chain  *chainsource.SimChain
	wallet *ledger.SimWallet
	acct   *ledger.Account
}

func newTestEnv(t *testing.T) (*testEnv, func()) {
	file := common.RandDBFile()
	db, err := database.Open(file)
	require.NoError(t, err)
	l, err := ledger.New(db, nil, nil)
	require.NoError(t, err)

	key, err := chainsource.NewViewKey()
	require.NoError(t, err)
	acct, err := l.CreateAccount(context.Background(), "main", key, 0)
	require.NoError(t, err)

	chain := chainsource.NewSimChain()
	env := &testEnv{ledger: l, chain: chain, wallet: ledger.NewSimWallet(l, chain), acct: acct}
	return env, func() {
		l.Close()
		db.Close()
		os.Remove(file)
		os.Remove(file + "-wal")
		os.Remove(file + "-shm")
	}
}

func TestNoReorg(t *testing.T) {
	env, close := newTestEnv(t)
	defer close()
	ctx := context.Background()

	env.chain.MineTo(20)
	require.NoError(t, env.wallet.Sync(ctx, env.acct.ID))

	d := NewDetector(env.ledger, env.chain, nil, nil)
	res, err := d.Check(ctx, env.acct.ID)
	require.NoError(t, err)
	assert.False(t, res.Reorg)
	assert.Nil(t, res.Rollback)

	// a longer chain on top of ours is not a reorg
	env.chain.MineEmpty(5)
	res, err = d.Check(ctx, env.acct.ID)
	require.NoError(t, err)
	assert.False(t, res.Reorg)
}

func TestNoTips(t *testing.T) {
	env, close := newTestEnv(t)
	defer close()

	d := NewDetector(env.ledger, env.chain, nil, nil)
	_, found, err := d.FindDivergence(context.Background(), env.acct.ID)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestReorgRollsBackAndResyncs(t *testing.T) {
	env, close := newTestEnv(t)
	defer close()
	ctx := context.Background()

	env.chain.MineTo(9)
	_, err := env.wallet.Pay(env.acct, 700) // block 10
	require.NoError(t, err)
	env.chain.MineTo(12)
	_, err = env.wallet.Pay(env.acct, 300) // block 13
	require.NoError(t, err)
	env.chain.MineTo(20)
	require.NoError(t, env.wallet.Sync(ctx, env.acct.ID))

	bal, err := env.ledger.Balance(ctx, env.acct.ID, false)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000), bal.Available)

	// blocks 13.. are replaced; the 300 payment disappears
	_, err = env.chain.Truncate(13)
	require.NoError(t, err)
	env.chain.MineTo(22)

	d := NewDetector(env.ledger, env.chain, nil, nil)
	divergence, found, err := d.FindDivergence(ctx, env.acct.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint64(13), divergence)

	res, err := d.Check(ctx, env.acct.ID)
	require.NoError(t, err)
	require.True(t, res.Reorg)
	assert.Equal(t, uint64(13), res.Divergence)
	assert.Equal(t, uint64(12), res.Rollback.ResumeHeight)
	assert.Equal(t, 1, res.Rollback.OutputsDeleted)

	acct, err := env.ledger.AccountByID(ctx, env.acct.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(12), acct.ResumeHeight)

	require.NoError(t, env.wallet.Sync(ctx, env.acct.ID))
	bal, err = env.ledger.Balance(ctx, env.acct.ID, false)
	require.NoError(t, err)
	assert.Equal(t, uint64(700), bal.Available)
	assert.Equal(t, int64(700), bal.LedgerTotal)

	res, err = d.Check(ctx, env.acct.ID)
	require.NoError(t, err)
	assert.False(t, res.Reorg)
}

func TestReorgDeeperThanSample(t *testing.T) {
	env, close := newTestEnv(t)
	defer close()
	ctx := context.Background()

	env.chain.MineTo(20)
	require.NoError(t, env.wallet.Sync(ctx, env.acct.ID))

	_, err := env.chain.Truncate(10)
	require.NoError(t, err)
	env.chain.MineTo(20)

	d := NewDetector(env.ledger, env.chain, &Config{SampleDepth: 5}, nil)

	// each check moves back by at most the sample depth
	res, err := d.Check(ctx, env.acct.ID)
	require.NoError(t, err)
	require.True(t, res.Reorg)
	assert.Equal(t, uint64(16), res.Divergence)

	res, err = d.Check(ctx, env.acct.ID)
	require.NoError(t, err)
	require.True(t, res.Reorg)
	assert.Equal(t, uint64(11), res.Divergence)

	res, err = d.Check(ctx, env.acct.ID)
	require.NoError(t, err)
	require.True(t, res.Reorg)
	assert.Equal(t, uint64(10), res.Divergence)
	assert.Equal(t, uint64(9), res.Rollback.ResumeHeight)

	res, err = d.Check(ctx, env.acct.ID)
	require.NoError(t, err)
	assert.False(t, res.Reorg)

	require.NoError(t, env.wallet.Sync(ctx, env.acct.ID))
	acct, err := env.ledger.AccountByID(ctx, env.acct.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(20), acct.ResumeHeight)
}

func TestCheckAll(t *testing.T) {
	env, close := newTestEnv(t)
	defer close()
	ctx := context.Background()

	key, err := chainsource.NewViewKey()
	require.NoError(t, err)
	late, err := env.ledger.CreateAccount(ctx, "late", key, 15)
	require.NoError(t, err)

	env.chain.MineTo(20)
	require.NoError(t, env.wallet.Sync(ctx, env.acct.ID))
	require.NoError(t, env.wallet.Sync(ctx, late.ID))

	_, err = env.chain.Truncate(18)
	require.NoError(t, err)
	env.chain.MineTo(20)

	d := NewDetector(env.ledger, env.chain, nil, nil)
	results, err := d.CheckAll(ctx, []int64{env.acct.ID, late.ID})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, res := range results {
		assert.Equal(t, uint64(18), res.Divergence)
	}
}
