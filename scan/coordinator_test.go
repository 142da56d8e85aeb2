package scan

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/TEENet-io/watchwallet/chainsource"
	"github.com/TEENet-io/watchwallet/common"
	"github.com/TEENet-io/watchwallet/database"
	"github.com/TEENet-io/watchwallet/ledger"
	"github.com/TEENet-io/watchwallet/locker"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"pgregory.net/rapid"
)

type testEnv struct {
	ledger *ledger.Ledger
	chain  *chainsource.SimChain
	wallet *ledger.SimWallet
}

func newTestEnv(t require.TestingT) (*testEnv, func()) {
	file := common.RandDBFile()
	db, err := database.Open(file)
	require.NoError(t, err)
	l, err := ledger.New(db, nil, nil)
	require.NoError(t, err)

	chain := chainsource.NewSimChain()
	return &testEnv{ledger: l, chain: chain, wallet: ledger.NewSimWallet(l, chain)}, func() {
		l.Close()
		db.Close()
		os.Remove(file)
		os.Remove(file + "-wal")
		os.Remove(file + "-shm")
	}
}

func (env *testEnv) account(t require.TestingT, name string, birthday uint64) *ledger.Account {
	key, err := chainsource.NewViewKey()
	require.NoError(t, err)
	acct, err := env.ledger.CreateAccount(context.Background(), name, key, birthday)
	require.NoError(t, err)
	return acct
}

func (env *testEnv) coordinator(cfg *Config) *Coordinator {
	return NewCoordinator(env.ledger, env.chain, chainsource.NewECDHDetector(), cfg, nil, nil)
}

func fastRetry() RetryConfig {
	return RetryConfig{
		FetchTimeout:      time.Second,
		MaxTimeoutRetries: 3,
		MaxErrorRetries:   3,
		BackoffBase:       time.Millisecond,
		BackoffMax:        5 * time.Millisecond,
		TimeoutRetryDelay: time.Millisecond,
	}
}

func resumeOf(t *testing.T, env *testEnv, id int64) uint64 {
	acct, err := env.ledger.AccountByID(context.Background(), id)
	require.NoError(t, err)
	return acct.ResumeHeight
}

func TestLaggingAccountCatchesUp(t *testing.T) {
	env, close := newTestEnv(t)
	defer close()
	ctx := context.Background()

	a := env.account(t, "a", 100)
	b := env.account(t, "b", 1000)

	env.chain.MineTo(149)
	_, err := env.wallet.Pay(a, 5_000) // 150
	require.NoError(t, err)
	env.chain.MineTo(499)
	_, err = env.wallet.Pay(b, 7_000) // 500, before b's birthday
	require.NoError(t, err)
	env.chain.MineTo(1049)
	_, err = env.wallet.Pay(b, 3_000) // 1050
	require.NoError(t, err)
	env.chain.MineTo(1100)

	c := env.coordinator(&Config{BatchSize: 100, Retry: fastRetry()})
	targets, err := c.loadTargets(ctx, nil, nil)
	require.NoError(t, err)
	require.Len(t, targets, 2)
	report := &Report{Heights: map[int64]uint64{}}

	active := ActiveTargets(targets, GlobalHeight(targets), 100)
	require.Len(t, active, 1)
	assert.Equal(t, a.ID, active[0].Account.ID)

	caughtUp, progress, err := c.Iterate(ctx, targets, report)
	require.NoError(t, err)
	assert.False(t, caughtUp)
	assert.Equal(t, uint64(100), progress)
	assert.Equal(t, uint64(200), targets[0].ResumeHeight)
	assert.Equal(t, uint64(1000), targets[1].ResumeHeight)

	for GlobalHeight(targets) < 1000 {
		require.Len(t, ActiveTargets(targets, GlobalHeight(targets), 100), 1)
		_, _, err := c.Iterate(ctx, targets, report)
		require.NoError(t, err)
	}
	assert.Len(t, ActiveTargets(targets, GlobalHeight(targets), 100), 2)

	caughtUp, _, err = c.Iterate(ctx, targets, report)
	require.NoError(t, err)
	assert.True(t, caughtUp)
	assert.Equal(t, uint64(1100), resumeOf(t, env, a.ID))
	assert.Equal(t, uint64(1100), resumeOf(t, env, b.ID))

	// one session for a alone, one for a and b together
	assert.Equal(t, 2, env.chain.SessionsOpened())

	balA, err := env.ledger.Balance(ctx, a.ID, false)
	require.NoError(t, err)
	assert.Equal(t, uint64(5_000), balA.Available)

	balB, err := env.ledger.Balance(ctx, b.ID, false)
	require.NoError(t, err)
	assert.Equal(t, uint64(3_000), balB.Available)
}

func TestRunModes(t *testing.T) {
	env, close := newTestEnv(t)
	defer close()
	ctx := context.Background()

	a := env.account(t, "a", 0)
	env.chain.MineTo(1000)

	partial := env.coordinator(&Config{Mode: Partial, BatchSize: 100, MaxBlocks: 300, Retry: fastRetry()})
	report, err := partial.Run(ctx, nil)
	require.NoError(t, err)
	assert.True(t, report.Paused)
	assert.Equal(t, uint64(300), report.BlocksScanned)
	assert.Equal(t, uint64(300), report.Heights[a.ID])

	full := env.coordinator(&Config{Mode: Full, BatchSize: 100, Retry: fastRetry()})
	report, err = full.Run(ctx, []int64{a.ID})
	require.NoError(t, err)
	assert.False(t, report.Paused)
	assert.Equal(t, uint64(700), report.BlocksScanned)
	assert.Equal(t, uint64(700), report.BlocksApplied)
	assert.Equal(t, uint64(1000), resumeOf(t, env, a.ID))
	assert.Empty(t, report.Reorgs)

	// nothing new
	report, err = full.Run(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), report.BlocksApplied)
}

func TestRunWithoutAccounts(t *testing.T) {
	env, close := newTestEnv(t)
	defer close()

	report, err := env.coordinator(nil).Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), report.BlocksScanned)
}

func TestSessionReused(t *testing.T) {
	env, close := newTestEnv(t)
	defer close()

	env.account(t, "a", 0)
	env.account(t, "b", 0)
	env.chain.MineTo(1000)

	_, err := env.coordinator(&Config{BatchSize: 50, Retry: fastRetry()}).Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, env.chain.SessionsOpened())
}

func TestFetchRetried(t *testing.T) {
	env, close := newTestEnv(t)
	defer close()
	ctx := context.Background()

	a := env.account(t, "a", 0)
	env.chain.MineTo(50)

	env.chain.FailNext(2)
	c := env.coordinator(&Config{BatchSize: 100, Retry: fastRetry()})
	_, err := c.Run(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), resumeOf(t, env, a.ID))
	// each failure dropped the session
	assert.Equal(t, 3, env.chain.SessionsOpened())

	env.chain.MineTo(60)
	env.chain.FailNext(3)
	_, err = c.Run(ctx, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFetchFailed))
	assert.True(t, errors.Is(err, chainsource.ErrSourceUnavailable))
	var fetchErr *FetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, 3, fetchErr.Attempts)
	assert.Equal(t, uint64(50), resumeOf(t, env, a.ID))
}

func TestFetchTimeout(t *testing.T) {
	env, close := newTestEnv(t)
	defer close()

	a := env.account(t, "a", 0)
	env.chain.MineTo(10)
	env.chain.SetLatency(200 * time.Millisecond)

	retry := fastRetry()
	retry.FetchTimeout = 10 * time.Millisecond
	retry.MaxTimeoutRetries = 2
	_, err := env.coordinator(&Config{Retry: retry}).Run(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFetchTimeout))
	assert.Equal(t, uint64(0), resumeOf(t, env, a.ID))
}

func TestBackoff(t *testing.T) {
	r := DefaultRetryConfig()
	assert.Equal(t, 4*time.Second, r.backoff(1))
	assert.Equal(t, 8*time.Second, r.backoff(2))
	assert.Equal(t, 32*time.Second, r.backoff(4))
	assert.Equal(t, 60*time.Second, r.backoff(5))
	assert.Equal(t, 60*time.Second, r.backoff(40))
}

func TestReorgHandledOnRun(t *testing.T) {
	env, close := newTestEnv(t)
	defer close()
	ctx := context.Background()

	a := env.account(t, "a", 0)
	env.chain.MineTo(26)
	_, err := env.wallet.Pay(a, 900) // 27
	require.NoError(t, err)
	env.chain.MineTo(30)

	c := env.coordinator(&Config{BatchSize: 10, Retry: fastRetry()})
	_, err = c.Run(ctx, nil)
	require.NoError(t, err)

	_, err = env.chain.Truncate(25)
	require.NoError(t, err)
	env.chain.MineTo(35)

	report, err := c.Run(ctx, nil)
	require.NoError(t, err)
	require.Len(t, report.Reorgs, 1)
	assert.Equal(t, uint64(25), report.Reorgs[0].Divergence)
	assert.Equal(t, 1, report.Reorgs[0].Rollback.OutputsDeleted)
	assert.Equal(t, uint64(35), resumeOf(t, env, a.ID))

	bal, err := env.ledger.Balance(ctx, a.ID, false)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), bal.Available+bal.PendingIncoming)
	assert.Equal(t, int64(0), bal.LedgerTotal)
}

func TestReorgFoundWhileApplying(t *testing.T) {
	env, close := newTestEnv(t)
	defer close()
	ctx := context.Background()

	a := env.account(t, "a", 0)
	env.chain.MineTo(30)

	c := env.coordinator(&Config{BatchSize: 100, ReorgCheckInterval: 10_000, Retry: fastRetry()})
	targets, err := c.loadTargets(ctx, nil, nil)
	require.NoError(t, err)
	report := &Report{}
	_, _, err = c.Iterate(ctx, targets, report)
	require.NoError(t, err)

	_, err = env.chain.Truncate(28)
	require.NoError(t, err)
	env.chain.MineTo(40)

	// block 31 does not extend our tip at 30
	_, _, err = c.Iterate(ctx, targets, report)
	require.NoError(t, err)
	require.Len(t, report.Reorgs, 1)
	assert.Equal(t, uint64(28), report.Reorgs[0].Divergence)
	assert.Equal(t, uint64(27), targets[0].ResumeHeight)

	caughtUp, _, err := c.Iterate(ctx, targets, report)
	require.NoError(t, err)
	assert.True(t, caughtUp)
	assert.Equal(t, uint64(40), resumeOf(t, env, a.ID))
}

func TestRequestTransitionsFollowed(t *testing.T) {
	env, close := newTestEnv(t)
	defer close()
	ctx := context.Background()

	a := env.account(t, "a", 0)
	outs, err := env.wallet.Pay(a, 500) // 1
	require.NoError(t, err)
	env.chain.MineTo(10)

	c := env.coordinator(&Config{BatchSize: 100, ReorgCheckInterval: 10_000, Retry: fastRetry()})
	targets, err := c.loadTargets(ctx, nil, nil)
	require.NoError(t, err)
	report := &Report{}
	_, _, err = c.Iterate(ctx, targets, report)
	require.NoError(t, err)
	assert.Empty(t, report.Transitions)
	assert.False(t, targets[0].Monitor.HasPendingOutbound())

	fl := locker.NewFundLocker(env.ledger, time.Hour, nil)
	res, err := fl.Lock(ctx, a.ID, 300, "pay", 0)
	require.NoError(t, err)
	reqID := res.Request.ID
	_, err = fl.Fulfill(ctx, a.ID, reqID, nil, 0)
	require.NoError(t, err)

	env.wallet.Spend(outs[0]) // 11
	env.chain.MineTo(17)
	_, _, err = c.Iterate(ctx, targets, report)
	require.NoError(t, err)
	assert.Equal(t, []RequestTransition{
		{AccountID: a.ID, RequestID: reqID, Stage: StageBroadcast, Height: 0},
		{AccountID: a.ID, RequestID: reqID, Stage: StageMined, Height: 11},
		{AccountID: a.ID, RequestID: reqID, Stage: StageConfirmed, Height: 17},
	}, report.Transitions)
	assert.False(t, targets[0].Monitor.HasPendingOutbound())

	// the spend is reorganized out and not mined again
	_, err = env.chain.Truncate(10)
	require.NoError(t, err)
	env.chain.MineTo(20)
	report = &Report{}
	_, _, err = c.Iterate(ctx, targets, report)
	require.NoError(t, err)
	require.Len(t, report.Reorgs, 1)
	_, _, err = c.Iterate(ctx, targets, report)
	require.NoError(t, err)

	assert.Equal(t, []RequestTransition{
		{AccountID: a.ID, RequestID: reqID, Stage: StageReorged, Height: 11},
	}, report.Transitions)
	assert.True(t, targets[0].Monitor.HasPendingOutbound())
	assert.Equal(t, float64(1), testutil.ToFloat64(c.metrics.requestTransitions.WithLabelValues(string(StageReorged))))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.metrics.requestTransitions.WithLabelValues(string(StageMined))))

	bal, err := env.ledger.Balance(ctx, a.ID, false)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), bal.Locked)
	assert.Equal(t, uint64(500), bal.PendingOutgoing)
}

func TestRescanPickedUp(t *testing.T) {
	env, close := newTestEnv(t)
	defer close()
	ctx := context.Background()

	a := env.account(t, "a", 0)
	env.chain.MineTo(9)
	_, err := env.wallet.Pay(a, 100) // 10
	require.NoError(t, err)
	env.chain.MineTo(50)

	c := env.coordinator(&Config{BatchSize: 20, Retry: fastRetry()})
	_, err = c.Run(ctx, nil)
	require.NoError(t, err)

	_, err = env.ledger.Rescan(ctx, a.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), resumeOf(t, env, a.ID))

	report, err := c.Run(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(46), report.BlocksApplied)

	bal, err := env.ledger.Balance(ctx, a.ID, false)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), bal.Available)
	assert.Equal(t, int64(100), bal.LedgerTotal)
}

func TestContinuousStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	env, close := newTestEnv(t)
	defer close()

	a := env.account(t, "a", 0)
	env.chain.MineTo(20)

	c := env.coordinator(&Config{
		Mode:         Continuous,
		BatchSize:    10,
		PollInterval: 5 * time.Millisecond,
		Retry:        fastRetry(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Run(ctx, nil)
		done <- err
	}()

	require.Eventually(t, func() bool {
		return resumeOf(t, env, a.ID) == 20
	}, 5*time.Second, 5*time.Millisecond)

	env.chain.MineTo(35)
	b := env.account(t, "late", 30)
	require.Eventually(t, func() bool {
		return resumeOf(t, env, a.ID) == 35 && resumeOf(t, env, b.ID) == 35
	}, 5*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(5 * time.Second):
		t.Fatal("scan loop did not stop")
	}
}

// Every account ends at the tip, whatever the birthdays and batch size.
func TestHorizonProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		env, close := newTestEnv(rt)
		defer close()
		ctx := context.Background()

		tip := rapid.Uint64Range(1, 300).Draw(rt, "tip")
		env.chain.MineTo(tip)
		n := rapid.IntRange(1, 4).Draw(rt, "accounts")
		ids := []int64{}
		for i := 0; i < n; i++ {
			birthday := rapid.Uint64Range(0, tip+20).Draw(rt, "birthday")
			acct := env.account(rt, string(rune('a'+i)), birthday)
			ids = append(ids, acct.ID)
		}
		batch := rapid.Uint64Range(1, 120).Draw(rt, "batch")

		c := env.coordinator(&Config{BatchSize: batch, Retry: fastRetry()})
		targets, err := c.loadTargets(ctx, nil, nil)
		require.NoError(rt, err)
		report := &Report{}

		prev := GlobalHeight(targets)
		for i := 0; ; i++ {
			require.Less(rt, i, 1_000)
			before := map[int64]uint64{}
			for _, tg := range targets {
				before[tg.Account.ID] = tg.ResumeHeight
			}
			caughtUp, _, err := c.Iterate(ctx, targets, report)
			require.NoError(rt, err)

			global := GlobalHeight(targets)
			require.GreaterOrEqual(rt, global, prev)
			prev = global
			for _, tg := range targets {
				// cursors only move forward and never past the batch
				require.GreaterOrEqual(rt, tg.ResumeHeight, before[tg.Account.ID])
				if tg.ResumeHeight > before[tg.Account.ID] {
					require.LessOrEqual(rt, tg.ResumeHeight, lowestOf(before)+batch)
				}
			}
			if caughtUp {
				break
			}
		}

		for _, tg := range targets {
			want := tip
			if tg.Account.BirthdayHeight > tip {
				want = tg.Account.BirthdayHeight
			}
			require.Equal(rt, want, tg.ResumeHeight)
		}
	})
}

func lowestOf(heights map[int64]uint64) uint64 {
	first := true
	var lowest uint64
	for _, h := range heights {
		if first || h < lowest {
			lowest = h
			first = false
		}
	}
	return lowest
}
