package events

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/TEENet-io/watchwallet/chainsource"
	"github.com/TEENet-io/watchwallet/common"
	"github.com/TEENet-io/watchwallet/database"
	"github.com/TEENet-io/watchwallet/ledger"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func newLedger(t *testing.T) (*ledger.Ledger, func()) {
	file := common.RandDBFile()
	db, err := database.Open(file)
	require.NoError(t, err)
	l, err := ledger.New(db, nil, nil)
	require.NoError(t, err)
	return l, func() {
		l.Close()
		db.Close()
		os.Remove(file)
		os.Remove(file + "-wal")
		os.Remove(file + "-shm")
	}
}

func drain(ch chan ledger.Event) []ledger.Event {
	evs := []ledger.Event{}
	for {
		select {
		case ev := <-ch:
			evs = append(evs, ev)
		default:
			return evs
		}
	}
}

func TestPublisherDeliversCommittedEvents(t *testing.T) {
	l, close := newLedger(t)
	defer close()
	ctx := context.Background()

	pub := NewPublisher(nil)
	first := make(chan ledger.Event, 100)
	second := make(chan ledger.Event, 100)
	pub.Register(first)
	pub.Register(second)
	l.SetNotifier(pub)

	key, err := chainsource.NewViewKey()
	require.NoError(t, err)
	acct, err := l.CreateAccount(ctx, "main", key, 0)
	require.NoError(t, err)

	chain := chainsource.NewSimChain()
	w := ledger.NewSimWallet(l, chain)
	_, err = w.Pay(acct, 1_000)
	require.NoError(t, err)
	chain.MineTo(10)
	require.NoError(t, w.Sync(ctx, acct.ID))

	got := drain(first)
	require.NotEmpty(t, got)
	assert.Equal(t, ledger.EventOutputDetected, got[0].Type)
	for i := 1; i < len(got); i++ {
		assert.Greater(t, got[i].ID, got[i-1].ID)
	}
	assert.Equal(t, got, drain(second))

	stored, err := l.EventsAfter(ctx, acct.ID, 0, 100)
	require.NoError(t, err)
	require.Len(t, stored, len(got))
	for i := range stored {
		assert.Equal(t, stored[i].ID, got[i].ID)
	}
	assert.Equal(t, float64(len(got)), testutil.ToFloat64(pub.published))
	assert.Equal(t, float64(0), testutil.ToFloat64(pub.dropped))
}

func TestPublisherDropsWhenFull(t *testing.T) {
	pub := NewPublisher(nil)
	small := make(chan ledger.Event, 1)
	pub.Register(small)

	pub.Notify(ledger.Event{ID: 1})
	pub.Notify(ledger.Event{ID: 2})

	assert.Equal(t, []ledger.Event{{ID: 1}}, drain(small))
	assert.Equal(t, float64(1), testutil.ToFloat64(pub.dropped))
}

func TestLogObserverLoop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	obs := NewLogObserver(0)
	pub := NewPublisher(nil)
	pub.Register(obs.Ch)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- obs.Loop(ctx) }()

	pub.Notify(ledger.Event{ID: 1, Type: ledger.EventOutputDetected})
	pub.Notify(ledger.Event{ID: 2, Type: ledger.EventBlockRolledBack})
	pub.Notify(ledger.Event{ID: 3, Type: ledger.EventRollbackApplied})
	require.Eventually(t, func() bool { return len(obs.Ch) == 0 }, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	closed := NewLogObserver(1)
	close(closed.Ch)
	assert.NoError(t, closed.Loop(context.Background()))
}
