package scan

import (
	"context"

	"github.com/TEENet-io/watchwallet/chainsource"
	"github.com/TEENet-io/watchwallet/ledger"
	logger "github.com/sirupsen/logrus"
)

// AccountSyncTarget is the scan cursor of one account.
type AccountSyncTarget struct {
	Account      *ledger.Account
	Key          chainsource.WatchKey
	ResumeHeight uint64
	Monitor      *PendingMonitor
}

func newTarget(acct *ledger.Account) (*AccountSyncTarget, error) {
	key, err := acct.WatchKey()
	if err != nil {
		return nil, err
	}
	return &AccountSyncTarget{
		Account:      acct,
		Key:          key,
		ResumeHeight: acct.ResumeHeight,
		Monitor:      &PendingMonitor{accountID: acct.ID},
	}, nil
}

// Birthday is the height the account started scanning from.
func (t *AccountSyncTarget) Birthday() uint64 {
	return t.Account.BirthdayHeight
}

// RequestStage is a step of a lock request's transaction on its way into the chain.
type RequestStage string

const (
	StageBroadcast RequestStage = "broadcast"
	StageMined     RequestStage = "mined_unconfirmed"
	StageConfirmed RequestStage = "mined_confirmed"
	StageReorged   RequestStage = "reorged"
)

var eventStages = map[ledger.EventType]RequestStage{
	ledger.EventRequestFulfilled: StageBroadcast,
	ledger.EventRequestMined:     StageMined,
	ledger.EventRequestConfirmed: StageConfirmed,
	ledger.EventRequestReorged:   StageReorged,
}

// RequestTransition is one stage change of a request, in ledger event order.
type RequestTransition struct {
	AccountID int64
	RequestID string
	Stage     RequestStage
	Height    uint64
}

// MonitorUpdate is what changed since the previous refresh.
type MonitorUpdate struct {
	Closed      int64 // projections mined or expired
	Transitions []RequestTransition
}

// PendingMonitor follows the account's broadcast but unmined activity.
// It is refreshed after every batch applied to the account and after every
// rollback. The first refresh only takes the starting point.
type PendingMonitor struct {
	accountID int64
	open      int64
	inFlight  int
	cursor    int64 // last ledger event seen
	loaded    bool
}

func (m *PendingMonitor) HasPendingOutbound() bool {
	return m.open > 0 || m.inFlight > 0
}

// Refresh reloads the open projections and in flight requests and returns
// the request transitions recorded since the last refresh.
func (m *PendingMonitor) Refresh(ctx context.Context, l *ledger.Ledger, height uint64) (*MonitorUpdate, error) {
	n, err := l.OpenProjections(ctx, m.accountID)
	if err != nil {
		return nil, err
	}
	reqs, err := l.InFlightRequests(ctx, m.accountID)
	if err != nil {
		return nil, err
	}

	update := &MonitorUpdate{Transitions: []RequestTransition{}}
	if !m.loaded {
		if m.cursor, err = l.LastEventID(ctx, m.accountID); err != nil {
			return nil, err
		}
	} else {
		if n < m.open {
			update.Closed = m.open - n
		}
		if err := m.collect(ctx, l, update); err != nil {
			return nil, err
		}
	}
	m.open = n
	m.inFlight = len(reqs)
	m.loaded = true

	for _, tr := range update.Transitions {
		logger.WithFields(logger.Fields{
			"account_id": m.accountID,
			"request":    tr.RequestID,
			"stage":      tr.Stage,
			"height":     tr.Height,
		}).Info("request transition")
	}
	if update.Closed > 0 {
		logger.WithFields(logger.Fields{
			"account_id": m.accountID,
			"height":     height,
			"closed":     update.Closed,
			"open":       n,
			"in_flight":  m.inFlight,
		}).Info("pending projections closed")
	}
	return update, nil
}

func (m *PendingMonitor) collect(ctx context.Context, l *ledger.Ledger, update *MonitorUpdate) error {
	for {
		evs, err := l.EventsAfter(ctx, m.accountID, m.cursor, ledger.DEFAULT_EVENTS_LIMIT)
		if err != nil {
			return err
		}
		for _, ev := range evs {
			m.cursor = ev.ID
			stage, ok := eventStages[ev.Type]
			if !ok {
				continue
			}
			update.Transitions = append(update.Transitions, RequestTransition{
				AccountID: m.accountID,
				RequestID: ev.PendingTransactionID,
				Stage:     stage,
				Height:    ev.Height,
			})
		}
		if len(evs) < ledger.DEFAULT_EVENTS_LIMIT {
			return nil
		}
	}
}
