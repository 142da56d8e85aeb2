package events

import (
	"context"

	"github.com/TEENet-io/watchwallet/ledger"
	logger "github.com/sirupsen/logrus"
)

// LogObserver writes every event it receives to the log.
type LogObserver struct {
	Ch chan ledger.Event
}

func NewLogObserver(bufferSize int) *LogObserver {
	if bufferSize <= 0 {
		bufferSize = DEFAULT_CHANNEL_BUFFER_SIZE
	}
	return &LogObserver{Ch: make(chan ledger.Event, bufferSize)}
}

// Loop runs until ctx is done or the channel is closed.
func (o *LogObserver) Loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-o.Ch:
			if !ok {
				return nil
			}
			entry := logger.WithFields(logger.Fields{
				"event_id":   ev.ID,
				"account_id": ev.AccountID,
				"type":       ev.Type,
				"height":     ev.Height,
				"available":  ev.Balance.Available,
				"pending_in": ev.Balance.PendingIncoming,
			})
			if ev.PendingTransactionID != "" {
				entry = entry.WithField("request", ev.PendingTransactionID)
			}
			switch ev.Type {
			case ledger.EventRollbackApplied, ledger.EventRequestReorged:
				entry.Warn("wallet event")
				continue
			case ledger.EventBlockRolledBack, ledger.EventOutputRolledBack:
				entry.Debug("wallet event")
				continue
			}
			entry.Info("wallet event")
		}
	}
}
