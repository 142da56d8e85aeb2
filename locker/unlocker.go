package locker

import (
	"context"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	logger "github.com/sirupsen/logrus"
)

const DEFAULT_UNLOCKER_INTERVAL = 60 * time.Second

// Unlocker sweeps expired locks on a fixed interval.
type Unlocker struct {
	locker   *FundLocker
	clock    clock.Clock
	interval time.Duration
}

func NewUnlocker(fl *FundLocker, clk clock.Clock, interval time.Duration) *Unlocker {
	if clk == nil {
		clk = clock.NewDefaultClock()
	}
	if interval <= 0 {
		interval = DEFAULT_UNLOCKER_INTERVAL
	}
	return &Unlocker{locker: fl, clock: clk, interval: interval}
}

// Loop runs until ctx is done. Sweep failures are logged and retried next tick.
func (u *Unlocker) Loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-u.clock.TickAfter(u.interval):
			if _, err := u.locker.Sweep(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logger.WithField("error", err).Error("failed to sweep expired locks")
			}
		}
	}
}
