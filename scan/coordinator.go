// Package scan drives chain traversal for every watched account over one
// shared block stream.
//
// Accounts progress independently. Each iteration the coordinator takes the
// lowest resume height across accounts (the global height), selects the
// accounts whose resume height lies within one batch of it, fetches a single
// batch for their combined keys and applies to each account only the blocks
// above its own resume height. Lagging accounts therefore catch up with the
// ones ahead of them before both share a fetch.
package scan

import (
	"context"
	"errors"
	"time"

	"github.com/TEENet-io/watchwallet/chainsource"
	"github.com/TEENet-io/watchwallet/ledger"
	"github.com/TEENet-io/watchwallet/reorg"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/prometheus/client_golang/prometheus"
	logger "github.com/sirupsen/logrus"
)

// Report summarises one Run.
type Report struct {
	BlocksScanned uint64           // horizon progress
	BlocksApplied uint64           // blocks applied, summed over accounts
	Reorgs        []*reorg.Result  // rollbacks performed during the run
	Paused        bool             // Partial run stopped before the tip
	Heights       map[int64]uint64 // final resume height per account
	Transitions   []RequestTransition
}

type Coordinator struct {
	ledger   *ledger.Ledger
	sessions *SessionManager
	reorg    *reorg.Detector
	cfg      Config
	clock    clock.Clock
	metrics  scanMetrics
}

// NewCoordinator wires a coordinator. A nil cfg means DefaultConfig, a nil
// clock the wall clock and a nil registry a private one.
func NewCoordinator(
	l *ledger.Ledger,
	source chainsource.BlockSource,
	detector chainsource.OutputDetector,
	cfg *Config,
	clk clock.Clock,
	promRegistry prometheus.Registerer,
) *Coordinator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if clk == nil {
		clk = clock.NewDefaultClock()
	}
	if promRegistry == nil {
		promRegistry = prometheus.NewRegistry()
	}
	c := &Coordinator{
		ledger:   l,
		sessions: NewSessionManager(source, detector),
		cfg:      cfg.withDefaults(),
		clock:    clk,
	}
	c.reorg = reorg.NewDetector(l, source, &reorg.Config{SampleDepth: c.cfg.ReorgCheckDepth}, promRegistry)
	c.metrics.init(promRegistry)
	return c
}

func (c *Coordinator) Config() Config {
	return c.cfg
}

// GlobalHeight is the lowest resume height across targets.
func GlobalHeight(targets []*AccountSyncTarget) uint64 {
	if len(targets) == 0 {
		return 0
	}
	lowest := targets[0].ResumeHeight
	for _, t := range targets[1:] {
		if t.ResumeHeight < lowest {
			lowest = t.ResumeHeight
		}
	}
	return lowest
}

// ActiveTargets returns the targets whose resume height lies in
// [global, global+batchSize).
func ActiveTargets(targets []*AccountSyncTarget, global, batchSize uint64) []*AccountSyncTarget {
	active := []*AccountSyncTarget{}
	for _, t := range targets {
		if t.ResumeHeight >= global && t.ResumeHeight < global+batchSize {
			active = append(active, t)
		}
	}
	return active
}

// Run scans the given accounts, or all accounts when accountIDs is empty,
// according to the configured mode. Continuous runs return only when ctx is
// done, with ctx's error.
func (c *Coordinator) Run(ctx context.Context, accountIDs []int64) (*Report, error) {
	report := &Report{Reorgs: []*reorg.Result{}, Heights: map[int64]uint64{}, Transitions: []RequestTransition{}}
	defer c.sessions.Close()

	targets, err := c.loadTargets(ctx, accountIDs, nil)
	if err != nil {
		return report, err
	}
	if len(targets) == 0 && c.cfg.Mode != Continuous {
		return report, nil
	}
	defer func() { fillHeights(report, targets) }()

	logger.WithFields(logger.Fields{
		"mode":     c.cfg.Mode.String(),
		"accounts": len(targets),
		"batch":    c.cfg.BatchSize,
	}).Info("scan started")

	if err := c.checkReorgs(ctx, targets, report); err != nil {
		return report, err
	}

	var sinceReorgCheck uint64
	for {
		select {
		case <-ctx.Done():
			return report, ctx.Err()
		default:
		}

		// accounts may have been rescanned or created since the last batch
		if targets, err = c.loadTargets(ctx, accountIDs, targets); err != nil {
			return report, err
		}

		caughtUp := true
		if len(targets) > 0 {
			var progress uint64
			caughtUp, progress, err = c.Iterate(ctx, targets, report)
			if err != nil {
				return report, err
			}
			report.BlocksScanned += progress
			sinceReorgCheck += progress

			if sinceReorgCheck >= c.cfg.ReorgCheckInterval {
				if err := c.checkReorgs(ctx, targets, report); err != nil {
					return report, err
				}
				sinceReorgCheck = 0
			}

			if c.cfg.Mode == Partial && c.cfg.MaxBlocks > 0 && report.BlocksScanned >= c.cfg.MaxBlocks {
				report.Paused = !caughtUp
				logger.WithFields(logger.Fields{
					"scanned": report.BlocksScanned,
					"limit":   c.cfg.MaxBlocks,
				}).Info("scan paused at block limit")
				return report, nil
			}
		}

		if !caughtUp {
			continue
		}
		if c.cfg.Mode != Continuous {
			logger.WithFields(logger.Fields{
				"scanned": report.BlocksScanned,
				"applied": report.BlocksApplied,
				"height":  GlobalHeight(targets),
			}).Info("scan completed")
			return report, nil
		}

		select {
		case <-ctx.Done():
			return report, ctx.Err()
		case <-c.clock.TickAfter(c.cfg.PollInterval):
		}
		if err := c.checkReorgs(ctx, targets, report); err != nil {
			return report, err
		}
	}
}

// Iterate fetches one batch from the global height and applies it to the
// active targets. It reports whether the batch reached the chain tip and how
// far the highest active target moved.
func (c *Coordinator) Iterate(ctx context.Context, targets []*AccountSyncTarget, report *Report) (bool, uint64, error) {
	global := GlobalHeight(targets)
	active := ActiveTargets(targets, global, c.cfg.BatchSize)
	c.metrics.globalHeight.Set(float64(global))
	c.metrics.activeAccounts.Set(float64(len(active)))

	keys := make([]chainsource.WatchKey, 0, len(active))
	for _, t := range active {
		keys = append(keys, t.Key)
	}

	batch, err := c.fetch(ctx, global+1, keys)
	if err != nil {
		return false, 0, err
	}
	c.metrics.batches.Inc()
	if len(batch.Blocks) == 0 {
		return true, 0, nil
	}

	// a batch is applied in full even when shutdown is requested meanwhile
	applyCtx := context.WithoutCancel(ctx)

	highest := global
	for _, t := range active {
		n, err := c.applyToTarget(applyCtx, t, batch, report)
		if err != nil {
			return false, 0, err
		}
		report.BlocksApplied += n
		c.metrics.blocksApplied.Add(float64(n))
		if t.ResumeHeight > highest {
			highest = t.ResumeHeight
		}
	}

	last := batch.Blocks[len(batch.Blocks)-1].Block.Height
	logger.WithFields(logger.Fields{
		"from":     global + 1,
		"to":       last,
		"accounts": len(active),
		"more":     batch.MoreBlocks,
	}).Info("batch applied")

	return !batch.MoreBlocks, highest - global, nil
}

func (c *Coordinator) applyToTarget(ctx context.Context, t *AccountSyncTarget, batch *ScannedBatch, report *Report) (uint64, error) {
	var applied uint64
	for _, sb := range batch.Blocks {
		if sb.Block.Height <= t.ResumeHeight {
			continue
		}
		eff := ledger.NewBlockEffects(sb.Block, sb.Detections[t.Account.ID])
		res, err := c.ledger.ApplyBlock(ctx, t.Account.ID, eff)

		var orderErr *ledger.BlockOrderError
		switch {
		case err == nil:
		case errors.Is(err, ledger.ErrChainDiscontinuity):
			logger.WithFields(logger.Fields{
				"account_id": t.Account.ID,
				"height":     sb.Block.Height,
			}).Warn("block does not extend the scanned tip")
			return applied, c.checkReorg(ctx, t, report)
		case errors.As(err, &orderErr):
			// the account moved under us (rescan); pick it up next iteration
			t.ResumeHeight = orderErr.ResumeHeight
			return applied, nil
		default:
			return applied, err
		}

		t.ResumeHeight = sb.Block.Height
		if res.Applied {
			applied++
		}
	}

	if applied > 0 {
		if err := c.refreshMonitor(ctx, t, report); err != nil {
			return applied, err
		}
	}
	return applied, nil
}

func (c *Coordinator) refreshMonitor(ctx context.Context, t *AccountSyncTarget, report *Report) error {
	update, err := t.Monitor.Refresh(ctx, c.ledger, t.ResumeHeight)
	if err != nil {
		return err
	}
	for _, tr := range update.Transitions {
		c.metrics.requestTransitions.WithLabelValues(string(tr.Stage)).Inc()
	}
	report.Transitions = append(report.Transitions, update.Transitions...)
	return nil
}

// fetch asks the block source for one batch, retrying transient failures.
func (c *Coordinator) fetch(ctx context.Context, start uint64, keys []chainsource.WatchKey) (*ScannedBatch, error) {
	var batch *ScannedBatch
	opened := c.sessions.Opened()
	begin := time.Now()

	err := c.withRetry(ctx, start, func(ctx context.Context) error {
		var err error
		batch, err = c.sessions.Fetch(ctx, start, c.cfg.BatchSize, keys)
		return err
	})
	c.metrics.sessionsOpened.Add(float64(c.sessions.Opened() - opened))
	if err != nil {
		return nil, err
	}
	c.metrics.fetchDuration.Observe(time.Since(begin).Seconds())
	return batch, nil
}

// withRetry runs fn with a per-attempt timeout. Timeouts are retried after a
// short delay, other errors with exponential backoff.
func (c *Coordinator) withRetry(ctx context.Context, start uint64, fn func(ctx context.Context) error) error {
	r := c.cfg.Retry
	timeouts, failures := 0, 0

	for {
		attemptCtx, cancel := context.WithTimeout(ctx, r.FetchTimeout)
		err := fn(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var delay time.Duration
		if errors.Is(err, context.DeadlineExceeded) {
			timeouts++
			c.metrics.fetchRetries.WithLabelValues("timeout").Inc()
			if timeouts >= r.MaxTimeoutRetries {
				return &FetchError{Start: start, Attempts: timeouts + failures, cause: ErrFetchTimeout, last: err}
			}
			delay = r.TimeoutRetryDelay
		} else {
			failures++
			c.metrics.fetchRetries.WithLabelValues("error").Inc()
			if failures >= r.MaxErrorRetries {
				return &FetchError{Start: start, Attempts: timeouts + failures, cause: ErrFetchFailed, last: err}
			}
			delay = r.backoff(failures)
		}

		logger.WithFields(logger.Fields{
			"start": start,
			"retry": timeouts + failures,
			"delay": delay,
			"error": err,
		}).Warn("block fetch failed, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.clock.TickAfter(delay):
		}
	}
}

func (c *Coordinator) checkReorgs(ctx context.Context, targets []*AccountSyncTarget, report *Report) error {
	for _, t := range targets {
		if err := c.checkReorg(ctx, t, report); err != nil {
			return err
		}
	}
	return nil
}

// checkReorg compares the target's tips with the chain and rewinds it on divergence.
func (c *Coordinator) checkReorg(ctx context.Context, t *AccountSyncTarget, report *Report) error {
	var divergence uint64
	var found bool
	err := c.withRetry(ctx, t.ResumeHeight, func(ctx context.Context) error {
		var err error
		divergence, found, err = c.reorg.FindDivergence(ctx, t.Account.ID)
		return err
	})
	if err != nil || !found {
		return err
	}

	res, err := c.reorg.Handle(context.WithoutCancel(ctx), t.Account.ID, divergence)
	if err != nil {
		return err
	}
	t.ResumeHeight = res.Rollback.ResumeHeight
	report.Reorgs = append(report.Reorgs, res)
	return c.refreshMonitor(context.WithoutCancel(ctx), t, report)
}

// loadTargets reads the scanned accounts from the ledger, keeping the
// monitors of targets already known.
func (c *Coordinator) loadTargets(ctx context.Context, accountIDs []int64, prev []*AccountSyncTarget) ([]*AccountSyncTarget, error) {
	var accts []*ledger.Account
	if len(accountIDs) == 0 {
		all, err := c.ledger.Accounts(ctx)
		if err != nil {
			return nil, err
		}
		accts = all
	} else {
		for _, id := range accountIDs {
			acct, err := c.ledger.AccountByID(ctx, id)
			if err != nil {
				return nil, err
			}
			accts = append(accts, acct)
		}
	}

	known := map[int64]*AccountSyncTarget{}
	for _, t := range prev {
		known[t.Account.ID] = t
	}

	targets := make([]*AccountSyncTarget, 0, len(accts))
	for _, acct := range accts {
		if t, ok := known[acct.ID]; ok {
			t.Account = acct
			t.ResumeHeight = acct.ResumeHeight
			targets = append(targets, t)
			continue
		}
		t, err := newTarget(acct)
		if err != nil {
			return nil, err
		}
		if _, err := t.Monitor.Refresh(ctx, c.ledger, t.ResumeHeight); err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, nil
}

func fillHeights(report *Report, targets []*AccountSyncTarget) {
	for _, t := range targets {
		report.Heights[t.Account.ID] = t.ResumeHeight
	}
}
