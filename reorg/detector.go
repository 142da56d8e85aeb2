// Package reorg compares an account's scanned tips with the chain and rolls
// the account back when they diverge.
//
// The newest stored tip is checked first; only when it disagrees with the
// chain are older tips walked (newest first, up to SampleDepth) to find the
// last height both agree on. The divergence height is one above that tip, or
// the oldest sampled tip when none agrees.
package reorg

import (
	"context"
	"fmt"

	"github.com/TEENet-io/watchwallet/chainsource"
	"github.com/TEENet-io/watchwallet/ledger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	logger "github.com/sirupsen/logrus"
)

const DEFAULT_SAMPLE_DEPTH = 100

type Config struct {
	SampleDepth int // number of recent tips compared with the chain
}

// Result of one check. Rollback is nil when the account agrees with the chain.
type Result struct {
	AccountID  int64
	Reorg      bool
	Divergence uint64
	Rollback   *ledger.RollbackResult
}

type Detector struct {
	ledger *ledger.Ledger
	source chainsource.BlockSource
	depth  int

	reorgs       prometheus.Counter
	rolledBlocks prometheus.Counter
}

// NewDetector builds a detector. A nil registry gets a private one.
func NewDetector(l *ledger.Ledger, source chainsource.BlockSource, cfg *Config, promRegistry prometheus.Registerer) *Detector {
	depth := DEFAULT_SAMPLE_DEPTH
	if cfg != nil && cfg.SampleDepth > 0 {
		depth = cfg.SampleDepth
	}
	if promRegistry == nil {
		promRegistry = prometheus.NewRegistry()
	}
	promautoFactory := promauto.With(promRegistry)

	return &Detector{
		ledger: l,
		source: source,
		depth:  depth,
		reorgs: promautoFactory.NewCounter(prometheus.CounterOpts{
			Name: "watchwallet_reorgs_total",
			Help: "account rollbacks caused by chain reorganizations",
		}),
		rolledBlocks: promautoFactory.NewCounter(prometheus.CounterOpts{
			Name: "watchwallet_reorg_rolled_back_blocks_total",
			Help: "blocks undone by reorg rollbacks",
		}),
	}
}

// FindDivergence returns the height from which the account's history differs
// from the chain, and false when it does not.
func (d *Detector) FindDivergence(ctx context.Context, accountID int64) (uint64, bool, error) {
	tips, err := d.ledger.ScannedTips(ctx, accountID, d.depth)
	if err != nil {
		return 0, false, err
	}
	if len(tips) == 0 {
		return 0, false, nil
	}

	for i, tip := range tips {
		hash, ok, err := d.source.HeaderHash(ctx, tip.Height)
		if err != nil {
			return 0, false, fmt.Errorf("header hash at %d: %w", tip.Height, err)
		}
		if ok && hash == tip.Hash {
			if i == 0 {
				return 0, false, nil
			}
			return tip.Height + 1, true, nil
		}
	}
	return tips[len(tips)-1].Height, true, nil
}

// Check rolls the account back when its history diverges from the chain.
func (d *Detector) Check(ctx context.Context, accountID int64) (*Result, error) {
	divergence, found, err := d.FindDivergence(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !found {
		return &Result{AccountID: accountID}, nil
	}
	return d.Handle(ctx, accountID, divergence)
}

// Handle rolls the account back to divergence-1.
func (d *Detector) Handle(ctx context.Context, accountID int64, divergence uint64) (*Result, error) {
	acct, err := d.ledger.AccountByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	rb, err := d.ledger.Rollback(ctx, accountID, divergence, "reorg")
	if err != nil {
		return nil, err
	}

	d.reorgs.Inc()
	if acct.ResumeHeight > rb.ResumeHeight {
		d.rolledBlocks.Add(float64(acct.ResumeHeight - rb.ResumeHeight))
	}
	logger.WithFields(logger.Fields{
		"account_id": accountID,
		"divergence": divergence,
		"from":       acct.ResumeHeight,
		"resume":     rb.ResumeHeight,
		"outputs":    rb.OutputsDeleted,
		"inputs":     rb.InputsDeleted,
		"reversed":   rb.ChangesReversed,
		"cancelled":  len(rb.RequestsCancelled),
	}).Warn("reorg detected")

	return &Result{AccountID: accountID, Reorg: true, Divergence: divergence, Rollback: rb}, nil
}

// CheckAll checks every account and returns those that were rolled back.
func (d *Detector) CheckAll(ctx context.Context, accountIDs []int64) ([]*Result, error) {
	results := []*Result{}
	for _, id := range accountIDs {
		res, err := d.Check(ctx, id)
		if err != nil {
			return results, err
		}
		if res.Reorg {
			results = append(results, res)
		}
	}
	return results, nil
}
