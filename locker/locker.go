// Package locker reserves unspent outputs for outgoing transactions.
package locker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/TEENet-io/watchwallet/ledger"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	logger "github.com/sirupsen/logrus"
)

const (
	DEFAULT_LOCK_TTL = 30 * time.Minute
)

// LockResult is the outcome of a successful Lock. Replayed is set when an
// earlier request with the same idempotency key, still Pending, was returned.
type LockResult struct {
	Request  *ledger.PendingTransaction `json:"request"`
	Outputs  []*ledger.Output           `json:"outputs"`
	Replayed bool                       `json:"replayed"`
}

// Change describes the change output of a broadcast transaction.
type Change struct {
	Hash  chainhash.Hash
	Value uint64
}

type SweepResult struct {
	Expired            []string
	ProjectionsExpired int
	Released           []string
}

// FundLocker selects and locks outputs against PendingTransactions.
// Every operation is one ledger transaction scoped to one account.
type FundLocker struct {
	ledger     *ledger.Ledger
	defaultTTL time.Duration
	metrics    lockerMetrics
}

// NewFundLocker builds a locker. A nil registry gets a private one.
func NewFundLocker(l *ledger.Ledger, defaultTTL time.Duration, promRegistry prometheus.Registerer) *FundLocker {
	if defaultTTL <= 0 {
		defaultTTL = DEFAULT_LOCK_TTL
	}
	if promRegistry == nil {
		promRegistry = prometheus.NewRegistry()
	}
	fl := &FundLocker{ledger: l, defaultTTL: defaultTTL}
	fl.metrics.init(promRegistry)
	return fl
}

// Lock reserves outputs of the account covering amount for ttl (default TTL if zero).
func (fl *FundLocker) Lock(ctx context.Context, accountID int64, amount uint64, key string, ttl time.Duration) (*LockResult, error) {
	if amount == 0 || amount > ledger.MaxValue {
		return nil, ErrInvalidAmount
	}
	if ttl <= 0 {
		ttl = fl.defaultTTL
	}

	var res *LockResult
	err := fl.ledger.Update(ctx, func(tx *ledger.Tx) error {
		acct, ok, err := tx.GetAccountByID(accountID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: id=%d", ledger.ErrAccountNotFound, accountID)
		}

		if prev, ok, err := tx.GetPendingTransactionByKey(acct.ID, key); err != nil {
			return err
		} else if ok {
			if prev.Amount != amount {
				return &LockConflictError{IdempotencyKey: key, StoredAmount: prev.Amount, Requested: amount}
			}
			if prev.Status != ledger.RequestPending {
				return &KeyConsumedError{IdempotencyKey: key, RequestID: prev.ID, Status: prev.Status}
			}
			outs, err := tx.GetOutputsByRequest(prev.ID)
			if err != nil {
				return err
			}
			res = &LockResult{Request: prev, Outputs: outs, Replayed: true}
			return nil
		}

		candidates, err := tx.GetSpendableOutputs(acct.ID)
		if err != nil {
			return err
		}
		chosen, ok := SelectOutputs(candidates, amount)
		if !ok {
			bal, err := tx.Balance(acct.ID, false)
			if err != nil {
				return err
			}
			e := &InsufficientFundsError{
				Requested:   amount,
				Available:   bal.Available,
				Unconfirmed: bal.PendingIncoming,
				cause:       ErrInsufficientBalance,
			}
			if bal.Available+bal.PendingIncoming >= amount {
				e.cause = ErrFundsPending
			}
			return e
		}

		req := &ledger.PendingTransaction{
			ID:             uuid.New().String(),
			AccountID:      acct.ID,
			IdempotencyKey: key,
			Amount:         amount,
			TotalValue:     sumValues(chosen),
			Status:         ledger.RequestPending,
			ExpiresAt:      tx.Now().Add(ttl),
		}
		if err := tx.InsertPendingTransaction(req); err != nil {
			return err
		}
		for _, out := range chosen {
			locked, err := tx.LockOutput(acct.ID, out.ID, req.ID)
			if err != nil {
				return err
			}
			if !locked {
				return fmt.Errorf("output %d is no longer lockable", out.ID)
			}
		}

		outs, err := tx.GetOutputsByRequest(req.ID)
		if err != nil {
			return err
		}
		res = &LockResult{Request: req, Outputs: outs}

		return tx.AppendEvent(&ledger.Event{
			AccountID:            acct.ID,
			Type:                 ledger.EventFundsLocked,
			Height:               acct.ResumeHeight,
			PendingTransactionID: req.ID,
			Payload:              ledger.RequestPayload(req),
		})
	})
	if err != nil {
		fl.metrics.lockRequests.WithLabelValues(lockOutcome(err)).Inc()
		return nil, err
	}

	if res.Replayed {
		fl.metrics.lockRequests.WithLabelValues(outcomeReplayed).Inc()
		return res, nil
	}
	fl.metrics.lockRequests.WithLabelValues(outcomeLocked).Inc()
	fl.metrics.lockedOutputs.Add(float64(len(res.Outputs)))

	logger.WithFields(logger.Fields{
		"account_id": accountID,
		"request":    res.Request.ID,
		"amount":     amount,
		"outputs":    len(res.Outputs),
		"total":      res.Request.TotalValue,
	}).Info("funds locked")
	return res, nil
}

func lockOutcome(err error) string {
	switch {
	case errors.Is(err, ErrFundsPending):
		return outcomePending
	case errors.Is(err, ErrInsufficientBalance):
		return outcomeInsufficient
	case errors.Is(err, ErrLockConflict):
		return outcomeConflict
	case errors.Is(err, ErrKeyConsumed):
		return outcomeKeyConsumed
	default:
		return "error"
	}
}

// pendingRequest loads a request of the account that must still be Pending.
func pendingRequest(tx *ledger.Tx, accountID int64, requestID string) (*ledger.PendingTransaction, error) {
	req, ok, err := tx.GetPendingTransaction(requestID)
	if err != nil {
		return nil, err
	}
	if !ok || req.AccountID != accountID {
		return nil, fmt.Errorf("%w: %s", ledger.ErrRequestNotFound, requestID)
	}
	if req.Status != ledger.RequestPending {
		return nil, fmt.Errorf("%w: %s is %s", ErrRequestNotPending, requestID, req.Status)
	}
	return req, nil
}

// Release cancels a Pending request and returns its outputs to Unspent.
func (fl *FundLocker) Release(ctx context.Context, accountID int64, requestID string) (*ledger.PendingTransaction, error) {
	var req *ledger.PendingTransaction
	err := fl.ledger.Update(ctx, func(tx *ledger.Tx) error {
		var err error
		if req, err = pendingRequest(tx, accountID, requestID); err != nil {
			return err
		}
		if _, err := tx.UnlockRequest(req.ID); err != nil {
			return err
		}
		if err := tx.SetRequestStatus(req, ledger.RequestCancelled); err != nil {
			return err
		}
		return tx.AppendEvent(&ledger.Event{
			AccountID:            accountID,
			Type:                 ledger.EventFundsReleased,
			PendingTransactionID: req.ID,
			Payload:              ledger.RequestPayload(req),
		})
	})
	if err != nil {
		return nil, err
	}

	fl.metrics.releases.WithLabelValues(reasonReleased).Inc()
	logger.WithFields(logger.Fields{
		"account_id": accountID,
		"request":    requestID,
	}).Info("lock released")
	return req, nil
}

// Fulfill records that the request's transaction was broadcast: its locked
// outputs become pending inputs and change, if any, a pending output. The
// outputs stay locked until the spend is mined or the projections expire.
func (fl *FundLocker) Fulfill(ctx context.Context, accountID int64, requestID string, change *Change, ttl time.Duration) (*ledger.PendingTransaction, error) {
	if ttl <= 0 {
		ttl = fl.defaultTTL
	}
	if change != nil && change.Value > ledger.MaxValue {
		return nil, ErrInvalidAmount
	}

	var req *ledger.PendingTransaction
	err := fl.ledger.Update(ctx, func(tx *ledger.Tx) error {
		var err error
		if req, err = pendingRequest(tx, accountID, requestID); err != nil {
			return err
		}
		expires := tx.Now().Add(ttl)

		outs, err := tx.GetOutputsByRequest(req.ID)
		if err != nil {
			return err
		}
		for _, out := range outs {
			if out.Status != ledger.Locked {
				continue
			}
			if err := tx.InsertPendingInput(accountID, req.ID, out.ID, expires); err != nil {
				return err
			}
		}
		if change != nil && change.Value > 0 {
			if err := tx.InsertPendingOutput(accountID, req.ID, change.Hash, change.Value, expires); err != nil {
				return err
			}
		}

		if err := tx.SetRequestStatus(req, ledger.RequestFulfilled); err != nil {
			return err
		}
		if _, err := tx.RecordBroadcast(req); err != nil {
			return err
		}
		return tx.AppendEvent(&ledger.Event{
			AccountID:            accountID,
			Type:                 ledger.EventRequestFulfilled,
			PendingTransactionID: req.ID,
			Payload:              ledger.RequestPayload(req),
		})
	})
	if err != nil {
		return nil, err
	}

	fl.metrics.fulfilled.Inc()
	logger.WithFields(logger.Fields{
		"account_id": accountID,
		"request":    requestID,
	}).Info("request fulfilled")
	return req, nil
}

// Sweep expires Pending requests and pending projections past their expiry,
// one account per transaction.
func (fl *FundLocker) Sweep(ctx context.Context) (*SweepResult, error) {
	start := time.Now()
	defer func() { fl.metrics.sweepDuration.Observe(time.Since(start).Seconds()) }()

	accts, err := fl.ledger.Accounts(ctx)
	if err != nil {
		return nil, err
	}

	res := &SweepResult{Expired: []string{}, Released: []string{}}
	for _, acct := range accts {
		if err := fl.sweepAccount(ctx, acct.ID, res); err != nil {
			return res, err
		}
	}

	if len(res.Expired) > 0 || res.ProjectionsExpired > 0 {
		logger.WithFields(logger.Fields{
			"expired":     len(res.Expired),
			"projections": res.ProjectionsExpired,
			"released":    len(res.Released),
		}).Info("expired locks swept")
	}
	return res, nil
}

func (fl *FundLocker) sweepAccount(ctx context.Context, accountID int64, res *SweepResult) error {
	var expired, released []string
	var projections int

	err := fl.ledger.Update(ctx, func(tx *ledger.Tx) error {
		expired, released, projections = nil, nil, 0
		now := tx.Now()

		reqs, err := tx.GetExpiredPendingTransactions(accountID, now)
		if err != nil {
			return err
		}
		for _, req := range reqs {
			if _, err := tx.UnlockRequest(req.ID); err != nil {
				return err
			}
			if err := tx.SetRequestStatus(req, ledger.RequestExpired); err != nil {
				return err
			}
			if err := tx.AppendEvent(&ledger.Event{
				AccountID:            accountID,
				Type:                 ledger.EventRequestExpired,
				PendingTransactionID: req.ID,
				Payload:              ledger.RequestPayload(req),
			}); err != nil {
				return err
			}
			expired = append(expired, req.ID)
		}

		inputs, err := tx.ExpireProjections(accountID, now)
		if err != nil {
			return err
		}
		projections = len(inputs)

		// a broadcast that never got mined gives its outputs back
		seen := map[string]struct{}{}
		for _, in := range inputs {
			if _, ok := seen[in.RequestID]; ok {
				continue
			}
			seen[in.RequestID] = struct{}{}

			n, err := tx.UnlockRequest(in.RequestID)
			if err != nil {
				return err
			}
			if n == 0 {
				continue
			}
			req, ok, err := tx.GetPendingTransaction(in.RequestID)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			if err := tx.CancelBroadcast(req.ID); err != nil {
				return err
			}
			if err := tx.AppendEvent(&ledger.Event{
				AccountID:            accountID,
				Type:                 ledger.EventFundsReleased,
				PendingTransactionID: req.ID,
				Payload:              ledger.RequestPayload(req),
			}); err != nil {
				return err
			}
			released = append(released, req.ID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	res.Expired = append(res.Expired, expired...)
	res.Released = append(res.Released, released...)
	res.ProjectionsExpired += projections
	fl.metrics.releases.WithLabelValues(reasonExpired).Add(float64(len(expired) + len(released)))
	fl.metrics.expiredOutflows.Add(float64(projections))
	return nil
}
