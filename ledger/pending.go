package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// InsertPendingTransaction stores a new request. ID, status and expiry are set by the caller.
func (tx *Tx) InsertPendingTransaction(req *PendingTransaction) error {
	req.CreatedAt = tx.now
	req.UpdatedAt = tx.now
	_, err := tx.exec(queryInsertPendingTransaction,
		req.ID,
		req.AccountID,
		req.IdempotencyKey,
		req.Amount,
		req.TotalValue,
		string(req.Status),
		req.ExpiresAt.Unix(),
		req.CreatedAt.Unix(),
		req.UpdatedAt.Unix(),
	)
	return err
}

func (tx *Tx) getPendingTransaction(query string, args ...interface{}) (*PendingTransaction, bool, error) {
	row, err := tx.queryRow(query, args...)
	if err != nil {
		return nil, false, err
	}

	var s sqlPendingTransaction
	if err := row.Scan(s.fields()...); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	return s.decode(), true, nil
}

func (tx *Tx) GetPendingTransaction(id string) (*PendingTransaction, bool, error) {
	return tx.getPendingTransaction(queryGetPendingTransactionById, id)
}

func (tx *Tx) GetPendingTransactionByKey(accountID int64, key string) (*PendingTransaction, bool, error) {
	return tx.getPendingTransaction(queryGetPendingTransactionByKey, accountID, key)
}

// GetExpiredPendingTransactions returns the account's Pending requests with expires_at <= now.
func (tx *Tx) GetExpiredPendingTransactions(accountID int64, now time.Time) ([]*PendingTransaction, error) {
	return tx.getPendingTransactions(queryGetExpiredPendingTransactions, accountID, now.Unix())
}

// GetInFlightRequests returns the account's Fulfilled requests whose spend is not confirmed yet.
func (tx *Tx) GetInFlightRequests(accountID int64) ([]*PendingTransaction, error) {
	return tx.getPendingTransactions(queryGetInFlightRequests, accountID)
}

func (tx *Tx) getPendingTransactions(query string, args ...interface{}) ([]*PendingTransaction, error) {
	rows, err := tx.query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reqs := []*PendingTransaction{}
	for rows.Next() {
		var s sqlPendingTransaction
		if err := rows.Scan(s.fields()...); err != nil {
			return nil, err
		}
		reqs = append(reqs, s.decode())
	}
	return reqs, rows.Err()
}

func (tx *Tx) SetRequestStatus(req *PendingTransaction, status RequestStatus) error {
	if _, err := tx.exec(queryUpdatePendingTransactionStatus, string(status), tx.now.Unix(), req.ID); err != nil {
		return err
	}
	req.Status = status
	req.UpdatedAt = tx.now
	return nil
}

func (tx *Tx) setRequestMined(req *PendingTransaction, height uint64) error {
	if _, err := tx.exec(querySetRequestMined, height, tx.now.Unix(), req.ID); err != nil {
		return err
	}
	req.MinedHeight = &height
	req.UpdatedAt = tx.now
	return nil
}

func (tx *Tx) setRequestConfirmed(req *PendingTransaction, height uint64) error {
	if _, err := tx.exec(querySetRequestConfirmed, height, tx.now.Unix(), req.ID); err != nil {
		return err
	}
	req.ConfirmedHeight = &height
	req.UpdatedAt = tx.now
	return nil
}

func (tx *Tx) clearRequestMined(req *PendingTransaction) error {
	if _, err := tx.exec(queryClearRequestMined, tx.now.Unix(), req.ID); err != nil {
		return err
	}
	req.MinedHeight = nil
	req.ConfirmedHeight = nil
	req.UpdatedAt = tx.now
	return nil
}

// InsertPendingOutput projects the change output of a broadcast transaction.
func (tx *Tx) InsertPendingOutput(accountID int64, requestID string, hash chainhash.Hash, value uint64, expiresAt time.Time) error {
	if value > MaxValue {
		return fmt.Errorf("%w: pending output %s value %d", ErrValueOverflow, hash, value)
	}
	_, err := tx.exec(queryInsertPendingOutput, accountID, requestID, hash.String(), value, expiresAt.Unix(), tx.now.Unix())
	return err
}

// InsertPendingInput projects the spend of one of the account's outputs.
func (tx *Tx) InsertPendingInput(accountID int64, requestID string, outputID int64, expiresAt time.Time) error {
	_, err := tx.exec(queryInsertPendingInput, accountID, requestID, outputID, expiresAt.Unix(), tx.now.Unix())
	return err
}

func (tx *Tx) resolvePendingOutput(accountID int64, hash chainhash.Hash, height uint64) error {
	_, err := tx.exec(queryResolvePendingOutput, height, accountID, hash.String())
	return err
}

func (tx *Tx) resolvePendingInput(accountID, outputID int64, height uint64) error {
	_, err := tx.exec(queryResolvePendingInput, height, accountID, outputID)
	return err
}

// reopenProjections turns projections resolved at or above height back into
// open ones, with their expiry pushed out by their original lifetime.
func (tx *Tx) reopenProjections(accountID int64, height uint64) error {
	now := tx.now.Unix()
	if _, err := tx.exec(queryReopenPendingOutputs, now, accountID, height); err != nil {
		return err
	}
	_, err := tx.exec(queryReopenPendingInputs, now, accountID, height)
	return err
}

func (tx *Tx) hasOpenPendingInput(requestID string, outputID int64) (bool, error) {
	n, err := tx.queryInt64(queryCountOpenPendingInput, requestID, outputID)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ExpiredPendingInput is a pending input past its expiry.
type ExpiredPendingInput struct {
	ID        int64
	AccountID int64
	RequestID string
	OutputID  int64
}

// ExpireProjections marks the account's pending outputs and inputs past now as
// expired and returns the expired inputs so the caller can release their outputs.
func (tx *Tx) ExpireProjections(accountID int64, now time.Time) ([]*ExpiredPendingInput, error) {
	if _, err := tx.exec(queryExpirePendingOutputs, accountID, now.Unix()); err != nil {
		return nil, err
	}

	rows, err := tx.query(queryGetExpiredPendingInputs, accountID, now.Unix())
	if err != nil {
		return nil, err
	}
	expired := []*ExpiredPendingInput{}
	for rows.Next() {
		var e ExpiredPendingInput
		if err := rows.Scan(&e.ID, &e.AccountID, &e.RequestID, &e.OutputID); err != nil {
			rows.Close()
			return nil, err
		}
		expired = append(expired, &e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, e := range expired {
		if _, err := tx.exec(queryExpirePendingInput, e.ID); err != nil {
			return nil, err
		}
	}
	return expired, nil
}

// CountOpenProjections is the number of unresolved pending outputs and inputs of the account.
func (tx *Tx) CountOpenProjections(accountID int64) (int64, error) {
	return tx.queryInt64(queryCountOpenProjections, accountID, accountID)
}

func (l *Ledger) PendingTransaction(ctx context.Context, id string) (*PendingTransaction, error) {
	var req *PendingTransaction
	err := l.View(ctx, func(tx *Tx) error {
		r, ok, err := tx.GetPendingTransaction(id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrRequestNotFound, id)
		}
		req = r
		return nil
	})
	return req, err
}

func (l *Ledger) InFlightRequests(ctx context.Context, accountID int64) ([]*PendingTransaction, error) {
	var reqs []*PendingTransaction
	err := l.View(ctx, func(tx *Tx) error {
		var err error
		reqs, err = tx.GetInFlightRequests(accountID)
		return err
	})
	return reqs, err
}

func (l *Ledger) OpenProjections(ctx context.Context, accountID int64) (int64, error) {
	var n int64
	err := l.View(ctx, func(tx *Tx) error {
		var err error
		n, err = tx.CountOpenProjections(accountID)
		return err
	})
	return n, err
}
