package locker

import (
	"errors"
	"fmt"

	"github.com/TEENet-io/watchwallet/ledger"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrFundsPending        = errors.New("funds pending confirmation")
	ErrLockConflict        = errors.New("idempotency key reused with a different amount")
	ErrInvalidAmount       = errors.New("lock amount must be positive")
	ErrRequestNotPending   = errors.New("request is not pending")
	ErrKeyConsumed         = errors.New("idempotency key already consumed")
)

// InsufficientFundsError wraps ErrInsufficientBalance or ErrFundsPending.
type InsufficientFundsError struct {
	Requested   uint64
	Available   uint64
	Unconfirmed uint64
	cause       error
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("%v: requested=%d available=%d unconfirmed=%d",
		e.cause, e.Requested, e.Available, e.Unconfirmed)
}

func (e *InsufficientFundsError) Unwrap() error {
	return e.cause
}

// LockConflictError is returned when an idempotency key is replayed with another amount.
type LockConflictError struct {
	IdempotencyKey string
	StoredAmount   uint64
	Requested      uint64
}

func (e *LockConflictError) Error() string {
	return fmt.Sprintf("%v: key=%s stored=%d requested=%d",
		ErrLockConflict, e.IdempotencyKey, e.StoredAmount, e.Requested)
}

func (e *LockConflictError) Unwrap() error {
	return ErrLockConflict
}

// KeyConsumedError is returned when an idempotency key names a request that
// is no longer Pending. A finished request never locks again under its key.
type KeyConsumedError struct {
	IdempotencyKey string
	RequestID      string
	Status         ledger.RequestStatus
}

func (e *KeyConsumedError) Error() string {
	return fmt.Sprintf("%v: key=%s request=%s status=%s",
		ErrKeyConsumed, e.IdempotencyKey, e.RequestID, e.Status)
}

func (e *KeyConsumedError) Unwrap() error {
	return ErrKeyConsumed
}
