package ledger

import (
	"errors"
	"fmt"
)

var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrAccountExists       = errors.New("account already exists")
	ErrIntegrity           = errors.New("ledger data integrity violation")
	ErrNonContiguousBlock  = errors.New("block does not follow the resume height")
	ErrChainDiscontinuity  = errors.New("block prev hash does not match the scanned tip")
	ErrAlreadyReversed     = errors.New("balance change already reversed")
	ErrNotReversible       = errors.New("balance change is itself a reversal")
	ErrBalanceChangeAbsent = errors.New("balance change not found")
	ErrRequestNotFound     = errors.New("pending transaction not found")
	ErrValueOverflow       = errors.New("value exceeds the storable range")
)

// IntegrityError describes a violated ledger invariant.
// It always wraps ErrIntegrity; the enclosing transaction is aborted.
type IntegrityError struct {
	AccountID int64
	Height    uint64
	Reason    string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%v: account=%d height=%d: %s", ErrIntegrity, e.AccountID, e.Height, e.Reason)
}

func (e *IntegrityError) Unwrap() error {
	return ErrIntegrity
}

func newIntegrityError(accountID int64, height uint64, format string, args ...interface{}) error {
	return &IntegrityError{AccountID: accountID, Height: height, Reason: fmt.Sprintf(format, args...)}
}

// BlockOrderError is returned when a block cannot be appended at the account's resume height.
type BlockOrderError struct {
	AccountID    int64
	ResumeHeight uint64
	BlockHeight  uint64
	cause        error
}

func (e *BlockOrderError) Error() string {
	return fmt.Sprintf("%v: account=%d resume=%d block=%d", e.cause, e.AccountID, e.ResumeHeight, e.BlockHeight)
}

func (e *BlockOrderError) Unwrap() error {
	return e.cause
}
