package scan

import (
	"errors"
	"fmt"
)

var (
	ErrFetchTimeout = errors.New("block fetch timed out")
	ErrFetchFailed  = errors.New("block fetch failed")
	ErrNoAccounts   = errors.New("no accounts to scan")
)

// FetchError is returned once the retry budget of a fetch is spent.
type FetchError struct {
	Start    uint64
	Attempts int
	cause    error // ErrFetchTimeout or ErrFetchFailed
	last     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%v: start=%d attempts=%d: %v", e.cause, e.Start, e.Attempts, e.last)
}

func (e *FetchError) Unwrap() []error {
	return []error{e.cause, e.last}
}
