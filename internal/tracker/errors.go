package tracker

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by operations on a tracker that has been shut down.
var ErrClosed = errors.New("tracker is shut down")

// ValidationError reports a malformed address. It is returned before any
// state is touched.
type ValidationError struct {
	Address string
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid address %q: %v", e.Address, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// QueryError reports a failed ledger read. It is delivered through the
// error event, never returned from Refresh.
type QueryError struct {
	Address string
	Label   string
	Err     error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query holdings of %s: %v", e.Label, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// SubscriptionError reports a watch open or cancel failure.
type SubscriptionError struct {
	Op      string
	Address string
	Err     error
}

func (e *SubscriptionError) Error() string {
	if e.Address == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Address, e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }

// ShutdownError reports watch cancellations that failed during Shutdown.
// Internal state has already been cleared when it is returned.
type ShutdownError struct {
	Err error
}

func (e *ShutdownError) Error() string {
	return fmt.Sprintf("shutdown: %v", e.Err)
}

func (e *ShutdownError) Unwrap() error { return e.Err }
