package chain

import (
	"context"

	"github.com/NovaDovaDao/doviumV2/internal/domain/model"
)

// Ledger abstracts the remote system of record so the tracker core
// operates chain-agnostically.
type Ledger interface {
	// Chain returns the chain identifier (e.g., "solana").
	Chain() string

	// GetBalances returns the confirmed fungible-token balances held by address.
	GetBalances(ctx context.Context, address string) ([]model.TokenBalance, error)

	// Watch invokes onChange on every confirmed mutation of the token
	// holdings of address until the returned handle is cancelled. onChange may be called from any
	// goroutine; calls for one handle are never concurrent.
	Watch(ctx context.Context, address string, onChange func()) (WatchHandle, error)

	// ProbeLiveness is a cheap connectivity check against the ledger node.
	ProbeLiveness(ctx context.Context) error
}

// WatchHandle is a live watch registration.
type WatchHandle interface {
	// Cancel stops future onChange invocations. It is safe to call more than once.
	Cancel() error

	// Done is closed once the watch has stopped, either through Cancel or
	// because the underlying stream died.
	Done() <-chan struct{}
}
