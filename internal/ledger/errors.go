// Package ledger defines the core double-entry accounting domain: accounts,
// transactions, blocks, and the invariants that bind them. It has no
// knowledge of storage, queues, or transport — those are collaborators
// injected by the packages that build on top of it.
package ledger

import "errors"

// Error taxonomy. Callers should use errors.Is against these sentinels;
// the concrete error returned may wrap one of them with additional context.
var (
	// ErrForbidden covers access-control failures: the caller does not own
	// the account it is trying to act on.
	ErrForbidden = errors.New("ledger: forbidden")

	// ErrBadRequest covers malformed or semantically invalid input: bad
	// amount, currency mismatch, self-transfer.
	ErrBadRequest = errors.New("ledger: bad request")

	// ErrNotFound covers references to accounts or transactions that do
	// not exist.
	ErrNotFound = errors.New("ledger: not found")

	// ErrInsufficientFunds is returned when the sender's available balance
	// (balance - locked) cannot cover the requested amount.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")

	// ErrInvariantViolation is returned when a core data invariant would be
	// broken by an operation (e.g. locked > amount already released).
	ErrInvariantViolation = errors.New("ledger: invariant violation")

	// ErrTransientStore covers retryable storage failures: deadlocks, lock
	// timeouts, connection loss.
	ErrTransientStore = errors.New("ledger: transient store error")

	// ErrFatalConfig indicates required configuration is missing or
	// invalid at boot. The process must refuse to start.
	ErrFatalConfig = errors.New("ledger: fatal configuration error")
)
