package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Status is a closed sum of the states a Transaction can occupy. It is a
// tagged value, not a type hierarchy: transitions are a pure function
// (CanTransition), never virtual dispatch.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusConfirmed  Status = "CONFIRMED"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
)

// Type distinguishes why a Transaction exists; the core only ever creates
// Transfer, but the enum leaves room for the mint/burn style entries a
// downstream admin surface might create.
type Type string

const (
	TypeTransfer Type = "TRANSFER"
)

// terminal reports whether a status has no outgoing transitions.
func (s Status) terminal() bool {
	switch s {
	case StatusConfirmed, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// legalTransitions enumerates the strict lattice from spec.md §4.5.
// PROCESSING -> PENDING is deliberately absent: a stuck PROCESSING row is a
// recovery concern (§7), never a silent revert.
var legalTransitions = map[Status]map[Status]bool{
	StatusPending:    {StatusProcessing: true, StatusFailed: true},
	StatusProcessing: {StatusConfirmed: true, StatusFailed: true},
}

// CanTransition reports whether moving from "from" to "to" is a legal edge
// in the transaction state lattice.
func CanTransition(from, to Status) bool {
	return legalTransitions[from][to]
}

// Transaction is a single debit/credit instruction between two accounts of
// the same currency.
//
// Invariants (spec.md §3):
//   - Currency of tx equals currency of both endpoints
//   - FromAccountID != ToAccountID
//   - Status follows the strict lattice above
//   - Once Status == CONFIRMED, BlockID and BlockHeight are non-nil and immutable
type Transaction struct {
	ID            string
	SystemHash    string // external, opaque handle: "txn_<hex>"
	FromAccountID string
	ToAccountID   string
	Amount        decimal.Decimal
	Currency      string
	Fee           decimal.Decimal
	Status        Status
	Type          Type
	AccountNonce  int64 // sender's nonce at submission time
	Description   string
	BlockID       *string
	BlockHeight   *int64
	CreatedAt     time.Time
}

// Transition attempts to move the transaction to newStatus, returning
// ErrInvariantViolation if the edge is not legal.
func (t *Transaction) Transition(newStatus Status) error {
	if t.Status.terminal() {
		return fmt.Errorf("%w: transaction %s is already terminal (%s)", ErrInvariantViolation, t.SystemHash, t.Status)
	}
	if !CanTransition(t.Status, newStatus) {
		return fmt.Errorf("%w: illegal transition %s -> %s for transaction %s", ErrInvariantViolation, t.Status, newStatus, t.SystemHash)
	}

	t.Status = newStatus
	return nil
}

// ConfirmInBlock finalizes a PROCESSING transaction as CONFIRMED within the
// given block, setting the immutable BlockID/BlockHeight pair.
func (t *Transaction) ConfirmInBlock(blockID string, blockHeight int64) error {
	if err := t.Transition(StatusConfirmed); err != nil {
		return err
	}

	t.BlockID = &blockID
	t.BlockHeight = &blockHeight
	return nil
}

// ValidateEndpoints checks the cross-entity invariants that require both
// account rows: currency equality and distinct endpoints.
func ValidateEndpoints(from, to Account, currency string, amount decimal.Decimal) error {
	if from.ID == to.ID {
		return fmt.Errorf("%w: sender and recipient accounts are identical", ErrBadRequest)
	}
	if from.Currency != currency || to.Currency != currency {
		return fmt.Errorf("%w: currency %s does not match sender (%s) or recipient (%s)", ErrBadRequest, currency, from.Currency, to.Currency)
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: amount must be positive", ErrBadRequest)
	}
	return nil
}
