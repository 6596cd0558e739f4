package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Account is a user-owned, currency-scoped balance sheet row.
//
// Invariants (enforced both here and by store check constraints):
//   - Balance >= 0, Locked >= 0, Balance >= Locked
//   - (WalletID, Currency) is unique; SystemAddress is globally unique
//   - Only the owning wallet's user may debit from this account
type Account struct {
	ID            string
	SystemAddress string // external, opaque handle: "acc_<hex>"
	WalletID      string
	UserID        string // owning wallet's user, denormalized for the Forbidden check
	Currency      string // uppercase ISO-like code
	Balance       decimal.Decimal
	Locked        decimal.Decimal
	Nonce         int64 // monotone, non-negative
}

// Available returns the portion of Balance not currently reserved against
// a PENDING or PROCESSING outbound transaction.
func (a Account) Available() decimal.Decimal {
	return a.Balance.Sub(a.Locked)
}

// CheckInvariants validates the row-level invariants spec.md §3 requires
// to hold for every Account at rest.
func (a Account) CheckInvariants() error {
	if a.Balance.IsNegative() {
		return fmt.Errorf("%w: account %s balance %s is negative", ErrInvariantViolation, a.SystemAddress, a.Balance)
	}
	if a.Locked.IsNegative() {
		return fmt.Errorf("%w: account %s locked %s is negative", ErrInvariantViolation, a.SystemAddress, a.Locked)
	}
	if a.Balance.LessThan(a.Locked) {
		return fmt.Errorf("%w: account %s balance %s is less than locked %s", ErrInvariantViolation, a.SystemAddress, a.Balance, a.Locked)
	}
	return nil
}

// Reserve locks amount against the account's available balance, advancing
// the nonce. It is the in-memory half of TransferIntake step 5; callers are
// responsible for persisting the result inside a store transaction that
// holds a pessimistic write lock on this row.
//
// Reserve returns the account's nonce value before this reservation, which
// callers must record as the transaction's AccountNonce.
func (a *Account) Reserve(amount decimal.Decimal) (priorNonce int64, err error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return 0, fmt.Errorf("%w: amount must be positive", ErrBadRequest)
	}

	if a.Available().LessThan(amount) {
		return 0, fmt.Errorf("%w: available %s is less than requested %s", ErrInsufficientFunds, a.Available(), amount)
	}

	priorNonce = a.Nonce
	a.Locked = a.Locked.Add(amount)
	a.Nonce++
	return priorNonce, nil
}

// ReleaseLock reverts a previously reserved amount, used when an execution
// attempt fails after reservation but before the funds are ever spent.
func (a *Account) ReleaseLock(amount decimal.Decimal) error {
	if a.Locked.LessThan(amount) {
		return fmt.Errorf("%w: cannot release %s, only %s locked", ErrInvariantViolation, amount, a.Locked)
	}

	a.Locked = a.Locked.Sub(amount)
	return nil
}

// Debit moves amount out of both Balance and Locked, the terminal step of a
// successful outbound execution. Callers must have already verified
// Locked >= amount and Balance >= amount.
func (a *Account) Debit(amount decimal.Decimal) error {
	if a.Locked.LessThan(amount) {
		return fmt.Errorf("%w: locked %s is less than amount %s", ErrInvariantViolation, a.Locked, amount)
	}
	if a.Balance.LessThan(amount) {
		return fmt.Errorf("%w: balance %s is less than amount %s", ErrInvariantViolation, a.Balance, amount)
	}

	a.Balance = a.Balance.Sub(amount)
	a.Locked = a.Locked.Sub(amount)
	return nil
}

// Credit moves amount into Balance, the terminal step for the recipient of
// a successful execution.
func (a *Account) Credit(amount decimal.Decimal) {
	a.Balance = a.Balance.Add(amount)
}
