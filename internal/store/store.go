// Package store defines the AccountStore collaborator contract
// (spec.md §6): transactional persistence over accounts, transactions, and
// blocks with row-level pessimistic locking. The ledger pipeline packages
// depend only on this interface; internal/store/postgres and
// internal/store/storetest provide concrete implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/centralbank/ledgerd/internal/ledger"
)

// ErrConflict is returned when a unique or check constraint is violated --
// the "distinguishable error kind" spec.md §6 requires for constraint
// violations (e.g. a concurrent sealer losing a race on block height).
var ErrConflict = errors.New("store: constraint violation")

// LockMode selects whether FindAccount or FindTransaction should take a row lock.
type LockMode int

const (
	NoLock LockMode = iota
	LockForUpdate
)

// AccountFilter narrows an account lookup. Zero-value fields are ignored.
type AccountFilter struct {
	ID            string
	SystemAddress string
	UserID        string // when set, restricts the match to accounts owned by this user's wallet
}

// TransactionFilter narrows a transaction lookup.
type TransactionFilter struct {
	ID         string
	SystemHash string
}

// Store opens transactions against the durable account/transaction/block
// tables.
type Store interface {
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx is a single unit-of-work scoped transaction. It must be committed or
// rolled back exactly once.
type Tx interface {
	// FindAccount returns the account matching filter, or ErrNotFound wrapped.
	// lock == LockForUpdate takes a pessimistic write lock held until
	// commit/rollback.
	FindAccount(ctx context.Context, filter AccountFilter, lock LockMode) (ledger.Account, error)

	// SaveAccount persists the full row, used after balance/lock/nonce mutation.
	SaveAccount(ctx context.Context, account ledger.Account) error

	// FindTransaction returns the transaction matching filter, or ErrNotFound wrapped.
	FindTransaction(ctx context.Context, filter TransactionFilter, lock LockMode) (ledger.Transaction, error)

	// CreateTransaction inserts a new transaction row and returns it with its
	// generated ID populated.
	CreateTransaction(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, error)

	// SaveTransaction persists mutations to an existing transaction row
	// (status, block assignment).
	SaveTransaction(ctx context.Context, tx ledger.Transaction) error

	// PendingTransactionsOlderThan returns PENDING transactions created
	// before the cutoff, for the janitor sweep (spec.md §7 EnqueueFailure).
	PendingTransactionsOlderThan(ctx context.Context, cutoff time.Time) ([]ledger.Transaction, error)

	// StuckProcessingTransactions returns PROCESSING transactions with no
	// block assignment older than cutoff, for the operator-facing stuck
	// query (spec.md §7 Recovery). This never auto-resolves anything.
	StuckProcessingTransactions(ctx context.Context, cutoff time.Time) ([]ledger.Transaction, error)

	// LatestBlock returns the highest-height block, or ErrNotFound wrapped
	// if no block has ever been sealed.
	LatestBlock(ctx context.Context) (ledger.Block, error)

	// BlockByHeight returns the block at the given height, or ErrNotFound wrapped.
	BlockByHeight(ctx context.Context, height int64) (ledger.Block, error)

	// CreateBlock inserts a new block row and returns it with its generated
	// ID populated. Returns ErrConflict if height or blockHash collides with
	// an existing row (the multi-sealer safety net from spec.md §5).
	CreateBlock(ctx context.Context, block ledger.Block) (ledger.Block, error)

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
