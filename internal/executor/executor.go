// Package executor implements TransactionExecutor (spec.md §4.2, component
// C5): lease-guarded execution of a single transaction's debit/credit under
// strict invariants, with compensating lock reversion on partial failure.
package executor

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/centralbank/ledgerd/internal/ledger"
	"github.com/centralbank/ledgerd/internal/pkg/logger"
	"github.com/centralbank/ledgerd/internal/queue"
	"github.com/centralbank/ledgerd/internal/store"
)

// DeadLetterList is the default Queue list name for transactions that fail
// irrecoverably. Overridable via config.TX_DLQ_NAME at the composition root.
const DeadLetterList = "tx:dead_letter"

// LeaseTTLSeconds is the per-transaction lease TTL from spec.md §4.2/§4.6.
const LeaseTTLSeconds = 60

// leaseKeyPrefix namespaces per-transaction leases in the shared Queue
// lease keyspace (spec.md §4.6: "lock:tx:{id}").
const leaseKeyPrefix = "lock:tx:"

// LeaseKey returns the Queue lease key for transaction id.
func LeaseKey(id string) string {
	return leaseKeyPrefix + id
}

// Service is the TransactionExecutor entrypoint.
type Service interface {
	// ExecuteSingle runs spec.md §4.2's algorithm for a single transaction
	// id, assuming the caller already holds the id's lease. It returns
	// (nil, nil) for transactions that should be silently dropped from
	// consideration: missing rows, or rows in any terminal status other
	// than the PROCESSING-already-owned-by-this-cycle case.
	ExecuteSingle(ctx context.Context, txID string) (*ledger.Transaction, error)
}

type service struct {
	store   store.Store
	dlq     queue.Queue
	dlqList string
}

var _ Service = (*service)(nil)

// Option configures optional service behavior.
type Option func(*service)

// WithDeadLetterList overrides the default dead-letter list name.
func WithDeadLetterList(name string) Option {
	return func(s *service) { s.dlqList = name }
}

// New wires a TransactionExecutor against its collaborators. dlq is used to
// push ids that fail irrecoverably or hit a store-level exception.
func New(st store.Store, dlq queue.Queue, opts ...Option) *service {
	s := &service{store: st, dlq: dlq, dlqList: DeadLetterList}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ExecuteSingle implements spec.md §4.2. The caller (PipelineLoop) is
// responsible for acquiring and releasing the per-tx lease around this
// call; ExecuteSingle itself is pure store-transaction logic.
func (s *service) ExecuteSingle(ctx context.Context, txID string) (*ledger.Transaction, error) {
	result, execErr := s.attempt(ctx, txID)
	if execErr == nil {
		return result, nil
	}

	// Any store-level exception during the attempt: roll back (already
	// done inside attempt), then in a separate transaction mark FAILED and
	// attempt a best-effort lock reversion, then push to the dead-letter
	// list.
	logger.Error(ctx, "transaction execution failed, routing to dead letter",
		"transaction.id", txID,
		"error", execErr,
	)

	if err := s.failAndRevert(ctx, txID); err != nil {
		logger.Error(ctx, "failed to mark transaction FAILED after execution error",
			"transaction.id", txID,
			"error", err,
		)
	}

	if err := s.dlq.Push(ctx, s.dlqList, txID); err != nil {
		logger.Error(ctx, "failed to push transaction to dead letter list",
			"transaction.id", txID,
			"error", err,
		)
	}

	return nil, execErr
}

// attempt runs the single store transaction described by spec.md §4.2
// steps 1-6.
func (s *service) attempt(ctx context.Context, txID string) (*ledger.Transaction, error) {
	storeTx, err := s.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = storeTx.Rollback(ctx)
		}
	}()

	// Step 1: load the transaction. Missing => silently drop.
	transaction, err := storeTx.FindTransaction(ctx, store.TransactionFilter{ID: txID}, store.LockForUpdate)
	if errors.Is(err, ledger.ErrNotFound) {
		if err := storeTx.Commit(ctx); err != nil {
			return nil, err
		}
		committed = true
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	// Step 2: status gate.
	switch transaction.Status {
	case ledger.StatusPending:
		// fall through to step 3
	case ledger.StatusProcessing:
		if err := storeTx.Commit(ctx); err != nil {
			return nil, err
		}
		committed = true
		return &transaction, nil
	default:
		if err := storeTx.Commit(ctx); err != nil {
			return nil, err
		}
		committed = true
		return nil, nil
	}

	sender, err := storeTx.FindAccount(ctx, store.AccountFilter{ID: transaction.FromAccountID}, store.LockForUpdate)
	if err != nil {
		return nil, err
	}
	recipient, err := storeTx.FindAccount(ctx, store.AccountFilter{ID: transaction.ToAccountID}, store.LockForUpdate)
	if err != nil {
		return nil, err
	}

	// Step 3: flip to PROCESSING.
	if err := transaction.Transition(ledger.StatusProcessing); err != nil {
		return nil, err
	}
	if err := storeTx.SaveTransaction(ctx, transaction); err != nil {
		return nil, err
	}

	// Step 4: recompute and validate locked/balance sufficiency.
	amount, err := ledger.NormalizeAmount(transaction.Amount)
	if err != nil {
		return nil, err
	}

	if sender.Locked.LessThan(amount) {
		return s.failInconsistentLock(ctx, storeTx, &transaction)
	}
	if sender.Balance.LessThan(amount) {
		return s.failAndRevertLock(ctx, storeTx, &transaction, &sender, amount)
	}

	// Step 5: apply debit/credit.
	if err := sender.Debit(amount); err != nil {
		return nil, err
	}
	recipient.Credit(amount)

	if err := storeTx.SaveAccount(ctx, sender); err != nil {
		return nil, err
	}
	if err := storeTx.SaveAccount(ctx, recipient); err != nil {
		return nil, err
	}

	// Step 6: commit.
	if err := storeTx.Commit(ctx); err != nil {
		return nil, err
	}
	committed = true

	return &transaction, nil
}

// failInconsistentLock handles spec.md §4.2 step 4's "locked < amount"
// branch: the reservation is already gone, so there is nothing to revert.
func (s *service) failInconsistentLock(ctx context.Context, storeTx store.Tx, transaction *ledger.Transaction) (*ledger.Transaction, error) {
	if err := transaction.Transition(ledger.StatusFailed); err != nil {
		return nil, err
	}
	if err := storeTx.SaveTransaction(ctx, *transaction); err != nil {
		return nil, err
	}
	if err := storeTx.Commit(ctx); err != nil {
		return nil, err
	}

	logger.Error(ctx, "transaction FAILED: inconsistent locked amount", "transaction.id", transaction.ID)
	return nil, nil
}

// failAndRevertLock handles spec.md §4.2 step 4's "balance < amount"
// branch: the reservation is still outstanding and must be released.
func (s *service) failAndRevertLock(ctx context.Context, storeTx store.Tx, transaction *ledger.Transaction, sender *ledger.Account, amount decimal.Decimal) (*ledger.Transaction, error) {
	if err := sender.ReleaseLock(amount); err != nil {
		return nil, err
	}
	if err := storeTx.SaveAccount(ctx, *sender); err != nil {
		return nil, err
	}

	if err := transaction.Transition(ledger.StatusFailed); err != nil {
		return nil, err
	}
	if err := storeTx.SaveTransaction(ctx, *transaction); err != nil {
		return nil, err
	}
	if err := storeTx.Commit(ctx); err != nil {
		return nil, err
	}

	logger.Error(ctx, "transaction FAILED: insufficient balance at execution, lock reverted", "transaction.id", transaction.ID)
	return nil, nil
}

// failAndRevert is used by ExecuteSingle's outer error path: a store-level
// exception occurred mid-attempt (attempt already rolled back), so this
// runs in a brand-new transaction to mark FAILED and best-effort revert the
// sender's lock.
func (s *service) failAndRevert(ctx context.Context, txID string) error {
	storeTx, err := s.store.BeginTx(ctx)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = storeTx.Rollback(ctx)
		}
	}()

	transaction, err := storeTx.FindTransaction(ctx, store.TransactionFilter{ID: txID}, store.LockForUpdate)
	if errors.Is(err, ledger.ErrNotFound) {
		err := storeTx.Commit(ctx)
		committed = true
		return err
	}
	if err != nil {
		return err
	}

	if transaction.Status == ledger.StatusPending || transaction.Status == ledger.StatusProcessing {
		wasProcessing := transaction.Status == ledger.StatusProcessing
		if transaction.Status == ledger.StatusPending {
			if err := transaction.Transition(ledger.StatusFailed); err != nil {
				return err
			}
		} else {
			transaction.Status = ledger.StatusFailed
		}

		if err := storeTx.SaveTransaction(ctx, transaction); err != nil {
			return err
		}

		if wasProcessing {
			sender, err := storeTx.FindAccount(ctx, store.AccountFilter{ID: transaction.FromAccountID}, store.LockForUpdate)
			if err == nil {
				amount, normErr := ledger.NormalizeAmount(transaction.Amount)
				if normErr == nil && sender.Locked.GreaterThanOrEqual(amount) {
					if releaseErr := sender.ReleaseLock(amount); releaseErr == nil {
						_ = storeTx.SaveAccount(ctx, sender)
					}
				}
			}
		}
	}

	if err := storeTx.Commit(ctx); err != nil {
		return err
	}
	committed = true
	return nil
}
