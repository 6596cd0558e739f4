// Package intake implements TransferIntake (spec.md §4.1, component C4):
// the synchronous submission path that validates a transfer, reserves
// funds against the sender under a pessimistic row lock, persists a
// PENDING transaction, and enqueues it for asynchronous execution.
package intake

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/centralbank/ledgerd/internal/ledger"
	"github.com/centralbank/ledgerd/internal/pkg/logger"
	"github.com/centralbank/ledgerd/internal/pkg/validator"
	"github.com/centralbank/ledgerd/internal/queue"
	"github.com/centralbank/ledgerd/internal/store"
)

// MempoolList is the default Queue list name transfers are enqueued onto.
// Overridable via config.TX_MEMPOOL_NAME at the composition root.
const MempoolList = "tx:mempool"

// BalanceCacheInvalidator is the minimal surface TransferIntake needs from
// BalanceView: dropping a stale cache entry after a reservation commits.
type BalanceCacheInvalidator interface {
	Invalidate(ctx context.Context, systemAddress string) error
}

// Request is the validated shape of a submitTransfer call.
type Request struct {
	UserID      string `validate:"required"`
	FromAddr    string `validate:"required"`
	ToAddr      string `validate:"required"`
	AmountStr   string `validate:"required"`
	Currency    string `validate:"required,alpha"`
	Description string
}

// Result is returned to the caller once the transfer is durably PENDING.
type Result struct {
	TxID       string
	SystemHash string
	Status     ledger.Status
}

// Service is the TransferIntake entrypoint.
type Service interface {
	SubmitTransfer(ctx context.Context, req Request) (Result, error)
}

type service struct {
	store   store.Store
	queue   queue.Queue
	cache   BalanceCacheInvalidator
	mempool string
}

var _ Service = (*service)(nil)

// Option configures optional service behavior.
type Option func(*service)

// WithMempoolList overrides the default mempool list name
// (TX_MEMPOOL_NAME, spec.md §6).
func WithMempoolList(name string) Option {
	return func(s *service) { s.mempool = name }
}

// New wires a TransferIntake service against its collaborators.
func New(st store.Store, q queue.Queue, cache BalanceCacheInvalidator, opts ...Option) *service {
	s := &service{store: st, queue: q, cache: cache, mempool: MempoolList}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SubmitTransfer implements spec.md §4.1's algorithm. Steps 1-6 run inside
// one AccountStore transaction with a pessimistic write lock on the sender
// row; the Queue push and cache invalidation happen strictly after commit,
// so a visible PENDING row is always a guarantee the queued id is valid.
func (s *service) SubmitTransfer(ctx context.Context, req Request) (Result, error) {
	if err := validator.Validate(req); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ledger.ErrBadRequest, err)
	}

	if req.FromAddr == req.ToAddr {
		return Result{}, fmt.Errorf("%w: sender and recipient addresses are identical", ledger.ErrBadRequest)
	}

	amount, err := ledger.ParseAmount(req.AmountStr)
	if err != nil {
		return Result{}, err
	}
	if amount.Sign() <= 0 {
		return Result{}, fmt.Errorf("%w: amount must be positive", ledger.ErrBadRequest)
	}

	currency := strings.ToUpper(req.Currency)

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return Result{}, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	// Step 1: load sender scoped to the caller's wallet; missing is Forbidden,
	// never NotFound, so a submitter can't probe for other users' accounts.
	sender, err := tx.FindAccount(ctx, store.AccountFilter{SystemAddress: req.FromAddr, UserID: req.UserID}, store.LockForUpdate)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return Result{}, fmt.Errorf("%w: sender account not owned by caller", ledger.ErrForbidden)
		}
		return Result{}, err
	}

	// Step 2: sender currency must match the request.
	if sender.Currency != currency {
		return Result{}, fmt.Errorf("%w: sender account currency %s does not match %s", ledger.ErrBadRequest, sender.Currency, currency)
	}

	// Step 3: recipient lookup is not scoped to a wallet.
	recipient, err := tx.FindAccount(ctx, store.AccountFilter{SystemAddress: req.ToAddr}, store.NoLock)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return Result{}, fmt.Errorf("%w: recipient account", ledger.ErrNotFound)
		}
		return Result{}, err
	}
	if recipient.Currency != currency {
		return Result{}, fmt.Errorf("%w: recipient account currency %s does not match %s", ledger.ErrBadRequest, recipient.Currency, currency)
	}

	if err := ledger.ValidateEndpoints(sender, recipient, currency, amount); err != nil {
		return Result{}, err
	}

	// Steps 4-5: reserve funds and advance the sender's nonce.
	priorNonce, err := sender.Reserve(amount)
	if err != nil {
		return Result{}, err
	}

	if err := tx.SaveAccount(ctx, sender); err != nil {
		return Result{}, err
	}

	systemHash, err := newSystemHash()
	if err != nil {
		return Result{}, fmt.Errorf("%w: generating system hash: %v", ledger.ErrTransientStore, err)
	}

	// Step 6: insert the PENDING transaction row.
	created, err := tx.CreateTransaction(ctx, ledger.Transaction{
		SystemHash:    systemHash,
		FromAccountID: sender.ID,
		ToAccountID:   recipient.ID,
		Amount:        amount,
		Currency:      currency,
		Status:        ledger.StatusPending,
		Type:          ledger.TypeTransfer,
		AccountNonce:  priorNonce,
		Description:   req.Description,
	})
	if err != nil {
		return Result{}, err
	}

	// Step 7: commit.
	if err := tx.Commit(ctx); err != nil {
		return Result{}, err
	}
	committed = true

	// Step 8: enqueue and invalidate the cache strictly after commit. A
	// failure here leaves a durably PENDING, orphaned row; the janitor
	// sweep (spec.md §7 EnqueueFailure) re-enqueues it later.
	if err := s.queue.Push(ctx, s.mempool, created.ID); err != nil {
		logger.Error(ctx, "post-commit enqueue failed, relying on janitor sweep",
			"transaction.id", created.ID,
			"transaction.system_hash", created.SystemHash,
			"error", err,
		)
	}

	if err := s.cache.Invalidate(ctx, sender.SystemAddress); err != nil {
		logger.Error(ctx, "balance cache invalidation failed", "account.system_address", sender.SystemAddress, "error", err)
	}

	return Result{TxID: created.ID, SystemHash: created.SystemHash, Status: created.Status}, nil
}

// newSystemHash generates a cryptographically random 16-byte hex handle,
// prefixed "txn_" per the GLOSSARY's systemHash shape.
func newSystemHash() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "txn_" + hex.EncodeToString(buf), nil
}
