// Package pipeline implements PipelineLoop (spec.md §4.4, component C6):
// the periodic cycle that drains the mempool, executes each transaction
// under a per-id lease, and seals a block once enough CONFIRMED-eligible
// work has accumulated. It also runs the janitor sweep that re-enqueues
// PENDING transactions TransferIntake's post-commit push never reached
// (spec.md §7 EnqueueFailure).
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/centralbank/ledgerd/internal/blockbuilder"
	"github.com/centralbank/ledgerd/internal/clock"
	"github.com/centralbank/ledgerd/internal/executor"
	"github.com/centralbank/ledgerd/internal/ledger"
	"github.com/centralbank/ledgerd/internal/pkg/logger"
	"github.com/centralbank/ledgerd/internal/pkg/resilience/retry"
	"github.com/centralbank/ledgerd/internal/queue"
	"github.com/centralbank/ledgerd/internal/store"
)

// ErrServiceAlreadyStarted is returned if Start is called more than once.
var ErrServiceAlreadyStarted = errors.New("pipeline: service already started")

// CacheInvalidator drops a stale balance snapshot, satisfied by
// balanceview.Service.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, systemAddress string) error
}

// Config controls batch sizing, seal timing, and list names; see spec.md §6
// for the TX_PROCESSOR_* / TX_MEMPOOL_NAME / TX_DLQ_NAME config keys this
// maps to.
type Config struct {
	BatchSize       int
	MinTxsPerBlock  int
	BlockTime       time.Duration
	Interval        time.Duration
	JanitorInterval time.Duration
	JanitorAge      time.Duration
	MempoolList     string
	DLQList         string
}

// DefaultConfig mirrors spec.md §6's configuration table.
func DefaultConfig() Config {
	return Config{
		BatchSize:       10,
		MinTxsPerBlock:  3,
		BlockTime:       15 * time.Second,
		Interval:        5 * time.Second,
		JanitorInterval: 30 * time.Second,
		JanitorAge:      10 * time.Second,
		MempoolList:     "tx:mempool",
		DLQList:         "tx:dead_letter",
	}
}

// Service is the PipelineLoop lifecycle entrypoint.
type Service interface {
	// Start launches the background cycle and janitor sweep and returns
	// immediately. Returns ErrServiceAlreadyStarted if already running.
	Start(ctx context.Context) error

	// Close stops both background loops and waits for the in-flight cycle,
	// if any, to finish.
	Close()
}

type closeFunc func()

type service struct {
	mu        sync.Mutex
	isStarted bool
	closeFunc closeFunc
	wg        sync.WaitGroup

	cfg Config

	store   store.Store
	queue   queue.Queue
	exec    executor.Service
	builder blockbuilder.Service
	cache   CacheInvalidator
	clock   clock.Clock
	retry   retry.Retry

	pendingMu sync.Mutex
	pending   []pendingTx
}

var _ Service = (*service)(nil)

type pendingTx struct {
	id       string
	queuedAt time.Time
}

// New wires a PipelineLoop against its collaborators.
func New(st store.Store, q queue.Queue, exec executor.Service, builder blockbuilder.Service, cache CacheInvalidator, clk clock.Clock, r retry.Retry, cfg Config) *service {
	return &service{
		store:   st,
		queue:   q,
		exec:    exec,
		builder: builder,
		cache:   cache,
		clock:   clk,
		retry:   r,
		cfg:     cfg,
	}
}

func (s *service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isStarted {
		return ErrServiceAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)

	cycleStop := make(chan struct{})
	janitorStop := make(chan struct{})

	s.wg.Add(2)
	go s.runCycleLoop(ctx, cycleStop)
	go s.runJanitorLoop(ctx, janitorStop)

	s.closeFunc = func() {
		cancel()
		close(cycleStop)
		close(janitorStop)
	}
	s.isStarted = true
	return nil
}

func (s *service) Close() {
	s.mu.Lock()
	if s.closeFunc != nil {
		s.closeFunc()
	}
	s.closeFunc = nil
	s.isStarted = false
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *service) runCycleLoop(ctx context.Context, stop <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if err := s.runCycle(ctx); err != nil {
				logger.Error(ctx, "pipeline cycle failed", "error", err)
			}
		}
	}
}

func (s *service) runJanitorLoop(ctx context.Context, stop <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if err := s.retry.Execute(ctx, func() error { return s.sweepPending(ctx) }); err != nil {
				logger.Error(ctx, "janitor sweep failed", "error", err)
			}
		}
	}
}

// runCycle implements spec.md §4.4 steps 1-6: pop a batch, execute each
// under its lease, and track newly-PROCESSING ids for sealing.
func (s *service) runCycle(ctx context.Context) error {
	ids, err := s.queue.Pop(ctx, s.cfg.MempoolList, s.cfg.BatchSize)
	if err != nil {
		return err
	}

	for _, id := range ids {
		s.executeOne(ctx, id)
	}

	return s.maybeSeal(ctx)
}

// executeOne implements spec.md §4.4 step 3's per-id lease guard around
// TransactionExecutor. A lease miss means another worker already owns id;
// this cycle simply skips it rather than blocking.
func (s *service) executeOne(ctx context.Context, id string) {
	leaseKey := executor.LeaseKey(id)
	acquired, err := s.queue.AcquireLease(ctx, leaseKey, executor.LeaseTTLSeconds)
	if err != nil {
		logger.Error(ctx, "lease acquisition failed", "transaction.id", id, "error", err)
		return
	}
	if !acquired {
		return
	}
	defer func() {
		if err := s.queue.ReleaseLease(ctx, leaseKey); err != nil {
			logger.Error(ctx, "lease release failed", "transaction.id", id, "error", err)
		}
	}()

	transaction, err := s.exec.ExecuteSingle(ctx, id)
	if err != nil {
		// ExecuteSingle already routed id to the dead-letter list.
		return
	}
	if transaction == nil {
		return
	}
	if transaction.Status != ledger.StatusProcessing {
		return
	}

	s.pendingMu.Lock()
	s.pending = append(s.pending, pendingTx{id: transaction.ID, queuedAt: s.clock.Now()})
	s.pendingMu.Unlock()
}

// maybeSeal implements spec.md §4.4 step 4's seal condition: enough
// PROCESSING transactions accumulated, or the oldest one has waited longer
// than BLOCK_TIME_MS.
func (s *service) maybeSeal(ctx context.Context) error {
	s.pendingMu.Lock()
	if len(s.pending) == 0 {
		s.pendingMu.Unlock()
		return nil
	}

	now := s.clock.Now()
	oldest := s.pending[0].queuedAt
	ready := len(s.pending) >= s.cfg.MinTxsPerBlock || now.Sub(oldest) >= s.cfg.BlockTime

	if !ready {
		s.pendingMu.Unlock()
		return nil
	}

	batch := s.pending
	s.pending = nil
	s.pendingMu.Unlock()

	ids := make([]string, len(batch))
	for i, p := range batch {
		ids[i] = p.id
	}

	return s.sealBatch(ctx, ids)
}

// sealBatch implements spec.md §4.4 steps 5-7: seal the block in one store
// transaction, and on failure re-queue every id at the head of the mempool
// for retry (the rows remain PROCESSING, and TransactionExecutor's
// already-PROCESSING branch makes re-execution a safe no-op).
func (s *service) sealBatch(ctx context.Context, ids []string) error {
	storeTx, err := s.store.BeginTx(ctx)
	if err != nil {
		return s.requeue(ctx, ids, err)
	}

	block, err := s.builder.SealBlock(ctx, storeTx, ids)
	if err != nil {
		_ = storeTx.Rollback(ctx)
		return s.requeue(ctx, ids, err)
	}

	if err := storeTx.Commit(ctx); err != nil {
		return s.requeue(ctx, ids, err)
	}

	logger.Info(ctx, "confirmed transactions into block",
		"block.height", block.Height,
		"block.transaction_count", len(ids),
	)

	s.invalidateCaches(ctx, ids)
	return nil
}

func (s *service) requeue(ctx context.Context, ids []string, cause error) error {
	logger.Error(ctx, "block seal failed, requeuing batch", "transaction.count", len(ids), "error", cause)
	for _, id := range ids {
		if err := s.queue.PushFront(ctx, s.cfg.MempoolList, id); err != nil {
			logger.Error(ctx, "failed to requeue transaction after seal failure", "transaction.id", id, "error", err)
		}
	}
	return cause
}

// invalidateCaches drops BalanceView's cached snapshot for every account
// touched by ids, looked up fresh since executeOne only has account ids.
func (s *service) invalidateCaches(ctx context.Context, ids []string) {
	storeTx, err := s.store.BeginTx(ctx)
	if err != nil {
		logger.Error(ctx, "cache invalidation lookup failed", "error", err)
		return
	}
	defer func() { _ = storeTx.Rollback(ctx) }()

	seen := make(map[string]bool)
	for _, id := range ids {
		transaction, err := storeTx.FindTransaction(ctx, store.TransactionFilter{ID: id}, store.NoLock)
		if err != nil {
			continue
		}
		for _, accountID := range []string{transaction.FromAccountID, transaction.ToAccountID} {
			if seen[accountID] {
				continue
			}
			seen[accountID] = true

			account, err := storeTx.FindAccount(ctx, store.AccountFilter{ID: accountID}, store.NoLock)
			if err != nil {
				continue
			}
			if err := s.cache.Invalidate(ctx, account.SystemAddress); err != nil {
				logger.Error(ctx, "balance cache invalidation failed", "account.system_address", account.SystemAddress, "error", err)
			}
		}
	}
}

// sweepPending implements spec.md §7 EnqueueFailure: re-enqueue PENDING
// transactions whose post-commit push never landed, detected as rows older
// than JanitorAge that are still PENDING.
func (s *service) sweepPending(ctx context.Context) error {
	storeTx, err := s.store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = storeTx.Rollback(ctx) }()

	cutoff := s.clock.Now().Add(-s.cfg.JanitorAge)
	stale, err := storeTx.PendingTransactionsOlderThan(ctx, cutoff)
	if err != nil {
		return err
	}

	for _, transaction := range stale {
		// No mempool-presence check before pushing: a duplicate push is
		// harmless since ExecuteSingle is idempotent on an already-PROCESSING
		// row, and checking presence would cost a round trip per stale row.
		if err := s.queue.Push(ctx, s.cfg.MempoolList, transaction.ID); err != nil {
			return err
		}
		logger.Warn(ctx, "janitor re-enqueued orphaned pending transaction", "transaction.id", transaction.ID)
	}

	return storeTx.Commit(ctx)
}
