package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/centralbank/ledgerd/internal/blockbuilder"
	"github.com/centralbank/ledgerd/internal/clock"
	"github.com/centralbank/ledgerd/internal/executor"
	"github.com/centralbank/ledgerd/internal/ledger"
	"github.com/centralbank/ledgerd/internal/pkg/resilience/retry"
	"github.com/centralbank/ledgerd/internal/queue/queuetest"
	"github.com/centralbank/ledgerd/internal/store/storetest"
)

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

type recordingCache struct {
	calls []string
}

func (r *recordingCache) Invalidate(ctx context.Context, systemAddress string) error {
	r.calls = append(r.calls, systemAddress)
	return nil
}

type noopCache struct{}

func (noopCache) Invalidate(ctx context.Context, systemAddress string) error { return nil }

func seedPendingInMempool(t *testing.T, st *storetest.Store, q *queuetest.Queue, hash string, amount string) string {
	t.Helper()

	sender := st.SeedAccount(ledger.Account{SystemAddress: "acc_" + hash + "_from", Currency: "USD", Balance: mustDecimal(t, "1000"), Locked: mustDecimal(t, amount)})
	recipient := st.SeedAccount(ledger.Account{SystemAddress: "acc_" + hash + "_to", Currency: "USD", Balance: mustDecimal(t, "0")})

	tx, err := st.BeginTx(t.Context())
	require.NoError(t, err)
	created, err := tx.CreateTransaction(t.Context(), ledger.Transaction{
		SystemHash:    hash,
		FromAccountID: sender.ID,
		ToAccountID:   recipient.ID,
		Amount:        mustDecimal(t, amount),
		Currency:      "USD",
		Status:        ledger.StatusPending,
		Type:          ledger.TypeTransfer,
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(t.Context()))

	require.NoError(t, q.Push(t.Context(), "tx:mempool", created.ID))
	return created.ID
}

func newTestService(st *storetest.Store, q *queuetest.Queue, clk clock.Clock, cache CacheInvalidator, cfg Config) *service {
	exec := executor.New(st, q)
	builder := blockbuilder.New(clk)
	return New(st, q, exec, builder, cache, clk, retry.New(), cfg)
}

func TestRunCycle_SealsBlockOnceMinTxsReached(t *testing.T) {
	st := storetest.New()
	q := queuetest.New()
	clk := clock.NewMutable(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	cfg := DefaultConfig()
	cfg.MinTxsPerBlock = 2
	cfg.BatchSize = 10

	seedPendingInMempool(t, st, q, "txn_1", "10")
	seedPendingInMempool(t, st, q, "txn_2", "10")

	cache := &recordingCache{}
	svc := newTestService(st, q, clk, cache, cfg)

	require.NoError(t, svc.runCycle(t.Context()))

	storeTx, err := st.BeginTx(t.Context())
	require.NoError(t, err)
	defer storeTx.Rollback(t.Context())

	tip, err := storeTx.LatestBlock(t.Context())
	require.NoError(t, err)
	assert.Equal(t, int64(0), tip.Height)
	assert.Len(t, tip.TransactionIDs, 2)
	assert.NotEmpty(t, cache.calls, "touched accounts should have their balance cache invalidated")
}

func TestRunCycle_DoesNotSealBelowMinTxsOrBlockTime(t *testing.T) {
	st := storetest.New()
	q := queuetest.New()
	clk := clock.NewMutable(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	cfg := DefaultConfig()
	cfg.MinTxsPerBlock = 10
	cfg.BlockTime = time.Hour
	cfg.BatchSize = 10

	seedPendingInMempool(t, st, q, "txn_1", "10")

	svc := newTestService(st, q, clk, noopCache{}, cfg)
	require.NoError(t, svc.runCycle(t.Context()))

	storeTx, err := st.BeginTx(t.Context())
	require.NoError(t, err)
	defer storeTx.Rollback(t.Context())

	_, err = storeTx.LatestBlock(t.Context())
	assert.ErrorIs(t, err, ledger.ErrNotFound, "no block should be sealed yet")

	svc.pendingMu.Lock()
	pendingCount := len(svc.pending)
	svc.pendingMu.Unlock()
	assert.Equal(t, 1, pendingCount)
}

func TestRunCycle_SealsOnBlockTimeElapsed(t *testing.T) {
	st := storetest.New()
	q := queuetest.New()
	clk := clock.NewMutable(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	cfg := DefaultConfig()
	cfg.MinTxsPerBlock = 10
	cfg.BlockTime = 5 * time.Second
	cfg.BatchSize = 10

	seedPendingInMempool(t, st, q, "txn_1", "10")

	svc := newTestService(st, q, clk, noopCache{}, cfg)
	require.NoError(t, svc.runCycle(t.Context()))

	clk.Advance(6 * time.Second)
	require.NoError(t, svc.maybeSeal(t.Context()))

	storeTx, err := st.BeginTx(t.Context())
	require.NoError(t, err)
	defer storeTx.Rollback(t.Context())

	tip, err := storeTx.LatestBlock(t.Context())
	require.NoError(t, err)
	assert.Len(t, tip.TransactionIDs, 1)
}

func TestSealBatch_RequeuesOnFailure(t *testing.T) {
	st := storetest.New()
	q := queuetest.New()
	clk := clock.NewMutable(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	cfg := DefaultConfig()
	svc := newTestService(st, q, clk, noopCache{}, cfg)

	// An id for a transaction that does not exist makes SealBlock fail.
	err := svc.sealBatch(t.Context(), []string{"nonexistent-id"})
	assert.Error(t, err)
	assert.Equal(t, []string{"nonexistent-id"}, q.Snapshot(cfg.MempoolList))
}

func TestSweepPending_ReenqueuesStalePending(t *testing.T) {
	st := storetest.New()
	q := queuetest.New()
	clk := clock.NewMutable(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	cfg := DefaultConfig()
	cfg.JanitorAge = 5 * time.Second

	sender := st.SeedAccount(ledger.Account{SystemAddress: "acc_stale_from", Currency: "USD", Balance: mustDecimal(t, "100")})
	recipient := st.SeedAccount(ledger.Account{SystemAddress: "acc_stale_to", Currency: "USD", Balance: mustDecimal(t, "0")})

	setupTx, err := st.BeginTx(t.Context())
	require.NoError(t, err)
	stale, err := setupTx.CreateTransaction(t.Context(), ledger.Transaction{
		SystemHash:    "txn_stale",
		FromAccountID: sender.ID,
		ToAccountID:   recipient.ID,
		Amount:        mustDecimal(t, "10"),
		Currency:      "USD",
		Status:        ledger.StatusPending,
		Type:          ledger.TypeTransfer,
		CreatedAt:     clk.Now().Add(-time.Hour),
	})
	require.NoError(t, err)
	require.NoError(t, setupTx.Commit(t.Context()))

	svc := newTestService(st, q, clk, noopCache{}, cfg)
	require.NoError(t, svc.sweepPending(t.Context()))

	assert.Equal(t, []string{stale.ID}, q.Snapshot(cfg.MempoolList))
}
