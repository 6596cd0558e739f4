package blockbuilder_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/centralbank/ledgerd/internal/blockbuilder"
	"github.com/centralbank/ledgerd/internal/clock"
	"github.com/centralbank/ledgerd/internal/ledger"
	"github.com/centralbank/ledgerd/internal/store"
	"github.com/centralbank/ledgerd/internal/store/storetest"
)

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func seedProcessingTx(t *testing.T, st *storetest.Store, hash string) ledger.Transaction {
	t.Helper()

	sender := st.SeedAccount(ledger.Account{SystemAddress: "acc_" + hash + "_from", Currency: "USD", Balance: mustDecimal(t, "100")})
	recipient := st.SeedAccount(ledger.Account{SystemAddress: "acc_" + hash + "_to", Currency: "USD", Balance: mustDecimal(t, "0")})

	tx, err := st.BeginTx(t.Context())
	require.NoError(t, err)
	defer tx.Rollback(t.Context())

	created, err := tx.CreateTransaction(t.Context(), ledger.Transaction{
		SystemHash:    hash,
		FromAccountID: sender.ID,
		ToAccountID:   recipient.ID,
		Amount:        mustDecimal(t, "10"),
		Currency:      "USD",
		Status:        ledger.StatusPending,
		Type:          ledger.TypeTransfer,
	})
	require.NoError(t, err)
	require.NoError(t, created.Transition(ledger.StatusProcessing))
	require.NoError(t, tx.SaveTransaction(t.Context(), created))
	require.NoError(t, tx.Commit(t.Context()))

	return created
}

func TestSealBlock_Genesis(t *testing.T) {
	st := storetest.New()
	clk := clock.NewMutable(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	txn := seedProcessingTx(t, st, "txn_a")

	storeTx, err := st.BeginTx(t.Context())
	require.NoError(t, err)
	defer storeTx.Rollback(t.Context())

	builder := blockbuilder.New(clk)
	block, err := builder.SealBlock(t.Context(), storeTx, []string{txn.ID})
	require.NoError(t, err)

	assert.Equal(t, int64(0), block.Height)
	assert.Nil(t, block.PreviousBlockHash)
	require.NoError(t, storeTx.Commit(t.Context()))
}

func TestSealBlock_ChainsOnTopOfPriorBlock(t *testing.T) {
	st := storetest.New()
	clk := clock.NewMutable(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	builder := blockbuilder.New(clk)

	first := seedProcessingTx(t, st, "txn_first")
	tx1, err := st.BeginTx(t.Context())
	require.NoError(t, err)
	block1, err := builder.SealBlock(t.Context(), tx1, []string{first.ID})
	require.NoError(t, err)
	require.NoError(t, tx1.Commit(t.Context()))

	clk.Advance(time.Second)

	second := seedProcessingTx(t, st, "txn_second")
	tx2, err := st.BeginTx(t.Context())
	require.NoError(t, err)
	defer tx2.Rollback(t.Context())
	block2, err := builder.SealBlock(t.Context(), tx2, []string{second.ID})
	require.NoError(t, err)

	assert.Equal(t, block1.Height+1, block2.Height)
	require.NotNil(t, block2.PreviousBlockHash)
	assert.Equal(t, block1.BlockHash, *block2.PreviousBlockHash)
}

func TestSealBlock_ConfirmsTransactionsIntoBlock(t *testing.T) {
	st := storetest.New()
	clk := clock.NewMutable(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	builder := blockbuilder.New(clk)

	txn := seedProcessingTx(t, st, "txn_confirm")

	storeTx, err := st.BeginTx(t.Context())
	require.NoError(t, err)
	block, err := builder.SealBlock(t.Context(), storeTx, []string{txn.ID})
	require.NoError(t, err)
	require.NoError(t, storeTx.Commit(t.Context()))

	checkTx, err := st.BeginTx(t.Context())
	require.NoError(t, err)
	defer checkTx.Rollback(t.Context())

	confirmed, err := checkTx.FindTransaction(t.Context(), store.TransactionFilter{ID: txn.ID}, store.NoLock)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusConfirmed, confirmed.Status)
	require.NotNil(t, confirmed.BlockID)
	assert.Equal(t, block.ID, *confirmed.BlockID)
}

func TestSealBlock_RejectsNonProcessingTransaction(t *testing.T) {
	st := storetest.New()
	clk := clock.NewMutable(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	builder := blockbuilder.New(clk)

	sender := st.SeedAccount(ledger.Account{SystemAddress: "acc_pending_from", Currency: "USD", Balance: mustDecimal(t, "100")})
	recipient := st.SeedAccount(ledger.Account{SystemAddress: "acc_pending_to", Currency: "USD", Balance: mustDecimal(t, "0")})

	setupTx, err := st.BeginTx(t.Context())
	require.NoError(t, err)
	stillPending, err := setupTx.CreateTransaction(t.Context(), ledger.Transaction{
		SystemHash:    "txn_still_pending",
		FromAccountID: sender.ID,
		ToAccountID:   recipient.ID,
		Amount:        mustDecimal(t, "10"),
		Currency:      "USD",
		Status:        ledger.StatusPending,
		Type:          ledger.TypeTransfer,
	})
	require.NoError(t, err)
	require.NoError(t, setupTx.Commit(t.Context()))

	storeTx, err := st.BeginTx(t.Context())
	require.NoError(t, err)
	defer storeTx.Rollback(t.Context())

	_, err = builder.SealBlock(t.Context(), storeTx, []string{stillPending.ID})
	assert.ErrorIs(t, err, ledger.ErrInvariantViolation)
}

func TestSealBlock_RequiresAtLeastOneTransaction(t *testing.T) {
	st := storetest.New()
	clk := clock.NewMutable(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	builder := blockbuilder.New(clk)

	storeTx, err := st.BeginTx(t.Context())
	require.NoError(t, err)
	defer storeTx.Rollback(t.Context())

	_, err = builder.SealBlock(t.Context(), storeTx, nil)
	assert.ErrorIs(t, err, ledger.ErrBadRequest)
}
