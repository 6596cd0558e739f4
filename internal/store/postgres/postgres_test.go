//go:build integration_test

package postgres_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/centralbank/ledgerd/internal/ledger"
	"github.com/centralbank/ledgerd/internal/store"
	"github.com/centralbank/ledgerd/internal/store/postgres/postgrestest"
)

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func TestPostgresStore_TransferLifecycle(t *testing.T) {
	st, rawPool := postgrestest.NewStore(t)

	senderID := postgrestest.SeedAccount(t, rawPool, "acc_sender", "wallet_1", "user_1", "USD", "100")
	recipientID := postgrestest.SeedAccount(t, rawPool, "acc_recipient", "wallet_2", "user_2", "USD", "0")

	tx, err := st.BeginTx(t.Context())
	require.NoError(t, err)

	senderRow, err := tx.FindAccount(t.Context(), store.AccountFilter{ID: senderID}, store.LockForUpdate)
	require.NoError(t, err)

	amount := mustDecimal(t, "40")
	priorNonce, err := senderRow.Reserve(amount)
	require.NoError(t, err)
	require.NoError(t, tx.SaveAccount(t.Context(), senderRow))

	created, err := tx.CreateTransaction(t.Context(), ledger.Transaction{
		SystemHash:    "txn_lifecycle",
		FromAccountID: senderID,
		ToAccountID:   recipientID,
		Amount:        amount,
		Currency:      "USD",
		Status:        ledger.StatusPending,
		Type:          ledger.TypeTransfer,
		AccountNonce:  priorNonce,
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(t.Context()))

	execTx, err := st.BeginTx(t.Context())
	require.NoError(t, err)

	loaded, err := execTx.FindTransaction(t.Context(), store.TransactionFilter{ID: created.ID}, store.LockForUpdate)
	require.NoError(t, err)
	require.NoError(t, loaded.Transition(ledger.StatusProcessing))
	require.NoError(t, execTx.SaveTransaction(t.Context(), loaded))

	fromAcct, err := execTx.FindAccount(t.Context(), store.AccountFilter{ID: senderID}, store.LockForUpdate)
	require.NoError(t, err)
	toAcct, err := execTx.FindAccount(t.Context(), store.AccountFilter{ID: recipientID}, store.LockForUpdate)
	require.NoError(t, err)

	require.NoError(t, fromAcct.Debit(amount))
	toAcct.Credit(amount)
	require.NoError(t, execTx.SaveAccount(t.Context(), fromAcct))
	require.NoError(t, execTx.SaveAccount(t.Context(), toAcct))
	require.NoError(t, execTx.Commit(t.Context()))

	sealTx, err := st.BeginTx(t.Context())
	require.NoError(t, err)

	_, err = sealTx.LatestBlock(t.Context())
	assert.ErrorIs(t, err, ledger.ErrNotFound, "no block exists yet")

	block, err := sealTx.CreateBlock(t.Context(), ledger.Block{
		Height:         0,
		BlockHash:      ledger.BlockHash(0, time.Now().UTC(), nil, []string{"txn_lifecycle"}),
		Timestamp:      time.Now().UTC(),
		MerkleRoot:     ledger.MerkleRoot([]string{"txn_lifecycle"}),
		TransactionIDs: []string{created.ID},
	})
	require.NoError(t, err)

	require.NoError(t, loaded.ConfirmInBlock(block.ID, block.Height))
	require.NoError(t, sealTx.SaveTransaction(t.Context(), loaded))
	require.NoError(t, sealTx.Commit(t.Context()))

	verifyTx, err := st.BeginTx(t.Context())
	require.NoError(t, err)
	defer verifyTx.Rollback(t.Context())

	finalTx, err := verifyTx.FindTransaction(t.Context(), store.TransactionFilter{ID: created.ID}, store.NoLock)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusConfirmed, finalTx.Status)
	require.NotNil(t, finalTx.BlockID)
	assert.Equal(t, block.ID, *finalTx.BlockID)

	finalSender, err := verifyTx.FindAccount(t.Context(), store.AccountFilter{ID: senderID}, store.NoLock)
	require.NoError(t, err)
	assert.True(t, finalSender.Balance.Equal(mustDecimal(t, "60")))
	assert.True(t, finalSender.Locked.IsZero())

	finalRecipient, err := verifyTx.FindAccount(t.Context(), store.AccountFilter{ID: recipientID}, store.NoLock)
	require.NoError(t, err)
	assert.True(t, finalRecipient.Balance.Equal(mustDecimal(t, "40")))
}

func TestPostgresStore_DuplicateBlockHeightRejected(t *testing.T) {
	st, _ := postgrestest.NewStore(t)

	tx, err := st.BeginTx(t.Context())
	require.NoError(t, err)

	_, err = tx.CreateBlock(t.Context(), ledger.Block{
		Height:     0,
		BlockHash:  "hash-a",
		Timestamp:  time.Now().UTC(),
		MerkleRoot: "root-a",
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(t.Context()))

	tx2, err := st.BeginTx(t.Context())
	require.NoError(t, err)
	defer tx2.Rollback(t.Context())

	_, err = tx2.CreateBlock(t.Context(), ledger.Block{
		Height:     0,
		BlockHash:  "hash-b",
		Timestamp:  time.Now().UTC(),
		MerkleRoot: "root-b",
	})
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestPostgresStore_StuckProcessingQuery(t *testing.T) {
	st, rawPool := postgrestest.NewStore(t)

	senderID := postgrestest.SeedAccount(t, rawPool, "acc_stuck_from", "wallet_3", "user_3", "USD", "100")
	recipientID := postgrestest.SeedAccount(t, rawPool, "acc_stuck_to", "wallet_4", "user_4", "USD", "0")

	tx, err := st.BeginTx(t.Context())
	require.NoError(t, err)

	stuck, err := tx.CreateTransaction(t.Context(), ledger.Transaction{
		SystemHash:    "txn_stuck",
		FromAccountID: senderID,
		ToAccountID:   recipientID,
		Amount:        mustDecimal(t, "5"),
		Currency:      "USD",
		Status:        ledger.StatusPending,
		Type:          ledger.TypeTransfer,
	})
	require.NoError(t, err)
	require.NoError(t, stuck.Transition(ledger.StatusProcessing))
	require.NoError(t, tx.SaveTransaction(t.Context(), stuck))
	require.NoError(t, tx.Commit(t.Context()))

	checkTx, err := st.BeginTx(t.Context())
	require.NoError(t, err)
	defer checkTx.Rollback(t.Context())

	found, err := checkTx.StuckProcessingTransactions(t.Context(), time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, stuck.ID, found[0].ID)
}
