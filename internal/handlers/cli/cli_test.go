package cli

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"

	"github.com/centralbank/ledgerd/internal/intake"
	"github.com/centralbank/ledgerd/internal/ledger"
	"github.com/centralbank/ledgerd/internal/store/storetest"
)

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

// fakeIntake is a hand-rolled intake.Service stand-in, mirroring the
// storetest/queuetest fakes used across the rest of this module.
type fakeIntake struct {
	result intake.Result
	err    error
	got    intake.Request
}

func (f *fakeIntake) SubmitTransfer(ctx context.Context, req intake.Request) (intake.Result, error) {
	f.got = req
	return f.result, f.err
}

type fakePipeline struct {
	startErr error
	started  bool
	closed   bool
}

func (f *fakePipeline) Start(ctx context.Context) error {
	f.started = true
	return f.startErr
}

func (f *fakePipeline) Close() { f.closed = true }

func TestSubmitCommand_Metadata(t *testing.T) {
	cmd := submitCommand(&fakeIntake{})

	assert.Equal(t, "submit", cmd.Name)
	require.Len(t, cmd.Flags, 6)

	userFlag := cmd.Flags[0].(*cli.StringFlag)
	assert.Equal(t, "user", userFlag.Name)
	assert.True(t, userFlag.Required)
}

func TestSubmitCommand_SubmitsTransferOnValidFlags(t *testing.T) {
	svc := &fakeIntake{result: intake.Result{TxID: "tx_1", SystemHash: "hash_1", Status: ledger.StatusPending}}
	app := &cli.Command{Commands: []*cli.Command{submitCommand(svc)}}

	err := app.Run(t.Context(), []string{"ledgerd", "submit",
		"--user", "u_1", "--from", "acc_a", "--to", "acc_b",
		"--amount", "10.5", "--currency", "USD",
	})
	require.NoError(t, err)
	assert.Equal(t, "u_1", svc.got.UserID)
	assert.Equal(t, "acc_a", svc.got.FromAddr)
	assert.Equal(t, "acc_b", svc.got.ToAddr)
	assert.Equal(t, "10.5", svc.got.AmountStr)
	assert.Equal(t, "USD", svc.got.Currency)
}

func TestSubmitCommand_PropagatesServiceError(t *testing.T) {
	svc := &fakeIntake{err: errors.New("insufficient balance")}
	app := &cli.Command{Commands: []*cli.Command{submitCommand(svc)}}

	err := app.Run(t.Context(), []string{"ledgerd", "submit",
		"--user", "u_1", "--from", "acc_a", "--to", "acc_b",
		"--amount", "10.5", "--currency", "USD",
	})
	assert.ErrorContains(t, err, "insufficient balance")
}

func TestSubmitCommand_FailsWhenRequiredFlagMissing(t *testing.T) {
	app := &cli.Command{Commands: []*cli.Command{submitCommand(&fakeIntake{})}}

	err := app.Run(t.Context(), []string{"ledgerd", "submit",
		"--from", "acc_a", "--to", "acc_b", "--amount", "10.5", "--currency", "USD",
	})
	assert.Error(t, err)
}

func TestServeCommand_Metadata(t *testing.T) {
	pl := &fakePipeline{}
	cmd := serveCommand(pl)
	assert.Equal(t, "serve", cmd.Name)
	assert.NotNil(t, cmd.Action)
}

func TestServeCommand_PropagatesStartError(t *testing.T) {
	pl := &fakePipeline{startErr: errors.New("already started")}
	app := &cli.Command{Commands: []*cli.Command{serveCommand(pl)}}

	err := app.Run(t.Context(), []string{"ledgerd", "serve"})
	assert.ErrorContains(t, err, "already started")
	assert.True(t, pl.started)
	assert.False(t, pl.closed, "Close must not run when Start itself failed")
}

func TestStuckCommand_ReportsStuckTransactions(t *testing.T) {
	st := storetest.New()
	sender := st.SeedAccount(ledger.Account{SystemAddress: "acc_from", Currency: "USD", Balance: mustDecimal(t, "10")})
	recipient := st.SeedAccount(ledger.Account{SystemAddress: "acc_to", Currency: "USD", Balance: mustDecimal(t, "0")})

	tx, err := st.BeginTx(t.Context())
	require.NoError(t, err)
	stuck, err := tx.CreateTransaction(t.Context(), ledger.Transaction{
		SystemHash:    "txn_stuck",
		FromAccountID: sender.ID,
		ToAccountID:   recipient.ID,
		Amount:        mustDecimal(t, "1"),
		Currency:      "USD",
		Status:        ledger.StatusPending,
		Type:          ledger.TypeTransfer,
		CreatedAt:     time.Now().Add(-time.Hour).UTC(),
	})
	require.NoError(t, err)
	require.NoError(t, stuck.Transition(ledger.StatusProcessing))
	require.NoError(t, tx.SaveTransaction(t.Context(), stuck))
	require.NoError(t, tx.Commit(t.Context()))

	app := &cli.Command{Commands: []*cli.Command{stuckCommand(st)}}
	err = app.Run(t.Context(), []string{"ledgerd", "stuck", "--older-than", "1m"})
	assert.NoError(t, err)
}

func TestStuckCommand_NoStuckTransactions(t *testing.T) {
	st := storetest.New()
	app := &cli.Command{Commands: []*cli.Command{stuckCommand(st)}}

	err := app.Run(t.Context(), []string{"ledgerd", "stuck"})
	assert.NoError(t, err)
}
