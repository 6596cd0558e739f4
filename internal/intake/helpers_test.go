package intake_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/centralbank/ledgerd/internal/ledger"
	"github.com/centralbank/ledgerd/internal/store"
)

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func findAccountByAddress(t *testing.T, tx store.Tx, systemAddress string) (ledger.Account, error) {
	t.Helper()
	return tx.FindAccount(t.Context(), store.AccountFilter{SystemAddress: systemAddress}, store.NoLock)
}
