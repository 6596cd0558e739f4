package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/centralbank/ledgerd/internal/store"
)

// stuckCommand returns a CLI command that lists PROCESSING transactions
// with no block assignment older than the given age, for operator-driven
// recovery (spec.md §7 Recovery). It never mutates state.
//
// Usage example:
//
//	ledgerd stuck --older-than 5m
func stuckCommand(st store.Store) *cli.Command {
	return &cli.Command{
		Name:        "stuck",
		Description: "Lists transactions stuck in PROCESSING with no block assignment.",
		Usage:       "Read-only diagnostic for operator-driven recovery.",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "older-than", Usage: "Minimum time a transaction must have been stuck", Value: 5 * time.Minute},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			storeTx, err := st.BeginTx(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = storeTx.Rollback(ctx) }()

			cutoff := time.Now().UTC().Add(-c.Duration("older-than"))
			stuck, err := storeTx.StuckProcessingTransactions(ctx, cutoff)
			if err != nil {
				return err
			}

			if len(stuck) == 0 {
				fmt.Println("no stuck transactions")
				return nil
			}

			for _, transaction := range stuck {
				fmt.Printf("transaction.id=%s system_hash=%s from=%s to=%s amount=%s created_at=%s\n",
					transaction.ID, transaction.SystemHash, transaction.FromAccountID, transaction.ToAccountID,
					transaction.Amount, transaction.CreatedAt.Format(time.RFC3339))
			}

			return nil
		},
	}
}
