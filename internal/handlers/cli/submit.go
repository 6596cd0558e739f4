package cli

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/centralbank/ledgerd/internal/intake"
)

// submitCommand returns a CLI command that submits a single transfer
// through TransferIntake.
//
// Usage example:
//
//	ledgerd submit --user u_1 --from acc_aaa --to acc_bbb --amount 10.5 --currency USD
func submitCommand(in intake.Service) *cli.Command {
	return &cli.Command{
		Name:        "submit",
		Description: "Submits a transfer from one account to another.",
		Usage:       "Validates, reserves funds, and enqueues a transfer for asynchronous execution.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Usage: "Submitting user id", Required: true},
			&cli.StringFlag{Name: "from", Usage: "Sender account system address", Required: true},
			&cli.StringFlag{Name: "to", Usage: "Recipient account system address", Required: true},
			&cli.StringFlag{Name: "amount", Usage: "Transfer amount, e.g. 10.50000000", Required: true},
			&cli.StringFlag{Name: "currency", Usage: "Currency code, e.g. USD", Required: true},
			&cli.StringFlag{Name: "description", Usage: "Optional free-text description"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			result, err := in.SubmitTransfer(ctx, intake.Request{
				UserID:      c.String("user"),
				FromAddr:    c.String("from"),
				ToAddr:      c.String("to"),
				AmountStr:   c.String("amount"),
				Currency:    c.String("currency"),
				Description: c.String("description"),
			})
			if err != nil {
				return err
			}

			fmt.Printf("transaction.id=%s system_hash=%s status=%s\n", result.TxID, result.SystemHash, result.Status)
			return nil
		},
	}
}
