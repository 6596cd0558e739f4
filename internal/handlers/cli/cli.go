// Package cli wires the ledger's operator-facing commands onto urfave/cli,
// grounded on the teacher's internal/handlers/cli entrypoint shape.
package cli

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/centralbank/ledgerd/internal/intake"
	"github.com/centralbank/ledgerd/internal/pipeline"
	"github.com/centralbank/ledgerd/internal/store"
)

// Run initializes and executes the ledgerd CLI application.
//
// It registers:
//
//   - `serve`: starts PipelineLoop and blocks until a termination signal.
//   - `submit`: submits a single transfer through TransferIntake.
//   - `stuck`: lists PROCESSING transactions with no block assignment, for
//     operator-driven recovery (spec.md §7).
func Run(ctx context.Context, pl pipeline.Service, in intake.Service, st store.Store) error {
	app := &cli.Command{
		EnableShellCompletion: true,
		Name:                  "ledgerd",
		Description:           "Command-line interface for running and operating the ledger engine.",
		Usage:                 "ledgerd [command] [flags]",
		Commands: []*cli.Command{
			serveCommand(pl),
			submitCommand(in),
			stuckCommand(st),
		},
	}

	return app.Run(ctx, os.Args)
}
