package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/centralbank/ledgerd/internal/pipeline"
)

// serveCommand returns a CLI command that starts PipelineLoop and runs it
// until an interrupt or termination signal arrives.
//
// Usage example:
//
//	ledgerd serve
func serveCommand(pl pipeline.Service) *cli.Command {
	return &cli.Command{
		Name:        "serve",
		Description: "Starts the transaction execution and block sealing pipeline.",
		Usage:       "Runs the pipeline loop until Ctrl+C or a termination signal.",
		Action: func(ctx context.Context, c *cli.Command) error {
			quit := make(chan os.Signal, 1)
			defer close(quit)

			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

			if err := pl.Start(ctx); err != nil {
				return err
			}
			defer pl.Close()

			<-quit
			return nil
		},
	}
}
