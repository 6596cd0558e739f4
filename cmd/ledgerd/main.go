// Command ledgerd runs the ledger wallet engine: TransferIntake, the
// transaction execution and block sealing pipeline, and BalanceView, all
// wired against Postgres and Redis.
package main

import (
	"context"
	"os"
	"time"

	"github.com/centralbank/ledgerd/internal/balanceview"
	"github.com/centralbank/ledgerd/internal/balanceview/rediscache"
	"github.com/centralbank/ledgerd/internal/blockbuilder"
	"github.com/centralbank/ledgerd/internal/clock"
	"github.com/centralbank/ledgerd/internal/config"
	"github.com/centralbank/ledgerd/internal/executor"
	"github.com/centralbank/ledgerd/internal/handlers/cli"
	"github.com/centralbank/ledgerd/internal/intake"
	"github.com/centralbank/ledgerd/internal/pipeline"
	"github.com/centralbank/ledgerd/internal/pkg/logger"
	"github.com/centralbank/ledgerd/internal/pkg/resilience/retry"
	"github.com/centralbank/ledgerd/internal/pkg/telemetry"
	"github.com/centralbank/ledgerd/internal/queue/redisqueue"
	"github.com/centralbank/ledgerd/internal/store/postgres"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	if err := logger.Init(logger.WithLevel(cfg.LogLevel)); err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.OTELEnabled {
		shutdown, err := telemetry.Init(ctx, cfg.OTELServiceName)
		if err != nil {
			logger.Fatal(ctx, "telemetry init failed", "error", err)
		}
		defer func() { _ = shutdown(ctx) }()
	}

	st, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal(ctx, "postgres connection failed", "error", err)
	}
	defer st.Close()

	mempool, err := redisqueue.New(ctx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Fatal(ctx, "redis connection failed", "error", err)
	}
	defer func() { _ = mempool.Close() }()

	cache := rediscache.New(mempool.Conn())
	balances := balanceview.New(st, cache, balanceview.WithTTL(time.Duration(cfg.CacheBalanceTTLSeconds)*time.Second))

	in := intake.New(st, mempool, balances, intake.WithMempoolList(cfg.TxMempoolName))

	realClock := clock.Real{}
	exec := executor.New(st, mempool, executor.WithDeadLetterList(cfg.TxDLQName))
	builder := blockbuilder.New(realClock)
	janitorRetry := retry.New()

	pipelineCfg := pipeline.DefaultConfig()
	pipelineCfg.BatchSize = cfg.TxProcessorBatchSize
	pipelineCfg.MinTxsPerBlock = cfg.TxProcessorMinTxsPerBlock
	pipelineCfg.BlockTime = cfg.TxProcessorBlockTimeMS
	pipelineCfg.Interval = cfg.TxProcessorIntervalMS
	pipelineCfg.MempoolList = cfg.TxMempoolName
	pipelineCfg.DLQList = cfg.TxDLQName

	var pl pipeline.Service = pipeline.New(st, mempool, exec, builder, balances, realClock, janitorRetry, pipelineCfg)

	if !cfg.RunTxProcessor {
		pl = noopPipeline{}
	}

	if err := cli.Run(ctx, pl, in, st); err != nil {
		logger.Error(ctx, "ledgerd exited with error", "error", err)
		os.Exit(1)
	}
}

// noopPipeline lets RUN_TX_PROCESSOR=false hosts run TransferIntake and the
// CLI's read-only commands without ever starting the sealing pipeline.
type noopPipeline struct{}

func (noopPipeline) Start(ctx context.Context) error { return nil }
func (noopPipeline) Close()                          {}
