// Package config loads ledgerd's runtime configuration from environment
// variables via kelseyhightower/envconfig, grounded on the same
// struct-tag-driven approach the teacher's go.mod carries but never
// exercises with a cmd/ entrypoint of its own.
package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config is the full set of environment-driven settings for the ledgerd
// binary, covering spec.md §6's configuration surface.
type Config struct {
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`

	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisUsername string `envconfig:"REDIS_USERNAME"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	TxMempoolName string `envconfig:"TX_MEMPOOL_NAME" default:"tx:mempool"`
	TxDLQName     string `envconfig:"TX_DLQ_NAME" default:"tx:dead_letter"`

	TxProcessorBatchSize      int           `envconfig:"TX_PROCESSOR_BATCH_SIZE" default:"10"`
	TxProcessorBlockTimeMS    time.Duration `envconfig:"TX_PROCESSOR_BLOCK_TIME_MS" default:"15000ms"`
	TxProcessorMinTxsPerBlock int           `envconfig:"TX_PROCESSOR_MIN_TXS_PER_BLOCK" default:"3"`
	TxProcessorIntervalMS     time.Duration `envconfig:"TX_PROCESSOR_INTERVAL_MS" default:"5000ms"`

	CacheBalanceTTLSeconds int `envconfig:"CACHE_BALANCE_TTL_SECONDS" default:"5"`

	// RunTxProcessor opts this instance into running the sealing pipeline.
	// Defaults to false: spec.md §6 treats it as a per-instance opt-in, not
	// something every host runs unless told otherwise.
	RunTxProcessor bool `envconfig:"RUN_TX_PROCESSOR" default:"false"`

	OTELServiceName string `envconfig:"OTEL_SERVICE_NAME" default:"ledgerd"`
	OTELEnabled     bool   `envconfig:"OTEL_ENABLED" default:"false"`
}

// Load populates Config from the process environment, prefixing no
// namespace so spec.md §6's keys map verbatim onto env vars.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
