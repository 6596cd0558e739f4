//go:build integration_test

// Package postgrestest spins up a disposable Postgres container per test
// process and hands out an isolated, schema-migrated store.Store to each
// test case. Grounded on btcsuite-btcwallet's sqltest harness, adapted to a
// single-engine (no SQLite fallback) pgxpool-backed store.
package postgrestest

import (
	"context"
	"fmt"
	"hash/fnv"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	ledgerpostgres "github.com/centralbank/ledgerd/internal/store/postgres"
	"github.com/centralbank/ledgerd/internal/store"
)

var (
	containerOnce sync.Once
	adminDSN      string
)

// getContainer lazily starts a single Postgres container shared by every
// test in the process, mirroring the sqltest package's singleton pattern.
func getContainer(t testing.TB) string {
	t.Helper()

	containerOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		container, err := postgres.Run(ctx, "postgres:16-alpine",
			postgres.WithDatabase("ledgerd"),
			postgres.WithUsername("postgres"),
			postgres.WithPassword("postgres"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err, "failed to start postgres container")

		adminDSN, err = container.ConnectionString(ctx, "sslmode=disable")
		require.NoError(t, err, "failed to resolve container DSN")
	})

	return adminDSN
}

// deterministicTestID derives a short, cacheable identifier from the test
// name so repeated runs reuse the same database name instead of a new
// random one each time.
func deterministicTestID(t testing.TB) string {
	t.Helper()
	h := fnv.New32a()
	_, err := h.Write([]byte(t.Name()))
	require.NoError(t, err)
	return fmt.Sprintf("%08x", h.Sum32())
}

// NewStore creates a fresh, schema-migrated database inside the shared
// container and returns a store.Store wired against it, plus a raw pool for
// seeding rows the Store interface has no direct insert path for (e.g.
// accounts, which the domain only ever creates via out-of-band
// provisioning, not through TransferIntake). The database is dropped when t
// completes.
func NewStore(t testing.TB) (store.Store, *pgxpool.Pool) {
	t.Helper()

	dsn := getContainer(t)
	name := "ledgerd_test_" + deterministicTestID(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	admin, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err, "failed to connect admin pool")
	defer admin.Close()

	_, _ = admin.Exec(ctx, fmt.Sprintf(`DROP DATABASE IF EXISTS %s WITH (FORCE)`, name))
	_, err = admin.Exec(ctx, fmt.Sprintf(`CREATE DATABASE %s`, name))
	require.NoError(t, err, "failed to create test database")

	testDSN, err := withDatabaseName(dsn, name)
	require.NoError(t, err, "failed to rewrite DSN with test database name")

	rawPool, err := pgxpool.New(ctx, testDSN)
	require.NoError(t, err, "failed to connect to test database")

	_, err = rawPool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS pgcrypto`)
	require.NoError(t, err, "failed to enable pgcrypto")
	_, err = rawPool.Exec(ctx, ledgerpostgres.Schema)
	require.NoError(t, err, "failed to apply schema")

	st, err := ledgerpostgres.New(ctx, testDSN)
	require.NoError(t, err, "failed to open store against test database")

	t.Cleanup(func() {
		st.Close()
		rawPool.Close()

		cctx, ccancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer ccancel()

		admin, err := pgxpool.New(cctx, dsn)
		if err == nil {
			_, _ = admin.Exec(cctx, fmt.Sprintf(`DROP DATABASE IF EXISTS %s WITH (FORCE)`, name))
			admin.Close()
		}
	})

	return st, rawPool
}

// SeedAccount inserts an account row directly via rawPool, bypassing
// TransferIntake, for test setup.
func SeedAccount(t testing.TB, rawPool *pgxpool.Pool, systemAddress, walletID, userID, currency, balance string) string {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var id string
	err := rawPool.QueryRow(ctx, `
		INSERT INTO accounts (system_address, wallet_id, user_id, currency, balance)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		systemAddress, walletID, userID, currency, balance,
	).Scan(&id)
	require.NoError(t, err, "failed to seed account")

	return id
}

// withDatabaseName rewrites dsn's path component to dbName, preserving
// scheme, credentials, host, and query parameters.
func withDatabaseName(dsn, dbName string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse DSN: %w", err)
	}
	u.Path = "/" + dbName
	return u.String(), nil
}
