// Package balanceview implements BalanceView (spec.md §4.7, component C7):
// a cache-aside read path over account balances, invalidated by
// TransferIntake and PipelineLoop whenever a row they touch changes.
package balanceview

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/centralbank/ledgerd/internal/ledger"
	"github.com/centralbank/ledgerd/internal/pkg/logger"
	"github.com/centralbank/ledgerd/internal/store"
)

// DefaultTTLSeconds is the fallback cache TTL (CACHE_BALANCE_TTL_SECONDS,
// spec.md §6) when the composition root doesn't override it.
const DefaultTTLSeconds = 5

// cacheKeyPrefix namespaces balance cache entries in the shared Redis
// keyspace (spec.md §6: "balance:{systemAddress}").
const cacheKeyPrefix = "balance:"

// CacheKey returns the Redis key for systemAddress's cached balance.
func CacheKey(systemAddress string) string {
	return cacheKeyPrefix + systemAddress
}

// Cache is the minimal key/value surface BalanceView needs. redisqueue's
// underlying *redis.Client is adapted to it by the rediscache subpackage;
// BalanceView depends only on the narrow contract it actually calls.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// ErrCacheMiss is returned by Cache.Get when key does not exist. Concrete
// Cache implementations translate their own miss signal (e.g. redis.Nil)
// into this sentinel.
var ErrCacheMiss = fmt.Errorf("balanceview: cache miss")

// Snapshot is the externally-visible read model for an account's balance,
// the shape spec.md §4.7 describes ("available, locked, total, currency,
// nonce").
type Snapshot struct {
	SystemAddress string          `json:"systemAddress"`
	Currency      string          `json:"currency"`
	Available     decimal.Decimal `json:"available"`
	Locked        decimal.Decimal `json:"locked"`
	Total         decimal.Decimal `json:"total"`
	Nonce         int64           `json:"nonce"`
}

// Service is the BalanceView entrypoint. It also satisfies
// intake.BalanceCacheInvalidator.
type Service interface {
	// GetBalance returns the cached snapshot for systemAddress if present
	// and unexpired, otherwise loads the account from AccountStore,
	// populates the cache, and returns the fresh snapshot.
	GetBalance(ctx context.Context, systemAddress string) (Snapshot, error)

	// Invalidate drops any cached snapshot for systemAddress, forcing the
	// next GetBalance to read through to AccountStore.
	Invalidate(ctx context.Context, systemAddress string) error
}

type service struct {
	store store.Store
	cache Cache
	ttl   time.Duration
}

var _ Service = (*service)(nil)

// Option configures optional service behavior.
type Option func(*service)

// WithTTL overrides the default cache TTL (CACHE_BALANCE_TTL_SECONDS).
func WithTTL(ttl time.Duration) Option {
	return func(s *service) { s.ttl = ttl }
}

// New wires a BalanceView against its collaborators.
func New(st store.Store, cache Cache, opts ...Option) *service {
	s := &service{store: st, cache: cache, ttl: DefaultTTLSeconds * time.Second}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) GetBalance(ctx context.Context, systemAddress string) (Snapshot, error) {
	key := CacheKey(systemAddress)

	if raw, err := s.cache.Get(ctx, key); err == nil {
		var snap Snapshot
		if jsonErr := json.Unmarshal([]byte(raw), &snap); jsonErr == nil {
			return snap, nil
		}
		logger.Warn(ctx, "balance cache entry unmarshalable, reading through", "account.system_address", systemAddress)
	}

	storeTx, err := s.store.BeginTx(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	defer func() { _ = storeTx.Rollback(ctx) }()

	account, err := storeTx.FindAccount(ctx, store.AccountFilter{SystemAddress: systemAddress}, store.NoLock)
	if err != nil {
		return Snapshot{}, err
	}
	if err := storeTx.Commit(ctx); err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		SystemAddress: account.SystemAddress,
		Currency:      account.Currency,
		Available:     account.Available(),
		Locked:        account.Locked,
		Total:         account.Balance,
		Nonce:         account.Nonce,
	}

	if encoded, err := json.Marshal(snap); err == nil {
		if err := s.cache.Set(ctx, key, string(encoded), s.ttl); err != nil {
			logger.Warn(ctx, "balance cache write failed", "account.system_address", systemAddress, "error", err)
		}
	}

	return snap, nil
}

func (s *service) Invalidate(ctx context.Context, systemAddress string) error {
	if err := s.cache.Del(ctx, CacheKey(systemAddress)); err != nil {
		return fmt.Errorf("%w: invalidating balance cache for %s: %v", ledger.ErrTransientStore, systemAddress, err)
	}
	return nil
}
