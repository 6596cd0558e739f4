// Package storetest provides an in-memory store.Store fake used by the
// pipeline packages' unit tests to achieve the spec.md §8 testable
// properties deterministically, without a real Postgres instance. It
// models pessimistic row locking with a per-row mutex held until
// commit/rollback, mirroring what SELECT ... FOR UPDATE gives the real
// adapter.
package storetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/centralbank/ledgerd/internal/ledger"
	"github.com/centralbank/ledgerd/internal/store"
)

// Store is the in-memory fake. The zero value is not usable; use New.
type Store struct {
	mu sync.Mutex // guards the maps below and row lock bookkeeping

	accounts     map[string]ledger.Account
	transactions map[string]ledger.Transaction
	blocks       map[string]ledger.Block
	blockHeights map[int64]string

	accountLocks map[string]*sync.Mutex
}

var _ store.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{
		accounts:     make(map[string]ledger.Account),
		transactions: make(map[string]ledger.Transaction),
		blocks:       make(map[string]ledger.Block),
		blockHeights: make(map[int64]string),
		accountLocks: make(map[string]*sync.Mutex),
	}
}

// SeedAccount inserts an account directly, bypassing transactional
// semantics, for test setup.
func (s *Store) SeedAccount(a ledger.Account) ledger.Account {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	s.accounts[a.ID] = a
	return a
}

func (s *Store) lockFor(accountID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.accountLocks[accountID]
	if !ok {
		l = &sync.Mutex{}
		s.accountLocks[accountID] = l
	}
	return l
}

// BeginTx returns a new unit of work. The fake does not support true
// isolation between concurrent transactions beyond the per-account row
// locks FindAccount(..., LockForUpdate) takes.
func (s *Store) BeginTx(ctx context.Context) (store.Tx, error) {
	return &tx{store: s}, nil
}

type tx struct {
	store      *Store
	held       []*sync.Mutex
	done       bool
	blockWrite bool // whether this tx has already taken the global block-sealer lock
}

var _ store.Tx = (*tx)(nil)

func (t *tx) Commit(ctx context.Context) error {
	t.release()
	return nil
}

func (t *tx) Rollback(ctx context.Context) error {
	t.release()
	return nil
}

func (t *tx) release() {
	if t.done {
		return
	}
	t.done = true
	for _, l := range t.held {
		l.Unlock()
	}
	if t.blockWrite {
		blockSealLock.Unlock()
	}
}

func (t *tx) FindAccount(ctx context.Context, filter store.AccountFilter, lock store.LockMode) (ledger.Account, error) {
	t.store.mu.Lock()
	var found *ledger.Account
	for _, a := range t.store.accounts {
		if filter.ID != "" && a.ID != filter.ID {
			continue
		}
		if filter.SystemAddress != "" && a.SystemAddress != filter.SystemAddress {
			continue
		}
		if filter.UserID != "" && a.UserID != filter.UserID {
			continue
		}
		acct := a
		found = &acct
		break
	}
	t.store.mu.Unlock()

	if found == nil {
		return ledger.Account{}, fmt.Errorf("%w: account", ledger.ErrNotFound)
	}

	if lock == store.LockForUpdate {
		l := t.store.lockFor(found.ID)
		l.Lock()
		t.held = append(t.held, l)

		// Re-read after acquiring the lock: another transaction may have
		// mutated the row while we waited.
		t.store.mu.Lock()
		fresh := t.store.accounts[found.ID]
		t.store.mu.Unlock()
		return fresh, nil
	}

	return *found, nil
}

func (t *tx) SaveAccount(ctx context.Context, a ledger.Account) error {
	if err := a.CheckInvariants(); err != nil {
		return err
	}

	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.store.accounts[a.ID] = a
	return nil
}

func (t *tx) FindTransaction(ctx context.Context, filter store.TransactionFilter, lock store.LockMode) (ledger.Transaction, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	for _, tr := range t.store.transactions {
		if filter.ID != "" && tr.ID == filter.ID {
			return tr, nil
		}
		if filter.SystemHash != "" && tr.SystemHash == filter.SystemHash {
			return tr, nil
		}
	}
	return ledger.Transaction{}, fmt.Errorf("%w: transaction", ledger.ErrNotFound)
}

func (t *tx) CreateTransaction(ctx context.Context, tr ledger.Transaction) (ledger.Transaction, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	for _, existing := range t.store.transactions {
		if existing.SystemHash == tr.SystemHash {
			return ledger.Transaction{}, fmt.Errorf("%w: duplicate system hash", store.ErrConflict)
		}
	}

	tr.ID = uuid.NewString()
	if tr.CreatedAt.IsZero() {
		tr.CreatedAt = time.Now().UTC()
	}
	t.store.transactions[tr.ID] = tr
	return tr, nil
}

func (t *tx) SaveTransaction(ctx context.Context, tr ledger.Transaction) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	if _, ok := t.store.transactions[tr.ID]; !ok {
		return fmt.Errorf("%w: transaction", ledger.ErrNotFound)
	}
	t.store.transactions[tr.ID] = tr
	return nil
}

func (t *tx) PendingTransactionsOlderThan(ctx context.Context, cutoff time.Time) ([]ledger.Transaction, error) {
	return t.filterTransactions(func(tr ledger.Transaction) bool {
		return tr.Status == ledger.StatusPending && tr.CreatedAt.Before(cutoff)
	}), nil
}

func (t *tx) StuckProcessingTransactions(ctx context.Context, cutoff time.Time) ([]ledger.Transaction, error) {
	return t.filterTransactions(func(tr ledger.Transaction) bool {
		return tr.Status == ledger.StatusProcessing && tr.BlockID == nil && tr.CreatedAt.Before(cutoff)
	}), nil
}

func (t *tx) filterTransactions(pred func(ledger.Transaction) bool) []ledger.Transaction {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	var out []ledger.Transaction
	for _, tr := range t.store.transactions {
		if pred(tr) {
			out = append(out, tr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// blockSealLock serializes block creation across concurrent fake
// transactions, standing in for the real store's unique index on height
// plus commit-retry (spec.md §5).
var blockSealLock sync.Mutex

func (t *tx) LatestBlock(ctx context.Context) (ledger.Block, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	var best *ledger.Block
	for _, b := range t.store.blocks {
		if best == nil || b.Height > best.Height {
			blk := b
			best = &blk
		}
	}
	if best == nil {
		return ledger.Block{}, fmt.Errorf("%w: block", ledger.ErrNotFound)
	}
	return *best, nil
}

func (t *tx) BlockByHeight(ctx context.Context, height int64) (ledger.Block, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	id, ok := t.store.blockHeights[height]
	if !ok {
		return ledger.Block{}, fmt.Errorf("%w: block", ledger.ErrNotFound)
	}
	return t.store.blocks[id], nil
}

func (t *tx) CreateBlock(ctx context.Context, b ledger.Block) (ledger.Block, error) {
	if !t.blockWrite {
		blockSealLock.Lock()
		t.blockWrite = true
	}

	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	if _, ok := t.store.blockHeights[b.Height]; ok {
		return ledger.Block{}, fmt.Errorf("%w: duplicate block height %d", store.ErrConflict, b.Height)
	}

	b.ID = uuid.NewString()
	t.store.blocks[b.ID] = b
	t.store.blockHeights[b.Height] = b.ID
	return b, nil
}
