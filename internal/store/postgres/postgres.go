// Package postgres implements the store.Store contract on top of pgx,
// using SELECT ... FOR UPDATE for the pessimistic row locks spec.md §6
// requires of AccountStore. Grounded on the connection-handling pattern
// used by btcsuite/btcwallet's Postgres test harness (pgx/v5 + the stdlib
// driver), adapted here to a pooled, production-facing Store rather than a
// throwaway per-test database.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/centralbank/ledgerd/internal/ledger"
	"github.com/centralbank/ledgerd/internal/store"
)

// pgStore wraps a pgxpool.Pool and satisfies store.Store.
type pgStore struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*pgStore)(nil)

// New opens a connection pool against dsn and verifies connectivity.
func New(ctx context.Context, dsn string) (*pgStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: opening pool: %v", ledger.ErrFatalConfig, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: pinging postgres: %v", ledger.ErrFatalConfig, err)
	}

	return &pgStore{pool: pool}, nil
}

// Close releases the underlying connection pool.
func (s *pgStore) Close() {
	s.pool.Close()
}

// BeginTx opens a serializable-enough (read committed + row locks) unit of
// work. Block sealing additionally relies on the unique constraint on
// blocks.height to make concurrent sealers safe (spec.md §5).
func (s *pgStore) BeginTx(ctx context.Context) (store.Tx, error) {
	pgxTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("%w: begin: %v", ledger.ErrTransientStore, err)
	}

	return &pgTx{tx: pgxTx}, nil
}

type pgTx struct {
	tx pgx.Tx
}

var _ store.Tx = (*pgTx)(nil)

func (t *pgTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %v", ledger.ErrTransientStore, err)
	}
	return nil
}

func (t *pgTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("%w: rollback: %v", ledger.ErrTransientStore, err)
	}
	return nil
}

const accountColumns = `id, system_address, wallet_id, user_id, currency, balance, locked, nonce`

func (t *pgTx) FindAccount(ctx context.Context, filter store.AccountFilter, lock store.LockMode) (ledger.Account, error) {
	where, args := accountWhere(filter)

	query := fmt.Sprintf(`SELECT %s FROM accounts WHERE %s`, accountColumns, where)
	if lock == store.LockForUpdate {
		query += ` FOR UPDATE`
	}

	row := t.tx.QueryRow(ctx, query, args...)

	var a ledger.Account
	err := row.Scan(&a.ID, &a.SystemAddress, &a.WalletID, &a.UserID, &a.Currency, &a.Balance, &a.Locked, &a.Nonce)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Account{}, fmt.Errorf("%w: account", ledger.ErrNotFound)
	}
	if err != nil {
		return ledger.Account{}, fmt.Errorf("%w: find account: %v", ledger.ErrTransientStore, err)
	}

	return a, nil
}

func accountWhere(filter store.AccountFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)

	if filter.ID != "" {
		args = append(args, filter.ID)
		clauses = append(clauses, fmt.Sprintf("id = $%d", len(args)))
	}
	if filter.SystemAddress != "" {
		args = append(args, filter.SystemAddress)
		clauses = append(clauses, fmt.Sprintf("system_address = $%d", len(args)))
	}
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		clauses = append(clauses, fmt.Sprintf("user_id = $%d", len(args)))
	}

	where := "TRUE"
	for _, c := range clauses {
		where += " AND " + c
	}
	return where, args
}

func (t *pgTx) SaveAccount(ctx context.Context, a ledger.Account) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE accounts SET balance = $2, locked = $3, nonce = $4
		WHERE id = $1`,
		a.ID, a.Balance, a.Locked, a.Nonce,
	)
	return wrapConstraintErr(err, "save account")
}

const transactionColumns = `id, system_hash, from_account_id, to_account_id, amount, currency, fee, status, type, account_nonce, description, block_id, block_height, created_at`

func (t *pgTx) FindTransaction(ctx context.Context, filter store.TransactionFilter, lock store.LockMode) (ledger.Transaction, error) {
	var (
		clause string
		arg    any
	)
	switch {
	case filter.ID != "":
		clause, arg = "id = $1", filter.ID
	case filter.SystemHash != "":
		clause, arg = "system_hash = $1", filter.SystemHash
	default:
		return ledger.Transaction{}, fmt.Errorf("%w: empty transaction filter", ledger.ErrBadRequest)
	}

	query := fmt.Sprintf(`SELECT %s FROM transactions WHERE %s`, transactionColumns, clause)
	if lock == store.LockForUpdate {
		query += ` FOR UPDATE`
	}

	return scanTransaction(t.tx.QueryRow(ctx, query, arg))
}

func scanTransaction(row pgx.Row) (ledger.Transaction, error) {
	var tx ledger.Transaction
	err := row.Scan(
		&tx.ID, &tx.SystemHash, &tx.FromAccountID, &tx.ToAccountID,
		&tx.Amount, &tx.Currency, &tx.Fee, &tx.Status, &tx.Type,
		&tx.AccountNonce, &tx.Description, &tx.BlockID, &tx.BlockHeight, &tx.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Transaction{}, fmt.Errorf("%w: transaction", ledger.ErrNotFound)
	}
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("%w: scan transaction: %v", ledger.ErrTransientStore, err)
	}
	return tx, nil
}

func (t *pgTx) CreateTransaction(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	row := t.tx.QueryRow(ctx, `
		INSERT INTO transactions (system_hash, from_account_id, to_account_id, amount, currency, fee, status, type, account_nonce, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+transactionColumns,
		tx.SystemHash, tx.FromAccountID, tx.ToAccountID, tx.Amount, tx.Currency, tx.Fee, tx.Status, tx.Type, tx.AccountNonce, tx.Description,
	)

	created, err := scanTransaction(row)
	if err != nil {
		return ledger.Transaction{}, wrapConstraintErr(err, "create transaction")
	}
	return created, nil
}

func (t *pgTx) SaveTransaction(ctx context.Context, tx ledger.Transaction) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE transactions SET status = $2, block_id = $3, block_height = $4
		WHERE id = $1`,
		tx.ID, tx.Status, tx.BlockID, tx.BlockHeight,
	)
	return wrapConstraintErr(err, "save transaction")
}

func (t *pgTx) PendingTransactionsOlderThan(ctx context.Context, cutoff time.Time) ([]ledger.Transaction, error) {
	return t.queryTransactions(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE status = $1 AND created_at < $2`, ledger.StatusPending, cutoff)
}

func (t *pgTx) StuckProcessingTransactions(ctx context.Context, cutoff time.Time) ([]ledger.Transaction, error) {
	return t.queryTransactions(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE status = $1 AND block_id IS NULL AND created_at < $2`, ledger.StatusProcessing, cutoff)
}

func (t *pgTx) queryTransactions(ctx context.Context, query string, args ...any) ([]ledger.Transaction, error) {
	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query transactions: %v", ledger.ErrTransientStore, err)
	}
	defer rows.Close()

	var out []ledger.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

const blockColumns = `id, height, block_hash, previous_block_hash, "timestamp", merkle_root`

func (t *pgTx) LatestBlock(ctx context.Context) (ledger.Block, error) {
	return t.scanBlockRow(t.tx.QueryRow(ctx, `SELECT `+blockColumns+` FROM blocks ORDER BY height DESC LIMIT 1`))
}

func (t *pgTx) BlockByHeight(ctx context.Context, height int64) (ledger.Block, error) {
	return t.scanBlockRow(t.tx.QueryRow(ctx, `SELECT `+blockColumns+` FROM blocks WHERE height = $1`, height))
}

func (t *pgTx) scanBlockRow(row pgx.Row) (ledger.Block, error) {
	var b ledger.Block
	err := row.Scan(&b.ID, &b.Height, &b.BlockHash, &b.PreviousBlockHash, &b.Timestamp, &b.MerkleRoot)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Block{}, fmt.Errorf("%w: block", ledger.ErrNotFound)
	}
	if err != nil {
		return ledger.Block{}, fmt.Errorf("%w: scan block: %v", ledger.ErrTransientStore, err)
	}

	b.TransactionIDs, err = t.blockTransactionIDs(context.Background(), b.ID)
	if err != nil {
		return ledger.Block{}, err
	}
	return b, nil
}

func (t *pgTx) blockTransactionIDs(ctx context.Context, blockID string) ([]string, error) {
	rows, err := t.tx.Query(ctx, `SELECT id FROM transactions WHERE block_id = $1`, blockID)
	if err != nil {
		return nil, fmt.Errorf("%w: query block transactions: %v", ledger.ErrTransientStore, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: scan block transaction id: %v", ledger.ErrTransientStore, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (t *pgTx) CreateBlock(ctx context.Context, b ledger.Block) (ledger.Block, error) {
	row := t.tx.QueryRow(ctx, `
		INSERT INTO blocks (height, block_hash, previous_block_hash, "timestamp", merkle_root)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+blockColumns,
		b.Height, b.BlockHash, b.PreviousBlockHash, b.Timestamp, b.MerkleRoot,
	)

	var created ledger.Block
	err := row.Scan(&created.ID, &created.Height, &created.BlockHash, &created.PreviousBlockHash, &created.Timestamp, &created.MerkleRoot)
	if err != nil {
		return ledger.Block{}, wrapConstraintErr(err, "create block")
	}

	created.TransactionIDs = b.TransactionIDs
	return created, nil
}

// wrapConstraintErr distinguishes unique/check constraint violations
// (surfaced as store.ErrConflict, per spec.md §6) from other transient
// failures.
func wrapConstraintErr(err error, op string) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505", "23514": // unique_violation, check_violation
			return fmt.Errorf("%w: %s: %v", store.ErrConflict, op, pgErr.Message)
		}
	}

	return fmt.Errorf("%w: %s: %v", ledger.ErrTransientStore, op, err)
}
