/*
Package postgres provides a PostgreSQL implementation of ledger.Store on pgx.

PURPOSE:
  The server-grade backend. Same contract and schema shape as the SQLite
  store; amounts are NUMERIC so sums are exact in the database and travel
  to Go as text, straight into decimal.Decimal.

SEQUENCES:
  Writers take an EXCLUSIVE lock on the transactions table for the length
  of the write transaction, read MAX(seq) and assign the next numbers
  themselves. Readers are not blocked.

READ CONSISTENCY:
  ReadView runs inside REPEATABLE READ READ ONLY, so every aggregation of
  one valuation call sees the same snapshot.

USAGE:
  store, err := postgres.New(ctx, os.Getenv("PG_DSN"))
  if err != nil {
      return err
  }
  defer store.Close()
  if err := store.Migrate(ctx); err != nil {
      return err
  }

SEE ALSO:
  - ledger/store.go: Interface definitions
  - store/sqlite/sqlite.go: Embedded implementation
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/warp/stock-valuation/ledger"
)

// Store implements ledger.Store on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

var (
	_ ledger.Store        = (*Store)(nil)
	_ ledger.ViewProvider = (*Store)(nil)
)

// New creates a connection pool and verifies it with a ping.
func New(ctx context.Context, dsn string) (*Store, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store/postgres: parse config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("store/postgres: new pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store/postgres: ping: %w", err)
	}

	return &Store{pool: pool}, nil
}

func (s *Store) Close() { s.pool.Close() }

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS items (
		sku TEXT PRIMARY KEY,
		description TEXT NOT NULL DEFAULT '',
		unit TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE TABLE IF NOT EXISTS transactions (
		seq BIGINT PRIMARY KEY,
		kind TEXT NOT NULL CHECK (kind IN ('entry', 'exit')),
		sku TEXT NOT NULL,
		quantity NUMERIC(20,2) NOT NULL CHECK (quantity > 0),
		unit_value NUMERIC(20,2) NOT NULL CHECK (unit_value >= 0),
		occurred_on DATE NOT NULL,
		supplier_id TEXT,
		document_ref TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_sku_kind_date
		ON transactions(sku, kind, occurred_on);
	CREATE INDEX IF NOT EXISTS idx_transactions_sku_seq
		ON transactions(sku, seq DESC);
	`)
	if err != nil {
		return fmt.Errorf("store/postgres: migrate: %w", err)
	}
	return nil
}

// =============================================================================
// WRITES
// =============================================================================

func (s *Store) SaveItem(ctx context.Context, item ledger.Item) error {
	if err := ledger.ValidateItem(item); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO items (sku, description, unit, active)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (sku) DO UPDATE SET
			description = EXCLUDED.description,
			unit = EXCLUDED.unit,
			active = EXCLUDED.active
	`, string(item.SKU), item.Description, item.Unit, item.Active)
	if err != nil {
		return fmt.Errorf("store/postgres: save item %s: %w", item.SKU, err)
	}
	return nil
}

func (s *Store) Append(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	out, err := s.AppendBatch(ctx, []ledger.Transaction{tx})
	if err != nil {
		return ledger.Transaction{}, err
	}
	return out[0], nil
}

// AppendBatch writes every transaction in one database transaction.
func (s *Store) AppendBatch(ctx context.Context, txs []ledger.Transaction) ([]ledger.Transaction, error) {
	for _, tx := range txs {
		if err := ledger.ValidateTransaction(tx); err != nil {
			return nil, err
		}
	}

	var out []ledger.Transaction
	err := s.withTx(ctx, pgx.TxOptions{}, func(dbTx pgx.Tx) error {
		if _, err := dbTx.Exec(ctx, `LOCK TABLE transactions IN EXCLUSIVE MODE`); err != nil {
			return fmt.Errorf("store/postgres: lock ledger: %w", err)
		}
		var last int64
		if err := dbTx.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM transactions`).Scan(&last); err != nil {
			return fmt.Errorf("store/postgres: last sequence: %w", err)
		}

		out = make([]ledger.Transaction, 0, len(txs))
		for _, tx := range txs {
			seq, err := ledger.NextSequence(tx.Sequence, ledger.Sequence(last))
			if err != nil {
				return err
			}
			_, err = dbTx.Exec(ctx, `
				INSERT INTO transactions (seq, kind, sku, quantity, unit_value,
					occurred_on, supplier_id, document_ref)
				VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6, $7, $8)
			`,
				int64(seq),
				string(tx.Kind),
				string(tx.SKU),
				tx.Quantity.StringFixed(ledger.Scale),
				tx.UnitValue.StringFixed(ledger.Scale),
				tx.OccurredOn.Time,
				nullable(tx.SupplierID),
				nullable(tx.DocumentRef),
			)
			if err != nil {
				if isUniqueViolation(err) {
					return ledger.ErrSequenceConflict
				}
				return fmt.Errorf("store/postgres: append transaction: %w", err)
			}
			tx.Sequence = seq
			last = int64(seq)
			out = append(out, tx)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Reset truncates both tables. Used by demo scenario loading and tests.
func (s *Store) Reset(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `TRUNCATE transactions, items`); err != nil {
		return fmt.Errorf("store/postgres: reset: %w", err)
	}
	return nil
}

func (s *Store) withTx(ctx context.Context, opts pgx.TxOptions, fn func(pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("store/postgres: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store/postgres: commit tx: %w", err)
	}
	return nil
}

// =============================================================================
// READS
// =============================================================================

// ReadView runs fn inside a REPEATABLE READ READ ONLY transaction.
func (s *Store) ReadView(ctx context.Context, fn func(ledger.Reader) error) error {
	opts := pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}
	return s.withTx(ctx, opts, func(tx pgx.Tx) error {
		return fn(reader{q: tx})
	})
}

func (s *Store) Sum(ctx context.Context, q ledger.AggregateQuery) (ledger.Aggregate, error) {
	return reader{q: s.pool}.Sum(ctx, q)
}

func (s *Store) LatestEntry(ctx context.Context, sku ledger.SKU, asOf ledger.Date) (*ledger.Transaction, error) {
	return reader{q: s.pool}.LatestEntry(ctx, sku, asOf)
}

func (s *Store) History(ctx context.Context, sku ledger.SKU, asOf ledger.Date) ([]ledger.Transaction, error) {
	return reader{q: s.pool}.History(ctx, sku, asOf)
}

func (s *Store) SKUs(ctx context.Context) ([]ledger.SKU, error) {
	return reader{q: s.pool}.SKUs(ctx)
}

func (s *Store) Items(ctx context.Context, filter ledger.ItemFilter) ([]ledger.Item, error) {
	return reader{q: s.pool}.Items(ctx, filter)
}

func (s *Store) Item(ctx context.Context, sku ledger.SKU) (ledger.Item, error) {
	return reader{q: s.pool}.Item(ctx, sku)
}

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type reader struct{ q querier }

// where builds the shared "sku / kind / date window" predicate.
type where struct {
	clauses []string
	args    []any
}

func (w *where) add(clause string, arg any) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, fmt.Sprintf(clause, len(w.args)))
}

func (w *where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func (r reader) Sum(ctx context.Context, q ledger.AggregateQuery) (ledger.Aggregate, error) {
	w := &where{}
	w.add("sku = $%d", string(q.SKU))
	w.add("kind = $%d", string(q.Kind))
	if !q.From.IsZero() {
		w.add("occurred_on >= $%d", q.From.Time)
	}
	if !q.To.IsZero() {
		w.add("occurred_on <= $%d", q.To.Time)
	}

	var qty, value string
	var count int
	err := r.q.QueryRow(ctx, `
		SELECT COALESCE(SUM(quantity), 0)::text,
		       COALESCE(SUM(quantity * unit_value), 0)::text,
		       COUNT(*)
		FROM transactions`+w.String(), w.args...).Scan(&qty, &value, &count)
	if err != nil {
		return ledger.Aggregate{}, fmt.Errorf("store/postgres: sum: %w", err)
	}

	agg := ledger.Aggregate{Count: count}
	if agg.Quantity, err = decimal.NewFromString(qty); err != nil {
		return ledger.Aggregate{}, fmt.Errorf("store/postgres: sum quantity %q: %w", qty, err)
	}
	if agg.Value, err = decimal.NewFromString(value); err != nil {
		return ledger.Aggregate{}, fmt.Errorf("store/postgres: sum value %q: %w", value, err)
	}
	return agg, nil
}

func (r reader) LatestEntry(ctx context.Context, sku ledger.SKU, asOf ledger.Date) (*ledger.Transaction, error) {
	w := &where{}
	w.add("sku = $%d", string(sku))
	w.add("kind = $%d", string(ledger.KindEntry))
	if !asOf.IsZero() {
		w.add("occurred_on <= $%d", asOf.Time)
	}

	txs, err := r.queryTransactions(ctx, selectTransactions+w.String()+` ORDER BY seq DESC LIMIT 1`, w.args...)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, nil
	}
	return &txs[0], nil
}

func (r reader) History(ctx context.Context, sku ledger.SKU, asOf ledger.Date) ([]ledger.Transaction, error) {
	w := &where{}
	w.add("sku = $%d", string(sku))
	if !asOf.IsZero() {
		w.add("occurred_on <= $%d", asOf.Time)
	}
	return r.queryTransactions(ctx, selectTransactions+w.String()+` ORDER BY seq ASC`, w.args...)
}

func (r reader) SKUs(ctx context.Context) ([]ledger.SKU, error) {
	rows, err := r.q.Query(ctx, `SELECT DISTINCT sku FROM transactions ORDER BY sku`)
	if err != nil {
		return nil, fmt.Errorf("store/postgres: list skus: %w", err)
	}
	skus, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ledger.SKU, error) {
		var sku string
		err := row.Scan(&sku)
		return ledger.SKU(sku), err
	})
	if err != nil {
		return nil, fmt.Errorf("store/postgres: scan skus: %w", err)
	}
	return skus, nil
}

func (r reader) Items(ctx context.Context, filter ledger.ItemFilter) ([]ledger.Item, error) {
	w := &where{}
	if filter.SKU != "" {
		w.add("sku ILIKE $%d", likePattern(filter.SKU))
	}
	if filter.Description != "" {
		w.add("description ILIKE $%d", likePattern(filter.Description))
	}
	if filter.OnlyActive {
		w.clauses = append(w.clauses, "active")
	}

	rows, err := r.q.Query(ctx, `SELECT sku, description, unit, active FROM items`+w.String()+` ORDER BY sku`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("store/postgres: list items: %w", err)
	}
	items, err := pgx.CollectRows(rows, scanItem)
	if err != nil {
		return nil, fmt.Errorf("store/postgres: scan items: %w", err)
	}
	return items, nil
}

func (r reader) Item(ctx context.Context, sku ledger.SKU) (ledger.Item, error) {
	rows, err := r.q.Query(ctx, `SELECT sku, description, unit, active FROM items WHERE sku = $1`, string(sku))
	if err != nil {
		return ledger.Item{}, fmt.Errorf("store/postgres: get item %s: %w", sku, err)
	}
	item, err := pgx.CollectExactlyOneRow(rows, scanItem)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Item{}, &ledger.ItemNotFoundError{SKU: sku}
	}
	if err != nil {
		return ledger.Item{}, fmt.Errorf("store/postgres: get item %s: %w", sku, err)
	}
	return item, nil
}

// =============================================================================
// SCANNING
// =============================================================================

const selectTransactions = `
	SELECT seq, kind, sku, quantity::text, unit_value::text, occurred_on,
	       COALESCE(supplier_id, ''), COALESCE(document_ref, '')
	FROM transactions`

func (r reader) queryTransactions(ctx context.Context, query string, args ...any) ([]ledger.Transaction, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store/postgres: query transactions: %w", err)
	}
	txs, err := pgx.CollectRows(rows, scanTransaction)
	if err != nil {
		return nil, fmt.Errorf("store/postgres: scan transactions: %w", err)
	}
	return txs, nil
}

func scanTransaction(row pgx.CollectableRow) (ledger.Transaction, error) {
	var (
		seq            int64
		kind, sku      string
		qty, unitValue string
		occurred       time.Time
		tx             ledger.Transaction
	)
	if err := row.Scan(&seq, &kind, &sku, &qty, &unitValue, &occurred, &tx.SupplierID, &tx.DocumentRef); err != nil {
		return ledger.Transaction{}, err
	}
	var err error
	if tx.Quantity, err = decimal.NewFromString(qty); err != nil {
		return ledger.Transaction{}, err
	}
	if tx.UnitValue, err = decimal.NewFromString(unitValue); err != nil {
		return ledger.Transaction{}, err
	}
	tx.Sequence = ledger.Sequence(seq)
	tx.Kind = ledger.Kind(kind)
	tx.SKU = ledger.SKU(sku)
	tx.OccurredOn = ledger.DateOf(occurred)
	return tx, nil
}

func scanItem(row pgx.CollectableRow) (ledger.Item, error) {
	var item ledger.Item
	var sku string
	if err := row.Scan(&sku, &item.Description, &item.Unit, &item.Active); err != nil {
		return ledger.Item{}, err
	}
	item.SKU = ledger.SKU(sku)
	return item, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// likePattern escapes ILIKE wildcards; backslash is the default escape.
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
