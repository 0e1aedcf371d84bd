/*
Package sqlite provides a SQLite-backed implementation of ledger.Store.

PURPOSE:
  Persists the item registry and the append-only transaction ledger in
  SQLite, and answers the engine's aggregation queries in SQL.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE statements on the transactions table
  - No DELETE statements on the transactions table (Reset aside, which
    exists for demo scenario loading)
  - Corrections are compensating transactions

EXACT ARITHMETIC:
  Quantities and unit values have at most 2 decimal places (ledger.Scale),
  so they are stored as scaled integers. SUM(quantity_cents) is exact at
  scale 2 and SUM(quantity_cents * unit_value_cents) is exact at scale 4;
  both are rescaled into decimal.Decimal on the way out. SQLite REAL is
  never involved.

KEY TABLES:
  items:        SKU catalog
  transactions: immutable ledger; seq is the AUTOINCREMENT rowid, so it is
                strictly increasing and never reused

INDEXES:
  - idx_transactions_sku_kind_date: Sum hot path
  - idx_transactions_sku_seq: LatestEntry / History

READ CONSISTENCY:
  ReadView runs the callback inside one read-only transaction; every query
  of a valuation call sees the same ledger.

USAGE:
  store, err := sqlite.New("./data/valuation.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := valuation.NewEngine(store, logger)

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
  - store/postgres/postgres.go: PostgreSQL implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/stock-valuation/ledger"
)

// driverName is go-sqlite3 with contains_fold registered on every
// connection. SQLite's lower() and LIKE fold ASCII only.
const driverName = "sqlite3_valuation"

func init() {
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("contains_fold", ledger.ContainsFold, true)
		},
	})
}

// Store implements ledger.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex // serializes writers; SQLite allows one at a time anyway
}

var (
	_ ledger.Store        = (*Store)(nil)
	_ ledger.ViewProvider = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open(driverName, dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS items (
		sku TEXT PRIMARY KEY,
		description TEXT NOT NULL DEFAULT '',
		unit TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT TRUE
	);

	-- Transactions (append-only ledger)
	CREATE TABLE IF NOT EXISTS transactions (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL CHECK (kind IN ('entry', 'exit')),
		sku TEXT NOT NULL,
		quantity_cents INTEGER NOT NULL CHECK (quantity_cents > 0),
		unit_value_cents INTEGER NOT NULL CHECK (unit_value_cents >= 0),
		occurred_on TEXT NOT NULL,
		supplier_id TEXT,
		document_ref TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_sku_kind_date
		ON transactions(sku, kind, occurred_on);
	CREATE INDEX IF NOT EXISTS idx_transactions_sku_seq
		ON transactions(sku, seq DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// WRITES
// =============================================================================

// SaveItem inserts or replaces a catalog entry.
func (s *Store) SaveItem(ctx context.Context, item ledger.Item) error {
	if err := ledger.ValidateItem(item); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO items (sku, description, unit, active)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(sku) DO UPDATE SET
			description = excluded.description,
			unit = excluded.unit,
			active = excluded.active
	`, string(item.SKU), item.Description, item.Unit, item.Active)
	if err != nil {
		return fmt.Errorf("failed to save item %s: %w", item.SKU, err)
	}
	return nil
}

// Append adds a single transaction.
func (s *Store) Append(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	out, err := s.AppendBatch(ctx, []ledger.Transaction{tx})
	if err != nil {
		return ledger.Transaction{}, err
	}
	return out[0], nil
}

// AppendBatch adds multiple transactions atomically.
func (s *Store) AppendBatch(ctx context.Context, txs []ledger.Transaction) ([]ledger.Transaction, error) {
	for _, tx := range txs {
		if err := ledger.ValidateTransaction(tx); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbTx.Rollback()

	var last int64
	if err := dbTx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM transactions`).Scan(&last); err != nil {
		return nil, fmt.Errorf("failed to read last sequence: %w", err)
	}

	out := make([]ledger.Transaction, 0, len(txs))
	for _, tx := range txs {
		stored, err := appendTx(ctx, dbTx, tx, ledger.Sequence(last))
		if err != nil {
			return nil, err
		}
		last = int64(stored.Sequence)
		out = append(out, stored)
	}

	if err := dbTx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return out, nil
}

func appendTx(ctx context.Context, dbTx *sql.Tx, tx ledger.Transaction, last ledger.Sequence) (ledger.Transaction, error) {
	seq, err := ledger.NextSequence(tx.Sequence, last)
	if err != nil {
		return ledger.Transaction{}, err
	}
	qtyCents, err := toCents(tx.Quantity)
	if err != nil {
		return ledger.Transaction{}, &ledger.InvalidTransactionError{Field: "quantity", Reason: err.Error()}
	}
	valueCents, err := toCents(tx.UnitValue)
	if err != nil {
		return ledger.Transaction{}, &ledger.InvalidTransactionError{Field: "unit_value", Reason: err.Error()}
	}
	_, err = dbTx.ExecContext(ctx, `
		INSERT INTO transactions (seq, kind, sku, quantity_cents, unit_value_cents,
			occurred_on, supplier_id, document_ref, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		int64(seq),
		string(tx.Kind),
		string(tx.SKU),
		qtyCents,
		valueCents,
		tx.OccurredOn.String(),
		nullString(tx.SupplierID),
		nullString(tx.DocumentRef),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.Transaction{}, ledger.ErrSequenceConflict
		}
		return ledger.Transaction{}, fmt.Errorf("failed to append transaction: %w", err)
	}
	tx.Sequence = seq
	return tx, nil
}

// Reset drops all items and transactions. Used by demo scenario loading.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		DELETE FROM transactions;
		DELETE FROM items;
		DELETE FROM sqlite_sequence WHERE name = 'transactions';
	`)
	return err
}

// =============================================================================
// READS
// =============================================================================

// ReadView runs fn inside one read-only transaction.
func (s *Store) ReadView(ctx context.Context, fn func(ledger.Reader) error) error {
	dbTx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("failed to begin read view: %w", err)
	}
	defer dbTx.Rollback()

	if err := fn(reader{q: dbTx}); err != nil {
		return err
	}
	return dbTx.Commit()
}

func (s *Store) Sum(ctx context.Context, q ledger.AggregateQuery) (ledger.Aggregate, error) {
	return reader{q: s.db}.Sum(ctx, q)
}

func (s *Store) LatestEntry(ctx context.Context, sku ledger.SKU, asOf ledger.Date) (*ledger.Transaction, error) {
	return reader{q: s.db}.LatestEntry(ctx, sku, asOf)
}

func (s *Store) History(ctx context.Context, sku ledger.SKU, asOf ledger.Date) ([]ledger.Transaction, error) {
	return reader{q: s.db}.History(ctx, sku, asOf)
}

func (s *Store) SKUs(ctx context.Context) ([]ledger.SKU, error) {
	return reader{q: s.db}.SKUs(ctx)
}

func (s *Store) Items(ctx context.Context, filter ledger.ItemFilter) ([]ledger.Item, error) {
	return reader{q: s.db}.Items(ctx, filter)
}

func (s *Store) Item(ctx context.Context, sku ledger.SKU) (ledger.Item, error) {
	return reader{q: s.db}.Item(ctx, sku)
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type reader struct{ q querier }

func (r reader) Sum(ctx context.Context, q ledger.AggregateQuery) (ledger.Aggregate, error) {
	query := `
		SELECT COALESCE(SUM(quantity_cents), 0),
		       COALESCE(SUM(quantity_cents * unit_value_cents), 0),
		       COUNT(*)
		FROM transactions
		WHERE sku = ? AND kind = ?`
	args := []any{string(q.SKU), string(q.Kind)}
	if !q.From.IsZero() {
		query += ` AND occurred_on >= ?`
		args = append(args, q.From.String())
	}
	if !q.To.IsZero() {
		query += ` AND occurred_on <= ?`
		args = append(args, q.To.String())
	}

	var qtyCents, valueUnits int64
	var count int
	if err := r.q.QueryRowContext(ctx, query, args...).Scan(&qtyCents, &valueUnits, &count); err != nil {
		return ledger.Aggregate{}, fmt.Errorf("failed to sum transactions: %w", err)
	}
	return ledger.Aggregate{
		Quantity: decimal.New(qtyCents, -ledger.Scale),
		Value:    decimal.New(valueUnits, -2*ledger.Scale),
		Count:    count,
	}, nil
}

func (r reader) LatestEntry(ctx context.Context, sku ledger.SKU, asOf ledger.Date) (*ledger.Transaction, error) {
	query := selectTransactions + ` WHERE sku = ? AND kind = 'entry'`
	args := []any{string(sku)}
	if !asOf.IsZero() {
		query += ` AND occurred_on <= ?`
		args = append(args, asOf.String())
	}
	query += ` ORDER BY seq DESC LIMIT 1`

	txs, err := r.queryTransactions(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, nil
	}
	return &txs[0], nil
}

func (r reader) History(ctx context.Context, sku ledger.SKU, asOf ledger.Date) ([]ledger.Transaction, error) {
	query := selectTransactions + ` WHERE sku = ?`
	args := []any{string(sku)}
	if !asOf.IsZero() {
		query += ` AND occurred_on <= ?`
		args = append(args, asOf.String())
	}
	query += ` ORDER BY seq ASC`
	return r.queryTransactions(ctx, query, args...)
}

func (r reader) SKUs(ctx context.Context) ([]ledger.SKU, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT DISTINCT sku FROM transactions ORDER BY sku`)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger skus: %w", err)
	}
	defer rows.Close()

	var out []ledger.SKU
	for rows.Next() {
		var sku string
		if err := rows.Scan(&sku); err != nil {
			return nil, err
		}
		out = append(out, ledger.SKU(sku))
	}
	return out, rows.Err()
}

func (r reader) Items(ctx context.Context, filter ledger.ItemFilter) ([]ledger.Item, error) {
	query := `SELECT sku, description, unit, active FROM items WHERE 1 = 1`
	var args []any
	if filter.SKU != "" {
		query += ` AND contains_fold(sku, ?)`
		args = append(args, filter.SKU)
	}
	if filter.Description != "" {
		query += ` AND contains_fold(description, ?)`
		args = append(args, filter.Description)
	}
	if filter.OnlyActive {
		query += ` AND active = 1`
	}
	query += ` ORDER BY sku`

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	var out []ledger.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (r reader) Item(ctx context.Context, sku ledger.SKU) (ledger.Item, error) {
	row := r.q.QueryRowContext(ctx, `SELECT sku, description, unit, active FROM items WHERE sku = ?`, string(sku))
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Item{}, &ledger.ItemNotFoundError{SKU: sku}
	}
	if err != nil {
		return ledger.Item{}, fmt.Errorf("failed to get item %s: %w", sku, err)
	}
	return item, nil
}

// =============================================================================
// SCANNING
// =============================================================================

const selectTransactions = `
	SELECT seq, kind, sku, quantity_cents, unit_value_cents, occurred_on,
	       supplier_id, document_ref
	FROM transactions`

func (r reader) queryTransactions(ctx context.Context, query string, args ...any) ([]ledger.Transaction, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txs []ledger.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row scanner) (ledger.Transaction, error) {
	var (
		seq                 int64
		kind, sku, occurred string
		qtyCents, valCents  int64
		supplier, document  sql.NullString
	)
	if err := row.Scan(&seq, &kind, &sku, &qtyCents, &valCents, &occurred, &supplier, &document); err != nil {
		return ledger.Transaction{}, err
	}
	on, err := ledger.ParseDate(occurred)
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("transaction %d: %w", seq, err)
	}
	return ledger.Transaction{
		Sequence:    ledger.Sequence(seq),
		Kind:        ledger.Kind(kind),
		SKU:         ledger.SKU(sku),
		Quantity:    decimal.New(qtyCents, -ledger.Scale),
		UnitValue:   decimal.New(valCents, -ledger.Scale),
		OccurredOn:  on,
		SupplierID:  supplier.String,
		DocumentRef: document.String,
	}, nil
}

func scanItem(row scanner) (ledger.Item, error) {
	var sku, description, unit string
	var active bool
	if err := row.Scan(&sku, &description, &unit, &active); err != nil {
		return ledger.Item{}, err
	}
	return ledger.Item{SKU: ledger.SKU(sku), Description: description, Unit: unit, Active: active}, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// toCents converts d to an integer count of 10^-Scale units. It fails
// rather than round or wrap.
func toCents(d decimal.Decimal) (int64, error) {
	shifted := d.Shift(ledger.Scale)
	if !shifted.IsInteger() {
		return 0, fmt.Errorf("%s has more than %d decimal places", d, ledger.Scale)
	}
	if shifted.Abs().GreaterThan(ledger.MaxAmount.Shift(ledger.Scale)) {
		return 0, fmt.Errorf("%s exceeds %s", d, ledger.MaxAmount)
	}
	return shifted.IntPart(), nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
