/*
store.go - Persistence contracts for the ledger and the item registry

PURPOSE:
  Defines the interface between the valuation engine and the database.
  The engine only ever needs the read side; the write side exists for the
  transaction-entry workflow, demo seeding and tests.

KEY INTERFACES:
  LedgerReader:  aggregation and lookup queries over Entry/Exit transactions
  ItemRegistry:  SKU catalog lookups
  Reader:        LedgerReader + ItemRegistry, what the engine consumes
  ViewProvider:  optional; runs a function against one consistent read view
  Writer:        append-only writes (Append, AppendBatch, SaveItem)

APPEND-ONLY CONTRACT:
  Writer has no Update or Delete for transactions. A wrong movement is
  corrected by appending a compensating one.

READ CONSISTENCY:
  A valuation call issues many small queries. Stores that implement
  ViewProvider give the engine one snapshot for all of them (a read-only
  SQL transaction, or a held read lock for the memory store). Stores that
  don't are read query by query.

IMPLEMENTATIONS:
  - ledger/store/memory.go: in-memory, for tests and the demo server
  - store/sqlite/sqlite.go: SQLite
  - store/postgres/postgres.go: PostgreSQL via pgx

SEE ALSO:
  - ledger.go: Append-side validation shared by all stores
  - valuation/engine.go: The consumer of Reader
*/
package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AGGREGATION
// =============================================================================

// AggregateQuery selects transactions of one kind for one SKU whose
// OccurredOn falls in [From, To]. A zero From is unbounded below; a zero To
// is unbounded above. Both bounds are inclusive.
type AggregateQuery struct {
	SKU  SKU
	Kind Kind
	From Date
	To   Date
}

// Matches reports whether tx is selected by q.
func (q AggregateQuery) Matches(tx Transaction) bool {
	if tx.SKU != q.SKU || tx.Kind != q.Kind {
		return false
	}
	if !q.From.IsZero() && tx.OccurredOn.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && tx.OccurredOn.After(q.To) {
		return false
	}
	return true
}

// Aggregate is the result of summing a set of transactions.
type Aggregate struct {
	Quantity decimal.Decimal // Σ quantity
	Value    decimal.Decimal // Σ quantity × unit value
	Count    int
}

func ZeroAggregate() Aggregate {
	return Aggregate{Quantity: decimal.Zero, Value: decimal.Zero}
}

// Add folds one transaction into the aggregate.
func (a Aggregate) Add(tx Transaction) Aggregate {
	return Aggregate{
		Quantity: a.Quantity.Add(tx.Quantity),
		Value:    a.Value.Add(tx.Value()),
		Count:    a.Count + 1,
	}
}

// =============================================================================
// READ SIDE
// =============================================================================

// LedgerReader answers the queries the valuation engine needs.
type LedgerReader interface {
	// Sum aggregates quantity and quantity × unit value for the selection.
	Sum(ctx context.Context, q AggregateQuery) (Aggregate, error)

	// LatestEntry returns the Entry with the highest Sequence among those for
	// sku with OccurredOn <= asOf (zero asOf = unbounded), or nil if none.
	LatestEntry(ctx context.Context, sku SKU, asOf Date) (*Transaction, error)

	// History returns every transaction for sku with OccurredOn <= asOf
	// (zero asOf = unbounded), ordered by Sequence ascending.
	History(ctx context.Context, sku SKU, asOf Date) ([]Transaction, error)

	// SKUs returns the distinct SKUs referenced by any transaction, sorted.
	SKUs(ctx context.Context) ([]SKU, error)
}

// ItemFilter restricts the registry listing. Text filters are
// case-insensitive substring matches; empty means no restriction.
type ItemFilter struct {
	SKU         string
	Description string
	OnlyActive  bool
}

// ItemRegistry is the read-only view of the SKU catalog.
type ItemRegistry interface {
	// Items returns the matching items ordered by SKU.
	Items(ctx context.Context, filter ItemFilter) ([]Item, error)

	// Item returns one item or an error wrapping ErrItemNotFound.
	Item(ctx context.Context, sku SKU) (Item, error)
}

// Reader is everything the valuation engine reads.
type Reader interface {
	LedgerReader
	ItemRegistry
}

// ViewProvider is implemented by stores that can serve a group of reads
// from one consistent snapshot. The Reader passed to fn is only valid
// until fn returns.
type ViewProvider interface {
	ReadView(ctx context.Context, fn func(Reader) error) error
}

// =============================================================================
// WRITE SIDE
// =============================================================================

// Writer persists items and transactions. Transactions are append-only.
type Writer interface {
	// SaveItem inserts or replaces a catalog entry.
	SaveItem(ctx context.Context, item Item) error

	// Append persists tx and returns it with its Sequence assigned.
	Append(ctx context.Context, tx Transaction) (Transaction, error)

	// AppendBatch persists all transactions atomically, in order.
	AppendBatch(ctx context.Context, txs []Transaction) ([]Transaction, error)
}

// Store is the full persistence surface.
type Store interface {
	Reader
	Writer
}

// WithReadView runs fn against a consistent view when r supports one, and
// against r directly otherwise.
func WithReadView(ctx context.Context, r Reader, fn func(Reader) error) error {
	if vp, ok := r.(ViewProvider); ok {
		return vp.ReadView(ctx, fn)
	}
	return fn(r)
}
