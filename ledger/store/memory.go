// Package store provides an in-memory ledger.Store.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/stock-valuation/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps one Sequence-ordered slice per SKU. Appends always carry a
// sequence greater than every stored one, so appending keeps each slice
// sorted without a search.
type Memory struct {
	mu           sync.RWMutex
	items        map[ledger.SKU]ledger.Item
	transactions map[ledger.SKU][]ledger.Transaction
	lastSeq      ledger.Sequence
}

func NewMemory() *Memory {
	return &Memory{
		items:        make(map[ledger.SKU]ledger.Item),
		transactions: make(map[ledger.SKU][]ledger.Transaction),
	}
}

var (
	_ ledger.Store        = (*Memory)(nil)
	_ ledger.ViewProvider = (*Memory)(nil)
)

// =============================================================================
// WRITES
// =============================================================================

func (m *Memory) SaveItem(_ context.Context, item ledger.Item) error {
	if err := ledger.ValidateItem(item); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[item.SKU] = item
	return nil
}

// Append adds a single transaction. Append-only.
func (m *Memory) Append(_ context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(tx)
}

// AppendBatch validates every transaction before writing any of them.
func (m *Memory) AppendBatch(_ context.Context, txs []ledger.Transaction) ([]ledger.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	last := m.lastSeq
	for _, tx := range txs {
		if err := ledger.ValidateTransaction(tx); err != nil {
			return nil, err
		}
		seq, err := ledger.NextSequence(tx.Sequence, last)
		if err != nil {
			return nil, err
		}
		last = seq
	}

	out := make([]ledger.Transaction, 0, len(txs))
	for _, tx := range txs {
		stored, err := m.appendLocked(tx)
		if err != nil {
			return nil, err
		}
		out = append(out, stored)
	}
	return out, nil
}

func (m *Memory) appendLocked(tx ledger.Transaction) (ledger.Transaction, error) {
	if err := ledger.ValidateTransaction(tx); err != nil {
		return ledger.Transaction{}, err
	}
	seq, err := ledger.NextSequence(tx.Sequence, m.lastSeq)
	if err != nil {
		return ledger.Transaction{}, err
	}
	tx.Sequence = seq
	m.lastSeq = seq
	m.transactions[tx.SKU] = append(m.transactions[tx.SKU], tx)
	return tx, nil
}

// Reset drops all items and transactions. Used by demo scenario loading.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = make(map[ledger.SKU]ledger.Item)
	m.transactions = make(map[ledger.SKU][]ledger.Transaction)
	m.lastSeq = 0
	return nil
}

// =============================================================================
// READS
// =============================================================================

// ReadView holds the read lock while fn runs, so every query inside fn sees
// the same ledger.
func (m *Memory) ReadView(_ context.Context, fn func(ledger.Reader) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(view{m})
}

func (m *Memory) Sum(ctx context.Context, q ledger.AggregateQuery) (ledger.Aggregate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return view{m}.Sum(ctx, q)
}

func (m *Memory) LatestEntry(ctx context.Context, sku ledger.SKU, asOf ledger.Date) (*ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return view{m}.LatestEntry(ctx, sku, asOf)
}

func (m *Memory) History(ctx context.Context, sku ledger.SKU, asOf ledger.Date) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return view{m}.History(ctx, sku, asOf)
}

func (m *Memory) SKUs(ctx context.Context) ([]ledger.SKU, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return view{m}.SKUs(ctx)
}

func (m *Memory) Items(ctx context.Context, filter ledger.ItemFilter) ([]ledger.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return view{m}.Items(ctx, filter)
}

func (m *Memory) Item(ctx context.Context, sku ledger.SKU) (ledger.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return view{m}.Item(ctx, sku)
}

// view reads Memory without locking; the caller holds m.mu.
type view struct{ m *Memory }

func (v view) Sum(ctx context.Context, q ledger.AggregateQuery) (ledger.Aggregate, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Aggregate{}, err
	}
	agg := ledger.ZeroAggregate()
	for _, tx := range v.m.transactions[q.SKU] {
		if q.Matches(tx) {
			agg = agg.Add(tx)
		}
	}
	return agg, nil
}

func (v view) LatestEntry(ctx context.Context, sku ledger.SKU, asOf ledger.Date) (*ledger.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	txs := v.m.transactions[sku]
	// Slices are Sequence-ordered: the first match from the end wins.
	for i := len(txs) - 1; i >= 0; i-- {
		tx := txs[i]
		if tx.IsEntry() && (asOf.IsZero() || tx.OccurredOn.BeforeOrEqual(asOf)) {
			return &tx, nil
		}
	}
	return nil, nil
}

func (v view) History(ctx context.Context, sku ledger.SKU, asOf ledger.Date) ([]ledger.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []ledger.Transaction
	for _, tx := range v.m.transactions[sku] {
		if asOf.IsZero() || tx.OccurredOn.BeforeOrEqual(asOf) {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (v view) SKUs(ctx context.Context) ([]ledger.SKU, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]ledger.SKU, 0, len(v.m.transactions))
	for sku, txs := range v.m.transactions {
		if len(txs) > 0 {
			out = append(out, sku)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (v view) Items(ctx context.Context, filter ledger.ItemFilter) ([]ledger.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []ledger.Item
	for _, item := range v.m.items {
		if ledger.MatchesItem(filter, item) {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out, nil
}

func (v view) Item(ctx context.Context, sku ledger.SKU) (ledger.Item, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Item{}, err
	}
	item, ok := v.m.items[sku]
	if !ok {
		return ledger.Item{}, &ledger.ItemNotFoundError{SKU: sku}
	}
	return item, nil
}
