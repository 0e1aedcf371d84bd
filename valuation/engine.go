package valuation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/warp/stock-valuation/ledger"
)

// =============================================================================
// ENGINE
// =============================================================================

// Engine computes valuation snapshots from a ledger.Reader. It holds no
// state between calls and is safe for concurrent use.
type Engine struct {
	Store  ledger.Reader
	Policy Policy
	Logger *slog.Logger

	// Now supplies "today" when a query has no as-of date.
	Now func() time.Time
}

// NewEngine builds an Engine with the default policy and clock.
func NewEngine(store ledger.Reader, logger *slog.Logger) *Engine {
	return &Engine{Store: store, Policy: DefaultPolicy(), Logger: logger}
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

// ResolveAsOf returns asOf, or today by the engine clock when asOf is zero.
func (e *Engine) ResolveAsOf(asOf ledger.Date) ledger.Date {
	if !asOf.IsZero() {
		return asOf
	}
	if e.Now != nil {
		return ledger.DateOf(e.Now())
	}
	return ledger.Today()
}

// ComputeSnapshots values every item matching q.Filters as of q.AsOf, in
// registry order (SKU ascending). Store failures abort the whole call; no
// partial result is returned.
func (e *Engine) ComputeSnapshots(ctx context.Context, q Query) ([]Snapshot, error) {
	asOf := e.ResolveAsOf(q.AsOf)

	var out []Snapshot
	err := ledger.WithReadView(ctx, e.Store, func(r ledger.Reader) error {
		items, err := r.Items(ctx, q.Filters.itemFilter())
		if err != nil {
			return fmt.Errorf("valuation: list items: %w", err)
		}
		snaps := make([]Snapshot, 0, len(items))
		for _, item := range items {
			s, err := e.snapshot(ctx, r, item, asOf)
			if err != nil {
				return err
			}
			if q.Filters.OnlyWithStock && !s.HasStock() {
				continue
			}
			snaps = append(snaps, s)
		}
		out = snaps
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, s := range out {
		e.reportAnomaly(s)
	}
	return out, nil
}

// ItemCost values a single SKU (exact match) as of asOf.
func (e *Engine) ItemCost(ctx context.Context, sku ledger.SKU, asOf ledger.Date) (Snapshot, error) {
	asOf = e.ResolveAsOf(asOf)

	var s Snapshot
	err := ledger.WithReadView(ctx, e.Store, func(r ledger.Reader) error {
		item, err := r.Item(ctx, sku)
		if err != nil {
			return err
		}
		s, err = e.snapshot(ctx, r, item, asOf)
		return err
	})
	if err != nil {
		return Snapshot{}, err
	}
	e.reportAnomaly(s)
	return s, nil
}

// snapshot aggregates one item. A zero asOf aggregates the whole ledger.
func (e *Engine) snapshot(ctx context.Context, r ledger.Reader, item ledger.Item, asOf ledger.Date) (Snapshot, error) {
	entries, err := r.Sum(ctx, ledger.AggregateQuery{SKU: item.SKU, Kind: ledger.KindEntry, To: asOf})
	if err != nil {
		return Snapshot{}, fmt.Errorf("valuation: sum entries for %s: %w", item.SKU, err)
	}
	exits, err := r.Sum(ctx, ledger.AggregateQuery{SKU: item.SKU, Kind: ledger.KindExit, To: asOf})
	if err != nil {
		return Snapshot{}, fmt.Errorf("valuation: sum exits for %s: %w", item.SKU, err)
	}
	last, err := r.LatestEntry(ctx, item.SKU, asOf)
	if err != nil {
		return Snapshot{}, fmt.Errorf("valuation: latest entry for %s: %w", item.SKU, err)
	}
	return buildSnapshot(item, asOf, entries, exits, last, e.Policy), nil
}

func (e *Engine) reportAnomaly(s Snapshot) {
	if !s.NegativeStock() {
		return
	}
	e.logger().Warn("negative stock on hand",
		"sku", string(s.Item.SKU),
		"as_of", s.AsOf.String(),
		"quantity", s.CurrentQty.String(),
		"net_value", s.NetValue.String(),
	)
}
