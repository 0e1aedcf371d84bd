package valuation

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/stock-valuation/ledger"
)

// =============================================================================
// COVERAGE - How long current stock lasts at the recent consumption rate
// =============================================================================

// Consumption is measured over the three months ending at the as-of date
// and spread over a fixed 90-day denominator.
const (
	ConsumptionWindowMonths = 3
	ConsumptionWindowDays   = 90
)

type CoverageStatus string

const (
	CoverageNoStock             CoverageStatus = "no_stock"
	CoverageNoRecentConsumption CoverageStatus = "no_recent_consumption"
	CoverageEstimated           CoverageStatus = "estimated"
)

type CoverageBucket string

const (
	BucketLessThanDay CoverageBucket = "less_than_a_day"
	BucketDays        CoverageBucket = "days"
	BucketWeeks       CoverageBucket = "weeks"
	BucketMonths      CoverageBucket = "months"
	BucketYears       CoverageBucket = "years"
)

// Coverage estimates how many days the quantity on hand lasts.
type Coverage struct {
	Item     ledger.Item
	AsOf     ledger.Date
	Quantity decimal.Decimal

	// Consumed is the exit quantity inside the window; DailyRate is
	// Consumed / ConsumptionWindowDays.
	Consumed  decimal.Decimal
	DailyRate decimal.Decimal

	Status CoverageStatus
	Days   decimal.Decimal // zero unless Status is CoverageEstimated
	Bucket CoverageBucket  // empty unless Status is CoverageEstimated
	Label  string
}

// Coverage estimates coverage for every item matching q.Filters.
func (e *Engine) Coverage(ctx context.Context, q Query) ([]Coverage, error) {
	asOf := e.ResolveAsOf(q.AsOf)

	var out []Coverage
	err := ledger.WithReadView(ctx, e.Store, func(r ledger.Reader) error {
		items, err := r.Items(ctx, q.Filters.itemFilter())
		if err != nil {
			return fmt.Errorf("valuation: list items: %w", err)
		}
		list := make([]Coverage, 0, len(items))
		for _, item := range items {
			c, err := e.coverage(ctx, r, item, asOf)
			if err != nil {
				return err
			}
			if q.Filters.OnlyWithStock && c.Quantity.IsZero() {
				continue
			}
			list = append(list, c)
		}
		out = list
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CoverageFor estimates coverage for one SKU.
func (e *Engine) CoverageFor(ctx context.Context, sku ledger.SKU, asOf ledger.Date) (Coverage, error) {
	asOf = e.ResolveAsOf(asOf)

	var c Coverage
	err := ledger.WithReadView(ctx, e.Store, func(r ledger.Reader) error {
		item, err := r.Item(ctx, sku)
		if err != nil {
			return err
		}
		c, err = e.coverage(ctx, r, item, asOf)
		return err
	})
	if err != nil {
		return Coverage{}, err
	}
	return c, nil
}

func (e *Engine) coverage(ctx context.Context, r ledger.Reader, item ledger.Item, asOf ledger.Date) (Coverage, error) {
	entries, err := r.Sum(ctx, ledger.AggregateQuery{SKU: item.SKU, Kind: ledger.KindEntry, To: asOf})
	if err != nil {
		return Coverage{}, fmt.Errorf("valuation: sum entries for %s: %w", item.SKU, err)
	}
	exits, err := r.Sum(ctx, ledger.AggregateQuery{SKU: item.SKU, Kind: ledger.KindExit, To: asOf})
	if err != nil {
		return Coverage{}, fmt.Errorf("valuation: sum exits for %s: %w", item.SKU, err)
	}
	recent, err := r.Sum(ctx, ledger.AggregateQuery{
		SKU:  item.SKU,
		Kind: ledger.KindExit,
		From: asOf.AddMonths(-ConsumptionWindowMonths),
		To:   asOf,
	})
	if err != nil {
		return Coverage{}, fmt.Errorf("valuation: sum recent exits for %s: %w", item.SKU, err)
	}
	qty := entries.Quantity.Sub(exits.Quantity)
	return estimateCoverage(item, asOf, qty, recent.Quantity), nil
}

func estimateCoverage(item ledger.Item, asOf ledger.Date, qty, consumed decimal.Decimal) Coverage {
	window := decimal.NewFromInt(ConsumptionWindowDays)
	c := Coverage{
		Item:      item,
		AsOf:      asOf,
		Quantity:  qty,
		Consumed:  consumed,
		DailyRate: consumed.DivRound(window, 4),
		Days:      decimal.Zero,
	}

	if !qty.IsPositive() {
		c.Status = CoverageNoStock
		c.Label = "no stock"
		return c
	}
	if !consumed.IsPositive() {
		c.Status = CoverageNoRecentConsumption
		c.Label = "no recent consumption"
		return c
	}

	// qty / (consumed / 90), without rounding the rate first.
	c.Days = qty.Mul(window).DivRound(consumed, 2)
	c.Status = CoverageEstimated
	c.Bucket, c.Label = bucketFor(c.Days)
	return c
}

func bucketFor(days decimal.Decimal) (CoverageBucket, string) {
	switch {
	case days.LessThan(decimal.NewFromInt(1)):
		return BucketLessThanDay, "less than a day"
	case days.LessThan(decimal.NewFromInt(7)):
		return BucketDays, plural(days.IntPart(), "day")
	case days.LessThan(decimal.NewFromInt(30)):
		return BucketWeeks, plural(days.Div(decimal.NewFromInt(7)).IntPart(), "week")
	case days.LessThan(decimal.NewFromInt(365)):
		return BucketMonths, plural(days.Div(decimal.NewFromInt(30)).IntPart(), "month")
	default:
		return BucketYears, plural(days.Div(decimal.NewFromInt(365)).IntPart(), "year")
	}
}

func plural(n int64, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
