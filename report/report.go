/*
Package report assembles valuation snapshots into the response envelope.

PURPOSE:
  The engine produces one Snapshot per item. This package pairs each with
  its catalog fields, orders and paginates the list, totals it, and adds
  display strings in the configured currency. It never recomputes a cost.

ENVELOPE:
  Count is the number of matching items before pagination. Summary totals
  cover every match, not just the returned page.

SEE ALSO:
  - valuation/engine.go: Snapshot producer
  - api/handlers.go: HTTP consumer
*/
package report

import (
	"sort"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"

	"github.com/warp/stock-valuation/valuation"
)

// Row is one item of the valuation report.
type Row struct {
	SKU            string          `json:"sku"`
	Description    string          `json:"description"`
	Quantity       decimal.Decimal `json:"quantity"`
	Unit           string          `json:"unit"`
	AverageCost    decimal.Decimal `json:"average_cost"`
	TotalValuation decimal.Decimal `json:"total_valuation"`
	Active         bool            `json:"active"`
	LastEntryCost  decimal.Decimal `json:"last_entry_cost"`
	NegativeStock  bool            `json:"negative_stock,omitempty"`

	// Display strings, e.g. "R$16,36".
	AverageCostDisplay    string `json:"average_cost_display"`
	TotalValuationDisplay string `json:"total_valuation_display"`
	LastEntryCostDisplay  string `json:"last_entry_cost_display"`
}

// Summary totals every matching row.
type Summary struct {
	Items                 int             `json:"items"`
	TotalQuantity         decimal.Decimal `json:"total_quantity"`
	TotalValuation        decimal.Decimal `json:"total_valuation"`
	TotalValuationDisplay string          `json:"total_valuation_display"`
	NegativeStockItems    int             `json:"negative_stock_items"`
}

// Envelope is the paginated valuation result.
type Envelope struct {
	AsOf       string  `json:"as_of"`
	Currency   string  `json:"currency"`
	Count      int     `json:"count"`
	Page       int     `json:"page"`
	PageSize   int     `json:"page_size"`
	TotalPages int     `json:"total_pages"`
	Next       *int    `json:"next"`
	Previous   *int    `json:"previous"`
	Summary    Summary `json:"summary"`
	Results    []Row   `json:"results"`
}

// Assemble builds the envelope. opts is expected to come from ParseOptions;
// zero pagination fields fall back to the defaults and an unknown ordering
// key is ignored. A page past the end yields an empty Results slice.
func Assemble(snaps []valuation.Snapshot, opts Options) Envelope {
	if opts.Page < 1 {
		opts.Page = DefaultPage
	}
	if opts.PageSize < 1 {
		opts.PageSize = DefaultPageSize
	}

	rows := make([]Row, 0, len(snaps))
	summary := Summary{TotalQuantity: decimal.Zero, TotalValuation: decimal.Zero}
	for _, s := range snaps {
		rows = append(rows, newRow(s, opts.Currency))
		summary.Items++
		summary.TotalQuantity = summary.TotalQuantity.Add(s.CurrentQty)
		summary.TotalValuation = summary.TotalValuation.Add(s.TotalValuation)
		if s.NegativeStock() {
			summary.NegativeStockItems++
		}
	}
	summary.TotalValuationDisplay = Display(summary.TotalValuation, opts.Currency)

	keys, _ := parseOrdering(opts.Ordering)
	sortRows(rows, keys)

	env := Envelope{
		Currency:   opts.Currency,
		Count:      len(rows),
		Page:       opts.Page,
		PageSize:   opts.PageSize,
		TotalPages: (len(rows) + opts.PageSize - 1) / opts.PageSize,
		Summary:    summary,
		Results:    []Row{},
	}
	if len(snaps) > 0 {
		env.AsOf = snaps[0].AsOf.String()
	}

	start := (opts.Page - 1) * opts.PageSize
	if start < len(rows) {
		end := min(start+opts.PageSize, len(rows))
		env.Results = rows[start:end]
	}
	if opts.Page < env.TotalPages {
		next := opts.Page + 1
		env.Next = &next
	}
	if opts.Page > 1 && opts.Page <= env.TotalPages {
		prev := opts.Page - 1
		env.Previous = &prev
	}
	return env
}

func newRow(s valuation.Snapshot, currency string) Row {
	return Row{
		SKU:                   string(s.Item.SKU),
		Description:           s.Item.Description,
		Quantity:              s.CurrentQty,
		Unit:                  s.Item.Unit,
		AverageCost:           s.AverageCost,
		TotalValuation:        s.TotalValuation,
		Active:                s.Item.Active,
		LastEntryCost:         s.LastEntryCost,
		NegativeStock:         s.NegativeStock(),
		AverageCostDisplay:    Display(s.AverageCost, currency),
		TotalValuationDisplay: Display(s.TotalValuation, currency),
		LastEntryCostDisplay:  Display(s.LastEntryCost, currency),
	}
}

// Display formats amount in currency, rounded to the currency's minor
// unit. An unknown currency falls back to the plain decimal at 2 places.
func Display(amount decimal.Decimal, currency string) string {
	cur := money.GetCurrency(currency)
	if cur == nil {
		return amount.StringFixed(2)
	}
	minor := amount.Shift(int32(cur.Fraction)).Round(0).IntPart()
	return money.New(minor, cur.Code).Display()
}

func sortRows(rows []Row, keys []sortKey) {
	if len(keys) == 0 {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, k := range keys {
			c := compareField(rows[i], rows[j], k.field)
			if c == 0 {
				continue
			}
			if k.desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

func compareField(a, b Row, field string) int {
	switch field {
	case FieldSKU:
		return strings.Compare(a.SKU, b.SKU)
	case FieldDescription:
		return strings.Compare(strings.ToLower(a.Description), strings.ToLower(b.Description))
	case FieldQuantity:
		return a.Quantity.Cmp(b.Quantity)
	case FieldUnit:
		return strings.Compare(a.Unit, b.Unit)
	case FieldAverageCost:
		return a.AverageCost.Cmp(b.AverageCost)
	case FieldTotalValuation:
		return a.TotalValuation.Cmp(b.TotalValuation)
	case FieldActive:
		return compareBool(a.Active, b.Active)
	case FieldLastEntryCost:
		return a.LastEntryCost.Cmp(b.LastEntryCost)
	}
	return 0
}

func compareBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	default:
		return 1
	}
}
