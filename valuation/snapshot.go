/*
Package valuation implements the point-in-time weighted-average costing engine.

PURPOSE:
  Given an as-of date and filters, the engine reconstructs for every
  matching item its quantity on hand, weighted-average unit cost, total
  valuation and the unit value of its most recent Entry. Everything is
  derived by replaying the append-only ledger; nothing is cached between
  calls.

THE FOLD (per item, transactions with OccurredOn <= as-of):
  entryQty, entryValue = Σ q, Σ q×v   over entries
  exitQty,  exitValue  = Σ q, Σ q×v   over exits
  currentQty     = entryQty - exitQty
  netValue       = entryValue - exitValue
  averageCost    = netValue / currentQty, or 0 when currentQty == 0
  totalValuation = currentQty × averageCost
  lastEntryCost  = unit value of the qualifying entry with the highest sequence

  Exits carry the unit value they were authored with. The engine never
  re-prices historical exits, which is what makes the fold replayable.

NEGATIVE STOCK:
  Exits exceeding entries is a data-integrity anomaly. Only an exact zero
  quantity triggers the zero guard; a negative quantity goes through the
  same formula and is logged so it surfaces instead of being masked.

SEE ALSO:
  - engine.go: ComputeSnapshots and the single-item lookups
  - query.go: Input parsing and validation
  - coverage.go, card.go, availability.go, integrity.go: Derived reports
*/
package valuation

import (
	"github.com/shopspring/decimal"

	"github.com/warp/stock-valuation/ledger"
)

// =============================================================================
// POLICY - Rounding applied uniformly to one call
// =============================================================================

// DefaultCostScale is the number of decimal places kept on average costs.
const DefaultCostScale int32 = 6

// MaxCostScale bounds Policy.CostScale.
const MaxCostScale int32 = 16

// Policy holds the numeric policy of a valuation run.
type Policy struct {
	// CostScale is the number of decimal places averageCost is rounded to
	// (half away from zero) before totalValuation is derived from it.
	CostScale int32
}

func DefaultPolicy() Policy { return Policy{CostScale: DefaultCostScale} }

// AverageCost divides netValue by qty, returning zero when qty is exactly
// zero. Negative quantities are divided like any other.
func (p Policy) AverageCost(netValue, qty decimal.Decimal) decimal.Decimal {
	if qty.IsZero() {
		return decimal.Zero
	}
	return netValue.DivRound(qty, p.CostScale)
}

// =============================================================================
// SNAPSHOT - Computed state of one item at one date
// =============================================================================

// Snapshot is the valuation of one item as of one date. It is never
// persisted.
type Snapshot struct {
	Item ledger.Item
	AsOf ledger.Date // zero when computed over the whole ledger

	EntryQty   decimal.Decimal
	EntryValue decimal.Decimal
	ExitQty    decimal.Decimal
	ExitValue  decimal.Decimal

	CurrentQty     decimal.Decimal
	NetValue       decimal.Decimal
	AverageCost    decimal.Decimal
	TotalValuation decimal.Decimal
	LastEntryCost  decimal.Decimal

	// LastEntrySequence is zero when the item has no qualifying entry.
	LastEntrySequence ledger.Sequence
}

func (s Snapshot) SKU() ledger.SKU { return s.Item.SKU }

// NegativeStock reports the exits-exceed-entries anomaly.
func (s Snapshot) NegativeStock() bool { return s.CurrentQty.IsNegative() }

// HasStock reports a non-zero quantity on hand (negative counts).
func (s Snapshot) HasStock() bool { return !s.CurrentQty.IsZero() }

// buildSnapshot applies the fold to already aggregated inputs. It is the
// only place the costing formula lives.
func buildSnapshot(item ledger.Item, asOf ledger.Date, entries, exits ledger.Aggregate, last *ledger.Transaction, p Policy) Snapshot {
	qty := entries.Quantity.Sub(exits.Quantity)
	net := entries.Value.Sub(exits.Value)
	avg := p.AverageCost(net, qty)

	s := Snapshot{
		Item:           item,
		AsOf:           asOf,
		EntryQty:       entries.Quantity,
		EntryValue:     entries.Value,
		ExitQty:        exits.Quantity,
		ExitValue:      exits.Value,
		CurrentQty:     qty,
		NetValue:       net,
		AverageCost:    avg,
		TotalValuation: qty.Mul(avg),
		LastEntryCost:  decimal.Zero,
	}
	if last != nil {
		s.LastEntryCost = last.UnitValue
		s.LastEntrySequence = last.Sequence
	}
	return s
}
