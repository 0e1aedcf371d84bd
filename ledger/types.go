/*
Package ledger provides the stock ledger data model and its persistence contracts.

PURPOSE:
  This package holds the types every other package speaks: the Item catalog
  entry, the Entry/Exit transaction, the day-granular Date used for as-of
  queries, and the read/write interfaces a store must satisfy. It contains
  no valuation logic; see package valuation for that.

KEY CONCEPTS IN THIS FILE (types.go):
  - SKU: stable identifier of a stock-keeping unit
  - Item: catalog entry (description, unit of measure, active flag)
  - Transaction: immutable Entry or Exit movement of one item
  - Sequence: store-assigned, monotonically increasing transaction number

DESIGN PRINCIPLES:
  1. Immutability: transactions are never modified; corrections are new transactions
  2. Precision: quantities and values are decimal.Decimal, never float64
  3. Ordering: Sequence, not OccurredOn, decides which transaction is more recent

USAGE:
  tx := ledger.Transaction{
      Kind:       ledger.KindEntry,
      SKU:        "A001",
      Quantity:   decimal.NewFromInt(10),
      UnitValue:  ledger.MustParseDecimal("2.00"),
      OccurredOn: ledger.NewDate(2025, time.January, 1),
  }

SEE ALSO:
  - store.go: Store contracts (LedgerReader, ItemRegistry, Writer)
  - ledger.go: Append-side invariants
  - valuation/engine.go: The costing engine built on these types
*/
package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Scale is the number of decimal places the ledger stores for quantities
// and unit values.
const Scale int32 = 2

// MaxAmount bounds quantities and unit values. Scaled by Scale each stays
// below 1e9, so a quantity times a unit value stays below 1e18 and fits in
// int64 as well as in NUMERIC(20,2).
var MaxAmount = decimal.RequireFromString("9999999.99")

// =============================================================================
// IDENTIFIERS
// =============================================================================

type SKU string

// Sequence numbers are assigned by the store at append time. Zero means
// "not yet assigned".
type Sequence int64

// =============================================================================
// ITEM - Catalog entry (read-only to the valuation engine)
// =============================================================================

type Item struct {
	SKU         SKU
	Description string
	Unit        string // unit of measure, e.g. "kg", "un"
	Active      bool
}

// =============================================================================
// TRANSACTION - Immutable stock movement
// =============================================================================

type Kind string

const (
	KindEntry Kind = "entry" // goods received, increases quantity on hand
	KindExit  Kind = "exit"  // goods issued, decreases quantity on hand
)

func (k Kind) Valid() bool { return k == KindEntry || k == KindExit }

func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown transaction kind %q", s)
	}
	return k, nil
}

type Transaction struct {
	Sequence   Sequence
	Kind       Kind
	SKU        SKU
	Quantity   decimal.Decimal // always positive; Kind carries the direction
	UnitValue  decimal.Decimal // currency per unit, never negative
	OccurredOn Date

	// Entry only.
	SupplierID  string
	DocumentRef string // invoice / NF number
}

// Value returns Quantity × UnitValue.
func (t Transaction) Value() decimal.Decimal { return t.Quantity.Mul(t.UnitValue) }

func (t Transaction) IsEntry() bool { return t.Kind == KindEntry }
func (t Transaction) IsExit() bool  { return t.Kind == KindExit }

// =============================================================================
// DECIMAL HELPERS
// =============================================================================

func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// withinBounds reports whether |d| <= MaxAmount.
func withinBounds(d decimal.Decimal) bool {
	return d.Abs().LessThanOrEqual(MaxAmount)
}

// fitsScale reports whether d has no more than Scale decimal places.
func fitsScale(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(Scale))
}
