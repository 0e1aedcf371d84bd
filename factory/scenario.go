/*
Package factory provides JSON to Go scenario conversion.

PURPOSE:
  Converts JSON data-set definitions into ledger items and transactions.
  Demo and test data sets live as JSON files next to this package, so new
  ones need no code changes.

JSON SCHEMA:
  {
    "id": "reference",
    "name": "Reference",
    "description": "...",
    "items": [
      {"sku": "A001", "description": "Tinta acrilica branca", "unit": "l"}
    ],
    "transactions": [
      {"kind": "entry", "sku": "A001", "quantity": "10", "unit_value": "2.00",
       "occurred_on": "2025-01-01", "supplier_id": "F-100", "document_ref": "NF-1001"},
      {"kind": "exit", "sku": "A001", "quantity": "8", "unit_value": "2.33",
       "days_ago": 3}
    ]
  }

DATES:
  A transaction carries either occurred_on (fixed calendar date) or
  days_ago (relative to the reference date given to FromJSON). Relative
  dates keep coverage demos meaningful whenever they are loaded.

DECIMALS:
  Quantities and unit values are JSON strings so they never pass through
  float64.

USAGE:
  f := factory.NewScenarioFactory(ledger.Today())
  sc, err := f.Builtin("reference")
  if err != nil { ... }
  err = factory.Load(ctx, store, sc)

SEE ALSO:
  - api/scenarios.go: HTTP scenario loading
  - cmd/valuate: seed command
*/
package factory

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"path"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/warp/stock-valuation/ledger"
)

//go:embed scenarios/*.json
var builtinFS embed.FS

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// ScenarioJSON is the JSON representation of a data set.
type ScenarioJSON struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Description  string            `json:"description"`
	Items        []ItemJSON        `json:"items"`
	Transactions []TransactionJSON `json:"transactions"`
}

// ItemJSON is a catalog entry. Active defaults to true.
type ItemJSON struct {
	SKU         string `json:"sku"`
	Description string `json:"description"`
	Unit        string `json:"unit"`
	Active      *bool  `json:"active,omitempty"`
}

// TransactionJSON is one movement. Exactly one of OccurredOn and DaysAgo
// must be set.
type TransactionJSON struct {
	Kind        string `json:"kind"`
	SKU         string `json:"sku"`
	Quantity    string `json:"quantity"`
	UnitValue   string `json:"unit_value"`
	OccurredOn  string `json:"occurred_on,omitempty"`
	DaysAgo     *int   `json:"days_ago,omitempty"`
	SupplierID  string `json:"supplier_id,omitempty"`
	DocumentRef string `json:"document_ref,omitempty"`
}

// =============================================================================
// SCENARIO
// =============================================================================

// Scenario is a parsed data set, ready to be written to a store.
type Scenario struct {
	ID           string
	Name         string
	Description  string
	Items        []ledger.Item
	Transactions []ledger.Transaction
}

// =============================================================================
// FACTORY
// =============================================================================

// ScenarioFactory converts JSON definitions. Relative dates resolve
// against Today.
type ScenarioFactory struct {
	Today ledger.Date
}

func NewScenarioFactory(today ledger.Date) *ScenarioFactory {
	return &ScenarioFactory{Today: today}
}

// Parse decodes and converts one JSON definition.
func (f *ScenarioFactory) Parse(data []byte) (Scenario, error) {
	var sj ScenarioJSON
	if err := json.Unmarshal(data, &sj); err != nil {
		return Scenario{}, fmt.Errorf("invalid scenario JSON: %w", err)
	}
	return f.FromJSON(sj)
}

// FromJSON converts a decoded definition, validating every item and
// transaction with the ledger's own rules.
func (f *ScenarioFactory) FromJSON(sj ScenarioJSON) (Scenario, error) {
	if sj.ID == "" {
		return Scenario{}, fmt.Errorf("scenario id is required")
	}

	sc := Scenario{
		ID:           sj.ID,
		Name:         sj.Name,
		Description:  sj.Description,
		Items:        make([]ledger.Item, 0, len(sj.Items)),
		Transactions: make([]ledger.Transaction, 0, len(sj.Transactions)),
	}

	for i, ij := range sj.Items {
		item := ledger.Item{
			SKU:         ledger.SKU(ij.SKU),
			Description: ij.Description,
			Unit:        ij.Unit,
			Active:      ij.Active == nil || *ij.Active,
		}
		if err := ledger.ValidateItem(item); err != nil {
			return Scenario{}, fmt.Errorf("scenario %s: item %d: %w", sj.ID, i, err)
		}
		sc.Items = append(sc.Items, item)
	}

	for i, tj := range sj.Transactions {
		tx, err := f.parseTransaction(tj)
		if err != nil {
			return Scenario{}, fmt.Errorf("scenario %s: transaction %d: %w", sj.ID, i, err)
		}
		sc.Transactions = append(sc.Transactions, tx)
	}
	return sc, nil
}

// ToJSON converts a scenario back to its definition. Dates are always
// written as occurred_on.
func (f *ScenarioFactory) ToJSON(sc Scenario) ScenarioJSON {
	sj := ScenarioJSON{
		ID:           sc.ID,
		Name:         sc.Name,
		Description:  sc.Description,
		Items:        make([]ItemJSON, len(sc.Items)),
		Transactions: make([]TransactionJSON, len(sc.Transactions)),
	}
	for i, item := range sc.Items {
		active := item.Active
		sj.Items[i] = ItemJSON{
			SKU:         string(item.SKU),
			Description: item.Description,
			Unit:        item.Unit,
			Active:      &active,
		}
	}
	for i, tx := range sc.Transactions {
		sj.Transactions[i] = TransactionJSON{
			Kind:        string(tx.Kind),
			SKU:         string(tx.SKU),
			Quantity:    tx.Quantity.String(),
			UnitValue:   tx.UnitValue.StringFixed(ledger.Scale),
			OccurredOn:  tx.OccurredOn.String(),
			SupplierID:  tx.SupplierID,
			DocumentRef: tx.DocumentRef,
		}
	}
	return sj
}

// Builtin returns the embedded scenario with the given id.
func (f *ScenarioFactory) Builtin(id string) (Scenario, error) {
	data, err := builtinFS.ReadFile(path.Join("scenarios", id+".json"))
	if err != nil {
		return Scenario{}, fmt.Errorf("unknown scenario: %s", id)
	}
	return f.Parse(data)
}

// BuiltinIDs lists the embedded scenarios, sorted.
func BuiltinIDs() []string {
	entries, err := builtinFS.ReadDir("scenarios")
	if err != nil {
		return nil
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if name := e.Name(); path.Ext(name) == ".json" {
			ids = append(ids, name[:len(name)-len(".json")])
		}
	}
	sort.Strings(ids)
	return ids
}

// =============================================================================
// LOADING
// =============================================================================

// Load writes the scenario's items, then appends its transactions in one
// batch. Callers reset the store first when they want a clean data set.
func Load(ctx context.Context, w ledger.Writer, sc Scenario) error {
	for _, item := range sc.Items {
		if err := w.SaveItem(ctx, item); err != nil {
			return fmt.Errorf("save item %s: %w", item.SKU, err)
		}
	}
	if len(sc.Transactions) == 0 {
		return nil
	}
	if _, err := w.AppendBatch(ctx, sc.Transactions); err != nil {
		return fmt.Errorf("append transactions: %w", err)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (f *ScenarioFactory) parseTransaction(tj TransactionJSON) (ledger.Transaction, error) {
	kind, err := ledger.ParseKind(tj.Kind)
	if err != nil {
		return ledger.Transaction{}, err
	}
	qty, err := decimal.NewFromString(tj.Quantity)
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("quantity %q: %w", tj.Quantity, err)
	}
	unitValue, err := decimal.NewFromString(tj.UnitValue)
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("unit_value %q: %w", tj.UnitValue, err)
	}
	on, err := f.parseDate(tj)
	if err != nil {
		return ledger.Transaction{}, err
	}

	tx := ledger.Transaction{
		Kind:        kind,
		SKU:         ledger.SKU(tj.SKU),
		Quantity:    qty,
		UnitValue:   unitValue,
		OccurredOn:  on,
		SupplierID:  tj.SupplierID,
		DocumentRef: tj.DocumentRef,
	}
	if err := ledger.ValidateTransaction(tx); err != nil {
		return ledger.Transaction{}, err
	}
	return tx, nil
}

func (f *ScenarioFactory) parseDate(tj TransactionJSON) (ledger.Date, error) {
	switch {
	case tj.OccurredOn != "" && tj.DaysAgo != nil:
		return ledger.Date{}, fmt.Errorf("occurred_on and days_ago are mutually exclusive")
	case tj.OccurredOn != "":
		return ledger.ParseDate(tj.OccurredOn)
	case tj.DaysAgo != nil:
		if f.Today.IsZero() {
			return ledger.Date{}, fmt.Errorf("days_ago needs a reference date")
		}
		return f.Today.AddDays(-*tj.DaysAgo), nil
	default:
		return ledger.Date{}, fmt.Errorf("occurred_on or days_ago is required")
	}
}
