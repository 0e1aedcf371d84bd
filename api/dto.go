/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the engine's Go types from the external contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

DECIMALS:
  Quantities and amounts are decimal.Decimal, which marshals as a JSON
  string ("16.36"). Clients must not round-trip them through floats.

VALIDATION:
  Request bodies carry validator struct tags, checked by decodeAndValidate
  in handlers.go.

SEE ALSO:
  - handlers.go: Uses these types
  - report/report.go: Envelope and Row for the valuation listing
*/
package api

import (
	"github.com/shopspring/decimal"

	"github.com/warp/stock-valuation/ledger"
	"github.com/warp/stock-valuation/report"
	"github.com/warp/stock-valuation/valuation"
)

// =============================================================================
// SNAPSHOTS
// =============================================================================

// SnapshotDTO is the full valuation of one item.
type SnapshotDTO struct {
	SKU            string          `json:"sku"`
	Description    string          `json:"description"`
	Unit           string          `json:"unit"`
	Active         bool            `json:"active"`
	AsOf           string          `json:"as_of"`
	EntryQty       decimal.Decimal `json:"entry_qty"`
	EntryValue     decimal.Decimal `json:"entry_value"`
	ExitQty        decimal.Decimal `json:"exit_qty"`
	ExitValue      decimal.Decimal `json:"exit_value"`
	Quantity       decimal.Decimal `json:"quantity"`
	NetValue       decimal.Decimal `json:"net_value"`
	AverageCost    decimal.Decimal `json:"average_cost"`
	TotalValuation decimal.Decimal `json:"total_valuation"`
	LastEntryCost  decimal.Decimal `json:"last_entry_cost"`
	NegativeStock  bool            `json:"negative_stock"`
	TotalDisplay   string          `json:"total_valuation_display"`
}

func toSnapshotDTO(s valuation.Snapshot, currency string) SnapshotDTO {
	return SnapshotDTO{
		SKU:            string(s.Item.SKU),
		Description:    s.Item.Description,
		Unit:           s.Item.Unit,
		Active:         s.Item.Active,
		AsOf:           s.AsOf.String(),
		EntryQty:       s.EntryQty,
		EntryValue:     s.EntryValue,
		ExitQty:        s.ExitQty,
		ExitValue:      s.ExitValue,
		Quantity:       s.CurrentQty,
		NetValue:       s.NetValue,
		AverageCost:    s.AverageCost,
		TotalValuation: s.TotalValuation,
		LastEntryCost:  s.LastEntryCost,
		NegativeStock:  s.NegativeStock(),
		TotalDisplay:   report.Display(s.TotalValuation, currency),
	}
}

// ItemDetailDTO is returned by GET /api/items/{sku}.
type ItemDetailDTO struct {
	Snapshot SnapshotDTO `json:"snapshot"`
	Coverage CoverageDTO `json:"coverage"`
}

// CostDTO is returned by GET /api/items/{sku}/cost. Costs are rounded to
// cents for display; the snapshot keeps full precision.
type CostDTO struct {
	SKU           string `json:"sku"`
	AsOf          string `json:"as_of"`
	AverageCost   string `json:"average_cost"`
	LastEntryCost string `json:"last_entry_cost"`
}

// =============================================================================
// STOCK CARD
// =============================================================================

type CardLineDTO struct {
	Sequence     int64           `json:"sequence"`
	Kind         string          `json:"kind"`
	OccurredOn   string          `json:"occurred_on"`
	QtyIn        decimal.Decimal `json:"qty_in"`
	QtyOut       decimal.Decimal `json:"qty_out"`
	UnitValue    decimal.Decimal `json:"unit_value"`
	RunningQty   decimal.Decimal `json:"running_qty"`
	RunningValue decimal.Decimal `json:"running_value"`
	AverageCost  decimal.Decimal `json:"average_cost"`
	DocumentRef  string          `json:"document_ref,omitempty"`
}

type CardDTO struct {
	SKU         string        `json:"sku"`
	Description string        `json:"description"`
	AsOf        string        `json:"as_of"`
	Lines       []CardLineDTO `json:"lines"`
}

func toCardDTO(c valuation.Card) CardDTO {
	dto := CardDTO{
		SKU:         string(c.Item.SKU),
		Description: c.Item.Description,
		AsOf:        c.AsOf.String(),
		Lines:       make([]CardLineDTO, len(c.Lines)),
	}
	for i, l := range c.Lines {
		dto.Lines[i] = CardLineDTO{
			Sequence:     int64(l.Transaction.Sequence),
			Kind:         string(l.Transaction.Kind),
			OccurredOn:   l.Transaction.OccurredOn.String(),
			QtyIn:        l.QtyIn,
			QtyOut:       l.QtyOut,
			UnitValue:    l.Transaction.UnitValue,
			RunningQty:   l.RunningQty,
			RunningValue: l.RunningValue,
			AverageCost:  l.AverageCost,
			DocumentRef:  l.Transaction.DocumentRef,
		}
	}
	return dto
}

// =============================================================================
// COVERAGE / AVAILABILITY / INTEGRITY
// =============================================================================

type CoverageDTO struct {
	SKU       string          `json:"sku"`
	AsOf      string          `json:"as_of"`
	Quantity  decimal.Decimal `json:"quantity"`
	Consumed  decimal.Decimal `json:"consumed_last_90_days"`
	DailyRate decimal.Decimal `json:"daily_rate"`
	Status    string          `json:"status"`
	Days      decimal.Decimal `json:"days"`
	Bucket    string          `json:"bucket,omitempty"`
	Label     string          `json:"label"`
}

func toCoverageDTO(c valuation.Coverage) CoverageDTO {
	return CoverageDTO{
		SKU:       string(c.Item.SKU),
		AsOf:      c.AsOf.String(),
		Quantity:  c.Quantity,
		Consumed:  c.Consumed,
		DailyRate: c.DailyRate,
		Status:    string(c.Status),
		Days:      c.Days,
		Bucket:    string(c.Bucket),
		Label:     c.Label,
	}
}

type AvailabilityDTO struct {
	SKU         string          `json:"sku"`
	OnHand      decimal.Decimal `json:"on_hand"`
	Requested   decimal.Decimal `json:"requested"`
	Shortfall   decimal.Decimal `json:"shortfall"`
	Sufficient  bool            `json:"sufficient"`
	AverageCost decimal.Decimal `json:"average_cost"`
}

type IntegrityDTO struct {
	AsOf          string        `json:"as_of"`
	ItemsChecked  int           `json:"items_checked"`
	Clean         bool          `json:"clean"`
	NegativeStock []SnapshotDTO `json:"negative_stock"`
	OrphanSKUs    []string      `json:"orphan_skus"`
}

// =============================================================================
// WRITES
// =============================================================================

// CreateTransactionRequest appends one movement to the ledger.
type CreateTransactionRequest struct {
	Kind        string `json:"kind" validate:"required,oneof=entry exit"`
	SKU         string `json:"sku" validate:"required,max=50"`
	Quantity    string `json:"quantity" validate:"required,number"`
	UnitValue   string `json:"unit_value" validate:"required,number"`
	OccurredOn  string `json:"occurred_on" validate:"required,datetime=2006-01-02"`
	SupplierID  string `json:"supplier_id" validate:"max=100"`
	DocumentRef string `json:"document_ref" validate:"max=100"`
	Sequence    int64  `json:"sequence" validate:"gte=0"`
}

func (req CreateTransactionRequest) toTransaction() (ledger.Transaction, error) {
	qty, err := decimal.NewFromString(req.Quantity)
	if err != nil {
		return ledger.Transaction{}, &valuation.InputError{Field: "quantity", Value: req.Quantity, Reason: "must be a decimal number"}
	}
	unitValue, err := decimal.NewFromString(req.UnitValue)
	if err != nil {
		return ledger.Transaction{}, &valuation.InputError{Field: "unit_value", Value: req.UnitValue, Reason: "must be a decimal number"}
	}
	on, err := ledger.ParseDate(req.OccurredOn)
	if err != nil {
		return ledger.Transaction{}, &valuation.InputError{Field: "occurred_on", Value: req.OccurredOn, Reason: "must be a calendar date (YYYY-MM-DD)"}
	}
	return ledger.Transaction{
		Sequence:    ledger.Sequence(req.Sequence),
		Kind:        ledger.Kind(req.Kind),
		SKU:         ledger.SKU(req.SKU),
		Quantity:    qty,
		UnitValue:   unitValue,
		OccurredOn:  on,
		SupplierID:  req.SupplierID,
		DocumentRef: req.DocumentRef,
	}, nil
}

// TransactionDTO echoes a stored transaction.
type TransactionDTO struct {
	Sequence    int64           `json:"sequence"`
	Kind        string          `json:"kind"`
	SKU         string          `json:"sku"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitValue   decimal.Decimal `json:"unit_value"`
	OccurredOn  string          `json:"occurred_on"`
	SupplierID  string          `json:"supplier_id,omitempty"`
	DocumentRef string          `json:"document_ref,omitempty"`
}

func toTransactionDTO(tx ledger.Transaction) TransactionDTO {
	return TransactionDTO{
		Sequence:    int64(tx.Sequence),
		Kind:        string(tx.Kind),
		SKU:         string(tx.SKU),
		Quantity:    tx.Quantity,
		UnitValue:   tx.UnitValue,
		OccurredOn:  tx.OccurredOn.String(),
		SupplierID:  tx.SupplierID,
		DocumentRef: tx.DocumentRef,
	}
}

// SaveItemRequest creates or replaces a catalog entry.
type SaveItemRequest struct {
	Description string `json:"description" validate:"max=1000"`
	Unit        string `json:"unit" validate:"max=20"`
	Active      *bool  `json:"active"`
}

type ItemDTO struct {
	SKU         string `json:"sku"`
	Description string `json:"description"`
	Unit        string `json:"unit"`
	Active      bool   `json:"active"`
}

// =============================================================================
// SCENARIOS / ERRORS
// =============================================================================

// ScenarioDTO describes a demo data set.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest selects a scenario to load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Field   string `json:"field,omitempty"`
	Details string `json:"details,omitempty"`
}
