package valuation

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/warp/stock-valuation/ledger"
)

// Availability answers "can this quantity leave stock now?" for the
// exit-authoring workflow, together with the average cost it would stamp
// on the new exit.
type Availability struct {
	Item        ledger.Item
	OnHand      decimal.Decimal
	Requested   decimal.Decimal
	Shortfall   decimal.Decimal // zero when Sufficient
	Sufficient  bool
	AverageCost decimal.Decimal
}

// CheckAvailability compares requested with the quantity on hand over the
// whole ledger, future-dated transactions included.
func (e *Engine) CheckAvailability(ctx context.Context, sku ledger.SKU, requested decimal.Decimal) (Availability, error) {
	if !requested.IsPositive() {
		return Availability{}, &InputError{Field: "quantity", Value: requested.String(), Reason: "must be positive"}
	}

	var s Snapshot
	err := ledger.WithReadView(ctx, e.Store, func(r ledger.Reader) error {
		item, err := r.Item(ctx, sku)
		if err != nil {
			return err
		}
		s, err = e.snapshot(ctx, r, item, ledger.Date{})
		return err
	})
	if err != nil {
		return Availability{}, err
	}

	a := Availability{
		Item:        s.Item,
		OnHand:      s.CurrentQty,
		Requested:   requested,
		Shortfall:   decimal.Zero,
		Sufficient:  s.CurrentQty.GreaterThanOrEqual(requested),
		AverageCost: s.AverageCost,
	}
	if !a.Sufficient {
		a.Shortfall = requested.Sub(s.CurrentQty)
	}
	return a, nil
}
