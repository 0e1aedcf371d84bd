package valuation

import (
	"context"
	"fmt"

	"github.com/warp/stock-valuation/ledger"
)

// IntegrityReport lists ledger anomalies as of a date. Anomalies are
// reported, never rejected.
type IntegrityReport struct {
	AsOf         ledger.Date
	ItemsChecked int

	// NegativeStock holds the snapshots whose quantity is below zero.
	NegativeStock []Snapshot

	// OrphanSKUs are referenced by transactions but absent from the registry.
	OrphanSKUs []ledger.SKU
}

func (r IntegrityReport) Clean() bool {
	return len(r.NegativeStock) == 0 && len(r.OrphanSKUs) == 0
}

// Integrity scans every registered item and every SKU in the ledger.
func (e *Engine) Integrity(ctx context.Context, asOf ledger.Date) (IntegrityReport, error) {
	asOf = e.ResolveAsOf(asOf)
	report := IntegrityReport{AsOf: asOf}

	err := ledger.WithReadView(ctx, e.Store, func(r ledger.Reader) error {
		items, err := r.Items(ctx, ledger.ItemFilter{})
		if err != nil {
			return fmt.Errorf("valuation: list items: %w", err)
		}
		known := make(map[ledger.SKU]struct{}, len(items))
		for _, item := range items {
			known[item.SKU] = struct{}{}
			s, err := e.snapshot(ctx, r, item, asOf)
			if err != nil {
				return err
			}
			if s.NegativeStock() {
				report.NegativeStock = append(report.NegativeStock, s)
			}
		}
		report.ItemsChecked = len(items)

		skus, err := r.SKUs(ctx)
		if err != nil {
			return fmt.Errorf("valuation: list ledger skus: %w", err)
		}
		for _, sku := range skus {
			if _, ok := known[sku]; !ok {
				report.OrphanSKUs = append(report.OrphanSKUs, sku)
			}
		}
		return nil
	})
	if err != nil {
		return IntegrityReport{}, err
	}

	for _, s := range report.NegativeStock {
		e.reportAnomaly(s)
	}
	for _, sku := range report.OrphanSKUs {
		e.logger().Warn("ledger references unknown item", "sku", string(sku))
	}
	return report, nil
}
