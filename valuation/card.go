package valuation

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/stock-valuation/ledger"
)

// =============================================================================
// STOCK CARD - The fold, one transaction at a time
// =============================================================================

// CardLine is one ledger transaction with the running totals after it.
type CardLine struct {
	Transaction ledger.Transaction

	QtyIn  decimal.Decimal
	QtyOut decimal.Decimal

	RunningQty   decimal.Decimal
	RunningValue decimal.Decimal
	AverageCost  decimal.Decimal
}

// Card lists the qualifying transactions of one item in sequence order.
// Its closing totals equal the item's Snapshot for the same date.
type Card struct {
	Item  ledger.Item
	AsOf  ledger.Date
	Lines []CardLine
}

// Closing returns the running quantity and value after the last line.
func (c Card) Closing() (qty, value decimal.Decimal) {
	if len(c.Lines) == 0 {
		return decimal.Zero, decimal.Zero
	}
	last := c.Lines[len(c.Lines)-1]
	return last.RunningQty, last.RunningValue
}

// StockCard replays the ledger of sku up to asOf.
func (e *Engine) StockCard(ctx context.Context, sku ledger.SKU, asOf ledger.Date) (Card, error) {
	asOf = e.ResolveAsOf(asOf)

	var card Card
	err := ledger.WithReadView(ctx, e.Store, func(r ledger.Reader) error {
		item, err := r.Item(ctx, sku)
		if err != nil {
			return err
		}
		txs, err := r.History(ctx, sku, asOf)
		if err != nil {
			return fmt.Errorf("valuation: history for %s: %w", sku, err)
		}
		card = buildCard(item, asOf, txs, e.Policy)
		return nil
	})
	if err != nil {
		return Card{}, err
	}
	return card, nil
}

func buildCard(item ledger.Item, asOf ledger.Date, txs []ledger.Transaction, p Policy) Card {
	card := Card{Item: item, AsOf: asOf, Lines: make([]CardLine, 0, len(txs))}
	qty, value := decimal.Zero, decimal.Zero
	for _, tx := range txs {
		line := CardLine{Transaction: tx, QtyIn: decimal.Zero, QtyOut: decimal.Zero}
		if tx.IsEntry() {
			line.QtyIn = tx.Quantity
			qty = qty.Add(tx.Quantity)
			value = value.Add(tx.Value())
		} else {
			line.QtyOut = tx.Quantity
			qty = qty.Sub(tx.Quantity)
			value = value.Sub(tx.Value())
		}
		line.RunningQty = qty
		line.RunningValue = value
		line.AverageCost = p.AverageCost(value, qty)
		card.Lines = append(card.Lines, line)
	}
	return card
}
