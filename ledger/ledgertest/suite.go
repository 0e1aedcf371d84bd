// Package ledgertest holds behaviour tests shared by every ledger.Store
// implementation. Each store package calls Run from its own _test.go file.
package ledgertest

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stock-valuation/ledger"
)

// Factory returns an empty store. Cleanup is the factory's job.
type Factory func(t *testing.T) ledger.Store

// Entry builds an entry transaction from string amounts.
func Entry(sku string, qty, unitValue string, on ledger.Date) ledger.Transaction {
	return ledger.Transaction{
		Kind:       ledger.KindEntry,
		SKU:        ledger.SKU(sku),
		Quantity:   ledger.MustParseDecimal(qty),
		UnitValue:  ledger.MustParseDecimal(unitValue),
		OccurredOn: on,
	}
}

// Exit builds an exit transaction from string amounts.
func Exit(sku string, qty, unitValue string, on ledger.Date) ledger.Transaction {
	tx := Entry(sku, qty, unitValue, on)
	tx.Kind = ledger.KindExit
	return tx
}

func day(d int) ledger.Date { return ledger.NewDate(2025, time.January, d) }

// Run exercises the full ledger.Store contract against stores built by f.
func Run(t *testing.T, f Factory) {
	t.Run("AppendAssignsIncreasingSequences", func(t *testing.T) {
		s := f(t)
		ctx := context.Background()

		a, err := s.Append(ctx, Entry("A001", "10", "2.00", day(1)))
		require.NoError(t, err)
		b, err := s.Append(ctx, Exit("A001", "3", "2.00", day(2)))
		require.NoError(t, err)

		assert.Greater(t, int64(a.Sequence), int64(0))
		assert.Greater(t, int64(b.Sequence), int64(a.Sequence))
	})

	t.Run("ExplicitSequenceMustIncrease", func(t *testing.T) {
		s := f(t)
		ctx := context.Background()

		tx := Entry("A001", "1", "1.00", day(1))
		tx.Sequence = 10
		stored, err := s.Append(ctx, tx)
		require.NoError(t, err)
		assert.Equal(t, ledger.Sequence(10), stored.Sequence)

		dup := Entry("A001", "1", "1.00", day(1))
		dup.Sequence = 10
		_, err = s.Append(ctx, dup)
		assert.ErrorIs(t, err, ledger.ErrSequenceConflict)

		next, err := s.Append(ctx, Entry("A001", "1", "1.00", day(1)))
		require.NoError(t, err)
		assert.Equal(t, ledger.Sequence(11), next.Sequence)
	})

	t.Run("AppendRejectsInvalidTransactions", func(t *testing.T) {
		s := f(t)
		ctx := context.Background()

		_, err := s.Append(ctx, Entry("A001", "0", "1.00", day(1)))
		assert.ErrorIs(t, err, ledger.ErrInvalidTransaction)

		_, err = s.Append(ctx, Entry("A001", "1", "-1.00", day(1)))
		assert.ErrorIs(t, err, ledger.ErrInvalidTransaction)

		_, err = s.Append(ctx, Entry("A001", "1.005", "1.00", day(1)))
		assert.ErrorIs(t, err, ledger.ErrInvalidTransaction)

		_, err = s.Append(ctx, Entry("A001", "184467440737095517.16", "1.00", day(1)))
		assert.ErrorIs(t, err, ledger.ErrInvalidTransaction)

		_, err = s.Append(ctx, Entry("A001", "1", "10000000", day(1)))
		assert.ErrorIs(t, err, ledger.ErrInvalidTransaction)

		agg, err := s.Sum(ctx, ledger.AggregateQuery{SKU: "A001", Kind: ledger.KindEntry})
		require.NoError(t, err)
		assert.Equal(t, 0, agg.Count)
	})

	t.Run("LargestAmountsSumExactly", func(t *testing.T) {
		s := f(t)
		ctx := context.Background()
		top := ledger.MaxAmount.String()

		_, err := s.AppendBatch(ctx, []ledger.Transaction{
			Entry("A001", top, top, day(1)),
			Entry("A001", top, top, day(2)),
		})
		require.NoError(t, err)

		agg, err := s.Sum(ctx, ledger.AggregateQuery{SKU: "A001", Kind: ledger.KindEntry})
		require.NoError(t, err)
		assert.Equal(t, 2, agg.Count)
		assert.True(t, agg.Quantity.Equal(ledger.MaxAmount.Mul(decimal.NewFromInt(2))), "got %s", agg.Quantity)
		want := ledger.MaxAmount.Mul(ledger.MaxAmount).Mul(decimal.NewFromInt(2))
		assert.True(t, agg.Value.Equal(want), "got %s", agg.Value)
	})

	t.Run("AppendBatchIsAtomic", func(t *testing.T) {
		s := f(t)
		ctx := context.Background()

		_, err := s.AppendBatch(ctx, []ledger.Transaction{
			Entry("A001", "5", "1.00", day(1)),
			Entry("A001", "0", "1.00", day(2)),
		})
		require.Error(t, err)

		agg, err := s.Sum(ctx, ledger.AggregateQuery{SKU: "A001", Kind: ledger.KindEntry})
		require.NoError(t, err)
		assert.Equal(t, 0, agg.Count, "no transaction of a rejected batch may be stored")
	})

	t.Run("SumIsExactAndBoundsAreInclusive", func(t *testing.T) {
		s := f(t)
		ctx := context.Background()

		_, err := s.AppendBatch(ctx, []ledger.Transaction{
			Entry("A001", "10", "2.00", day(1)),
			Entry("A001", "5", "3.00", day(5)),
			Entry("A001", "0.10", "0.10", day(9)),
			Exit("A001", "8", "2.33", day(10)),
			Entry("B002", "1", "99.99", day(1)),
		})
		require.NoError(t, err)

		entries, err := s.Sum(ctx, ledger.AggregateQuery{SKU: "A001", Kind: ledger.KindEntry, To: day(5)})
		require.NoError(t, err)
		assert.True(t, entries.Quantity.Equal(decimal.NewFromInt(15)), "got %s", entries.Quantity)
		assert.True(t, entries.Value.Equal(decimal.NewFromInt(35)), "got %s", entries.Value)
		assert.Equal(t, 2, entries.Count)

		all, err := s.Sum(ctx, ledger.AggregateQuery{SKU: "A001", Kind: ledger.KindEntry})
		require.NoError(t, err)
		assert.True(t, all.Value.Equal(ledger.MustParseDecimal("35.01")), "got %s", all.Value)

		window, err := s.Sum(ctx, ledger.AggregateQuery{SKU: "A001", Kind: ledger.KindEntry, From: day(5), To: day(9)})
		require.NoError(t, err)
		assert.Equal(t, 2, window.Count)

		exits, err := s.Sum(ctx, ledger.AggregateQuery{SKU: "A001", Kind: ledger.KindExit, To: day(10)})
		require.NoError(t, err)
		assert.True(t, exits.Value.Equal(ledger.MustParseDecimal("18.64")), "got %s", exits.Value)
	})

	t.Run("LatestEntryFollowsSequenceNotDate", func(t *testing.T) {
		s := f(t)
		ctx := context.Background()

		// GIVEN: a back-dated entry appended after a later-dated one
		_, err := s.AppendBatch(ctx, []ledger.Transaction{
			Entry("A001", "1", "4.00", day(10)),
			Entry("A001", "1", "7.00", day(2)),
		})
		require.NoError(t, err)

		// WHEN / THEN: the higher sequence wins
		last, err := s.LatestEntry(ctx, "A001", day(10))
		require.NoError(t, err)
		require.NotNil(t, last)
		assert.True(t, last.UnitValue.Equal(decimal.NewFromInt(7)))

		// Before day 10 only the back-dated entry qualifies.
		last, err = s.LatestEntry(ctx, "A001", day(5))
		require.NoError(t, err)
		require.NotNil(t, last)
		assert.True(t, last.UnitValue.Equal(decimal.NewFromInt(7)))

		none, err := s.LatestEntry(ctx, "A001", day(1))
		require.NoError(t, err)
		assert.Nil(t, none)
	})

	t.Run("HistoryIsSequenceOrdered", func(t *testing.T) {
		s := f(t)
		ctx := context.Background()

		_, err := s.AppendBatch(ctx, []ledger.Transaction{
			Entry("A001", "1", "1.00", day(3)),
			Exit("A001", "1", "1.00", day(1)),
			Entry("A001", "2", "1.00", day(20)),
		})
		require.NoError(t, err)

		txs, err := s.History(ctx, "A001", day(10))
		require.NoError(t, err)
		require.Len(t, txs, 2)
		assert.Less(t, int64(txs[0].Sequence), int64(txs[1].Sequence))
		assert.Equal(t, ledger.KindEntry, txs[0].Kind)
		assert.Equal(t, day(1), txs[1].OccurredOn)
	})

	t.Run("ItemsFilterAndOrder", func(t *testing.T) {
		s := f(t)
		ctx := context.Background()

		require.NoError(t, s.SaveItem(ctx, ledger.Item{SKU: "B002", Description: "Parafuso 10mm", Unit: "un", Active: true}))
		require.NoError(t, s.SaveItem(ctx, ledger.Item{SKU: "A001", Description: "Tinta branca", Unit: "l", Active: true}))
		require.NoError(t, s.SaveItem(ctx, ledger.Item{SKU: "C_03", Description: "Cola 100%", Unit: "kg", Active: false}))

		all, err := s.Items(ctx, ledger.ItemFilter{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, ledger.SKU("A001"), all[0].SKU)
		assert.Equal(t, ledger.SKU("C_03"), all[2].SKU)

		active, err := s.Items(ctx, ledger.ItemFilter{OnlyActive: true})
		require.NoError(t, err)
		assert.Len(t, active, 2)

		bySKU, err := s.Items(ctx, ledger.ItemFilter{SKU: "b0"})
		require.NoError(t, err)
		require.Len(t, bySKU, 1)
		assert.Equal(t, ledger.SKU("B002"), bySKU[0].SKU)

		byDesc, err := s.Items(ctx, ledger.ItemFilter{Description: "TINTA"})
		require.NoError(t, err)
		require.Len(t, byDesc, 1)
		assert.Equal(t, "l", byDesc[0].Unit)

		// Wildcards in the filter are literal.
		pct, err := s.Items(ctx, ledger.ItemFilter{Description: "0%"})
		require.NoError(t, err)
		require.Len(t, pct, 1)
		assert.Equal(t, ledger.SKU("C_03"), pct[0].SKU)

		under, err := s.Items(ctx, ledger.ItemFilter{SKU: "_"})
		require.NoError(t, err)
		assert.Len(t, under, 1)
	})

	t.Run("ItemsFilterFoldsAccents", func(t *testing.T) {
		s := f(t)
		ctx := context.Background()

		require.NoError(t, s.SaveItem(ctx, ledger.Item{SKU: "D004", Description: "AÇÚCAR REFINADO", Unit: "kg", Active: true}))
		require.NoError(t, s.SaveItem(ctx, ledger.Item{SKU: "E005", Description: "Sal grosso", Unit: "kg", Active: true}))

		for _, needle := range []string{"açúcar", "AÇÚCAR", "çú"} {
			found, err := s.Items(ctx, ledger.ItemFilter{Description: needle})
			require.NoError(t, err)
			require.Len(t, found, 1, needle)
			assert.Equal(t, ledger.SKU("D004"), found[0].SKU)
		}
	})

	t.Run("SaveItemReplaces", func(t *testing.T) {
		s := f(t)
		ctx := context.Background()

		require.NoError(t, s.SaveItem(ctx, ledger.Item{SKU: "A001", Description: "old", Active: true}))
		require.NoError(t, s.SaveItem(ctx, ledger.Item{SKU: "A001", Description: "new", Active: false}))

		item, err := s.Item(ctx, "A001")
		require.NoError(t, err)
		assert.Equal(t, "new", item.Description)
		assert.False(t, item.Active)

		assert.ErrorIs(t, s.SaveItem(ctx, ledger.Item{SKU: "  "}), ledger.ErrInvalidItem)
	})

	t.Run("UnknownItemIsNotFound", func(t *testing.T) {
		s := f(t)
		_, err := s.Item(context.Background(), "NOPE")
		assert.True(t, ledger.IsNotFound(err))
		var nf *ledger.ItemNotFoundError
		require.ErrorAs(t, err, &nf)
		assert.Equal(t, ledger.SKU("NOPE"), nf.SKU)
	})

	t.Run("SKUsListsLedgerReferences", func(t *testing.T) {
		s := f(t)
		ctx := context.Background()

		_, err := s.AppendBatch(ctx, []ledger.Transaction{
			Entry("Z9", "1", "1.00", day(1)),
			Entry("A001", "1", "1.00", day(1)),
			Exit("A001", "1", "1.00", day(2)),
		})
		require.NoError(t, err)

		skus, err := s.SKUs(ctx)
		require.NoError(t, err)
		assert.Equal(t, []ledger.SKU{"A001", "Z9"}, skus)
	})

	t.Run("ReadViewServesReads", func(t *testing.T) {
		s := f(t)
		ctx := context.Background()

		require.NoError(t, s.SaveItem(ctx, ledger.Item{SKU: "A001", Active: true}))
		_, err := s.Append(ctx, Entry("A001", "2", "1.50", day(1)))
		require.NoError(t, err)

		err = ledger.WithReadView(ctx, s, func(r ledger.Reader) error {
			items, err := r.Items(ctx, ledger.ItemFilter{})
			if err != nil {
				return err
			}
			assert.Len(t, items, 1)
			agg, err := r.Sum(ctx, ledger.AggregateQuery{SKU: "A001", Kind: ledger.KindEntry})
			if err != nil {
				return err
			}
			assert.True(t, agg.Value.Equal(decimal.NewFromInt(3)))
			return nil
		})
		require.NoError(t, err)
	})
}
