package valuation_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stock-valuation/ledger"
	"github.com/warp/stock-valuation/ledger/ledgertest"
	"github.com/warp/stock-valuation/ledger/store"
	"github.com/warp/stock-valuation/store/sqlite"
	"github.com/warp/stock-valuation/valuation"
)

// =============================================================================
// TEST INFRASTRUCTURE
// =============================================================================

// backends lists every store the engine tests run against.
var backends = map[string]ledgertest.Factory{
	"memory": func(t *testing.T) ledger.Store { return store.NewMemory() },
	"sqlite": func(t *testing.T) ledger.Store {
		s, err := sqlite.New(":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	},
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s ledger.Store)) {
	for name, factory := range backends {
		t.Run(name, func(t *testing.T) { fn(t, factory(t)) })
	}
}

func jan(d int) ledger.Date { return ledger.NewDate(2025, time.January, d) }

func dec(s string) decimal.Decimal { return ledger.MustParseDecimal(s) }

func newEngine(s ledger.Reader) *valuation.Engine {
	e := valuation.NewEngine(s, nil)
	e.Now = func() time.Time { return time.Date(2025, time.January, 20, 15, 0, 0, 0, time.UTC) }
	return e
}

func saveItems(t *testing.T, s ledger.Store, items ...ledger.Item) {
	t.Helper()
	for _, item := range items {
		require.NoError(t, s.SaveItem(context.Background(), item))
	}
}

func appendAll(t *testing.T, s ledger.Store, txs ...ledger.Transaction) {
	t.Helper()
	_, err := s.AppendBatch(context.Background(), txs)
	require.NoError(t, err)
}

// seedScenarios loads the two reference items:
//
//	A001: Entry 10 @ 2.00 (Jan 1), Entry 5 @ 3.00 (Jan 10), Exit 8 @ 2.33 (Jan 15)
//	B002: Exit 3 @ 5.00 (Jan 5), no entries
func seedScenarios(t *testing.T, s ledger.Store) {
	t.Helper()
	saveItems(t, s,
		ledger.Item{SKU: "A001", Description: "Tinta acrilica branca", Unit: "l", Active: true},
		ledger.Item{SKU: "B002", Description: "Parafuso sextavado", Unit: "un", Active: true},
	)
	appendAll(t, s,
		ledgertest.Entry("A001", "10", "2.00", jan(1)),
		ledgertest.Exit("B002", "3", "5.00", jan(5)),
		ledgertest.Entry("A001", "5", "3.00", jan(10)),
		ledgertest.Exit("A001", "8", "2.33", jan(15)),
	)
}

func findSnapshot(t *testing.T, snaps []valuation.Snapshot, sku ledger.SKU) valuation.Snapshot {
	t.Helper()
	for _, s := range snaps {
		if s.SKU() == sku {
			return s
		}
	}
	t.Fatalf("no snapshot for %s", sku)
	return valuation.Snapshot{}
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msg string) {
	t.Helper()
	assert.True(t, got.Equal(dec(want)), "%s: want %s, got %s", msg, want, got)
}

// =============================================================================
// REFERENCE SCENARIOS
// =============================================================================

func TestComputeSnapshots_A001Scenario(t *testing.T) {
	// GIVEN: two entries and one exit before the as-of date
	// WHEN: valuing as of Jan 20
	// THEN: the weighted-average fold matches the hand computation

	forEachBackend(t, func(t *testing.T, s ledger.Store) {
		seedScenarios(t, s)

		snaps, err := newEngine(s).ComputeSnapshots(context.Background(), valuation.Query{AsOf: jan(20)})
		require.NoError(t, err)

		a := findSnapshot(t, snaps, "A001")
		assertDecimal(t, "15", a.EntryQty, "entryQty")
		assertDecimal(t, "35.00", a.EntryValue, "entryValue")
		assertDecimal(t, "8", a.ExitQty, "exitQty")
		assertDecimal(t, "18.64", a.ExitValue, "exitValue")
		assertDecimal(t, "7", a.CurrentQty, "currentQty")
		assertDecimal(t, "16.36", a.NetValue, "netValue")
		assertDecimal(t, "2.337143", a.AverageCost, "averageCost")
		assert.InDelta(t, 16.36, a.TotalValuation.InexactFloat64(), 0.0001)
		assertDecimal(t, "3.00", a.LastEntryCost, "lastEntryCost")
		assert.Equal(t, "Tinta acrilica branca", a.Item.Description)
	})
}

func TestComputeSnapshots_B002NegativeStock(t *testing.T) {
	// GIVEN: an item with only an exit
	// WHEN: valuing on and after the exit date
	// THEN: the formula runs unchanged on the negative quantity

	forEachBackend(t, func(t *testing.T, s ledger.Store) {
		seedScenarios(t, s)
		engine := newEngine(s)

		for _, asOf := range []ledger.Date{jan(5), jan(20), ledger.NewDate(2026, time.June, 1)} {
			snaps, err := engine.ComputeSnapshots(context.Background(), valuation.Query{AsOf: asOf})
			require.NoError(t, err)

			b := findSnapshot(t, snaps, "B002")
			assertDecimal(t, "-3", b.CurrentQty, "currentQty")
			assertDecimal(t, "-15.00", b.NetValue, "netValue")
			assertDecimal(t, "5.00", b.AverageCost, "averageCost")
			assertDecimal(t, "-15.00", b.TotalValuation, "totalValuation")
			assertDecimal(t, "0", b.LastEntryCost, "lastEntryCost")
			assert.True(t, b.NegativeStock())
		}
	})
}

// =============================================================================
// PROPERTIES
// =============================================================================

func TestComputeSnapshots_NoTransactionsYieldsZeros(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s ledger.Store) {
		seedScenarios(t, s)
		saveItems(t, s, ledger.Item{SKU: "C003", Description: "Never moved", Active: true})

		// Dec 31 precedes every transaction.
		snaps, err := newEngine(s).ComputeSnapshots(context.Background(), valuation.Query{AsOf: ledger.NewDate(2024, time.December, 31)})
		require.NoError(t, err)
		require.Len(t, snaps, 3)

		for _, snap := range snaps {
			assert.True(t, snap.CurrentQty.IsZero(), snap.SKU())
			assert.True(t, snap.AverageCost.IsZero(), snap.SKU())
			assert.True(t, snap.TotalValuation.IsZero(), snap.SKU())
			assert.True(t, snap.LastEntryCost.IsZero(), snap.SKU())
		}
	})
}

func TestComputeSnapshots_QuantityAndValuationIdentities(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s ledger.Store) {
		seedScenarios(t, s)
		engine := newEngine(s)

		for d := 1; d <= 20; d++ {
			snaps, err := engine.ComputeSnapshots(context.Background(), valuation.Query{AsOf: jan(d)})
			require.NoError(t, err)
			for _, snap := range snaps {
				assert.True(t, snap.CurrentQty.Equal(snap.EntryQty.Sub(snap.ExitQty)))
				if snap.CurrentQty.IsZero() {
					continue
				}
				exact := snap.NetValue.DivRound(snap.CurrentQty, 16).Mul(snap.CurrentQty)
				assert.InDelta(t, exact.InexactFloat64(), snap.TotalValuation.InexactFloat64(), 0.0001,
					"%s as of %s", snap.SKU(), jan(d))
			}
		}
	})
}

func TestComputeSnapshots_ZeroGuardWithResidue(t *testing.T) {
	// GIVEN: in and out quantities cancel but the values don't
	// WHEN: valuing
	// THEN: average cost is zero while net value keeps the residue

	forEachBackend(t, func(t *testing.T, s ledger.Store) {
		saveItems(t, s, ledger.Item{SKU: "Z001", Active: true})
		appendAll(t, s,
			ledgertest.Entry("Z001", "3", "1.00", jan(1)),
			ledgertest.Exit("Z001", "3", "1.01", jan(2)),
		)

		snap, err := newEngine(s).ItemCost(context.Background(), "Z001", jan(2))
		require.NoError(t, err)

		assert.True(t, snap.CurrentQty.IsZero())
		assertDecimal(t, "-0.03", snap.NetValue, "netValue")
		assert.True(t, snap.AverageCost.IsZero())
		assert.True(t, snap.TotalValuation.IsZero())
	})
}

func TestComputeSnapshots_OnlyWithStockDropsExactZeroOnly(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s ledger.Store) {
		seedScenarios(t, s)
		saveItems(t, s,
			ledger.Item{SKU: "C003", Active: true},
			ledger.Item{SKU: "D004", Active: true},
		)
		appendAll(t, s,
			ledgertest.Entry("C003", "2", "1.00", jan(1)),
			ledgertest.Exit("C003", "2", "1.00", jan(3)),
		)
		engine := newEngine(s)
		ctx := context.Background()

		all, err := engine.ComputeSnapshots(ctx, valuation.Query{AsOf: jan(20)})
		require.NoError(t, err)
		withStock, err := engine.ComputeSnapshots(ctx, valuation.Query{AsOf: jan(20), Filters: valuation.Filters{OnlyWithStock: true}})
		require.NoError(t, err)

		var expected []ledger.SKU
		for _, snap := range all {
			if !snap.CurrentQty.IsZero() {
				expected = append(expected, snap.SKU())
			}
		}
		var got []ledger.SKU
		for _, snap := range withStock {
			got = append(got, snap.SKU())
		}
		// B002 is negative and stays.
		assert.Equal(t, []ledger.SKU{"A001", "B002"}, expected)
		assert.Equal(t, expected, got)
	})
}

func TestComputeSnapshots_LastEntryCostFollowsSequence(t *testing.T) {
	// GIVEN: a later-dated entry appended first, then a back-dated entry
	// WHEN: valuing after both
	// THEN: the back-dated entry, having the higher sequence, sets lastEntryCost

	forEachBackend(t, func(t *testing.T, s ledger.Store) {
		saveItems(t, s, ledger.Item{SKU: "A001", Active: true})
		appendAll(t, s,
			ledgertest.Entry("A001", "1", "9.00", jan(12)),
			ledgertest.Entry("A001", "1", "4.00", jan(3)),
		)

		snap, err := newEngine(s).ItemCost(context.Background(), "A001", jan(20))
		require.NoError(t, err)
		assertDecimal(t, "4.00", snap.LastEntryCost, "lastEntryCost")
	})
}

func TestComputeSnapshots_AsOfIsInclusive(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s ledger.Store) {
		seedScenarios(t, s)
		engine := newEngine(s)
		ctx := context.Background()

		onExitDay, err := engine.ItemCost(ctx, "A001", jan(15))
		require.NoError(t, err)
		assertDecimal(t, "7", onExitDay.CurrentQty, "exit dated as-of must count")

		dayBefore, err := engine.ItemCost(ctx, "A001", jan(14))
		require.NoError(t, err)
		assertDecimal(t, "15", dayBefore.CurrentQty, "exit dated after as-of must not count")

		onEntryDay, err := engine.ItemCost(ctx, "A001", jan(10))
		require.NoError(t, err)
		assertDecimal(t, "3.00", onEntryDay.LastEntryCost, "entry dated as-of must count")
	})
}

func TestComputeSnapshots_Idempotent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s ledger.Store) {
		seedScenarios(t, s)
		engine := newEngine(s)
		q := valuation.Query{AsOf: jan(20), Filters: valuation.Filters{Description: "a"}}

		first, err := engine.ComputeSnapshots(context.Background(), q)
		require.NoError(t, err)
		second, err := engine.ComputeSnapshots(context.Background(), q)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})
}

func TestComputeSnapshots_FiltersAndOrder(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s ledger.Store) {
		seedScenarios(t, s)
		saveItems(t, s, ledger.Item{SKU: "A000", Description: "Tinta inativa", Active: false})
		engine := newEngine(s)
		ctx := context.Background()

		all, err := engine.ComputeSnapshots(ctx, valuation.Query{AsOf: jan(20)})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, ledger.SKU("A000"), all[0].SKU())

		active, err := engine.ComputeSnapshots(ctx, valuation.Query{AsOf: jan(20), Filters: valuation.Filters{OnlyActive: true}})
		require.NoError(t, err)
		assert.Len(t, active, 2)

		tinta, err := engine.ComputeSnapshots(ctx, valuation.Query{AsOf: jan(20), Filters: valuation.Filters{Description: "TINTA"}})
		require.NoError(t, err)
		assert.Len(t, tinta, 2)

		bySKU, err := engine.ComputeSnapshots(ctx, valuation.Query{AsOf: jan(20), Filters: valuation.Filters{SKU: "b00"}})
		require.NoError(t, err)
		require.Len(t, bySKU, 1)
		assert.Equal(t, ledger.SKU("B002"), bySKU[0].SKU())
	})
}

func TestComputeSnapshots_DefaultsAsOfToToday(t *testing.T) {
	s := store.NewMemory()
	seedScenarios(t, s)
	engine := newEngine(s)

	snaps, err := engine.ComputeSnapshots(context.Background(), valuation.Query{})
	require.NoError(t, err)

	a := findSnapshot(t, snaps, "A001")
	assert.Equal(t, jan(20), a.AsOf)
	assertDecimal(t, "7", a.CurrentQty, "currentQty")
}

func TestComputeSnapshots_PolicyScale(t *testing.T) {
	s := store.NewMemory()
	seedScenarios(t, s)
	engine := newEngine(s)
	engine.Policy = valuation.Policy{CostScale: 2}

	snap, err := engine.ItemCost(context.Background(), "A001", jan(20))
	require.NoError(t, err)
	assertDecimal(t, "2.34", snap.AverageCost, "averageCost")
	assertDecimal(t, "16.38", snap.TotalValuation, "totalValuation")
}

func TestItemCost_UnknownSKU(t *testing.T) {
	s := store.NewMemory()
	_, err := newEngine(s).ItemCost(context.Background(), "NOPE", jan(20))
	assert.True(t, valuation.IsNotFound(err))
}

// =============================================================================
// FAILURE PROPAGATION
// =============================================================================

var errBoom = errors.New("disk on fire")

// failingReader lists one item and fails on aggregation.
type failingReader struct{}

func (failingReader) Sum(context.Context, ledger.AggregateQuery) (ledger.Aggregate, error) {
	return ledger.Aggregate{}, errBoom
}

func (failingReader) LatestEntry(context.Context, ledger.SKU, ledger.Date) (*ledger.Transaction, error) {
	return nil, errBoom
}

func (failingReader) History(context.Context, ledger.SKU, ledger.Date) ([]ledger.Transaction, error) {
	return nil, errBoom
}

func (failingReader) SKUs(context.Context) ([]ledger.SKU, error) { return nil, errBoom }

func (failingReader) Items(context.Context, ledger.ItemFilter) ([]ledger.Item, error) {
	return []ledger.Item{{SKU: "A001", Active: true}}, nil
}

func (failingReader) Item(context.Context, ledger.SKU) (ledger.Item, error) {
	return ledger.Item{SKU: "A001", Active: true}, nil
}

func TestComputeSnapshots_StoreFailureReturnsNoPartialResult(t *testing.T) {
	engine := newEngine(failingReader{})

	snaps, err := engine.ComputeSnapshots(context.Background(), valuation.Query{AsOf: jan(20)})
	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)
	assert.Nil(t, snaps)
	assert.False(t, valuation.IsClientError(err))
	assert.False(t, valuation.IsNotFound(err))
}
