package factory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stock-valuation/ledger"
	"github.com/warp/stock-valuation/ledger/store"
)

var today = ledger.MustParseDate("2025-06-30")

func TestBuiltinIDs(t *testing.T) {
	assert.Equal(t, []string{"busy-warehouse", "negative-stock", "reference"}, BuiltinIDs())
}

func TestBuiltin_AllParse(t *testing.T) {
	f := NewScenarioFactory(today)
	for _, id := range BuiltinIDs() {
		t.Run(id, func(t *testing.T) {
			sc, err := f.Builtin(id)
			require.NoError(t, err)
			assert.Equal(t, id, sc.ID)
			assert.NotEmpty(t, sc.Name)
			assert.NotEmpty(t, sc.Items)
			assert.NotEmpty(t, sc.Transactions)
		})
	}
}

func TestBuiltin_Unknown(t *testing.T) {
	_, err := NewScenarioFactory(today).Builtin("nope")
	assert.Error(t, err)
}

func TestParse_RelativeAndFixedDates(t *testing.T) {
	// GIVEN: one fixed and one relative date
	// WHEN: parsing against a reference day
	// THEN: days_ago counts back from it

	sc, err := NewScenarioFactory(today).Parse([]byte(`{
		"id": "dates",
		"items": [{"sku": "X1", "description": "x", "unit": "un", "active": false}],
		"transactions": [
			{"kind": "entry", "sku": "X1", "quantity": "1", "unit_value": "1.50", "occurred_on": "2025-01-02"},
			{"kind": "exit", "sku": "X1", "quantity": "1", "unit_value": "1.50", "days_ago": 30}
		]
	}`))
	require.NoError(t, err)

	assert.False(t, sc.Items[0].Active)
	assert.Equal(t, "2025-01-02", sc.Transactions[0].OccurredOn.String())
	assert.Equal(t, "2025-05-31", sc.Transactions[1].OccurredOn.String())
	assert.True(t, sc.Transactions[0].UnitValue.Equal(ledger.MustParseDecimal("1.5")))
}

func TestParse_Rejects(t *testing.T) {
	tests := map[string]string{
		"bad json":      `{`,
		"missing id":    `{"items": []}`,
		"empty sku":     `{"id": "x", "items": [{"sku": ""}]}`,
		"bad kind":      `{"id": "x", "transactions": [{"kind": "move", "sku": "A", "quantity": "1", "unit_value": "1", "occurred_on": "2025-01-01"}]}`,
		"bad quantity":  `{"id": "x", "transactions": [{"kind": "entry", "sku": "A", "quantity": "one", "unit_value": "1", "occurred_on": "2025-01-01"}]}`,
		"zero quantity": `{"id": "x", "transactions": [{"kind": "entry", "sku": "A", "quantity": "0", "unit_value": "1", "occurred_on": "2025-01-01"}]}`,
		"no date":       `{"id": "x", "transactions": [{"kind": "entry", "sku": "A", "quantity": "1", "unit_value": "1"}]}`,
		"both dates":    `{"id": "x", "transactions": [{"kind": "entry", "sku": "A", "quantity": "1", "unit_value": "1", "occurred_on": "2025-01-01", "days_ago": 1}]}`,
	}
	f := NewScenarioFactory(today)
	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := f.Parse([]byte(input))
			assert.Error(t, err)
		})
	}
}

func TestParse_RelativeDateNeedsReference(t *testing.T) {
	_, err := NewScenarioFactory(ledger.Date{}).Parse([]byte(`{"id": "x", "transactions": [
		{"kind": "entry", "sku": "A", "quantity": "1", "unit_value": "1", "days_ago": 1}
	]}`))
	assert.Error(t, err)
}

func TestToJSON_RoundTripsThroughFromJSON(t *testing.T) {
	f := NewScenarioFactory(today)
	sc, err := f.Builtin("reference")
	require.NoError(t, err)

	back, err := f.FromJSON(f.ToJSON(sc))
	require.NoError(t, err)
	assert.Equal(t, sc.Items, back.Items)
	require.Len(t, back.Transactions, len(sc.Transactions))
	for i := range sc.Transactions {
		assert.True(t, sc.Transactions[i].Quantity.Equal(back.Transactions[i].Quantity))
		assert.True(t, sc.Transactions[i].OccurredOn.Equal(back.Transactions[i].OccurredOn))
	}
}

func TestLoad_WritesItemsAndTransactions(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()

	sc, err := NewScenarioFactory(today).Builtin("reference")
	require.NoError(t, err)
	require.NoError(t, Load(ctx, s, sc))

	items, err := s.Items(ctx, ledger.ItemFilter{})
	require.NoError(t, err)
	assert.Len(t, items, 2)

	history, err := s.History(ctx, "A001", ledger.Date{})
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, ledger.Sequence(1), history[0].Sequence)
	assert.Equal(t, "NF-1001", history[0].DocumentRef)
}
