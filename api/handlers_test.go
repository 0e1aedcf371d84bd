/*
handlers_test.go - HTTP tests for API handlers

Tests for:
- Valuation report (envelope, filters, ordering, pagination, errors)
- Per-item views (detail, cost, card, availability)
- Writes (transactions, catalog)
- Error mapping (400 / 404 / 409)
*/
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stock-valuation/factory"
	"github.com/warp/stock-valuation/ledger"
	"github.com/warp/stock-valuation/ledger/store"
	"github.com/warp/stock-valuation/report"
	"github.com/warp/stock-valuation/valuation"
)

// =============================================================================
// FIXTURES
// =============================================================================

var testToday = time.Date(2025, 1, 20, 12, 0, 0, 0, time.UTC)

type testServer struct {
	store   *store.Memory
	handler *Handler
	router  http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	s := store.NewMemory()
	engine := valuation.NewEngine(s, nil)
	engine.Now = func() time.Time { return testToday }

	h := NewHandler(engine, s, "USD", nil)
	return &testServer{
		store:   s,
		handler: h,
		router:  NewRouter(h, RouterOptions{}),
	}
}

// withReference loads A001 / B002 from the embedded reference scenario.
func (ts *testServer) withReference(t *testing.T) *testServer {
	t.Helper()
	sc, err := factory.NewScenarioFactory(ledger.DateOf(testToday)).Builtin("reference")
	require.NoError(t, err)
	require.NoError(t, factory.Load(context.Background(), ts.store, sc))
	return ts
}

func (ts *testServer) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func assertDecimalString(t *testing.T, want string, got interface{ String() string }) {
	t.Helper()
	assert.True(t, ledger.MustParseDecimal(want).Equal(ledger.MustParseDecimal(got.String())),
		"want %s, got %s", want, got.String())
}

// =============================================================================
// VALUATION
// =============================================================================

func TestGetValuation_ReferenceScenario(t *testing.T) {
	// GIVEN: the reference ledger
	// WHEN: requesting the report as of Jan 20
	// THEN: both items are valued and the envelope is filled

	ts := newTestServer(t).withReference(t)

	rec := ts.do(t, http.MethodGet, "/api/valuation?as_of=2025-01-20", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	env := decode[report.Envelope](t, rec)
	assert.Equal(t, "2025-01-20", env.AsOf)
	assert.Equal(t, "USD", env.Currency)
	assert.Equal(t, 2, env.Count)
	assert.Equal(t, 1, env.Page)
	assert.Nil(t, env.Next)
	require.Len(t, env.Results, 2)

	a := env.Results[0]
	assert.Equal(t, "A001", a.SKU)
	assertDecimalString(t, "7", a.Quantity)
	assertDecimalString(t, "2.337143", a.AverageCost)
	assertDecimalString(t, "16.360001", a.TotalValuation)
	assertDecimalString(t, "3", a.LastEntryCost)
	assert.Equal(t, "$16.36", a.TotalValuationDisplay)

	b := env.Results[1]
	assert.Equal(t, "B002", b.SKU)
	assertDecimalString(t, "-3", b.Quantity)
	assertDecimalString(t, "-15", b.TotalValuation)
	assert.True(t, b.NegativeStock)

	assert.Equal(t, 1, env.Summary.NegativeStockItems)
}

func TestGetValuation_DefaultsToToday(t *testing.T) {
	ts := newTestServer(t).withReference(t)

	rec := ts.do(t, http.MethodGet, "/api/valuation", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2025-01-20", decode[report.Envelope](t, rec).AsOf)
}

func TestGetValuation_BeforeAnyMovement(t *testing.T) {
	// GIVEN: the reference ledger
	// WHEN: valuing the day before the first movement
	// THEN: every item is listed at zero

	ts := newTestServer(t).withReference(t)

	env := decode[report.Envelope](t, ts.do(t, http.MethodGet, "/api/valuation?as_of=2024-12-31", ""))
	require.Len(t, env.Results, 2)
	for _, row := range env.Results {
		assert.True(t, row.Quantity.IsZero(), row.SKU)
		assert.True(t, row.TotalValuation.IsZero(), row.SKU)
	}
}

func TestGetValuation_FiltersAndOrdering(t *testing.T) {
	ts := newTestServer(t).withReference(t)

	t.Run("sku filter is case-insensitive", func(t *testing.T) {
		env := decode[report.Envelope](t, ts.do(t, http.MethodGet, "/api/valuation?as_of=2025-01-20&sku=a0", ""))
		require.Len(t, env.Results, 1)
		assert.Equal(t, "A001", env.Results[0].SKU)
	})

	t.Run("description filter", func(t *testing.T) {
		env := decode[report.Envelope](t, ts.do(t, http.MethodGet, "/api/valuation?as_of=2025-01-20&description=PARAFUSO", ""))
		require.Len(t, env.Results, 1)
		assert.Equal(t, "B002", env.Results[0].SKU)
	})

	t.Run("only with stock drops zero quantity", func(t *testing.T) {
		env := decode[report.Envelope](t, ts.do(t, http.MethodGet, "/api/valuation?as_of=2025-01-02&only_with_stock=true", ""))
		require.Len(t, env.Results, 1)
		assert.Equal(t, "A001", env.Results[0].SKU)
	})

	t.Run("descending total", func(t *testing.T) {
		env := decode[report.Envelope](t, ts.do(t, http.MethodGet, "/api/valuation?as_of=2025-01-20&ordering=-total_valuation", ""))
		require.Len(t, env.Results, 2)
		assert.Equal(t, "A001", env.Results[0].SKU)
		assert.Equal(t, "B002", env.Results[1].SKU)
	})

	t.Run("page size and page", func(t *testing.T) {
		env := decode[report.Envelope](t, ts.do(t, http.MethodGet, "/api/valuation?as_of=2025-01-20&page_size=5&page=2", ""))
		assert.Equal(t, 2, env.Count)
		assert.Equal(t, 2, env.Page)
		assert.Empty(t, env.Results)
	})
}

func TestGetValuation_RejectsBadInput(t *testing.T) {
	tests := []struct {
		query string
		field string
	}{
		{"as_of=2025-13-01", "as_of"},
		{"as_of=yesterday", "as_of"},
		{"only_with_stock=maybe", "only_with_stock"},
		{"sku=" + strings.Repeat("x", 51), "sku"},
		{"ordering=price", "ordering"},
		{"page=0", "page"},
		{"page_size=7", "page_size"},
	}
	ts := newTestServer(t).withReference(t)
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := ts.do(t, http.MethodGet, "/api/valuation?"+tt.query, "")
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Equal(t, tt.field, decode[ErrorResponse](t, rec).Field)
		})
	}
}

func TestGetValuation_EmptyStore(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/valuation?as_of=2025-01-20", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"results":[]`)
	assert.Contains(t, rec.Body.String(), `"as_of":"2025-01-20"`)
}

// =============================================================================
// ITEMS
// =============================================================================

func TestGetItem_SnapshotAndCoverage(t *testing.T) {
	ts := newTestServer(t).withReference(t)

	rec := ts.do(t, http.MethodGet, "/api/items/A001?as_of=2025-01-20", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	dto := decode[ItemDetailDTO](t, rec)
	assert.Equal(t, "A001", dto.Snapshot.SKU)
	assertDecimalString(t, "16.36", dto.Snapshot.NetValue)
	assert.Equal(t, "A001", dto.Coverage.SKU)
	assert.Equal(t, string(valuation.CoverageEstimated), dto.Coverage.Status)
	assertDecimalString(t, "8", dto.Coverage.Consumed)
}

func TestGetItemCost_RoundsToCents(t *testing.T) {
	ts := newTestServer(t).withReference(t)

	rec := ts.do(t, http.MethodGet, "/api/items/A001/cost?as_of=2025-01-20", "")
	require.Equal(t, http.StatusOK, rec.Code)

	dto := decode[CostDTO](t, rec)
	assert.Equal(t, "2.34", dto.AverageCost)
	assert.Equal(t, "3.00", dto.LastEntryCost)
}

func TestGetItem_UnknownSKU(t *testing.T) {
	ts := newTestServer(t).withReference(t)

	for _, path := range []string{"/api/items/NOPE", "/api/items/NOPE/cost", "/api/items/NOPE/card", "/api/items/NOPE/availability?quantity=1"} {
		t.Run(path, func(t *testing.T) {
			rec := ts.do(t, http.MethodGet, path, "")
			assert.Equal(t, http.StatusNotFound, rec.Code, rec.Body.String())
		})
	}
}

func TestGetStockCard(t *testing.T) {
	// GIVEN: A001 with two entries and one exit
	// WHEN: requesting its card
	// THEN: lines follow sequence order with running totals

	ts := newTestServer(t).withReference(t)

	rec := ts.do(t, http.MethodGet, "/api/items/A001/card?as_of=2025-01-20", "")
	require.Equal(t, http.StatusOK, rec.Code)

	card := decode[CardDTO](t, rec)
	require.Len(t, card.Lines, 3)
	assert.Equal(t, "entry", card.Lines[0].Kind)
	assert.Equal(t, "NF-1001", card.Lines[0].DocumentRef)
	assertDecimalString(t, "10", card.Lines[0].RunningQty)
	assertDecimalString(t, "15", card.Lines[1].RunningQty)
	assert.Equal(t, "exit", card.Lines[2].Kind)
	assertDecimalString(t, "7", card.Lines[2].RunningQty)
	assertDecimalString(t, "16.36", card.Lines[2].RunningValue)
}

func TestGetAvailability(t *testing.T) {
	ts := newTestServer(t).withReference(t)

	t.Run("sufficient", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/api/items/A001/availability?quantity=7", "")
		require.Equal(t, http.StatusOK, rec.Code)
		dto := decode[AvailabilityDTO](t, rec)
		assert.True(t, dto.Sufficient)
		assert.True(t, dto.Shortfall.IsZero())
	})

	t.Run("short", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/api/items/A001/availability?quantity=10", "")
		require.Equal(t, http.StatusOK, rec.Code)
		dto := decode[AvailabilityDTO](t, rec)
		assert.False(t, dto.Sufficient)
		assertDecimalString(t, "3", dto.Shortfall)
	})

	t.Run("rejects non-positive quantity", func(t *testing.T) {
		for _, q := range []string{"0", "-1", "abc", ""} {
			rec := ts.do(t, http.MethodGet, "/api/items/A001/availability?quantity="+q, "")
			assert.Equal(t, http.StatusBadRequest, rec.Code, q)
		}
	})
}

func TestSaveItem(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPut, "/api/items/N100", `{"description": "Luva nitrilica", "unit": "cx"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decode[ItemDTO](t, rec).Active)

	rec = ts.do(t, http.MethodPut, "/api/items/N100", `{"description": "Luva nitrilica M", "unit": "cx", "active": false}`)
	require.Equal(t, http.StatusOK, rec.Code)

	item, err := ts.store.Item(context.Background(), "N100")
	require.NoError(t, err)
	assert.Equal(t, "Luva nitrilica M", item.Description)
	assert.False(t, item.Active)
}

func TestSaveItem_RejectsUnknownFields(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPut, "/api/items/N100", `{"description": "x", "price": 3}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestCreateTransaction(t *testing.T) {
	// GIVEN: the reference ledger
	// WHEN: posting a new A001 entry
	// THEN: it gets the next sequence and moves the valuation

	ts := newTestServer(t).withReference(t)

	rec := ts.do(t, http.MethodPost, "/api/transactions", `{
		"kind": "entry", "sku": "A001", "quantity": "3", "unit_value": "4.00",
		"occurred_on": "2025-01-18", "supplier_id": "F-100", "document_ref": "NF-1100"
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	tx := decode[TransactionDTO](t, rec)
	assert.Equal(t, int64(5), tx.Sequence)

	rec = ts.do(t, http.MethodGet, "/api/items/A001/cost?as_of=2025-01-20", "")
	assert.Equal(t, "4.00", decode[CostDTO](t, rec).LastEntryCost)
}

func TestCreateTransaction_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		field  string
	}{
		{
			name:   "malformed json",
			body:   `{"kind":`,
			status: http.StatusBadRequest,
		},
		{
			name:   "missing kind",
			body:   `{"sku": "A001", "quantity": "1", "unit_value": "1", "occurred_on": "2025-01-18"}`,
			status: http.StatusBadRequest,
			field:  "kind",
		},
		{
			name:   "bad date",
			body:   `{"kind": "exit", "sku": "A001", "quantity": "1", "unit_value": "1", "occurred_on": "18/01/2025"}`,
			status: http.StatusBadRequest,
			field:  "occurred_on",
		},
		{
			name:   "non-positive quantity",
			body:   `{"kind": "exit", "sku": "A001", "quantity": "0", "unit_value": "1", "occurred_on": "2025-01-18"}`,
			status: http.StatusBadRequest,
			field:  "quantity",
		},
		{
			name:   "too many decimals",
			body:   `{"kind": "exit", "sku": "A001", "quantity": "1.001", "unit_value": "1", "occurred_on": "2025-01-18"}`,
			status: http.StatusBadRequest,
			field:  "quantity",
		},
		{
			name:   "quantity past int64 cents",
			body:   `{"kind": "entry", "sku": "A001", "quantity": "184467440737095517.16", "unit_value": "1", "occurred_on": "2025-01-18"}`,
			status: http.StatusBadRequest,
			field:  "quantity",
		},
		{
			name:   "quantity above the ledger bound",
			body:   `{"kind": "entry", "sku": "A001", "quantity": "100000000000000000", "unit_value": "1", "occurred_on": "2025-01-18"}`,
			status: http.StatusBadRequest,
			field:  "quantity",
		},
		{
			name:   "unit value above the ledger bound",
			body:   `{"kind": "entry", "sku": "A001", "quantity": "1", "unit_value": "10000000.00", "occurred_on": "2025-01-18"}`,
			status: http.StatusBadRequest,
			field:  "unit_value",
		},
		{
			name:   "unknown item",
			body:   `{"kind": "exit", "sku": "ZZZ", "quantity": "1", "unit_value": "1", "occurred_on": "2025-01-18"}`,
			status: http.StatusNotFound,
		},
		{
			name:   "sequence already used",
			body:   `{"kind": "exit", "sku": "A001", "quantity": "1", "unit_value": "1", "occurred_on": "2025-01-18", "sequence": 2}`,
			status: http.StatusConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t).withReference(t)

			rec := ts.do(t, http.MethodPost, "/api/transactions", tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.field != "" {
				assert.Equal(t, tt.field, decode[ErrorResponse](t, rec).Field)
			}
		})
	}
}

// =============================================================================
// REPORTS
// =============================================================================

func TestListCoverage(t *testing.T) {
	ts := newTestServer(t).withReference(t)

	rec := ts.do(t, http.MethodGet, "/api/coverage?as_of=2025-01-20", "")
	require.Equal(t, http.StatusOK, rec.Code)

	list := decode[[]CoverageDTO](t, rec)
	require.Len(t, list, 2)
	assert.Equal(t, "A001", list[0].SKU)
	assert.Equal(t, string(valuation.CoverageNoStock), list[1].Status)
}

func TestGetIntegrity(t *testing.T) {
	ts := newTestServer(t).withReference(t)

	rec := ts.do(t, http.MethodGet, "/api/integrity?as_of=2025-01-20", "")
	require.Equal(t, http.StatusOK, rec.Code)

	dto := decode[IntegrityDTO](t, rec)
	assert.False(t, dto.Clean)
	assert.Equal(t, 2, dto.ItemsChecked)
	require.Len(t, dto.NegativeStock, 1)
	assert.Equal(t, "B002", dto.NegativeStock[0].SKU)
	assert.Empty(t, dto.OrphanSKUs)
}

// =============================================================================
// ERRORS
// =============================================================================

// brokenStore hides the memory store's ReadView so Items is reached.
type brokenStore struct {
	ledger.Store
}

func (brokenStore) Items(context.Context, ledger.ItemFilter) ([]ledger.Item, error) {
	return nil, assert.AnError
}

func TestHandleError_StoreFailureIs500(t *testing.T) {
	// GIVEN: a store whose registry listing fails
	// WHEN: requesting the report
	// THEN: the client sees a generic 500 without driver details

	engine := valuation.NewEngine(brokenStore{store.NewMemory()}, nil)
	h := NewHandler(engine, store.NewMemory(), "USD", nil)
	router := NewRouter(h, RouterOptions{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/valuation?as_of=2025-01-20", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "Internal error", resp.Error)
	assert.Empty(t, resp.Details)
}

func TestRouter_RateLimit(t *testing.T) {
	ts := newTestServer(t).withReference(t)
	router := NewRouter(ts.handler, RouterOptions{RateLimitPerMinute: 2})

	codes := make([]int, 3)
	for i := range codes {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/valuation?as_of=2025-01-20", nil))
		codes[i] = rec.Code
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}
