/*
handlers.go - HTTP API handlers for the stock valuation engine

PURPOSE:
  Exposes the valuation engine via REST API. Handles HTTP request/response,
  query parsing and JSON serialization, and delegates to package valuation.

ENDPOINTS:
  Valuation:
    GET    /api/valuation                    Point-in-time valuation report
    GET    /api/coverage                     Coverage estimate per item
    GET    /api/integrity                    Negative stock / orphan SKUs
    GET    /api/integrity/runs               Scheduled checks (scheduler.go)

  Items:
    GET    /api/items/{sku}                  Snapshot + coverage
    PUT    /api/items/{sku}                  Create or replace catalog entry
    GET    /api/items/{sku}/cost             Average and last entry cost (2 dp)
    GET    /api/items/{sku}/card             Stock card
    GET    /api/items/{sku}/availability     ?quantity= check against on hand

  Ledger:
    POST   /api/transactions                 Append an entry or exit

  Scenarios:
    GET    /api/scenarios                    List demo scenarios
    GET    /api/scenarios/current            Currently loaded scenario
    POST   /api/scenarios/load               Load a demo scenario
    POST   /api/scenarios/reset              Clear the store

QUERY PARAMETERS (valuation, coverage):
  as_of, sku, description, only_with_stock, only_active
  ordering, page, page_size (valuation only)

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Unknown SKU
  - 409: Sequence conflict
  - 500: Store failures

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/warp/stock-valuation/ledger"
	"github.com/warp/stock-valuation/report"
	"github.com/warp/stock-valuation/valuation"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is the persistence the API needs: the ledger plus Reset for
// scenario loading.
type Store interface {
	ledger.Store
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine   *valuation.Engine
	Store    Store
	Currency string
	Logger   *slog.Logger

	// Identical concurrent valuation requests share one computation.
	// SharedTimeout bounds it; zero means defaultSharedTimeout.
	flight        singleflight.Group
	SharedTimeout time.Duration

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler. The engine must read from store.
func NewHandler(engine *valuation.Engine, store Store, currency string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Engine:   engine,
		Store:    store,
		Currency: currency,
		Logger:   logger,
	}
}

// =============================================================================
// VALUATION HANDLERS
// =============================================================================

// GetValuation returns the paginated valuation report.
// GET /api/valuation
func (h *Handler) GetValuation(w http.ResponseWriter, r *http.Request) {
	q, err := valuation.ParseQuery(rawQuery(r))
	if err != nil {
		h.handleError(w, err)
		return
	}
	opts, err := report.ParseOptions(report.RawOptions{
		Ordering: r.URL.Query().Get("ordering"),
		Page:     r.URL.Query().Get("page"),
		PageSize: r.URL.Query().Get("page_size"),
	}, h.Currency)
	if err != nil {
		h.handleError(w, err)
		return
	}

	// Pin "today" before keying so coalesced callers agree on the date.
	q.AsOf = h.Engine.ResolveAsOf(q.AsOf)

	snaps, shared, err := h.computeShared(r.Context(), q)
	if err != nil {
		h.handleError(w, err)
		return
	}
	if shared {
		h.Logger.Debug("valuation result shared", "key", q.Key())
	}

	env := report.Assemble(snaps, opts)
	env.AsOf = q.AsOf.String()
	writeJSON(w, http.StatusOK, env)
}

// ListCoverage returns the coverage estimate of every matching item.
// GET /api/coverage
func (h *Handler) ListCoverage(w http.ResponseWriter, r *http.Request) {
	q, err := valuation.ParseQuery(rawQuery(r))
	if err != nil {
		h.handleError(w, err)
		return
	}

	list, err := h.Engine.Coverage(r.Context(), q)
	if err != nil {
		h.handleError(w, err)
		return
	}

	dtos := make([]CoverageDTO, len(list))
	for i, c := range list {
		dtos[i] = toCoverageDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetIntegrity reports ledger anomalies.
// GET /api/integrity
func (h *Handler) GetIntegrity(w http.ResponseWriter, r *http.Request) {
	asOf, err := parseAsOf(r)
	if err != nil {
		h.handleError(w, err)
		return
	}

	rep, err := h.Engine.Integrity(r.Context(), asOf)
	if err != nil {
		h.handleError(w, err)
		return
	}

	dto := IntegrityDTO{
		AsOf:          rep.AsOf.String(),
		ItemsChecked:  rep.ItemsChecked,
		Clean:         rep.Clean(),
		NegativeStock: make([]SnapshotDTO, len(rep.NegativeStock)),
		OrphanSKUs:    make([]string, len(rep.OrphanSKUs)),
	}
	for i, s := range rep.NegativeStock {
		dto.NegativeStock[i] = toSnapshotDTO(s, h.Currency)
	}
	for i, sku := range rep.OrphanSKUs {
		dto.OrphanSKUs[i] = string(sku)
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// ITEM HANDLERS
// =============================================================================

// GetItem returns the snapshot and coverage of one item, computed
// concurrently.
// GET /api/items/{sku}
func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	sku := ledger.SKU(chi.URLParam(r, "sku"))
	asOf, err := parseAsOf(r)
	if err != nil {
		h.handleError(w, err)
		return
	}
	asOf = h.Engine.ResolveAsOf(asOf)

	var (
		snap     valuation.Snapshot
		coverage valuation.Coverage
	)
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		s, err := h.Engine.ItemCost(ctx, sku, asOf)
		if err != nil {
			return err
		}
		snap = s
		return nil
	})
	g.Go(func() error {
		c, err := h.Engine.CoverageFor(ctx, sku, asOf)
		if err != nil {
			return err
		}
		coverage = c
		return nil
	})
	if err := g.Wait(); err != nil {
		h.handleError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ItemDetailDTO{
		Snapshot: toSnapshotDTO(snap, h.Currency),
		Coverage: toCoverageDTO(coverage),
	})
}

// GetItemCost returns the average and last entry cost of one item.
// GET /api/items/{sku}/cost
func (h *Handler) GetItemCost(w http.ResponseWriter, r *http.Request) {
	sku := ledger.SKU(chi.URLParam(r, "sku"))
	asOf, err := parseAsOf(r)
	if err != nil {
		h.handleError(w, err)
		return
	}

	snap, err := h.Engine.ItemCost(r.Context(), sku, asOf)
	if err != nil {
		h.handleError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, CostDTO{
		SKU:           string(snap.Item.SKU),
		AsOf:          snap.AsOf.String(),
		AverageCost:   snap.AverageCost.StringFixed(2),
		LastEntryCost: snap.LastEntryCost.StringFixed(2),
	})
}

// GetStockCard returns the running ledger of one item.
// GET /api/items/{sku}/card
func (h *Handler) GetStockCard(w http.ResponseWriter, r *http.Request) {
	sku := ledger.SKU(chi.URLParam(r, "sku"))
	asOf, err := parseAsOf(r)
	if err != nil {
		h.handleError(w, err)
		return
	}

	card, err := h.Engine.StockCard(r.Context(), sku, asOf)
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCardDTO(card))
}

// GetAvailability checks a requested exit quantity against stock on hand.
// GET /api/items/{sku}/availability?quantity=
func (h *Handler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	sku := ledger.SKU(chi.URLParam(r, "sku"))
	qty, err := valuation.ParseQuantity("quantity", r.URL.Query().Get("quantity"))
	if err != nil {
		h.handleError(w, err)
		return
	}

	a, err := h.Engine.CheckAvailability(r.Context(), sku, qty)
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AvailabilityDTO{
		SKU:         string(a.Item.SKU),
		OnHand:      a.OnHand,
		Requested:   a.Requested,
		Shortfall:   a.Shortfall,
		Sufficient:  a.Sufficient,
		AverageCost: a.AverageCost,
	})
}

// SaveItem creates or replaces a catalog entry. Active defaults to true.
// PUT /api/items/{sku}
func (h *Handler) SaveItem(w http.ResponseWriter, r *http.Request) {
	sku := chi.URLParam(r, "sku")
	if len(sku) > valuation.MaxSKULength {
		h.handleError(w, &valuation.InputError{Field: "sku", Value: sku, Reason: "must be at most 50 characters"})
		return
	}

	var req SaveItemRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	item := ledger.Item{
		SKU:         ledger.SKU(sku),
		Description: req.Description,
		Unit:        req.Unit,
		Active:      req.Active == nil || *req.Active,
	}
	if err := h.Store.SaveItem(r.Context(), item); err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ItemDTO{
		SKU:         string(item.SKU),
		Description: item.Description,
		Unit:        item.Unit,
		Active:      item.Active,
	})
}

// =============================================================================
// LEDGER HANDLERS
// =============================================================================

// CreateTransaction appends one entry or exit for a registered item.
// POST /api/transactions
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req CreateTransactionRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	tx, err := req.toTransaction()
	if err != nil {
		h.handleError(w, err)
		return
	}

	ctx := r.Context()
	if _, err := h.Store.Item(ctx, tx.SKU); err != nil {
		h.handleError(w, err)
		return
	}

	stored, err := h.Store.Append(ctx, tx)
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(stored))
}

// =============================================================================
// HELPERS
// =============================================================================

func rawQuery(r *http.Request) valuation.RawQuery {
	v := r.URL.Query()
	return valuation.RawQuery{
		AsOf:          v.Get("as_of"),
		SKU:           v.Get("sku"),
		Description:   v.Get("description"),
		OnlyWithStock: v.Get("only_with_stock"),
		OnlyActive:    v.Get("only_active"),
	}
}

func parseAsOf(r *http.Request) (ledger.Date, error) {
	q, err := valuation.ParseQuery(valuation.RawQuery{AsOf: r.URL.Query().Get("as_of")})
	if err != nil {
		return ledger.Date{}, err
	}
	return q.AsOf, nil
}

// decodeAndValidate reads a JSON body into dst and runs its struct tags.
// It writes the error response itself and reports whether to continue.
func (h *Handler) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := valuation.ValidateStruct(dst); err != nil {
		h.handleError(w, err)
		return false
	}
	return true
}

// statusClientClosedRequest is nginx's nonstandard code for a client that
// disconnected before the response was written.
const statusClientClosedRequest = 499

// handleError maps domain errors to HTTP statuses.
func (h *Handler) handleError(w http.ResponseWriter, err error) {
	var inputErr *valuation.InputError
	var invalidTx *ledger.InvalidTransactionError

	switch {
	case errors.As(err, &inputErr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid input", Field: inputErr.Field, Details: inputErr.Error()})
	case errors.As(err, &invalidTx):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid transaction", Field: invalidTx.Field, Details: invalidTx.Error()})
	case errors.Is(err, ledger.ErrSequenceConflict):
		writeError(w, http.StatusConflict, "Sequence conflict", err)
	case valuation.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Item not found", err)
	case valuation.IsClientError(err):
		writeError(w, http.StatusBadRequest, "Invalid request", err)
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "Request timed out", nil)
	case errors.Is(err, context.Canceled):
		// Client went away; nobody reads the body.
		w.WriteHeader(statusClientClosedRequest)
	default:
		h.Logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal error", nil)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
