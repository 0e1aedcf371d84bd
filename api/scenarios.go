/*
scenarios.go - Demo scenario loading over HTTP

PURPOSE:

	Loads the embedded data sets from package factory into the running
	store, so the API can be explored without hand-entering movements.

AVAILABLE SCENARIOS:

	reference:       A001 (two purchases, one issue) and B002 (issued before any purchase)
	negative-stock:  Negative balances, an inactive item and an orphan SKU
	busy-warehouse:  Six months of movements, every coverage bucket

HOW SCENARIOS WORK:
 1. Reset the store (clear all data)
 2. Parse the scenario JSON, resolving days_ago against today
 3. Save items, then append every transaction in one batch

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "reference"}

NOTE:

	Scenarios reset the store. Only use in development/demo environments.
	Reset and load are separate steps: a valuation running meanwhile may see
	an empty or partly loaded store, and a failed load leaves it empty with
	no current scenario.

SEE ALSO:
  - factory/scenario.go: JSON format and loader
*/
package api

import (
	"context"
	"net/http"

	"github.com/warp/stock-valuation/factory"
	"github.com/warp/stock-valuation/ledger"
)

// ListScenarios returns the available demo scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	f := factory.NewScenarioFactory(h.Engine.ResolveAsOf(ledger.Date{}))
	ids := factory.BuiltinIDs()

	out := make([]ScenarioDTO, 0, len(ids))
	for _, id := range ids {
		sc, err := f.Builtin(id)
		if err != nil {
			h.handleError(w, err)
			return
		}
		out = append(out, ScenarioDTO{ID: sc.ID, Name: sc.Name, Description: sc.Description})
	}
	writeJSON(w, http.StatusOK, out)
}

// GetCurrentScenario returns the id of the last loaded scenario.
// GET /api/scenarios/current
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"scenario_id": current})
}

// LoadScenario resets the store and loads a scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	sc, err := factory.NewScenarioFactory(h.Engine.ResolveAsOf(ledger.Date{})).Builtin(req.ScenarioID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Unknown scenario", err)
		return
	}

	// One load at a time; a concurrent reset would interleave batches.
	h.mu.Lock()
	defer h.mu.Unlock()

	// A client leaving mid-load must not strand a half-loaded store.
	ctx := context.WithoutCancel(r.Context())
	if err := h.Store.Reset(ctx); err != nil {
		h.handleError(w, err)
		return
	}
	h.currentScenario = ""
	if err := factory.Load(ctx, h.Store, sc); err != nil {
		h.handleError(w, err)
		return
	}
	h.currentScenario = sc.ID

	h.Logger.Info("scenario loaded",
		"scenario", sc.ID,
		"items", len(sc.Items),
		"transactions", len(sc.Transactions))

	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "loaded",
		"scenario_id":  sc.ID,
		"items":        len(sc.Items),
		"transactions": len(sc.Transactions),
	})
}

// ResetStore clears every item and transaction.
// POST /api/scenarios/reset
func (h *Handler) ResetStore(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(r.Context()); err != nil {
		h.handleError(w, err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}
