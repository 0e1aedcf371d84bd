/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address for rate limiting
  3. Logger:     Request logging
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. Timeout:    Request context deadline
  6. CORS:       Cross-origin requests for frontend

  Report routes (valuation, coverage, integrity) are additionally rate
  limited per client IP; each call replays the ledger for every item.

ROUTE GROUPS:
  /api/valuation, /api/coverage, /api/integrity   Reports
  /api/integrity/runs                             Scheduled integrity checks
  /api/items/*                                    Per-item views, catalog writes
  /api/transactions                               Ledger appends
  /api/scenarios/*                                Demo scenarios

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
)

// RouterOptions carries the configurable parts of the middleware stack.
// Zero values disable the corresponding middleware.
type RouterOptions struct {
	AllowedOrigins     []string
	RateLimitPerMinute int
	RequestTimeout     time.Duration

	// Scheduler, when set, exposes its recorded integrity runs.
	Scheduler *IntegrityScheduler
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if opts.RequestTimeout > 0 {
		r.Use(middleware.Timeout(opts.RequestTimeout))
		if h.SharedTimeout == 0 {
			h.SharedTimeout = opts.RequestTimeout
		}
	}
	if len(opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID"},
			MaxAge:         300,
		}))
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		// Report routes
		r.Group(func(r chi.Router) {
			if opts.RateLimitPerMinute > 0 {
				r.Use(httprate.Limit(opts.RateLimitPerMinute, time.Minute,
					httprate.WithKeyFuncs(httprate.KeyByIP),
					httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
						writeError(w, http.StatusTooManyRequests, "Rate limit exceeded", nil)
					}),
				))
			}
			r.Get("/valuation", h.GetValuation)
			r.Get("/coverage", h.ListCoverage)
			r.Get("/integrity", h.GetIntegrity)
		})
		if opts.Scheduler != nil {
			r.Get("/integrity/runs", opts.Scheduler.ListRuns)
		}

		// Item routes
		r.Route("/items/{sku}", func(r chi.Router) {
			r.Get("/", h.GetItem)
			r.Put("/", h.SaveItem)
			r.Get("/cost", h.GetItemCost)
			r.Get("/card", h.GetStockCard)
			r.Get("/availability", h.GetAvailability)
		})

		// Transaction routes
		r.Post("/transactions", h.CreateTransaction)

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetStore)
		})
	})

	return r
}
