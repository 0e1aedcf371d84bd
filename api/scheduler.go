/*
scheduler.go - Automated ledger integrity checks

PURPOSE:
  Periodically runs the integrity report (negative stock, orphan SKUs) and
  keeps the most recent runs for the UI. Anomalies are logged as warnings
  by the engine on every run.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - First check runs immediately on Start
  - Keeps the last MaxRuns results in memory, newest first

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewIntegrityScheduler(engine, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: GetIntegrity endpoint (on demand check)
  - valuation/integrity.go: The report itself
*/
package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/warp/stock-valuation/ledger"
	"github.com/warp/stock-valuation/valuation"
)

// MaxRuns is how many integrity runs the scheduler remembers.
const MaxRuns = 20

// IntegrityRun records one scheduled check.
type IntegrityRun struct {
	StartedAt     time.Time `json:"started_at"`
	CompletedAt   time.Time `json:"completed_at"`
	Status        string    `json:"status"` // "clean", "anomalies" or "failed"
	ItemsChecked  int       `json:"items_checked"`
	NegativeStock []string  `json:"negative_stock"`
	OrphanSKUs    []string  `json:"orphan_skus"`
	Error         string    `json:"error,omitempty"`
}

// IntegrityScheduler runs Engine.Integrity on a timer.
type IntegrityScheduler struct {
	Engine        *valuation.Engine
	Logger        *slog.Logger
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	runsMu sync.RWMutex
	runs   []IntegrityRun
}

// NewIntegrityScheduler creates a new scheduler.
func NewIntegrityScheduler(engine *valuation.Engine, logger *slog.Logger) *IntegrityScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &IntegrityScheduler{
		Engine:        engine,
		Logger:        logger,
		CheckInterval: time.Hour,
		Enabled:       true,
	}
}

// Start begins the scheduler.
func (s *IntegrityScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled || s.CheckInterval <= 0 {
		s.Logger.Info("integrity scheduler disabled")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)

	go s.run()

	s.Logger.Info("integrity scheduler started", "interval", s.CheckInterval)
}

// Stop stops the scheduler and waits for a running check to finish.
func (s *IntegrityScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		s.Logger.Info("integrity scheduler stopped")
	}
}

func (s *IntegrityScheduler) run() {
	defer s.wg.Done()

	// Run immediately on start
	s.RunNow(context.Background())

	for {
		select {
		case <-s.ticker.C:
			s.RunNow(context.Background())
		case <-s.stop:
			return
		}
	}
}

// RunNow performs one check as of today and records it.
func (s *IntegrityScheduler) RunNow(ctx context.Context) IntegrityRun {
	run := IntegrityRun{StartedAt: time.Now()}

	rep, err := s.Engine.Integrity(ctx, ledger.Date{})
	run.CompletedAt = time.Now()
	switch {
	case err != nil:
		run.Status = "failed"
		run.Error = err.Error()
		s.Logger.Error("integrity check failed", "error", err)
	default:
		run.ItemsChecked = rep.ItemsChecked
		run.NegativeStock = make([]string, len(rep.NegativeStock))
		for i, snap := range rep.NegativeStock {
			run.NegativeStock[i] = string(snap.SKU())
		}
		run.OrphanSKUs = make([]string, len(rep.OrphanSKUs))
		for i, sku := range rep.OrphanSKUs {
			run.OrphanSKUs[i] = string(sku)
		}
		run.Status = "clean"
		if !rep.Clean() {
			run.Status = "anomalies"
		}
		s.Logger.Debug("integrity check completed",
			"status", run.Status,
			"items", run.ItemsChecked,
			"duration", run.CompletedAt.Sub(run.StartedAt))
	}

	s.record(run)
	return run
}

func (s *IntegrityScheduler) record(run IntegrityRun) {
	s.runsMu.Lock()
	defer s.runsMu.Unlock()

	s.runs = append([]IntegrityRun{run}, s.runs...)
	if len(s.runs) > MaxRuns {
		s.runs = s.runs[:MaxRuns]
	}
}

// Runs returns the recorded runs, newest first.
func (s *IntegrityScheduler) Runs() []IntegrityRun {
	s.runsMu.RLock()
	defer s.runsMu.RUnlock()

	out := make([]IntegrityRun, len(s.runs))
	copy(out, s.runs)
	return out
}

// ListRuns serves the recorded runs.
// GET /api/integrity/runs
func (s *IntegrityScheduler) ListRuns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Runs())
}
