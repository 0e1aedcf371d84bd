// Package store opens the ledger backend named by the configuration.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/warp/stock-valuation/config"
	"github.com/warp/stock-valuation/ledger"
	memstore "github.com/warp/stock-valuation/ledger/store"
	"github.com/warp/stock-valuation/store/postgres"
	"github.com/warp/stock-valuation/store/sqlite"
)

// Store is a ledger backend that can also be wiped, for demo data loading.
type Store interface {
	ledger.Store
	Reset(ctx context.Context) error
}

// Open connects to cfg.StoreDriver. The returned func releases it.
func Open(ctx context.Context, cfg *config.Config) (Store, func() error, error) {
	switch cfg.StoreDriver {
	case config.DriverMemory:
		return memstore.NewMemory(), func() error { return nil }, nil

	case config.DriverSQLite:
		if cfg.SQLitePath != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
				return nil, nil, fmt.Errorf("store: create data directory: %w", err)
			}
		}
		s, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil

	case config.DriverPostgres:
		s, err := postgres.New(ctx, cfg.PGDSN)
		if err != nil {
			return nil, nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, nil, err
		}
		return s, func() error { s.Close(); return nil }, nil

	default:
		return nil, nil, fmt.Errorf("store: unknown driver %q", cfg.StoreDriver)
	}
}
