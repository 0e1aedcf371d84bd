// Command valuate runs valuation reports against the configured store
// from the command line.
//
//	valuate snapshot -d 2025-01-20 -with-stock
//	valuate card -d 2025-01-20 A001
//	valuate coverage
//	valuate check
//	valuate seed reference
//
// Store selection follows the server's environment (STORE_DRIVER,
// SQLITE_PATH, PG_DSN); -driver and -db override it.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path"

	"github.com/google/subcommands"

	"github.com/warp/stock-valuation/config"
	"github.com/warp/stock-valuation/store"
	"github.com/warp/stock-valuation/valuation"
)

var (
	driverFlag = flag.String("driver", "", "Store driver: sqlite, postgres or memory (overrides STORE_DRIVER)")
	dbFlag     = flag.String("db", "", "SQLite database path (overrides SQLITE_PATH)")
)

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")

	commander.Register(&snapshotCmd{}, "reports")
	commander.Register(&cardCmd{}, "reports")
	commander.Register(&coverageCmd{}, "reports")
	commander.Register(&checkCmd{}, "reports")
	commander.Register(&seedCmd{}, "data")

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}

// env is what every command needs: configuration, an open store and an
// engine reading from it.
type env struct {
	cfg    *config.Config
	store  store.Store
	engine *valuation.Engine
	close  func() error
}

func openEnv(ctx context.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if *driverFlag != "" {
		cfg.StoreDriver = *driverFlag
	}
	if *dbFlag != "" {
		cfg.SQLitePath = *dbFlag
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Reports go to stdout; logs stay on stderr.
	logger := config.NewLoggerTo(cfg, os.Stderr)

	st, closeFn, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	engine := valuation.NewEngine(st, logger)
	engine.Policy = cfg.Policy()
	return &env{cfg: cfg, store: st, engine: engine, close: closeFn}, nil
}

func (e *env) Close() {
	if err := e.close(); err != nil {
		fmt.Fprintf(os.Stderr, "Error closing store: %v\n", err)
	}
}
