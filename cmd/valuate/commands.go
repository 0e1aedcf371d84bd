package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/google/subcommands"

	"github.com/warp/stock-valuation/factory"
	"github.com/warp/stock-valuation/ledger"
	"github.com/warp/stock-valuation/report"
	"github.com/warp/stock-valuation/valuation"
)

// errDirty makes check exit non-zero without printing an error line.
var errDirty = errors.New("ledger has anomalies")

// execute opens the store, runs fn and maps its error to an exit status.
func execute(ctx context.Context, fn func(context.Context, *env, io.Writer) error) subcommands.ExitStatus {
	e, err := openEnv(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
		return subcommands.ExitFailure
	}
	defer e.Close()

	err = fn(ctx, e, os.Stdout)
	var inputErr *valuation.InputError
	switch {
	case err == nil:
		return subcommands.ExitSuccess
	case errors.Is(err, errDirty):
		return subcommands.ExitFailure
	case errors.As(err, &inputErr):
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// =============================================================================
// snapshot
// =============================================================================

type snapshotCmd struct {
	date        string
	sku         string
	description string
	withStock   bool
	onlyActive  bool
	ordering    string
	json        bool
}

func (*snapshotCmd) Name() string     { return "snapshot" }
func (*snapshotCmd) Synopsis() string { return "value every item at a date" }
func (*snapshotCmd) Usage() string {
	return `valuate snapshot [-d <date>] [-sku <text>] [-desc <text>] [-with-stock] [-active] [-o <ordering>] [-json]

  Prints quantity on hand, weighted-average cost and total valuation of
  every matching item, as of the end of the given day (default today).
`
}

func (c *snapshotCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.date, "d", "", "as-of date (YYYY-MM-DD), default today")
	f.StringVar(&c.sku, "sku", "", "case-insensitive SKU substring")
	f.StringVar(&c.description, "desc", "", "case-insensitive description substring")
	f.BoolVar(&c.withStock, "with-stock", false, "skip items whose quantity is zero")
	f.BoolVar(&c.onlyActive, "active", false, "only active items")
	f.StringVar(&c.ordering, "o", "", "ordering, e.g. -total_valuation,sku")
	f.BoolVar(&c.json, "json", false, "print the report envelope as JSON")
}

func (c *snapshotCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return execute(ctx, c.run)
}

func (c *snapshotCmd) run(ctx context.Context, e *env, w io.Writer) error {
	q, err := valuation.ParseQuery(valuation.RawQuery{
		AsOf:          c.date,
		SKU:           c.sku,
		Description:   c.description,
		OnlyWithStock: fmt.Sprint(c.withStock),
		OnlyActive:    fmt.Sprint(c.onlyActive),
	})
	if err != nil {
		return err
	}
	opts, err := report.ParseOptions(report.RawOptions{Ordering: c.ordering}, e.cfg.Currency)
	if err != nil {
		return err
	}

	q.AsOf = e.engine.ResolveAsOf(q.AsOf)
	snaps, err := e.engine.ComputeSnapshots(ctx, q)
	if err != nil {
		return err
	}

	// One page holding everything.
	opts.PageSize = max(len(snaps), 1)
	rep := report.Assemble(snaps, opts)
	rep.AsOf = q.AsOf.String()

	if c.json {
		return writeJSON(w, rep)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "SKU\tDESCRIPTION\tQTY\tUNIT\tAVG COST\tTOTAL\tLAST ENTRY\t")
	for _, row := range rep.Results {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t\n",
			row.SKU, row.Description, row.Quantity.String(), row.Unit,
			row.AverageCost.String(), row.TotalValuationDisplay, row.LastEntryCostDisplay)
	}
	fmt.Fprintf(tw, "\t%d items\t%s\t\t\t%s\t\t\n",
		rep.Summary.Items, rep.Summary.TotalQuantity.String(), rep.Summary.TotalValuationDisplay)
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "as of %s\n", rep.AsOf)
	return nil
}

// =============================================================================
// card
// =============================================================================

type cardCmd struct {
	date string
	json bool
}

func (*cardCmd) Name() string     { return "card" }
func (*cardCmd) Synopsis() string { return "print the stock card of one item" }
func (*cardCmd) Usage() string {
	return `valuate card [-d <date>] [-json] <sku>

  Prints every movement of the item up to the date, in ledger order, with
  the running quantity, value and average cost after each one.
`
}

func (c *cardCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.date, "d", "", "as-of date (YYYY-MM-DD), default today")
	f.BoolVar(&c.json, "json", false, "print as JSON")
}

func (c *cardCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "card needs exactly one SKU")
		return subcommands.ExitUsageError
	}
	sku := ledger.SKU(f.Arg(0))
	return execute(ctx, func(ctx context.Context, e *env, w io.Writer) error {
		return c.run(ctx, e, w, sku)
	})
}

func (c *cardCmd) run(ctx context.Context, e *env, w io.Writer, sku ledger.SKU) error {
	q, err := valuation.ParseQuery(valuation.RawQuery{AsOf: c.date})
	if err != nil {
		return err
	}
	card, err := e.engine.StockCard(ctx, sku, q.AsOf)
	if err != nil {
		return err
	}

	if c.json {
		return writeJSON(w, card)
	}

	fmt.Fprintf(w, "%s  %s  (as of %s)\n", card.Item.SKU, card.Item.Description, card.AsOf)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "SEQ\tDATE\tIN\tOUT\tUNIT VALUE\tQTY\tVALUE\tAVG COST\t")
	for _, l := range card.Lines {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t\n",
			l.Transaction.Sequence, l.Transaction.OccurredOn,
			blankZero(l.QtyIn.String()), blankZero(l.QtyOut.String()),
			l.Transaction.UnitValue.StringFixed(ledger.Scale),
			l.RunningQty.String(), l.RunningValue.String(), l.AverageCost.String())
	}
	return tw.Flush()
}

func blankZero(s string) string {
	if s == "0" {
		return ""
	}
	return s
}

// =============================================================================
// coverage
// =============================================================================

type coverageCmd struct {
	date      string
	withStock bool
	json      bool
}

func (*coverageCmd) Name() string     { return "coverage" }
func (*coverageCmd) Synopsis() string { return "estimate how long stock on hand lasts" }
func (*coverageCmd) Usage() string {
	return `valuate coverage [-d <date>] [-with-stock] [-json]

  Divides quantity on hand by the average daily consumption of the last
  three months.
`
}

func (c *coverageCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.date, "d", "", "as-of date (YYYY-MM-DD), default today")
	f.BoolVar(&c.withStock, "with-stock", false, "skip items whose quantity is zero")
	f.BoolVar(&c.json, "json", false, "print as JSON")
}

func (c *coverageCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return execute(ctx, c.run)
}

func (c *coverageCmd) run(ctx context.Context, e *env, w io.Writer) error {
	q, err := valuation.ParseQuery(valuation.RawQuery{AsOf: c.date, OnlyWithStock: fmt.Sprint(c.withStock)})
	if err != nil {
		return err
	}
	list, err := e.engine.Coverage(ctx, q)
	if err != nil {
		return err
	}

	if c.json {
		return writeJSON(w, list)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SKU\tQTY\tCONSUMED (90d)\tCOVERAGE\t")
	for _, cov := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t\n", cov.Item.SKU, cov.Quantity, cov.Consumed, cov.Label)
	}
	return tw.Flush()
}

// =============================================================================
// check
// =============================================================================

type checkCmd struct {
	date string
}

func (*checkCmd) Name() string     { return "check" }
func (*checkCmd) Synopsis() string { return "report negative stock and orphan SKUs" }
func (*checkCmd) Usage() string {
	return `valuate check [-d <date>]

  Exits non-zero when any item has negative stock or any transaction
  references a SKU missing from the catalog.
`
}

func (c *checkCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.date, "d", "", "as-of date (YYYY-MM-DD), default today")
}

func (c *checkCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return execute(ctx, c.run)
}

func (c *checkCmd) run(ctx context.Context, e *env, w io.Writer) error {
	q, err := valuation.ParseQuery(valuation.RawQuery{AsOf: c.date})
	if err != nil {
		return err
	}
	rep, err := e.engine.Integrity(ctx, q.AsOf)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "checked %d items as of %s\n", rep.ItemsChecked, rep.AsOf)
	for _, s := range rep.NegativeStock {
		fmt.Fprintf(w, "negative stock: %s quantity %s\n", s.SKU(), s.CurrentQty)
	}
	for _, sku := range rep.OrphanSKUs {
		fmt.Fprintf(w, "orphan sku: %s\n", sku)
	}
	if !rep.Clean() {
		return errDirty
	}
	fmt.Fprintln(w, "ok")
	return nil
}

// =============================================================================
// seed
// =============================================================================

type seedCmd struct {
	file  string
	reset bool
}

func (*seedCmd) Name() string     { return "seed" }
func (*seedCmd) Synopsis() string { return "load a demo scenario into the store" }
func (*seedCmd) Usage() string {
	return `valuate seed [-reset] <scenario> | valuate seed [-reset] -f <file.json>

  Loads a built-in scenario by id, or a scenario JSON file.
`
}

func (c *seedCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.file, "f", "", "scenario JSON file")
	f.BoolVar(&c.reset, "reset", true, "clear the store first")
}

func (c *seedCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if (c.file == "") == (f.NArg() == 0) {
		fmt.Fprintf(os.Stderr, "seed needs a scenario id or -f, one of: %v\n", factory.BuiltinIDs())
		return subcommands.ExitUsageError
	}
	return execute(ctx, func(ctx context.Context, e *env, w io.Writer) error {
		return c.run(ctx, e, w, f.Arg(0))
	})
}

func (c *seedCmd) run(ctx context.Context, e *env, w io.Writer, id string) error {
	f := factory.NewScenarioFactory(e.engine.ResolveAsOf(ledger.Date{}))

	var (
		sc  factory.Scenario
		err error
	)
	if c.file != "" {
		data, rerr := os.ReadFile(c.file)
		if rerr != nil {
			return rerr
		}
		sc, err = f.Parse(data)
	} else {
		sc, err = f.Builtin(id)
	}
	if err != nil {
		return err
	}

	if c.reset {
		if err := e.store.Reset(ctx); err != nil {
			return err
		}
	}
	if err := factory.Load(ctx, e.store, sc); err != nil {
		return err
	}
	fmt.Fprintf(w, "loaded %s: %d items, %d transactions\n", sc.ID, len(sc.Items), len(sc.Transactions))
	return nil
}
