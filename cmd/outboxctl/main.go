// Package main provides outboxctl, a maintenance tool for the persisted
// outbox snapshot. It talks to the configured backend directly, so it can
// inspect a terminal's queue while the desktop server is stopped.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/tablepos/terminal/internal/config"
	"github.com/tablepos/terminal/internal/logging"
	"github.com/tablepos/terminal/internal/outbox/persistence"
	"github.com/tablepos/terminal/internal/outbox/queue"
)

// Version is set at build time
var Version = "0.1.0"

const usage = `Usage: outboxctl [flags] <command>

Commands:
  list     print pending operations in replay order
  stats    print queue counts by priority and type
  clear    drop every pending operation
  version  print the tool version
`

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "outboxctl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	flags := config.Flags("outboxctl")
	asJSON := flags.Bool("json", false, "Print machine-readable JSON")
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flags.PrintDefaults()
	}
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		return fmt.Errorf("expected exactly one command, see --help")
	}

	command := flags.Arg(0)
	if command == "version" {
		fmt.Fprintf(out, "outboxctl v%s\n", Version)
		return nil
	}

	path, _ := flags.GetString("config")
	cfg, err := config.Load(path, flags)
	if err != nil {
		return err
	}
	logging.Init(os.Stderr, logging.ParseLevel(cfg.LogLevel))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, closeFn, err := persistence.Open(ctx, cfg.PersistenceSpec())
	if err != nil {
		return err
	}
	defer closeFn()

	switch command {
	case "list":
		return list(ctx, store, out, *asJSON)
	case "stats":
		return stats(ctx, store, out, *asJSON)
	case "clear":
		return clear(ctx, store, out)
	}
	return fmt.Errorf("unknown command %q", command)
}

func list(ctx context.Context, store persistence.QueuePersistence, out io.Writer, asJSON bool) error {
	items, err := store.Load(ctx)
	if err != nil {
		return err
	}
	ordered := queue.Order(items)

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(ordered)
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPRIORITY\tMETHOD\tURL\tRETRIES\tQUEUED\tLAST ERROR")
	for _, item := range ordered {
		lastError := "-"
		if item.LastError != nil {
			lastError = item.LastError.Message
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			item.ID, item.Priority, item.Method, item.URL,
			item.Retries, item.MaxRetries,
			item.Timestamp.Local().Format(time.DateTime), lastError)
	}
	return w.Flush()
}

func stats(ctx context.Context, store persistence.QueuePersistence, out io.Writer, asJSON bool) error {
	items, err := store.Load(ctx)
	if err != nil {
		return err
	}
	s := queue.New(items).Stats()

	if asJSON {
		return json.NewEncoder(out).Encode(s)
	}

	fmt.Fprintf(out, "total: %d\n", s.Total)
	for _, p := range []string{"high", "normal", "low"} {
		fmt.Fprintf(out, "priority %s: %d\n", p, s.ByPriority[p])
	}
	types := make([]string, 0, len(s.ByType))
	for t := range s.ByType {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		fmt.Fprintf(out, "type %s: %d\n", t, s.ByType[t])
	}
	return nil
}

func clear(ctx context.Context, store persistence.QueuePersistence, out io.Writer) error {
	items, err := store.Load(ctx)
	if err != nil {
		return err
	}
	if err := store.Save(ctx, nil); err != nil {
		return err
	}

	logging.Warn("Outbox snapshot cleared",
		map[string]interface{}{"component": "outboxctl", "dropped": len(items)})
	fmt.Fprintf(out, "cleared %d operations\n", len(items))
	return nil
}
