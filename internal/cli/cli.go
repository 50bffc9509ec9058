// Package cli parses tabbyctl configuration and runs its commands.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/ripkitten-co/tabby"
	"github.com/ripkitten-co/tabby/events"
	"github.com/ripkitten-co/tabby/internal/sqldb"
	"github.com/ripkitten-co/tabby/metadata"
	"github.com/ripkitten-co/tabby/projections"
	"github.com/ripkitten-co/tabby/strategy"
)

// Config holds tabbyctl configuration.
type Config struct {
	Vendor            string `env:"TABBY_VENDOR" envDefault:"postgres"`
	DSN               string `env:"TABBY_DSN"`
	EventStreamsTable string `env:"TABBY_EVENT_STREAMS_TABLE" envDefault:"event_streams"`
	ProjectionsTable  string `env:"TABBY_PROJECTIONS_TABLE" envDefault:"projections"`
	Limit             int    `env:"TABBY_LIMIT" envDefault:"100"`
	Verbose           bool   `env:"TABBY_VERBOSE"`
	OTelEndpoint      string `env:"TABBY_OTEL_ENDPOINT"`

	Command string   `env:"-"`
	Args    []string `env:"-"`
	Emitted bool     `env:"-"`
}

type command struct {
	args  int
	usage string
}

var commands = map[string]command{
	"provision":   {0, "provision"},
	"streams":     {-1, "streams [regex]"},
	"categories":  {-1, "categories [regex]"},
	"projections": {-1, "projections [regex]"},
	"status":      {1, "status NAME"},
	"stop":        {1, "stop NAME"},
	"reset":       {1, "reset NAME"},
	"delete":      {1, "delete [-emitted] NAME"},
}

// Usage lists the commands.
func Usage() string {
	lines := []string{"usage: tabbyctl [flags] <command> [args]", "commands:"}
	for _, name := range []string{"provision", "streams", "categories", "projections", "status", "stop", "reset", "delete"} {
		lines = append(lines, "  "+commands[name].usage)
	}
	return strings.Join(lines, "\n")
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	fs.StringVar(&cfg.Vendor, "vendor", cfg.Vendor, "Database vendor: postgres, mysql or mariadb")
	fs.StringVar(&cfg.DSN, "dsn", cfg.DSN, "Database connection string")
	fs.StringVar(&cfg.EventStreamsTable, "event-streams-table", cfg.EventStreamsTable, "Stream registry table")
	fs.StringVar(&cfg.ProjectionsTable, "projections-table", cfg.ProjectionsTable, "Projections table")
	fs.IntVar(&cfg.Limit, "limit", cfg.Limit, "Maximum number of names to list")
	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "Log debug output")
	fs.StringVar(&cfg.OTelEndpoint, "otel-endpoint", cfg.OTelEndpoint, "OTLP/HTTP endpoint for traces (disabled when empty)")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	rest := fs.Args()
	if len(rest) == 0 {
		return Config{}, errors.New("missing command")
	}
	cfg.Command, cfg.Args = rest[0], rest[1:]
	if cfg.Command == "delete" {
		dfs := flag.NewFlagSet("delete", flag.ContinueOnError)
		dfs.SetOutput(io.Discard)
		dfs.BoolVar(&cfg.Emitted, "emitted", false, "Also delete emitted events or the read model")
		if err := dfs.Parse(cfg.Args); err != nil {
			return Config{}, fmt.Errorf("delete: %w", err)
		}
		cfg.Args = dfs.Args()
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	cmd, ok := commands[c.Command]
	if !ok {
		return fmt.Errorf("unknown command %q", c.Command)
	}
	switch {
	case cmd.args >= 0 && len(c.Args) != cmd.args:
		return fmt.Errorf("usage: tabbyctl %s", cmd.usage)
	case cmd.args < 0 && len(c.Args) > 1:
		return fmt.Errorf("usage: tabbyctl %s", cmd.usage)
	}
	if _, err := sqldb.ParseVendor(c.Vendor); err != nil {
		return err
	}
	if c.DSN == "" {
		return errors.New("dsn is required (TABBY_DSN or -dsn)")
	}
	if c.Limit <= 0 {
		return errors.New("limit must be positive")
	}
	return nil
}

// Run connects to the database and executes the configured command.
func Run(ctx context.Context, cfg Config, out io.Writer) error {
	vendor, err := sqldb.ParseVendor(cfg.Vendor)
	if err != nil {
		return err
	}
	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	opts := []tabby.Option{
		tabby.WithLogger(logger),
		tabby.WithEventStreamsTable(cfg.EventStreamsTable),
		tabby.WithProjectionsTable(cfg.ProjectionsTable),
	}
	tp, err := setupTracing(ctx, cfg.OTelEndpoint)
	if err != nil {
		return err
	}
	if tp != nil {
		opts = append(opts, tabby.WithTracerProvider(tp))
		defer func() {
			if err := tp.Shutdown(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("flush traces", "error", err)
			}
		}()
	}

	store, err := tabby.New(ctx, vendor, cfg.DSN, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("close store", "error", err)
		}
	}()

	s, err := strategy.NewSingleStream(vendor)
	if err != nil {
		return err
	}
	es, err := events.New(store, s)
	if err != nil {
		return err
	}
	return execute(ctx, cfg, store, es, projections.NewManager(store, es), out)
}

func execute(ctx context.Context, cfg Config, store *tabby.Store, es *events.Store, m *projections.Manager, out io.Writer) error {
	pattern := ""
	if len(cfg.Args) > 0 {
		pattern = cfg.Args[0]
	}

	switch cfg.Command {
	case "provision":
		if err := store.Provision(ctx); err != nil {
			return err
		}
		fmt.Fprintf(out, "created %s and %s\n", cfg.EventStreamsTable, cfg.ProjectionsTable)
		return nil

	case "streams":
		var names []string
		var err error
		if pattern == "" {
			names, err = es.FetchStreamNames(ctx, "", metadata.Matcher{}, cfg.Limit, 0)
		} else {
			names, err = es.FetchStreamNamesRegex(ctx, pattern, metadata.Matcher{}, cfg.Limit, 0)
		}
		return printNames(out, names, err)

	case "categories":
		var names []string
		var err error
		if pattern == "" {
			names, err = es.FetchCategoryNames(ctx, "", cfg.Limit, 0)
		} else {
			names, err = es.FetchCategoryNamesRegex(ctx, pattern, cfg.Limit, 0)
		}
		return printNames(out, names, err)

	case "projections":
		var names []string
		var err error
		if pattern == "" {
			names, err = m.FetchProjectionNames(ctx, "", cfg.Limit, 0)
		} else {
			names, err = m.FetchProjectionNamesRegex(ctx, pattern, cfg.Limit, 0)
		}
		return printNames(out, names, err)

	case "status":
		return printStatus(ctx, out, m, cfg.Args[0])

	case "stop":
		return report(out, "stopping", cfg.Args[0], m.StopProjection(ctx, cfg.Args[0]))

	case "reset":
		return report(out, "resetting", cfg.Args[0], m.ResetProjection(ctx, cfg.Args[0]))

	case "delete":
		return report(out, "deleting", cfg.Args[0], m.DeleteProjection(ctx, cfg.Args[0], cfg.Emitted))
	}
	return fmt.Errorf("unknown command %q", cfg.Command)
}

func printNames(out io.Writer, names []string, err error) error {
	if err != nil {
		return err
	}
	for _, n := range names {
		fmt.Fprintln(out, n)
	}
	return nil
}

func printStatus(ctx context.Context, out io.Writer, m *projections.Manager, name string) error {
	status, err := m.FetchProjectionStatus(ctx, name)
	if err != nil {
		return err
	}
	positions, err := m.FetchProjectionStreamPositions(ctx, name)
	if err != nil {
		return err
	}
	state, err := m.FetchProjectionState(ctx, name)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "status: %s\n", status)
	for _, stream := range slices.Sorted(maps.Keys(positions)) {
		fmt.Fprintf(out, "position %s: %d\n", stream, positions[stream])
	}
	fmt.Fprintf(out, "state: %s\n", state)
	return nil
}

func report(out io.Writer, action, name string, err error) error {
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s %s requested\n", action, name)
	return nil
}
