// Package app is the main cmd app
package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/htol/bookcat/book"
	"github.com/htol/bookcat/config"
	"github.com/htol/bookcat/logger"
	"github.com/htol/bookcat/repo"
	"github.com/htol/bookcat/report"
	"github.com/htol/bookcat/service"
)

const closeTimeout = 10 * time.Second

var commands = map[string]string{
	"demo":    "seed the sample books and run every catalog operation",
	"seed":    "insert the sample books",
	"list":    "print books, optionally filtered by -author and -after",
	"stats":   "print a summary of the catalog",
	"indexes": "print the collection's index names",
	"drop":    "remove every book and index",
}

var errUsage = errors.New("please provide a command to run")

// initLogger is replaced in tests to capture log entries
var initLogger = logger.Init

func CLI(args []string) int {
	return cli(args, os.Stdout, os.Stderr)
}

func cli(args []string, stdout, stderr io.Writer) int {
	app := appEnv{stdout: stdout, stderr: stderr}
	if err := app.fromArgs(args); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(stderr, err)
		}
		return 2
	}

	if err := app.run(); err != nil {
		fmt.Fprintf(stdout, "Error: %v\n", err)
		logger.Error("Runtime error", "error", err)
		return 1
	}
	return 0
}

type appEnv struct {
	stdout io.Writer
	stderr io.Writer
	config *config.Config
	cmd    string
	fresh  bool
	author string
	after  int
}

func (app *appEnv) fromArgs(args []string) error {
	fl := flag.NewFlagSet("bookcat", flag.ContinueOnError)
	fl.SetOutput(app.stderr)
	fl.Usage = func() {
		fmt.Fprintf(fl.Output(), "Usage: bookcat [flags] <command>\n\nCommands:\n")
		for _, name := range []string{"demo", "seed", "list", "stats", "indexes", "drop"} {
			fmt.Fprintf(fl.Output(), "  %-8s %s\n", name, commands[name])
		}
		fmt.Fprintf(fl.Output(), "\nFlags:\n")
		fl.PrintDefaults()
	}

	// Load default config
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// CLI flags override environment variables
	fl.StringVar(&cfg.Backend, "backend", cfg.Backend, "Storage backend: mongo or sqlite")
	fl.StringVar(&cfg.Mongo.URI, "uri", cfg.Mongo.URI, "MongoDB connection string")
	fl.StringVar(&cfg.Mongo.Database, "db", cfg.Mongo.Database, "MongoDB database name")
	fl.StringVar(&cfg.Mongo.Collection, "collection", cfg.Mongo.Collection, "MongoDB collection name")
	fl.StringVar(&cfg.SQLite.Path, "sqlite", cfg.SQLite.Path, "Path to the SQLite catalog")
	fl.BoolVar(&cfg.Output.Color, "color", cfg.Output.Color, "Colorize JSON output")
	fl.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn or error")
	fl.BoolVar(&app.fresh, "fresh", false, "Drop existing books before demo or seed")
	fl.StringVar(&app.author, "author", "", "list: only books by this author")
	fl.IntVar(&app.after, "after", 0, "list: only books published after this year")

	if err := fl.Parse(args); err != nil {
		return err
	}

	if fl.NArg() < 1 {
		fl.Usage()
		return errUsage
	}
	app.cmd = fl.Arg(0)
	if _, ok := commands[app.cmd]; !ok {
		return fmt.Errorf("unknown command %s", app.cmd)
	}
	if app.after < 0 {
		return fmt.Errorf("invalid -after %d: must not be negative", app.after)
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	app.config = cfg

	return nil
}

func (app *appEnv) run() error {
	// Initialize logger
	initLogger(app.config.LogLevel)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger.With("run", uuid.NewString(), "command", app.cmd)
	log.Infow("Starting", "backend", app.config.Backend)

	steps := app.steps()

	store, name, err := app.open(ctx)
	if err != nil {
		return err
	}
	out := report.New(app.stdout, app.config.Output.Color)
	out.Printf("Connected to %s", name)

	// The connection is released on every path, including failed steps.
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			log.Errorw("Error closing storage", "error", err)
		}
		out.Section("Disconnected from " + name)
	}()

	if err := service.NewRunner(service.New(store), out).Run(ctx, steps); err != nil {
		return err
	}
	log.Infow("Finished")
	return nil
}

func (app *appEnv) open(ctx context.Context) (repo.Repository, string, error) {
	switch app.config.Backend {
	case config.BackendMongo:
		store, err := repo.OpenMongo(ctx, app.config.Mongo)
		if err != nil {
			return nil, "", err
		}
		return store, "MongoDB", nil
	case config.BackendSQLite:
		store, err := repo.OpenSQLite(app.config.SQLite)
		if err != nil {
			return nil, "", err
		}
		return store, "SQLite", nil
	default:
		return nil, "", fmt.Errorf("unknown backend %q", app.config.Backend)
	}
}

func (app *appEnv) steps() []service.Step {
	var steps []service.Step
	if app.fresh && (app.cmd == "demo" || app.cmd == "seed") {
		steps = append(steps, resetStep)
	}

	switch app.cmd {
	case "demo":
		steps = append(steps, service.DemoSteps(book.Sample())...)
	case "seed":
		steps = append(steps, service.Step{Name: "seed", Run: func(ctx context.Context, svc *service.Service, out service.Reporter) error {
			ids, err := svc.Seed(ctx, book.Sample())
			if err != nil {
				return err
			}
			out.Printf("Inserted %d books", len(ids))
			return nil
		}}, service.Step{Name: "audit-isbn", Run: service.AuditISBNs})
	case "list":
		steps = append(steps, service.Step{Name: "list", Run: func(ctx context.Context, svc *service.Service, out service.Reporter) error {
			books, err := svc.List(ctx, app.author, app.after)
			if err != nil {
				return err
			}
			out.Section(fmt.Sprintf("Books (%d):", len(books)))
			return out.Records(books)
		}})
	case "stats":
		steps = append(steps, service.Step{Name: "stats", Run: func(ctx context.Context, svc *service.Service, out service.Reporter) error {
			sum, err := svc.Summary(ctx)
			if err != nil {
				return err
			}
			out.Section("Catalog summary:")
			return out.Records(sum)
		}})
	case "indexes":
		steps = append(steps, service.Step{Name: "indexes", Run: func(ctx context.Context, svc *service.Service, out service.Reporter) error {
			names, err := svc.Indexes(ctx)
			if err != nil {
				return err
			}
			out.Section("Indexes:")
			return out.Records(names)
		}})
	case "drop":
		steps = append(steps, resetStep)
	}
	return steps
}

var resetStep = service.Step{Name: "reset", Run: func(ctx context.Context, svc *service.Service, out service.Reporter) error {
	if err := svc.Reset(ctx); err != nil {
		return err
	}
	out.Printf("Dropped all books and indexes")
	return nil
}}
