package service

import (
	"context"
	"fmt"
	"time"

	"github.com/htol/bookcat/book"
	"github.com/htol/bookcat/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Reporter receives the human-readable output of each step
type Reporter interface {
	// Section starts a new titled block of output
	Section(title string)
	Printf(format string, args ...any)
	// Records renders a value (usually a slice of records) in full
	Records(v any) error
}

// Step is one named catalog operation
type Step struct {
	Name string
	Run  func(ctx context.Context, svc *Service, out Reporter) error
}

// Parameters of the demo sequence
const (
	DemoAuthor       = "Robert C. Martin"
	DemoAfterYear    = 2000
	DemoUpdateISBN   = "978-0201616224"
	DemoUpdateYear   = 2000
	DemoRating       = 4.5
	DemoDeleteISBN   = "978-0345339683"
	DemoDeleteGenre  = "Self-Help"
	DemoTopRatedSize = 1
)

type averageRow struct {
	ID  any     `json:"_id"`
	Avg float64 `json:"avgPublishedYear"`
}

// DemoSteps returns the fixed walkthrough: seed, read, update, delete,
// aggregate and index, in that order.
func DemoSteps(seed []book.Book) []Step {
	return []Step{
		{Name: "seed", Run: func(ctx context.Context, svc *Service, out Reporter) error {
			if _, err := svc.Seed(ctx, seed); err != nil {
				return err
			}
			out.Printf("Inserted books successfully")
			return nil
		}},
		{Name: "read-all", Run: func(ctx context.Context, svc *Service, out Reporter) error {
			books, err := svc.All(ctx)
			if err != nil {
				return err
			}
			out.Section("All Books:")
			return out.Records(books)
		}},
		{Name: "read-by-author", Run: func(ctx context.Context, svc *Service, out Reporter) error {
			books, err := svc.ByAuthor(ctx, DemoAuthor)
			if err != nil {
				return err
			}
			out.Section(fmt.Sprintf("Books by %s:", DemoAuthor))
			return out.Records(books)
		}},
		{Name: "read-published-after", Run: func(ctx context.Context, svc *Service, out Reporter) error {
			books, err := svc.PublishedAfter(ctx, DemoAfterYear)
			if err != nil {
				return err
			}
			out.Section(fmt.Sprintf("Books published after %d:", DemoAfterYear))
			return out.Records(books)
		}},
		{Name: "update-one", Run: func(ctx context.Context, svc *Service, out Reporter) error {
			if _, err := svc.SetPublishedYear(ctx, DemoUpdateISBN, DemoUpdateYear); err != nil {
				return err
			}
			out.Section("Updated published year of 'The Pragmatic Programmer'")
			return nil
		}},
		{Name: "update-many", Run: func(ctx context.Context, svc *Service, out Reporter) error {
			if _, err := svc.SetRatingForAll(ctx, DemoRating); err != nil {
				return err
			}
			out.Section("Added 'rating' field to all books")
			return nil
		}},
		{Name: "delete-one", Run: func(ctx context.Context, svc *Service, out Reporter) error {
			if _, err := svc.DeleteByISBN(ctx, DemoDeleteISBN); err != nil {
				return err
			}
			out.Section("Deleted 'The Hobbit'")
			return nil
		}},
		{Name: "delete-many", Run: func(ctx context.Context, svc *Service, out Reporter) error {
			if _, err := svc.DeleteByGenre(ctx, DemoDeleteGenre); err != nil {
				return err
			}
			out.Section(fmt.Sprintf("Deleted all '%s' books", DemoDeleteGenre))
			return nil
		}},
		{Name: "group-by-genre", Run: func(ctx context.Context, svc *Service, out Reporter) error {
			groups, err := svc.CountByGenre(ctx)
			if err != nil {
				return err
			}
			out.Section("Total books per genre:")
			return out.Records(groups)
		}},
		{Name: "average-year", Run: func(ctx context.Context, svc *Service, out Reporter) error {
			avg, err := svc.AveragePublishedYear(ctx)
			if err != nil {
				return err
			}
			out.Section("Average published year:")
			return out.Records([]averageRow{{Avg: avg}})
		}},
		{Name: "top-rated", Run: func(ctx context.Context, svc *Service, out Reporter) error {
			books, err := svc.TopRated(ctx, DemoTopRatedSize)
			if err != nil {
				return err
			}
			out.Section("Top-rated book:")
			return out.Records(books)
		}},
		{Name: "create-index", Run: func(ctx context.Context, svc *Service, out Reporter) error {
			if _, err := svc.EnsureAuthorIndex(ctx); err != nil {
				return err
			}
			out.Section("Created an index on 'author' field")
			return nil
		}},
		{Name: "audit-isbn", Run: AuditISBNs},
	}
}

// AuditISBNs warns about ISBNs held by several records. It never fails the run
// on duplicates, only on store errors.
func AuditISBNs(ctx context.Context, svc *Service, out Reporter) error {
	dups, err := svc.DuplicateISBNs(ctx)
	if err != nil {
		return err
	}
	if len(dups) == 0 {
		logger.Debug("No duplicate ISBNs")
		return nil
	}
	for _, d := range dups {
		logger.Warn("ISBN shared by several books", "isbn", d.Key, "count", d.Count)
	}
	out.Section("Warning: ISBNs shared by several books (uniqueness is not enforced):")
	return out.Records(dups)
}

// Runner executes steps one at a time. The first failure stops the run.
type Runner struct {
	svc    *Service
	out    Reporter
	tracer trace.Tracer
}

type RunnerOption func(*Runner)

// WithTracerProvider overrides the global OpenTelemetry provider
func WithTracerProvider(tp trace.TracerProvider) RunnerOption {
	return func(r *Runner) {
		if tp != nil {
			r.tracer = tp.Tracer("github.com/htol/bookcat/service")
		}
	}
}

func NewRunner(svc *Service, out Reporter, opts ...RunnerOption) *Runner {
	r := &Runner{
		svc:    svc,
		out:    out,
		tracer: otel.Tracer("github.com/htol/bookcat/service"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runner) Run(ctx context.Context, steps []Step) error {
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("step %q: %w", step.Name, err)
		}

		stepCtx, span := r.tracer.Start(ctx, "step "+step.Name, trace.WithAttributes(
			attribute.String("catalog.step", step.Name),
			attribute.Int("catalog.step.index", i),
		))
		start := time.Now()

		err := step.Run(stepCtx, r.svc, r.out)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			return fmt.Errorf("step %q: %w", step.Name, err)
		}
		span.End()

		logger.Debug("Step finished", "step", step.Name, "duration", time.Since(start))
	}
	return nil
}
