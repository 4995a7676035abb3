package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/htol/bookcat/book"
	"github.com/htol/bookcat/config"
	"github.com/htol/bookcat/repo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// recordingReporter keeps everything a step reports
type recordingReporter struct {
	sections []string
	lines    []string
	records  map[string]any
}

func newRecordingReporter() *recordingReporter {
	return &recordingReporter{records: make(map[string]any)}
}

func (r *recordingReporter) Section(title string) {
	r.sections = append(r.sections, title)
}

func (r *recordingReporter) Printf(format string, args ...any) {
	r.lines = append(r.lines, fmt.Sprintf(format, args...))
}

func (r *recordingReporter) Records(v any) error {
	if len(r.sections) == 0 {
		return errors.New("records without a section")
	}
	r.records[r.sections[len(r.sections)-1]] = v
	return nil
}

func newSQLiteService(t *testing.T) (*Service, repo.Repository) {
	t.Helper()

	store, err := repo.OpenSQLite(config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "books.db")})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := store.Close(context.Background()); err != nil {
			t.Logf("Error closing storage: %v", err)
		}
	})
	return New(store), store
}

// stubRepository fails or answers selected calls; anything else panics
type stubRepository struct {
	repo.Repository
	insertCalls int
	findErr     error
}

func (s *stubRepository) InsertMany(_ context.Context, books []book.Book) ([]string, error) {
	s.insertCalls++
	ids := make([]string, len(books))
	for i := range books {
		ids[i] = fmt.Sprintf("id-%d", i)
	}
	return ids, nil
}

func (s *stubRepository) Find(context.Context, repo.Filter, repo.FindOptions) ([]book.Book, error) {
	return nil, s.findErr
}

func TestDemoSteps(t *testing.T) {
	ctx := context.Background()
	svc, store := newSQLiteService(t)
	out := newRecordingReporter()

	require.NoError(t, NewRunner(svc, out).Run(ctx, DemoSteps(book.Sample())))

	assert.Equal(t, []string{"Inserted books successfully"}, out.lines)
	assert.Equal(t, []string{
		"All Books:",
		"Books by Robert C. Martin:",
		"Books published after 2000:",
		"Updated published year of 'The Pragmatic Programmer'",
		"Added 'rating' field to all books",
		"Deleted 'The Hobbit'",
		"Deleted all 'Self-Help' books",
		"Total books per genre:",
		"Average published year:",
		"Top-rated book:",
		"Created an index on 'author' field",
	}, out.sections, "no duplicate ISBN warning on a fresh catalog")

	all := out.records["All Books:"].([]book.Book)
	assert.Len(t, all, 5)

	byAuthor := out.records["Books by Robert C. Martin:"].([]book.Book)
	require.Len(t, byAuthor, 1)
	assert.Equal(t, "Clean Code", byAuthor[0].Title)

	after := out.records["Books published after 2000:"].([]book.Book)
	assert.Len(t, after, 3)

	groups := out.records["Total books per genre:"].([]book.GroupCount)
	assert.Equal(t, []book.GroupCount{
		{Key: "Productivity", Count: 1},
		{Key: "Programming", Count: 1},
		{Key: "Technology", Count: 1},
	}, groups)

	avg := out.records["Average published year:"].([]averageRow)
	require.Len(t, avg, 1)
	assert.InDelta(t, (2000.0+2008+2016)/3, avg[0].Avg, 1e-9)

	top := out.records["Top-rated book:"].([]book.Book)
	require.Len(t, top, 1)
	assert.Equal(t, 4.5, *top[0].Rating)

	pragmatic, err := svc.ByISBN(ctx, DemoUpdateISBN)
	require.NoError(t, err)
	assert.Equal(t, 2000, pragmatic.PublishedYear)
	assert.Equal(t, "The Pragmatic Programmer", pragmatic.Title)

	_, err = svc.ByISBN(ctx, DemoDeleteISBN)
	assert.ErrorIs(t, err, repo.ErrNotFound)

	names, err := store.Indexes(ctx)
	require.NoError(t, err)
	assert.Contains(t, names, "author_1")
}

func TestDemoStepsRerunFlagsDuplicateISBNs(t *testing.T) {
	ctx := context.Background()
	svc, _ := newSQLiteService(t)

	require.NoError(t, NewRunner(svc, newRecordingReporter()).Run(ctx, DemoSteps(book.Sample())))

	out := newRecordingReporter()
	require.NoError(t, NewRunner(svc, out).Run(ctx, DemoSteps(book.Sample())), "index creation is idempotent")

	n, err := svc.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(6), n, "three surviving records from each run")

	warning := out.sections[len(out.sections)-1]
	assert.Contains(t, warning, "uniqueness is not enforced")
	dups := out.records[warning].([]book.GroupCount)
	assert.Equal(t, []book.GroupCount{
		{Key: "978-0132350884", Count: 2},
		{Key: "978-0201616224", Count: 2},
		{Key: "978-1455586691", Count: 2},
	}, dups)
}

func TestRunnerStopsAtFirstFailure(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	storeErr := &repo.OpError{Op: "find", Err: errors.New("connection refused")}
	stub := &stubRepository{findErr: storeErr}
	out := newRecordingReporter()

	err := NewRunner(New(stub), out, WithTracerProvider(tp)).Run(context.Background(), DemoSteps(book.Sample()))
	require.Error(t, err)
	assert.ErrorIs(t, err, repo.ErrStore)
	assert.Contains(t, err.Error(), `step "read-all"`)

	assert.Equal(t, 1, stub.insertCalls)
	assert.Empty(t, out.sections, "nothing after the failing step runs")

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "step seed", spans[0].Name())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Equal(t, "step read-all", spans[1].Name())
	assert.Equal(t, codes.Error, spans[1].Status().Code)
}

func TestRunnerHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stub := &stubRepository{}
	err := NewRunner(New(stub), newRecordingReporter()).Run(ctx, DemoSteps(book.Sample()))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, stub.insertCalls)
}

func TestSeedValidates(t *testing.T) {
	stub := &stubRepository{}
	svc := New(stub)

	bad := book.Sample()
	bad[2].ISBN = "not-an-isbn"

	_, err := svc.Seed(context.Background(), bad)
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Contains(t, err.Error(), "record 2")
	assert.Zero(t, stub.insertCalls, "a bad record rejects the whole batch")
}

func TestSeedStoresGenreAsGiven(t *testing.T) {
	ctx := context.Background()
	svc, _ := newSQLiteService(t)

	ya := book.Sample()[2]
	ya.Genre = "YA"
	scifi := book.Sample()[4]
	scifi.Genre = "Sci-fi"
	_, err := svc.Seed(ctx, []book.Book{ya, scifi})
	require.NoError(t, err)

	for _, want := range []book.Book{ya, scifi} {
		got, err := svc.ByISBN(ctx, want.ISBN)
		require.NoError(t, err)
		assert.Equal(t, want.Genre, got.Genre)
	}

	n, err := svc.DeleteByGenre(ctx, "ya")
	require.NoError(t, err)
	assert.Zero(t, n, "genre match is exact")

	n, err = svc.DeleteByGenre(ctx, "YA")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	groups, err := svc.CountByGenre(ctx)
	require.NoError(t, err)
	assert.Equal(t, []book.GroupCount{{Key: "Sci-fi", Count: 1}}, groups)
}

func TestInvalidArguments(t *testing.T) {
	ctx := context.Background()
	svc := New(&stubRepository{})

	_, err := svc.TopRated(ctx, 0)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.SetPublishedYear(ctx, DemoUpdateISBN, -1)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.SetRatingForAll(ctx, 9)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.ByAuthor(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSetPublishedYearWithoutMatch(t *testing.T) {
	ctx := context.Background()
	svc, _ := newSQLiteService(t)

	res, err := svc.SetPublishedYear(ctx, "978-0000000000", 2000)
	require.NoError(t, err)
	assert.Zero(t, res.Matched)
}

func TestSummary(t *testing.T) {
	ctx := context.Background()
	svc, _ := newSQLiteService(t)

	empty, err := svc.Summary(ctx)
	require.NoError(t, err)
	assert.Zero(t, empty.Total)
	assert.Nil(t, empty.AveragePublishedYear)
	assert.Nil(t, empty.TopRated)

	_, err = svc.Seed(ctx, book.Sample())
	require.NoError(t, err)

	unrated, err := svc.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), unrated.Total)
	assert.Len(t, unrated.Genres, 5)
	require.NotNil(t, unrated.AveragePublishedYear)
	assert.InDelta(t, (1999.0+2008+1937+2018+2016)/5, *unrated.AveragePublishedYear, 1e-9)
	assert.Nil(t, unrated.TopRated, "no record carries a rating yet")

	_, err = svc.SetRatingForAll(ctx, DemoRating)
	require.NoError(t, err)

	rated, err := svc.Summary(ctx)
	require.NoError(t, err)
	require.NotNil(t, rated.TopRated)
	assert.Equal(t, DemoRating, *rated.TopRated.Rating)
}

func TestSummaryPropagatesStoreFailure(t *testing.T) {
	svc := New(&failingRepository{err: &repo.OpError{Op: "count", Err: errors.New("timeout")}})

	_, err := svc.Summary(context.Background())
	assert.ErrorIs(t, err, repo.ErrStore)
}

// failingRepository fails every read used by Summary
type failingRepository struct {
	repo.Repository
	err error
}

func (f *failingRepository) Count(context.Context, repo.Filter) (int64, error) { return 0, f.err }

func (f *failingRepository) GroupCount(context.Context, string) ([]book.GroupCount, error) {
	return nil, f.err
}

func (f *failingRepository) Average(context.Context, string) (float64, error) { return 0, f.err }

func (f *failingRepository) Find(context.Context, repo.Filter, repo.FindOptions) ([]book.Book, error) {
	return nil, f.err
}
