package repo

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/htol/bookcat/book"
	"github.com/montanaflynn/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seeded returns a store holding book.Sample()
func seeded(t *testing.T, open func(t *testing.T) Repository) (Repository, []string) {
	t.Helper()

	r := open(t)
	ids, err := r.InsertMany(context.Background(), book.Sample())
	require.NoError(t, err)
	require.Len(t, ids, len(book.Sample()))
	return r, ids
}

func ignoreID() cmp.Option {
	return cmpopts.IgnoreFields(book.Book{}, "ID")
}

// testRepositoryContract checks the behaviour every Repository implementation shares.
// open must return an empty store that is closed when the test ends.
func testRepositoryContract(t *testing.T, open func(t *testing.T) Repository) {
	ctx := context.Background()

	t.Run("seed then lookup by ISBN", func(t *testing.T) {
		r, ids := seeded(t, open)

		n, err := r.Count(ctx, All())
		require.NoError(t, err)
		assert.Equal(t, int64(len(book.Sample())), n)

		seen := make(map[string]bool)
		for _, id := range ids {
			assert.NotEmpty(t, id)
			assert.False(t, seen[id], "duplicate id %s", id)
			seen[id] = true
		}

		for _, want := range book.Sample() {
			got, err := r.Find(ctx, Eq(FieldISBN, want.ISBN), FindOptions{})
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.NotEmpty(t, got[0].ID)
			if diff := cmp.Diff(want, got[0], ignoreID()); diff != "" {
				t.Errorf("record %s mismatch (-want +got):\n%s", want.ISBN, diff)
			}
		}
	})

	t.Run("equality filter", func(t *testing.T) {
		r, _ := seeded(t, open)

		got, err := r.Find(ctx, Eq(FieldAuthor, "Robert C. Martin"), FindOptions{})
		require.NoError(t, err)
		require.Len(t, got, 1)
		for _, b := range got {
			assert.Equal(t, "Robert C. Martin", b.Author)
		}

		none, err := r.Find(ctx, Eq(FieldAuthor, "robert c. martin"), FindOptions{})
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("range filter", func(t *testing.T) {
		r, _ := seeded(t, open)

		got, err := r.Find(ctx, Gt(FieldPublishedYear, 2000), FindOptions{SortBy: FieldPublishedYear})
		require.NoError(t, err)

		var years []int
		for _, b := range got {
			assert.Greater(t, b.PublishedYear, 2000)
			years = append(years, b.PublishedYear)
		}
		assert.Equal(t, []int{2008, 2016, 2018}, years)
	})

	t.Run("combined filter", func(t *testing.T) {
		r, _ := seeded(t, open)

		got, err := r.Find(ctx, Gt(FieldPublishedYear, 2000).And(Eq(FieldGenre, "Productivity")), FindOptions{})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "Deep Work", got[0].Title)
	})

	t.Run("update one by ISBN", func(t *testing.T) {
		r, _ := seeded(t, open)

		before, err := r.Find(ctx, Eq(FieldISBN, "978-0201616224"), FindOptions{})
		require.NoError(t, err)
		require.Len(t, before, 1)

		res, err := r.UpdateOne(ctx, Eq(FieldISBN, "978-0201616224"), Set{FieldPublishedYear: 2000})
		require.NoError(t, err)
		assert.Equal(t, UpdateResult{Matched: 1, Modified: 1}, res)

		after, err := r.Find(ctx, Eq(FieldISBN, "978-0201616224"), FindOptions{})
		require.NoError(t, err)
		require.Len(t, after, 1)

		want := before[0]
		want.PublishedYear = 2000
		assert.Equal(t, want, after[0])

		again, err := r.UpdateOne(ctx, Eq(FieldISBN, "978-0201616224"), Set{FieldPublishedYear: 2000})
		require.NoError(t, err)
		assert.Equal(t, UpdateResult{Matched: 1, Modified: 0}, again)
	})

	t.Run("update one without match is a no-op", func(t *testing.T) {
		r, _ := seeded(t, open)

		res, err := r.UpdateOne(ctx, Eq(FieldISBN, "000-0000000000"), Set{FieldPublishedYear: 2000})
		require.NoError(t, err)
		assert.Equal(t, UpdateResult{}, res)
	})

	t.Run("update many sets rating everywhere", func(t *testing.T) {
		r, _ := seeded(t, open)

		res, err := r.UpdateMany(ctx, All(), Set{FieldRating: 4.5})
		require.NoError(t, err)
		assert.Equal(t, int64(5), res.Matched)
		assert.Equal(t, int64(5), res.Modified)

		all, err := r.Find(ctx, All(), FindOptions{})
		require.NoError(t, err)
		require.Len(t, all, 5)
		for _, b := range all {
			require.NotNil(t, b.Rating, b.ISBN)
			assert.Equal(t, 4.5, *b.Rating)
		}
	})

	t.Run("delete one by ISBN", func(t *testing.T) {
		r, _ := seeded(t, open)

		before, err := r.Count(ctx, All())
		require.NoError(t, err)

		n, err := r.DeleteOne(ctx, Eq(FieldISBN, "978-0345339683"))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		after, err := r.Count(ctx, All())
		require.NoError(t, err)
		assert.Equal(t, before-1, after)

		left, err := r.Count(ctx, Eq(FieldISBN, "978-0345339683"))
		require.NoError(t, err)
		assert.Zero(t, left)
	})

	t.Run("delete one removes a single duplicate", func(t *testing.T) {
		r, _ := seeded(t, open)
		_, err := r.InsertMany(ctx, book.Sample()[2:3])
		require.NoError(t, err)

		n, err := r.DeleteOne(ctx, Eq(FieldISBN, "978-0345339683"))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		left, err := r.Count(ctx, Eq(FieldISBN, "978-0345339683"))
		require.NoError(t, err)
		assert.Equal(t, int64(1), left)
	})

	t.Run("delete many by genre", func(t *testing.T) {
		r, _ := seeded(t, open)

		n, err := r.DeleteMany(ctx, Eq(FieldGenre, "Self-Help"))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		left, err := r.Count(ctx, Eq(FieldGenre, "Self-Help"))
		require.NoError(t, err)
		assert.Zero(t, left)

		total, err := r.Count(ctx, All())
		require.NoError(t, err)
		assert.Equal(t, int64(4), total)
	})

	t.Run("group count by genre", func(t *testing.T) {
		r, _ := seeded(t, open)
		_, err := r.InsertMany(ctx, []book.Book{{
			Title: "The Clean Coder", Author: "Robert C. Martin", PublishedYear: 2011,
			Genre: "Programming", ISBN: "978-0137081073",
		}})
		require.NoError(t, err)

		groups, err := r.GroupCount(ctx, FieldGenre)
		require.NoError(t, err)

		all, err := r.Find(ctx, All(), FindOptions{})
		require.NoError(t, err)
		want := make(map[string]int64)
		for _, b := range all {
			want[b.Genre]++
		}

		got := make(map[string]int64)
		for _, g := range groups {
			_, dup := got[g.Key]
			assert.False(t, dup, "genre %s reported twice", g.Key)
			got[g.Key] = g.Count
		}
		assert.Equal(t, want, got)
		assert.Equal(t, int64(2), got["Programming"])
		assert.Equal(t, "Fantasy", groups[0].Key, "groups are ordered by key")
	})

	t.Run("group count rejects numeric field", func(t *testing.T) {
		r, _ := seeded(t, open)

		_, err := r.GroupCount(ctx, FieldPublishedYear)
		assert.ErrorIs(t, err, ErrUnsupportedField)
		assert.ErrorIs(t, err, ErrStore)
	})

	t.Run("average published year", func(t *testing.T) {
		r, _ := seeded(t, open)
		_, err := r.DeleteOne(ctx, Eq(FieldISBN, "978-0345339683"))
		require.NoError(t, err)

		all, err := r.Find(ctx, All(), FindOptions{})
		require.NoError(t, err)
		var years []float64
		for _, b := range all {
			years = append(years, float64(b.PublishedYear))
		}
		want, err := stats.Mean(years)
		require.NoError(t, err)

		got, err := r.Average(ctx, FieldPublishedYear)
		require.NoError(t, err)
		assert.InDelta(t, want, got, 1e-9)
	})

	t.Run("average of empty store", func(t *testing.T) {
		r := open(t)

		_, err := r.Average(ctx, FieldPublishedYear)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("top rated", func(t *testing.T) {
		r, _ := seeded(t, open)
		_, err := r.UpdateMany(ctx, All(), Set{FieldRating: 4.5})
		require.NoError(t, err)
		_, err = r.UpdateOne(ctx, Eq(FieldISBN, "978-1455586691"), Set{FieldRating: 4.9})
		require.NoError(t, err)

		top, err := r.Find(ctx, All(), FindOptions{SortBy: FieldRating, Descending: true, Limit: 1})
		require.NoError(t, err)
		require.Len(t, top, 1)
		assert.Equal(t, "Deep Work", top[0].Title)
		assert.Equal(t, 4.9, *top[0].Rating)
	})

	t.Run("unrated records sort last", func(t *testing.T) {
		r, _ := seeded(t, open)
		_, err := r.UpdateOne(ctx, Eq(FieldISBN, "978-0132350884"), Set{FieldRating: 3.0})
		require.NoError(t, err)

		top, err := r.Find(ctx, All(), FindOptions{SortBy: FieldRating, Descending: true, Limit: 1})
		require.NoError(t, err)
		require.Len(t, top, 1)
		assert.Equal(t, "Clean Code", top[0].Title)
	})

	t.Run("create index twice", func(t *testing.T) {
		r, _ := seeded(t, open)

		name, err := r.CreateIndex(ctx, FieldAuthor)
		require.NoError(t, err)
		assert.Equal(t, "author_1", name)

		again, err := r.CreateIndex(ctx, FieldAuthor)
		require.NoError(t, err)
		assert.Equal(t, name, again)

		names, err := r.Indexes(ctx)
		require.NoError(t, err)
		count := 0
		for _, n := range names {
			if n == name {
				count++
			}
		}
		assert.Equal(t, 1, count, "indexes: %v", names)
	})

	t.Run("drop empties the store", func(t *testing.T) {
		r, _ := seeded(t, open)
		_, err := r.CreateIndex(ctx, FieldAuthor)
		require.NoError(t, err)

		require.NoError(t, r.Drop(ctx))

		n, err := r.Count(ctx, All())
		require.NoError(t, err)
		assert.Zero(t, n)

		_, err = r.InsertMany(ctx, book.Sample())
		require.NoError(t, err)
		names, err := r.Indexes(ctx)
		require.NoError(t, err)
		assert.NotContains(t, names, IndexName(FieldAuthor))
	})

	t.Run("invalid input is a store failure", func(t *testing.T) {
		r := open(t)

		_, err := r.Find(ctx, Eq("publisher", "Addison-Wesley"), FindOptions{})
		assert.ErrorIs(t, err, ErrUnknownField)
		assert.ErrorIs(t, err, ErrStore)

		_, err = r.UpdateMany(ctx, All(), Set{})
		assert.ErrorIs(t, err, ErrEmptySet)

		_, err = r.InsertMany(ctx, nil)
		assert.ErrorIs(t, err, ErrStore)

		var opErr *OpError
		_, err = r.Find(ctx, All(), FindOptions{SortBy: "pages"})
		require.ErrorAs(t, err, &opErr)
		assert.Equal(t, "find", opErr.Op)
	})

	t.Run("close twice", func(t *testing.T) {
		r := open(t)
		require.NoError(t, r.Close(ctx))
		assert.NoError(t, r.Close(ctx))
	})
}
