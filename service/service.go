// Package service provides the catalog operations between the CLI and the repository
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/htol/bookcat/book"
	"github.com/htol/bookcat/logger"
	"github.com/htol/bookcat/repo"
	"github.com/htol/bookcat/validator"
)

// ErrInvalidInput is returned when arguments fail validation before reaching the store
var ErrInvalidInput = errors.New("invalid input")

// Service provides catalog operations over a repository
type Service struct {
	repo repo.Repository
}

// New creates a new Service with the given repository
func New(r repo.Repository) *Service {
	return &Service{repo: r}
}

// Ping checks the health of the underlying store
func (s *Service) Ping(ctx context.Context) error {
	if err := s.repo.Ping(ctx); err != nil {
		return fmt.Errorf("repository ping: %w", err)
	}
	return nil
}

// Reset drops every record and index
func (s *Service) Reset(ctx context.Context) error {
	if err := s.repo.Drop(ctx); err != nil {
		return fmt.Errorf("reset catalog: %w", err)
	}
	logger.Info("Catalog reset")
	return nil
}

// Seed validates and inserts records in one batch, stored as given.
// Existing records with the same ISBN are not checked.
func (s *Service) Seed(ctx context.Context, books []book.Book) ([]string, error) {
	for i, b := range books {
		if err := validator.ValidateBook(b); err != nil {
			return nil, fmt.Errorf("%w: record %d: %w", ErrInvalidInput, i, err)
		}
	}

	ids, err := s.repo.InsertMany(ctx, books)
	if err != nil {
		return nil, fmt.Errorf("seed: %w", err)
	}
	logger.Info("Inserted books", "count", len(ids))
	return ids, nil
}

// Count returns the number of records in the catalog
func (s *Service) Count(ctx context.Context) (int64, error) {
	n, err := s.repo.Count(ctx, repo.All())
	if err != nil {
		return 0, fmt.Errorf("count books: %w", err)
	}
	return n, nil
}

// All returns every record in store order
func (s *Service) All(ctx context.Context) ([]book.Book, error) {
	books, err := s.repo.Find(ctx, repo.All(), repo.FindOptions{})
	if err != nil {
		return nil, fmt.Errorf("get books: %w", err)
	}
	return books, nil
}

// ByAuthor returns records whose author equals the given name exactly
func (s *Service) ByAuthor(ctx context.Context, author string) ([]book.Book, error) {
	if err := validator.ValidateNonEmpty(author); err != nil {
		return nil, fmt.Errorf("%w: author: %w", ErrInvalidInput, err)
	}
	books, err := s.repo.Find(ctx, repo.Eq(repo.FieldAuthor, author), repo.FindOptions{})
	if err != nil {
		return nil, fmt.Errorf("get books by author %q: %w", author, err)
	}
	return books, nil
}

// PublishedAfter returns records published strictly after year
func (s *Service) PublishedAfter(ctx context.Context, year int) ([]book.Book, error) {
	books, err := s.repo.Find(ctx, repo.Gt(repo.FieldPublishedYear, year), repo.FindOptions{})
	if err != nil {
		return nil, fmt.Errorf("get books published after %d: %w", year, err)
	}
	return books, nil
}

// List returns records matching every non-zero criterion. An empty author and
// a zero year list the whole catalog.
func (s *Service) List(ctx context.Context, author string, after int) ([]book.Book, error) {
	filter := repo.All()
	if author != "" {
		filter = filter.And(repo.Eq(repo.FieldAuthor, author))
	}
	if after > 0 {
		filter = filter.And(repo.Gt(repo.FieldPublishedYear, after))
	}

	books, err := s.repo.Find(ctx, filter, repo.FindOptions{})
	if err != nil {
		return nil, fmt.Errorf("list books where %s: %w", filter, err)
	}
	return books, nil
}

// ByISBN returns the first record with the ISBN, or repo.ErrNotFound
func (s *Service) ByISBN(ctx context.Context, isbn string) (*book.Book, error) {
	books, err := s.repo.Find(ctx, repo.Eq(repo.FieldISBN, isbn), repo.FindOptions{Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("get book by ISBN %s: %w", isbn, err)
	}
	if len(books) == 0 {
		return nil, fmt.Errorf("get book by ISBN %s: %w", isbn, repo.ErrNotFound)
	}
	return &books[0], nil
}

// SetPublishedYear updates the first record with the ISBN. No match is not an error.
func (s *Service) SetPublishedYear(ctx context.Context, isbn string, year int) (repo.UpdateResult, error) {
	if err := validator.ValidateYear(year); err != nil {
		return repo.UpdateResult{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	res, err := s.repo.UpdateOne(ctx, repo.Eq(repo.FieldISBN, isbn), repo.Set{repo.FieldPublishedYear: year})
	if err != nil {
		return repo.UpdateResult{}, fmt.Errorf("update published year of %s: %w", isbn, err)
	}
	if res.Matched == 0 {
		logger.Warn("No book matched ISBN", "isbn", isbn)
	}
	return res, nil
}

// SetRatingForAll sets rating on every record
func (s *Service) SetRatingForAll(ctx context.Context, rating float64) (repo.UpdateResult, error) {
	if err := validator.ValidateRating(rating); err != nil {
		return repo.UpdateResult{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	res, err := s.repo.UpdateMany(ctx, repo.All(), repo.Set{repo.FieldRating: rating})
	if err != nil {
		return repo.UpdateResult{}, fmt.Errorf("set rating: %w", err)
	}
	logger.Debug("Rating set", "matched", res.Matched, "modified", res.Modified)
	return res, nil
}

// DeleteByISBN removes the first record with the ISBN
func (s *Service) DeleteByISBN(ctx context.Context, isbn string) (int64, error) {
	n, err := s.repo.DeleteOne(ctx, repo.Eq(repo.FieldISBN, isbn))
	if err != nil {
		return 0, fmt.Errorf("delete book %s: %w", isbn, err)
	}
	return n, nil
}

// DeleteByGenre removes every record whose genre equals genre exactly
func (s *Service) DeleteByGenre(ctx context.Context, genre string) (int64, error) {
	n, err := s.repo.DeleteMany(ctx, repo.Eq(repo.FieldGenre, genre))
	if err != nil {
		return 0, fmt.Errorf("delete genre %q: %w", genre, err)
	}
	return n, nil
}

// CountByGenre returns one group per distinct genre
func (s *Service) CountByGenre(ctx context.Context) ([]book.GroupCount, error) {
	groups, err := s.repo.GroupCount(ctx, repo.FieldGenre)
	if err != nil {
		return nil, fmt.Errorf("count books per genre: %w", err)
	}
	return groups, nil
}

// AveragePublishedYear returns the mean publication year
func (s *Service) AveragePublishedYear(ctx context.Context) (float64, error) {
	avg, err := s.repo.Average(ctx, repo.FieldPublishedYear)
	if err != nil {
		return 0, fmt.Errorf("average published year: %w", err)
	}
	return avg, nil
}

// TopRated returns up to n records ordered by rating, highest first.
// Ties keep the store's order.
func (s *Service) TopRated(ctx context.Context, n int64) ([]book.Book, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: top-rated limit %d (must be positive)", ErrInvalidInput, n)
	}
	books, err := s.repo.Find(ctx, repo.All(), repo.FindOptions{
		SortBy:     repo.FieldRating,
		Descending: true,
		Limit:      n,
	})
	if err != nil {
		return nil, fmt.Errorf("top rated books: %w", err)
	}
	return books, nil
}

// EnsureAuthorIndex creates the author lookup index if missing
func (s *Service) EnsureAuthorIndex(ctx context.Context) (string, error) {
	name, err := s.repo.CreateIndex(ctx, repo.FieldAuthor)
	if err != nil {
		return "", fmt.Errorf("create author index: %w", err)
	}
	return name, nil
}

// Indexes lists the store's index names
func (s *Service) Indexes(ctx context.Context) ([]string, error) {
	names, err := s.repo.Indexes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list indexes: %w", err)
	}
	return names, nil
}

// DuplicateISBNs reports ISBNs shared by more than one record.
// ISBN uniqueness is not enforced by the store, so this only audits.
func (s *Service) DuplicateISBNs(ctx context.Context) ([]book.GroupCount, error) {
	groups, err := s.repo.GroupCount(ctx, repo.FieldISBN)
	if err != nil {
		return nil, fmt.Errorf("audit ISBNs: %w", err)
	}

	var dups []book.GroupCount
	for _, g := range groups {
		if g.Count > 1 {
			dups = append(dups, g)
		}
	}
	return dups, nil
}
