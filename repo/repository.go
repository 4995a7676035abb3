package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/htol/bookcat/book"
)

var (
	// ErrStore matches every failure returned by a Repository
	ErrStore = errors.New("store operation failed")
	// ErrNotFound is returned when a record or aggregate result is not found
	ErrNotFound = errors.New("record not found")
	// ErrUnknownField is returned for filters, sorts or updates on fields the catalog does not store
	ErrUnknownField = errors.New("unknown field")
	// ErrUnsupportedField is returned when a field has the wrong type for an operation
	ErrUnsupportedField = errors.New("unsupported field for operation")
	// ErrEmptySet is returned by updates without any assignment
	ErrEmptySet = errors.New("update sets no fields")
)

// OpError records the store operation that failed
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrStore) match any OpError
func (e *OpError) Is(target error) bool {
	return target == ErrStore
}

func opErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var already *OpError
	if errors.As(err, &already) {
		return err
	}
	return &OpError{Op: op, Err: err}
}

// UpdateResult reports how many records an update touched
type UpdateResult struct {
	Matched  int64
	Modified int64
}

// FindOptions controls ordering and size of a Find. Without SortBy the order is undefined.
type FindOptions struct {
	SortBy     string
	Descending bool
	Limit      int64
}

// Repository defines the data access operations over one collection of books
type Repository interface {
	// Ping checks the store is reachable
	Ping(ctx context.Context) error

	// Close releases the connection. Safe to call more than once.
	Close(ctx context.Context) error

	// Drop removes every record and every secondary index
	Drop(ctx context.Context) error

	// InsertMany stores records in one batch and returns their ids
	InsertMany(ctx context.Context, books []book.Book) ([]string, error)

	Find(ctx context.Context, filter Filter, opts FindOptions) ([]book.Book, error)
	Count(ctx context.Context, filter Filter) (int64, error)

	// UpdateOne sets fields on the first record matching filter. No match is not an error.
	UpdateOne(ctx context.Context, filter Filter, set Set) (UpdateResult, error)
	UpdateMany(ctx context.Context, filter Filter, set Set) (UpdateResult, error)

	DeleteOne(ctx context.Context, filter Filter) (int64, error)
	DeleteMany(ctx context.Context, filter Filter) (int64, error)

	// GroupCount counts records per distinct value of a string field, ordered by value
	GroupCount(ctx context.Context, field string) ([]book.GroupCount, error)

	// Average returns the mean of a numeric field over records that carry it
	Average(ctx context.Context, field string) (float64, error)

	// CreateIndex creates an ascending index on field and returns its name.
	// Creating an existing index is a no-op.
	CreateIndex(ctx context.Context, field string) (string, error)

	// Indexes lists index names, including the store's primary key index
	Indexes(ctx context.Context) ([]string, error)
}

// IndexName is the name CreateIndex gives a single-field ascending index
func IndexName(field string) string {
	return field + "_1"
}
