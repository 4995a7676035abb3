package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/htol/bookcat/book"
	"github.com/htol/bookcat/config"
	"github.com/htol/bookcat/logger"
	_ "github.com/mattn/go-sqlite3"
)

const booksTable = "books"

const schema = `
	CREATE TABLE IF NOT EXISTS "books" (
		id text primary key not null,
		title text not null,
		author text not null,
		published_year integer not null,
		genre text not null,
		isbn text not null,
		rating real
	);
`

// SQLiteStore keeps the catalog in a single SQLite table
type SQLiteStore struct {
	db   *sql.DB
	path string

	closeOnce sync.Once
	closeErr  error
}

var _ Repository = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the database at cfg.Path
func OpenSQLite(cfg config.SQLiteConfig) (*SQLiteStore, error) {
	s := &SQLiteStore{path: cfg.Path}

	db, err := sql.Open("sqlite3", "file:"+s.path+"?mode=rwc&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, opErr("open", fmt.Errorf("open %s: %w", s.path, err))
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, opErr("open", fmt.Errorf("create schema: %w", err))
	}

	s.db = db
	logger.Debug("Opened sqlite catalog", "path", s.path)
	return s, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return opErr("ping", s.db.PingContext(ctx))
}

func (s *SQLiteStore) Close(_ context.Context) error {
	s.closeOnce.Do(func() {
		logger.Info("Closing database connection", "path", s.path)
		s.closeErr = opErr("close", s.db.Close())
	})
	return s.closeErr
}

func (s *SQLiteStore) Drop(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DROP TABLE IF EXISTS "books"`); err != nil {
		return opErr("drop", err)
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return opErr("drop", fmt.Errorf("recreate schema: %w", err))
	}
	return nil
}

// InsertMany stores all records in one transaction; any failure inserts none
func (s *SQLiteStore) InsertMany(ctx context.Context, books []book.Book) ([]string, error) {
	if len(books) == 0 {
		return nil, opErr("insert many", errors.New("no records to insert"))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, opErr("insert many", fmt.Errorf("begin transaction: %w", err))
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO books (id, title, author, published_year, genre, isbn, rating) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, opErr("insert many", fmt.Errorf("prepare: %w", err))
	}
	defer stmt.Close()

	ids := make([]string, 0, len(books))
	for _, b := range books {
		id := uuid.NewString()
		var rating any
		if b.Rating != nil {
			rating = *b.Rating
		}
		if _, err := stmt.ExecContext(ctx, id, b.Title, b.Author, b.PublishedYear, b.Genre, b.ISBN, rating); err != nil {
			return nil, opErr("insert many", fmt.Errorf("insert %q: %w", b.ISBN, err))
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, opErr("insert many", fmt.Errorf("commit: %w", err))
	}
	return ids, nil
}

func (s *SQLiteStore) Find(ctx context.Context, filter Filter, opts FindOptions) ([]book.Book, error) {
	if err := opts.validate(); err != nil {
		return nil, opErr("find", err)
	}
	where, args, err := whereClause(filter)
	if err != nil {
		return nil, opErr("find", err)
	}

	query := `SELECT id, title, author, published_year, genre, isbn, rating FROM books` + where
	if opts.SortBy != "" {
		dir := "ASC"
		if opts.Descending {
			dir = "DESC"
		}
		query += fmt.Sprintf(" ORDER BY %s %s", fields[opts.SortBy].column, dir)
	}
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, opErr("find", err)
	}
	defer rows.Close()

	var books []book.Book
	for rows.Next() {
		var b book.Book
		var rating sql.NullFloat64
		if err := rows.Scan(&b.ID, &b.Title, &b.Author, &b.PublishedYear, &b.Genre, &b.ISBN, &rating); err != nil {
			return nil, opErr("find", fmt.Errorf("scan: %w", err))
		}
		if rating.Valid {
			b = b.Rated(rating.Float64)
		}
		books = append(books, b)
	}
	if err := rows.Err(); err != nil {
		return nil, opErr("find", err)
	}
	return books, nil
}

func (s *SQLiteStore) Count(ctx context.Context, filter Filter) (int64, error) {
	where, args, err := whereClause(filter)
	if err != nil {
		return 0, opErr("count", err)
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM books`+where, args...).Scan(&n); err != nil {
		return 0, opErr("count", err)
	}
	return n, nil
}

// UpdateOne updates the first matching row in insertion order. The lookup and
// the write share one transaction.
func (s *SQLiteStore) UpdateOne(ctx context.Context, filter Filter, set Set) (UpdateResult, error) {
	if err := set.validate(); err != nil {
		return UpdateResult{}, opErr("update one", err)
	}
	where, args, err := whereClause(filter)
	if err != nil {
		return UpdateResult{}, opErr("update one", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return UpdateResult{}, opErr("update one", fmt.Errorf("begin transaction: %w", err))
	}
	defer tx.Rollback()

	var rowid int64
	err = tx.QueryRowContext(ctx, `SELECT rowid FROM books`+where+` ORDER BY rowid LIMIT 1`, args...).Scan(&rowid)
	if errors.Is(err, sql.ErrNoRows) {
		return UpdateResult{}, nil
	}
	if err != nil {
		return UpdateResult{}, opErr("update one", err)
	}

	assign, unchanged, setArgs := setClause(set)
	query := `UPDATE books SET ` + assign + ` WHERE rowid = ? AND NOT (` + unchanged + `)`
	queryArgs := append(append(append([]any{}, setArgs...), rowid), setArgs...)
	res, err := tx.ExecContext(ctx, query, queryArgs...)
	if err != nil {
		return UpdateResult{}, opErr("update one", err)
	}
	modified, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return UpdateResult{}, opErr("update one", fmt.Errorf("commit: %w", err))
	}
	return UpdateResult{Matched: 1, Modified: modified}, nil
}

func (s *SQLiteStore) UpdateMany(ctx context.Context, filter Filter, set Set) (UpdateResult, error) {
	if err := set.validate(); err != nil {
		return UpdateResult{}, opErr("update many", err)
	}
	where, args, err := whereClause(filter)
	if err != nil {
		return UpdateResult{}, opErr("update many", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return UpdateResult{}, opErr("update many", fmt.Errorf("begin transaction: %w", err))
	}
	defer tx.Rollback()

	var matched int64
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM books`+where, args...).Scan(&matched); err != nil {
		return UpdateResult{}, opErr("update many", err)
	}

	assign, unchanged, setArgs := setClause(set)
	cond := " WHERE NOT (" + unchanged + ")"
	if where != "" {
		cond = where + " AND NOT (" + unchanged + ")"
	}
	queryArgs := append(append(append([]any{}, setArgs...), args...), setArgs...)
	res, err := tx.ExecContext(ctx, `UPDATE books SET `+assign+cond, queryArgs...)
	if err != nil {
		return UpdateResult{}, opErr("update many", err)
	}
	modified, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return UpdateResult{}, opErr("update many", fmt.Errorf("commit: %w", err))
	}
	return UpdateResult{Matched: matched, Modified: modified}, nil
}

func (s *SQLiteStore) DeleteOne(ctx context.Context, filter Filter) (int64, error) {
	where, args, err := whereClause(filter)
	if err != nil {
		return 0, opErr("delete one", err)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM books WHERE rowid = (SELECT rowid FROM books`+where+` ORDER BY rowid LIMIT 1)`, args...)
	if err != nil {
		return 0, opErr("delete one", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *SQLiteStore) DeleteMany(ctx context.Context, filter Filter) (int64, error) {
	where, args, err := whereClause(filter)
	if err != nil {
		return 0, opErr("delete many", err)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM books`+where, args...)
	if err != nil {
		return 0, opErr("delete many", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *SQLiteStore) GroupCount(ctx context.Context, field string) ([]book.GroupCount, error) {
	if err := stringField(field); err != nil {
		return nil, opErr("group count", err)
	}
	col := fields[field].column

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT %[1]s, COUNT(*) FROM books GROUP BY %[1]s ORDER BY %[1]s`, col))
	if err != nil {
		return nil, opErr("group count", err)
	}
	defer rows.Close()

	var groups []book.GroupCount
	for rows.Next() {
		var g book.GroupCount
		if err := rows.Scan(&g.Key, &g.Count); err != nil {
			return nil, opErr("group count", fmt.Errorf("scan: %w", err))
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, opErr("group count", err)
	}
	return groups, nil
}

func (s *SQLiteStore) Average(ctx context.Context, field string) (float64, error) {
	if err := numericField(field); err != nil {
		return 0, opErr("average", err)
	}

	var avg sql.NullFloat64
	query := fmt.Sprintf(`SELECT AVG(%s) FROM books`, fields[field].column)
	if err := s.db.QueryRowContext(ctx, query).Scan(&avg); err != nil {
		return 0, opErr("average", err)
	}
	if !avg.Valid {
		return 0, opErr("average", fmt.Errorf("%w: no %s values", ErrNotFound, field))
	}
	return avg.Float64, nil
}

func (s *SQLiteStore) CreateIndex(ctx context.Context, field string) (string, error) {
	info, err := lookupField(field)
	if err != nil {
		return "", opErr("create index", err)
	}
	name := IndexName(field)
	stmt := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS [%s] ON "books" ([%s])`, name, info.column)
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return "", opErr("create index", err)
	}
	return name, nil
}

func (s *SQLiteStore) Indexes(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'index' AND tbl_name = ? ORDER BY name`, booksTable)
	if err != nil {
		return nil, opErr("list indexes", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, opErr("list indexes", err)
		}
		names = append(names, name)
	}
	return names, opErr("list indexes", rows.Err())
}

// whereClause renders a filter as " WHERE ..." with positional args.
// Equality with nil matches rows where the column is NULL.
func whereClause(f Filter) (string, []any, error) {
	if err := f.validate(); err != nil {
		return "", nil, err
	}
	if len(f) == 0 {
		return "", nil, nil
	}

	parts := make([]string, 0, len(f))
	args := make([]any, 0, len(f))
	for _, c := range f {
		col := fields[c.Field].column
		switch {
		case c.Op == OpEq && c.Value == nil:
			parts = append(parts, col+" IS NULL")
		case c.Op == OpEq:
			parts = append(parts, col+" = ?")
			args = append(args, c.Value)
		case c.Op == OpGt:
			parts = append(parts, col+" > ?")
			args = append(args, c.Value)
		}
	}
	return " WHERE " + strings.Join(parts, " AND "), args, nil
}

// setClause returns the SET list, a predicate that holds when a row already
// carries every assigned value, and the values in field order.
func setClause(set Set) (assign, unchanged string, args []any) {
	keys := set.keys()
	assigns := make([]string, 0, len(keys))
	same := make([]string, 0, len(keys))
	for _, k := range keys {
		col := fields[k].column
		assigns = append(assigns, col+" = ?")
		same = append(same, col+" IS ?")
		args = append(args, set[k])
	}
	return strings.Join(assigns, ", "), strings.Join(same, " AND "), args
}
