package repo

import (
	"fmt"
	"sort"
)

// Stored field names
const (
	FieldTitle         = "title"
	FieldAuthor        = "author"
	FieldPublishedYear = "publishedYear"
	FieldGenre         = "genre"
	FieldISBN          = "ISBN"
	FieldRating        = "rating"
)

type fieldKind int

const (
	kindString fieldKind = iota
	kindInt
	kindFloat
)

type fieldInfo struct {
	column string
	kind   fieldKind
}

var fields = map[string]fieldInfo{
	FieldTitle:         {column: "title", kind: kindString},
	FieldAuthor:        {column: "author", kind: kindString},
	FieldPublishedYear: {column: "published_year", kind: kindInt},
	FieldGenre:         {column: "genre", kind: kindString},
	FieldISBN:          {column: "isbn", kind: kindString},
	FieldRating:        {column: "rating", kind: kindFloat},
}

func lookupField(name string) (fieldInfo, error) {
	info, ok := fields[name]
	if !ok {
		return fieldInfo{}, fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
	return info, nil
}

func stringField(name string) error {
	info, err := lookupField(name)
	if err != nil {
		return err
	}
	if info.kind != kindString {
		return fmt.Errorf("%w: %q is not a string field", ErrUnsupportedField, name)
	}
	return nil
}

func numericField(name string) error {
	info, err := lookupField(name)
	if err != nil {
		return err
	}
	if info.kind == kindString {
		return fmt.Errorf("%w: %q is not numeric", ErrUnsupportedField, name)
	}
	return nil
}

type Op int

const (
	OpEq Op = iota
	OpGt
)

func (o Op) String() string {
	switch o {
	case OpEq:
		return "="
	case OpGt:
		return ">"
	default:
		return fmt.Sprintf("Op(%d)", int(o))
	}
}

// Condition is a single field predicate
type Condition struct {
	Field string
	Op    Op
	Value any
}

// Filter is a conjunction of conditions. The empty filter matches every record.
type Filter []Condition

// All matches every record
func All() Filter {
	return nil
}

// Eq matches records whose field equals v
func Eq(field string, v any) Filter {
	return Filter{{Field: field, Op: OpEq, Value: v}}
}

// Gt matches records whose field is strictly greater than v
func Gt(field string, v any) Filter {
	return Filter{{Field: field, Op: OpGt, Value: v}}
}

// And returns a filter matching both f and other
func (f Filter) And(other Filter) Filter {
	out := make(Filter, 0, len(f)+len(other))
	out = append(out, f...)
	return append(out, other...)
}

func (f Filter) validate() error {
	for _, c := range f {
		if _, err := lookupField(c.Field); err != nil {
			return err
		}
		if c.Op != OpEq && c.Op != OpGt {
			return fmt.Errorf("unsupported operator %s on %q", c.Op, c.Field)
		}
	}
	return nil
}

func (f Filter) String() string {
	if len(f) == 0 {
		return "{}"
	}
	s := ""
	for i, c := range f {
		if i > 0 {
			s += " AND "
		}
		s += fmt.Sprintf("%s %s %v", c.Field, c.Op, c.Value)
	}
	return s
}

// Set maps fields to the values an update assigns
type Set map[string]any

func (s Set) validate() error {
	if len(s) == 0 {
		return ErrEmptySet
	}
	for name := range s {
		if _, err := lookupField(name); err != nil {
			return err
		}
	}
	return nil
}

// keys returns field names in a stable order
func (s Set) keys() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (o FindOptions) validate() error {
	if o.SortBy != "" {
		if _, err := lookupField(o.SortBy); err != nil {
			return err
		}
	}
	if o.Limit < 0 {
		return fmt.Errorf("negative limit %d", o.Limit)
	}
	return nil
}
