// Package validator provides input validation for catalog records
package validator

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/htol/bookcat/book"
)

var (
	// ErrEmptyString is returned when a string parameter is empty
	ErrEmptyString = errors.New("string cannot be empty")
	// ErrInvalidISBN is returned when an ISBN is not 10 or 13 digits long
	ErrInvalidISBN = errors.New("invalid ISBN: must contain 10 or 13 digits")
	// ErrInvalidYear is returned for non-positive publication years
	ErrInvalidYear = errors.New("invalid published year")
	// ErrInvalidRating is returned for ratings outside 0..5
	ErrInvalidRating = errors.New("invalid rating: must be between 0 and 5")
)

// ValidateNonEmpty validates that a string is not empty
func ValidateNonEmpty(s string) error {
	if strings.TrimSpace(s) == "" {
		return ErrEmptyString
	}
	return nil
}

// ValidateISBN accepts ISBN-10 and ISBN-13 with optional hyphens or spaces.
// A trailing X is allowed for ISBN-10. Checksums are not verified.
func ValidateISBN(isbn string) error {
	if err := ValidateNonEmpty(isbn); err != nil {
		return fmt.Errorf("isbn: %w", err)
	}

	digits := 0
	runes := []rune(isbn)
	for i, r := range runes {
		switch {
		case unicode.IsDigit(r):
			digits++
		case r == '-' || r == ' ':
		case (r == 'X' || r == 'x') && i == len(runes)-1:
			digits++
		default:
			return fmt.Errorf("%w: got '%c'", ErrInvalidISBN, r)
		}
	}

	if digits != 10 && digits != 13 {
		return fmt.Errorf("%w: got %d", ErrInvalidISBN, digits)
	}
	return nil
}

// ValidateYear validates that a publication year is positive
func ValidateYear(year int) error {
	if year <= 0 {
		return fmt.Errorf("%w: %d (must be positive)", ErrInvalidYear, year)
	}
	return nil
}

// ValidateRating validates a rating on the 0..5 scale
func ValidateRating(r float64) error {
	if r < 0 || r > 5 {
		return fmt.Errorf("%w: %g", ErrInvalidRating, r)
	}
	return nil
}

// ValidateBook checks every required field of a record
func ValidateBook(b book.Book) error {
	if err := ValidateNonEmpty(b.Title); err != nil {
		return fmt.Errorf("title: %w", err)
	}
	if err := ValidateNonEmpty(b.Author); err != nil {
		return fmt.Errorf("author: %w", err)
	}
	if err := ValidateNonEmpty(b.Genre); err != nil {
		return fmt.Errorf("genre: %w", err)
	}
	if err := ValidateYear(b.PublishedYear); err != nil {
		return err
	}
	if err := ValidateISBN(b.ISBN); err != nil {
		return err
	}
	if b.Rating != nil {
		if err := ValidateRating(*b.Rating); err != nil {
			return err
		}
	}
	return nil
}
