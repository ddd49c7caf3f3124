// Package parser defines the strategy interface implemented by every
// institution statement parser, and the parsed-line type the rest of
// the ingestion pipeline consumes.
package parser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"
)

// Parser is the strategy interface for all institution statement formats
type Parser interface {
	// Name returns the parser identifier (e.g. "ing", "ofx"). The
	// identifier doubles as the importer-type key stored on accounts.
	Name() string

	// CanParse checks if this parser can handle the file, based on the
	// file name and the first bytes of content.
	CanParse(path string, header []byte) bool

	// Parse extracts statement lines from the reader in statement order.
	// Downstream identity hashing and running-balance handling depend on
	// that order being preserved. Structural failures (wrong column
	// count, unparsable header, malformed row) return a *FormatError;
	// one malformed line fails the whole file, so a partial statement
	// can never reach staging.
	Parse(ctx context.Context, r io.Reader) ([]Line, error)
}

// FormatError reports an unrecoverable structural problem in a
// statement file. It is fatal for the ingestion job that hit it.
type FormatError struct {
	Format string // Parser identifier
	Reason string
	Err    error // Underlying cause, may be nil
}

// Error implements the error interface
func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s statement format error: %s: %v", e.Format, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s statement format error: %s", e.Format, e.Reason)
}

// Unwrap returns the underlying cause
func (e *FormatError) Unwrap() error { return e.Err }

// NewFormatError creates a format error with an optional cause
func NewFormatError(format, reason string, err error) *FormatError {
	return &FormatError{Format: format, Reason: reason, Err: err}
}

// IsFormatError reports whether err is (or wraps) a FormatError
func IsFormatError(err error) bool {
	var fe *FormatError
	return errors.As(err, &fe)
}

// Line is one parsed statement line before staging. Exactly one of the
// credit and debit columns may be populated; the reported running
// balance and category hints are optional, depending on what the
// institution's format exposes.
type Line struct {
	date         time.Time
	description  string
	credit       decimal.NullDecimal
	debit        decimal.NullDecimal
	balance      decimal.NullDecimal
	categoryHint string
	tagHints     []string
}

// NewLine creates a validated statement line
func NewLine(date time.Time, description string) (*Line, error) {
	if date.IsZero() {
		return nil, fmt.Errorf("line date cannot be zero")
	}
	if description == "" {
		return nil, fmt.Errorf("description cannot be empty")
	}
	return &Line{
		date:        date,
		description: description,
	}, nil
}

// Date returns the statement date
func (l *Line) Date() time.Time { return l.date }

// Description returns the line description
func (l *Line) Description() string { return l.description }

// Credit returns the credit column value
func (l *Line) Credit() decimal.NullDecimal { return l.credit }

// Debit returns the debit column value
func (l *Line) Debit() decimal.NullDecimal { return l.debit }

// Balance returns the statement's reported running balance after this line
func (l *Line) Balance() decimal.NullDecimal { return l.balance }

// CategoryHint returns the institution's category hint, if any
func (l *Line) CategoryHint() string { return l.categoryHint }

// TagHints returns institution-supplied tag hints, if any
func (l *Line) TagHints() []string {
	return append([]string(nil), l.tagHints...)
}

// SetCredit sets the credit column. A line cannot carry both a credit
// and a debit amount.
func (l *Line) SetCredit(amount decimal.Decimal) error {
	if l.debit.Valid {
		return fmt.Errorf("line already has a debit amount")
	}
	if amount.IsNegative() {
		return fmt.Errorf("credit amount cannot be negative, got %s", amount)
	}
	l.credit = decimal.NewNullDecimal(amount)
	return nil
}

// SetDebit sets the debit column as a positive magnitude
func (l *Line) SetDebit(amount decimal.Decimal) error {
	if l.credit.Valid {
		return fmt.Errorf("line already has a credit amount")
	}
	if amount.IsNegative() {
		return fmt.Errorf("debit amount cannot be negative, got %s", amount)
	}
	l.debit = decimal.NewNullDecimal(amount)
	return nil
}

// SetBalance sets the reported running balance after this line
func (l *Line) SetBalance(balance decimal.Decimal) {
	l.balance = decimal.NewNullDecimal(balance)
}

// SetCategoryHint sets the institution's category hint
func (l *Line) SetCategoryHint(hint string) {
	l.categoryHint = hint
}

// AddTagHint appends an institution-supplied tag hint
func (l *Line) AddTagHint(hint string) {
	if hint == "" {
		return
	}
	l.tagHints = append(l.tagHints, hint)
}

// Amount returns the signed amount: credit positive, debit negative,
// zero when neither column is populated.
func (l *Line) Amount() decimal.Decimal {
	if l.credit.Valid {
		return l.credit.Decimal
	}
	if l.debit.Valid {
		return l.debit.Decimal.Neg()
	}
	return decimal.Zero
}
