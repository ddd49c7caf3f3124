// Package ing parses ING bank CSV statement exports.
//
// Format: a header row "Date,Description,Credit,Debit,Balance" followed
// by one row per transaction, oldest first. Exactly one of Credit and
// Debit is populated per row; Debit is exported as a negative value.
// Balance is the running account balance after the row, which makes the
// final row's balance the statement's reported ending balance.
package ing

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rumor-ml/bankfeed/internal/parser"
)

// Parser implements ING CSV parsing with a stateless design. The struct
// has no fields because parsing requires no configuration state, making
// the parser safe for concurrent use without locking.
type Parser struct{}

var parserInstance = &Parser{}

// NewParser returns the shared ING parser instance.
func NewParser() *Parser {
	return parserInstance
}

const (
	numFields  = 5
	colDate    = 0
	colDesc    = 1
	colCredit  = 2
	colDebit   = 3
	colBalance = 4

	dateFormat = "02/01/2006"
)

var headerFields = []string{"Date", "Description", "Credit", "Debit", "Balance"}

// Name returns the parser identifier
func (p *Parser) Name() string {
	return "ing"
}

// CanParse checks if this parser can handle the file based on extension
// and the header row
func (p *Parser) CanParse(path string, header []byte) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".csv" {
		return false
	}

	r := csv.NewReader(strings.NewReader(string(header)))
	r.LazyQuotes = true
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1

	record, err := r.Read()
	if err != nil {
		return false
	}
	if len(record) != numFields {
		return false
	}
	for i, want := range headerFields {
		if !strings.EqualFold(strings.TrimSpace(record[i]), want) {
			return false
		}
	}
	return true
}

// Parse extracts statement lines from an ING CSV export
func (p *Parser) Parse(ctx context.Context, r io.Reader) ([]parser.Line, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	csvReader := csv.NewReader(r)
	csvReader.LazyQuotes = true
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	records, err := csvReader.ReadAll()
	if err != nil {
		return nil, parser.NewFormatError(p.Name(), "failed to read CSV content", err)
	}

	if len(records) < 1 {
		return nil, parser.NewFormatError(p.Name(), "statement file is empty", nil)
	}

	if len(records[0]) != numFields {
		return nil, parser.NewFormatError(p.Name(), fmt.Sprintf("header row must have %d fields, got %d", numFields, len(records[0])), nil)
	}

	lines := make([]parser.Line, 0, len(records)-1)
	for i, record := range records[1:] {
		// Skip trailing blank rows
		if len(record) == 0 || (len(record) == 1 && strings.TrimSpace(record[0]) == "") {
			continue
		}

		line, err := p.parseRow(record)
		if err != nil {
			return nil, parser.NewFormatError(p.Name(), fmt.Sprintf("row %d", i+2), err)
		}
		lines = append(lines, *line)
	}

	return lines, nil
}

// parseRow parses a single transaction row
func (p *Parser) parseRow(record []string) (*parser.Line, error) {
	if len(record) != numFields {
		return nil, fmt.Errorf("transaction row must have %d fields, got %d", numFields, len(record))
	}

	date, err := time.Parse(dateFormat, strings.TrimSpace(record[colDate]))
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", record[colDate], err)
	}

	description := strings.TrimSpace(record[colDesc])
	if description == "" {
		return nil, fmt.Errorf("description cannot be empty")
	}

	line, err := parser.NewLine(date, description)
	if err != nil {
		return nil, err
	}

	creditStr := strings.TrimSpace(record[colCredit])
	debitStr := strings.TrimSpace(record[colDebit])

	switch {
	case creditStr != "" && debitStr != "":
		return nil, fmt.Errorf("row has both credit %q and debit %q", creditStr, debitStr)
	case creditStr != "":
		credit, err := parseAmount(creditStr)
		if err != nil {
			return nil, fmt.Errorf("invalid credit %q: %w", creditStr, err)
		}
		if err := line.SetCredit(credit); err != nil {
			return nil, err
		}
	case debitStr != "":
		debit, err := parseAmount(debitStr)
		if err != nil {
			return nil, fmt.Errorf("invalid debit %q: %w", debitStr, err)
		}
		// ING exports debits as negative values; staging stores the magnitude
		if err := line.SetDebit(debit.Abs()); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("row has neither credit nor debit")
	}

	balanceStr := strings.TrimSpace(record[colBalance])
	if balanceStr == "" {
		return nil, fmt.Errorf("balance cannot be empty")
	}
	balance, err := parseAmount(balanceStr)
	if err != nil {
		return nil, fmt.Errorf("invalid balance %q: %w", balanceStr, err)
	}
	line.SetBalance(balance)

	return line, nil
}

// parseAmount parses an ING currency value, tolerating currency symbols
// and thousands separators.
func parseAmount(s string) (decimal.Decimal, error) {
	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, ",", "")
	return decimal.NewFromString(strings.TrimSpace(s))
}
