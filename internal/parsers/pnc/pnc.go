// Package pnc parses PNC bank CSV statement exports.
//
// Format: a summary row "AccountNumber,StartDate,EndDate,
// BeginningBalance,EndingBalance" followed by one row per transaction:
// "Date,Amount,Description,Memo,Reference,Type". Amounts are unsigned;
// the Type column (DEBIT or CREDIT) carries the direction. Rows have no
// running balance, so the summary's ending balance is attached to the
// final transaction as the statement's reported balance.
package pnc

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rumor-ml/bankfeed/internal/parser"
)

// Parser implements PNC CSV parsing with a stateless design
type Parser struct{}

var parserInstance = &Parser{}

// NewParser returns the shared PNC parser instance.
func NewParser() *Parser {
	return parserInstance
}

const (
	summaryFields = 5
	txnFields     = 6

	dateFormat = "2006/01/02"
)

// datePattern matches YYYY/MM/DD dates in the summary row
var datePattern = regexp.MustCompile(`^\d{4}/\d{2}/\d{2}$`)

// Name returns the parser identifier
func (p *Parser) Name() string {
	return "pnc"
}

// CanParse checks if this parser can handle the file. PNC exports have
// no column header; the first row is the summary with dates in fields
// 1 and 2.
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
	if len(record) != summaryFields {
		return false
	}
	if !datePattern.MatchString(strings.TrimSpace(record[1])) {
		return false
	}
	if !datePattern.MatchString(strings.TrimSpace(record[2])) {
		return false
	}
	return true
}

// Parse extracts statement lines from a PNC CSV export
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

	endingBalance, err := p.parseSummary(records[0])
	if err != nil {
		return nil, parser.NewFormatError(p.Name(), "summary row", err)
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

	if len(lines) == 0 {
		return nil, parser.NewFormatError(p.Name(), "statement contains no transactions", nil)
	}

	// Rows carry no running balance; the summary's ending balance is the
	// statement's reported balance after the final row.
	lines[len(lines)-1].SetBalance(endingBalance)

	return lines, nil
}

// parseSummary validates the summary row and returns the ending balance
func (p *Parser) parseSummary(record []string) (decimal.Decimal, error) {
	if len(record) != summaryFields {
		return decimal.Zero, fmt.Errorf("summary row must have %d fields, got %d", summaryFields, len(record))
	}

	if strings.TrimSpace(record[0]) == "" {
		return decimal.Zero, fmt.Errorf("account number cannot be empty")
	}
	if _, err := time.Parse(dateFormat, strings.TrimSpace(record[1])); err != nil {
		return decimal.Zero, fmt.Errorf("invalid start date %q: %w", record[1], err)
	}
	if _, err := time.Parse(dateFormat, strings.TrimSpace(record[2])); err != nil {
		return decimal.Zero, fmt.Errorf("invalid end date %q: %w", record[2], err)
	}

	balance, err := parseAmount(record[4])
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid ending balance %q: %w", record[4], err)
	}
	return balance, nil
}

// parseRow parses a single transaction row
func (p *Parser) parseRow(record []string) (*parser.Line, error) {
	if len(record) != txnFields {
		return nil, fmt.Errorf("transaction row must have %d fields, got %d", txnFields, len(record))
	}

	date, err := time.Parse(dateFormat, strings.TrimSpace(record[0]))
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", record[0], err)
	}

	amount, err := parseAmount(record[1])
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", record[1], err)
	}

	description := strings.TrimSpace(record[2])
	if description == "" {
		return nil, fmt.Errorf("description cannot be empty")
	}

	// The reference disambiguates rows with identical date, description
	// and amount, so it joins the description the fingerprint is built
	// from
	if reference := strings.TrimSpace(record[4]); reference != "" {
		description = fmt.Sprintf("%s (%s)", description, reference)
	}

	line, err := parser.NewLine(date, description)
	if err != nil {
		return nil, err
	}

	txnType := strings.TrimSpace(record[5])
	switch {
	case strings.EqualFold(txnType, "DEBIT"):
		err = line.SetDebit(amount.Abs())
	case strings.EqualFold(txnType, "CREDIT"):
		err = line.SetCredit(amount.Abs())
	case amount.IsNegative():
		err = line.SetDebit(amount.Abs())
	case amount.IsPositive():
		err = line.SetCredit(amount)
	default:
		return nil, fmt.Errorf("row has no type and a zero amount")
	}
	if err != nil {
		return nil, err
	}

	return line, nil
}

// parseAmount parses a PNC currency value, tolerating currency symbols
// and thousands separators.
func parseAmount(s string) (decimal.Decimal, error) {
	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, ",", "")
	return decimal.NewFromString(strings.TrimSpace(s))
}
