// Package amp parses AMP superannuation fund CSV statement exports.
//
// Format: a header row "Date,Transaction Description,Employer
// Contribution,Member Contribution,Government Contribution,Total"
// followed by one row per transaction, oldest first. Contribution rows
// populate one of the three breakdown columns; fee and outflow rows
// carry a negative Total with no breakdown. There is no running-balance
// column. The populated contribution column becomes the line's category
// hint so rule reprocessing can see which bucket a contribution
// belonged to.
package amp

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rumor-ml/bankfeed/internal/domain"
	"github.com/rumor-ml/bankfeed/internal/parser"
)

// Parser implements AMP superannuation CSV parsing. Stateless and safe
// for concurrent use.
type Parser struct{}

var parserInstance = &Parser{}

// NewParser returns the shared AMP parser instance.
func NewParser() *Parser {
	return parserInstance
}

const (
	numFields     = 6
	colDate       = 0
	colDesc       = 1
	colEmployer   = 2
	colMember     = 3
	colGovernment = 4
	colTotal      = 5

	dateFormat = "2006-01-02"
)

var headerFields = []string{
	"Date", "Transaction Description",
	"Employer Contribution", "Member Contribution", "Government Contribution",
	"Total",
}

// Contribution category hints attached to parsed lines.
const (
	HintEmployerContribution   = "employer-contribution"
	HintMemberContribution     = "member-contribution"
	HintGovernmentContribution = "government-contribution"
)

// Name returns the parser identifier
func (p *Parser) Name() string {
	return "amp"
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

// Parse extracts statement lines from an AMP CSV export
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

	totalStr := strings.TrimSpace(record[colTotal])
	if totalStr == "" {
		return nil, fmt.Errorf("total cannot be empty")
	}
	total, err := decimal.NewFromString(totalStr)
	if err != nil {
		return nil, fmt.Errorf("invalid total %q: %w", totalStr, err)
	}

	line, err := parser.NewLine(date, description)
	if err != nil {
		return nil, err
	}

	hint, contribution, err := p.contributionBreakdown(record)
	if err != nil {
		return nil, err
	}

	if hint != "" {
		// Contribution row: the breakdown column must match the total
		if !contribution.Equal(total) {
			return nil, fmt.Errorf("contribution %s does not match total %s", contribution, total)
		}
		if err := line.SetCredit(total); err != nil {
			return nil, err
		}
		line.SetCategoryHint(hint)
		return line, nil
	}

	// Fee or other non-contribution row: sign decides the column
	if total.IsNegative() {
		if err := line.SetDebit(total.Abs()); err != nil {
			return nil, err
		}
	} else {
		if err := line.SetCredit(total); err != nil {
			return nil, err
		}
	}
	return line, nil
}

// contributionBreakdown returns the category hint and amount of the
// populated contribution column, if any. At most one column may be
// populated per row.
func (p *Parser) contributionBreakdown(record []string) (string, decimal.Decimal, error) {
	columns := []struct {
		index int
		hint  string
	}{
		{colEmployer, HintEmployerContribution},
		{colMember, HintMemberContribution},
		{colGovernment, HintGovernmentContribution},
	}

	hint := ""
	amount := decimal.Zero
	for _, col := range columns {
		value := strings.TrimSpace(record[col.index])
		if value == "" {
			continue
		}
		if hint != "" {
			return "", decimal.Zero, fmt.Errorf("row populates more than one contribution column")
		}
		parsed, err := decimal.NewFromString(value)
		if err != nil {
			return "", decimal.Zero, fmt.Errorf("invalid contribution %q: %w", value, err)
		}
		if parsed.IsNegative() {
			return "", decimal.Zero, fmt.Errorf("contribution cannot be negative, got %s", parsed)
		}
		hint = col.hint
		amount = parsed
	}

	return hint, amount, nil
}

// Enrich tags a reprocessed transaction with the contribution bucket
// its staged row recorded at parse time.
func (p *Parser) Enrich(raw *domain.RawTransaction, txn *domain.Transaction) error {
	if raw.CategoryHint == "" {
		return nil
	}
	return txn.AddTag(raw.CategoryHint)
}
