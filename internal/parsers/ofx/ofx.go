// Package ofx provides OFX/QFX statement parsing
package ofx

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/aclindsa/ofxgo"
	"github.com/shopspring/decimal"

	"github.com/rumor-ml/bankfeed/internal/parser"
)

// Parser implements OFX/QFX parsing with a stateless design.
// Safe for concurrent use; all behavior is determined by the file content.
type Parser struct{}

var parserInstance = &Parser{}

// NewParser returns the shared OFX parser instance.
func NewParser() *Parser {
	return parserInstance
}

// Name returns the parser identifier
func (p *Parser) Name() string {
	return "ofx"
}

// CanParse checks if this parser can handle the file based on extension and header
func (p *Parser) CanParse(path string, header []byte) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".ofx" && ext != ".qfx" {
		return false
	}

	// Look for OFX header markers (both v1 SGML and v2 XML formats)
	headerUpper := strings.ToUpper(string(header))
	return strings.Contains(headerUpper, "OFXHEADER") ||
		strings.Contains(headerUpper, "<?OFX") ||
		strings.Contains(headerUpper, "<OFX>")
}

// Parse extracts statement lines from an OFX/QFX file.
//
// OFX files carry a ledger balance for the statement as a whole rather
// than per transaction, so the ledger balance is attached to the final
// line only. Lines are returned in posted-date order.
func (p *Parser) Parse(ctx context.Context, r io.Reader) ([]parser.Line, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, parser.NewFormatError(p.Name(), "failed to read OFX content", err)
	}

	// ofxgo.ParseResponse does not support context cancellation, so
	// this check only catches cancellation between read and parse.
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	response, err := ofxgo.ParseResponse(bytes.NewReader(content))
	if err != nil {
		return nil, parser.NewFormatError(p.Name(), fmt.Sprintf("failed to parse OFX file (%d bytes)", len(content)), err)
	}

	if len(response.Bank) > 0 {
		return p.parseBank(response)
	}
	if len(response.CreditCard) > 0 {
		return p.parseCreditCard(response)
	}

	return nil, parser.NewFormatError(p.Name(),
		fmt.Sprintf("no supported statement type found. Expected a bank (BANKMSGSRSV1) or credit card (CREDITCARDMSGSRSV1) statement (bank: %d, creditcard: %d, investment: %d)",
			len(response.Bank), len(response.CreditCard), len(response.InvStmt)), nil)
}

// parseBank parses a bank account statement
func (p *Parser) parseBank(resp *ofxgo.Response) ([]parser.Line, error) {
	bankStmt, ok := resp.Bank[0].(*ofxgo.StatementResponse)
	if !ok {
		return nil, parser.NewFormatError(p.Name(),
			fmt.Sprintf("unexpected bank statement type %T", resp.Bank[0]), nil)
	}

	if bankStmt.BankTranList == nil {
		return nil, parser.NewFormatError(p.Name(), "missing transaction list in bank statement", nil)
	}

	ledgerBalance := decimal.NewFromBigRat(&bankStmt.BalAmt.Rat, 2)
	return p.parseTransactions(bankStmt.BankTranList, ledgerBalance)
}

// parseCreditCard parses a credit card statement
func (p *Parser) parseCreditCard(resp *ofxgo.Response) ([]parser.Line, error) {
	ccStmt, ok := resp.CreditCard[0].(*ofxgo.CCStatementResponse)
	if !ok {
		return nil, parser.NewFormatError(p.Name(),
			fmt.Sprintf("unexpected credit card statement type %T", resp.CreditCard[0]), nil)
	}

	if ccStmt.BankTranList == nil {
		return nil, parser.NewFormatError(p.Name(), "missing transaction list in credit card statement", nil)
	}

	ledgerBalance := decimal.NewFromBigRat(&ccStmt.BalAmt.Rat, 2)
	return p.parseTransactions(ccStmt.BankTranList, ledgerBalance)
}

// parseTransactions converts an OFX transaction list to statement lines
func (p *Parser) parseTransactions(tranList *ofxgo.TransactionList, ledgerBalance decimal.Decimal) ([]parser.Line, error) {
	lines := make([]parser.Line, 0, len(tranList.Transactions))

	for i, txn := range tranList.Transactions {
		line, err := p.extractLine(txn)
		if err != nil {
			return nil, parser.NewFormatError(p.Name(), fmt.Sprintf("transaction %d", i+1), err)
		}
		lines = append(lines, *line)
	}

	if len(lines) == 0 {
		return nil, parser.NewFormatError(p.Name(), "statement contains no transactions", nil)
	}

	lines[len(lines)-1].SetBalance(ledgerBalance)
	return lines, nil
}

// extractLine extracts line fields from an OFX transaction
func (p *Parser) extractLine(txn ofxgo.Transaction) (*parser.Line, error) {
	id := txn.FiTID.String()
	if id == "" {
		return nil, fmt.Errorf("transaction missing required ID field")
	}

	// Use posted date; if not available, fall back to user date
	date := txn.DtPosted.Time
	if date.IsZero() {
		date = txn.DtUser.Time
	}
	if date.IsZero() {
		return nil, fmt.Errorf("transaction %s missing both posted date and user date", id)
	}
	date = date.Truncate(24 * time.Hour)

	// Use Name for description; if empty, fall back to Memo
	description := strings.TrimSpace(txn.Name.String())
	if description == "" {
		description = strings.TrimSpace(txn.Memo.String())
	}
	if description == "" {
		return nil, fmt.Errorf("transaction %s missing both name and memo fields", id)
	}

	// The FITID keeps otherwise identical transactions distinct
	// once the description is hashed into a fingerprint.
	description = fmt.Sprintf("%s (%s)", description, id)

	line, err := parser.NewLine(date, description)
	if err != nil {
		return nil, fmt.Errorf("transaction %s: %w", id, err)
	}

	amount := decimal.NewFromBigRat(&txn.TrnAmt.Rat, 2)
	switch {
	case amount.IsPositive():
		if err := line.SetCredit(amount); err != nil {
			return nil, fmt.Errorf("transaction %s: %w", id, err)
		}
	case amount.IsNegative():
		if err := line.SetDebit(amount.Abs()); err != nil {
			return nil, fmt.Errorf("transaction %s: %w", id, err)
		}
	default:
		return nil, fmt.Errorf("transaction %s has zero amount", id)
	}

	if hint := categoryHint(txn); hint != "" {
		line.SetCategoryHint(hint)
	}

	return line, nil
}

// categoryHint maps an OFX transaction type to a category hint.
// Generic CREDIT/DEBIT types carry no information, so they map to "".
func categoryHint(txn ofxgo.Transaction) string {
	switch txn.TrnType {
	case ofxgo.TrnTypeATM:
		return "atm"
	case ofxgo.TrnTypeCheck:
		return "check"
	case ofxgo.TrnTypeXfer:
		return "transfer"
	case ofxgo.TrnTypeFee:
		return "fee"
	case ofxgo.TrnTypePOS:
		return "pos"
	case ofxgo.TrnTypePayment:
		return "payment"
	case ofxgo.TrnTypeInt:
		return "interest"
	case ofxgo.TrnTypeDep:
		return "deposit"
	default:
		return ""
	}
}
