package parser

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestNewLine(t *testing.T) {
	date := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	if _, err := NewLine(time.Time{}, "Coffee Shop"); err == nil {
		t.Error("zero date should fail")
	}
	if _, err := NewLine(date, ""); err == nil {
		t.Error("empty description should fail")
	}

	line, err := NewLine(date, "Coffee Shop")
	if err != nil {
		t.Fatal(err)
	}
	if !line.Amount().IsZero() {
		t.Errorf("Amount() = %s, want 0 for unpopulated line", line.Amount())
	}
}

func TestLine_CreditDebitExclusive(t *testing.T) {
	date := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	line, err := NewLine(date, "Coffee Shop")
	if err != nil {
		t.Fatal(err)
	}

	if err := line.SetDebit(decimal.RequireFromString("4.50")); err != nil {
		t.Fatal(err)
	}
	if err := line.SetCredit(decimal.RequireFromString("1.00")); err == nil {
		t.Error("SetCredit() on a debit line should fail")
	}

	if got := line.Amount(); !got.Equal(decimal.RequireFromString("-4.50")) {
		t.Errorf("Amount() = %s, want -4.50", got)
	}
}

func TestLine_NegativeMagnitudesRejected(t *testing.T) {
	date := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	neg := decimal.RequireFromString("-1.00")

	line, _ := NewLine(date, "x")
	if err := line.SetCredit(neg); err == nil {
		t.Error("negative credit should fail")
	}
	if err := line.SetDebit(neg); err == nil {
		t.Error("negative debit should fail")
	}
}

func TestLine_TagHints(t *testing.T) {
	date := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	line, _ := NewLine(date, "BHP DIVIDEND")
	line.AddTagHint("dividends")
	line.AddTagHint("") // ignored

	hints := line.TagHints()
	if len(hints) != 1 || hints[0] != "dividends" {
		t.Errorf("TagHints() = %v, want [dividends]", hints)
	}

	// Returned slice is a copy
	hints[0] = "mutated"
	if line.TagHints()[0] != "dividends" {
		t.Error("TagHints() should return a defensive copy")
	}
}

func TestFormatError(t *testing.T) {
	cause := fmt.Errorf("wrong column count")
	err := NewFormatError("ing", "header row", cause)

	if !IsFormatError(err) {
		t.Error("IsFormatError() = false for FormatError")
	}
	if !IsFormatError(fmt.Errorf("parsing failed: %w", err)) {
		t.Error("IsFormatError() = false for wrapped FormatError")
	}
	if IsFormatError(errors.New("plain")) {
		t.Error("IsFormatError() = true for plain error")
	}
	if !errors.Is(err, cause) {
		t.Error("FormatError should unwrap to its cause")
	}
}
