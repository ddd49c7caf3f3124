package fingerprint

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestLine_Deterministic(t *testing.T) {
	tests := []struct {
		name        string
		date        time.Time
		description string
		amount      string
		balance     string // empty = no reported balance
	}{
		{
			name:        "debit with balance",
			date:        date(2024, 1, 1),
			description: "Coffee Shop",
			amount:      "-4.50",
			balance:     "995.50",
		},
		{
			name:        "credit without balance",
			date:        date(2024, 1, 2),
			description: "Salary",
			amount:      "2500.00",
		},
		{
			name:        "whitespace and case normalization",
			date:        date(2024, 1, 1),
			description: "  COFFEE SHOP  ",
			amount:      "-4.50",
			balance:     "995.50",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			amount := decimal.RequireFromString(tt.amount)
			var balance decimal.NullDecimal
			if tt.balance != "" {
				balance = decimal.NewNullDecimal(decimal.RequireFromString(tt.balance))
			}

			got := Line(tt.date, tt.description, amount, balance)
			if len(got) != 64 {
				t.Errorf("Line() returned hash of length %d, want 64", len(got))
			}

			got2 := Line(tt.date, tt.description, amount, balance)
			if got != got2 {
				t.Errorf("Line() is not deterministic: %s != %s", got, got2)
			}
		})
	}
}

func TestLine_NormalizationCollides(t *testing.T) {
	amount := decimal.RequireFromString("-4.50")
	balance := decimal.NewNullDecimal(decimal.RequireFromString("995.50"))

	fp1 := Line(date(2024, 1, 1), "Coffee Shop", amount, balance)
	fp2 := Line(date(2024, 1, 1), "  COFFEE SHOP  ", amount, balance)
	if fp1 != fp2 {
		t.Error("case and whitespace variants of the same line should collide")
	}
}

func TestLine_Uniqueness(t *testing.T) {
	amount := decimal.RequireFromString("-4.50")
	balance := decimal.NewNullDecimal(decimal.RequireFromString("995.50"))

	fingerprints := []string{
		Line(date(2024, 1, 1), "Coffee Shop", amount, balance),
		Line(date(2024, 1, 2), "Coffee Shop", amount, balance), // different date
		Line(date(2024, 1, 1), "Coffee Shop", decimal.RequireFromString("-5.50"), balance), // different amount
		Line(date(2024, 1, 1), "Bakery", amount, balance),                                  // different description
		Line(date(2024, 1, 1), "Coffee Shop", amount, decimal.NullDecimal{}),               // no balance
		Line(date(2024, 1, 1), "Coffee Shop", amount, decimal.NewNullDecimal(decimal.RequireFromString("991.00"))), // different balance
	}

	seen := make(map[string]bool)
	for i, fp := range fingerprints {
		if seen[fp] {
			t.Errorf("duplicate fingerprint at index %d: %s", i, fp)
		}
		seen[fp] = true
	}
}

func TestLine_ScaleInsensitive(t *testing.T) {
	// Two-place fixed rendering means 4.5 and 4.50 are the same line.
	balance := decimal.NullDecimal{}
	fp1 := Line(date(2024, 1, 1), "Coffee Shop", decimal.RequireFromString("-4.5"), balance)
	fp2 := Line(date(2024, 1, 1), "Coffee Shop", decimal.RequireFromString("-4.50"), balance)
	if fp1 != fp2 {
		t.Error("equal amounts at different scales should collide")
	}
}
