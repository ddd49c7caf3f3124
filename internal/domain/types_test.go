package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestNewAccount(t *testing.T) {
	tests := []struct {
		name       string
		id         string
		userID     string
		acctName   string
		currency   string
		controller Controller
		wantErr    bool
	}{
		{
			name:       "valid manual account",
			id:         "acc-1",
			userID:     "user-1",
			acctName:   "Everyday",
			currency:   "AUD",
			controller: ControllerManual,
		},
		{
			name:       "valid import account",
			id:         "acc-2",
			userID:     "user-1",
			acctName:   "ING Savings",
			currency:   "AUD",
			controller: ControllerImport,
		},
		{
			name:       "empty ID",
			userID:     "user-1",
			acctName:   "Everyday",
			currency:   "AUD",
			controller: ControllerManual,
			wantErr:    true,
		},
		{
			name:       "empty currency",
			id:         "acc-1",
			userID:     "user-1",
			acctName:   "Everyday",
			controller: ControllerManual,
			wantErr:    true,
		},
		{
			name:       "invalid controller",
			id:         "acc-1",
			userID:     "user-1",
			acctName:   "Everyday",
			currency:   "AUD",
			controller: Controller("automatic"),
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc, err := NewAccount(tt.id, tt.userID, tt.acctName, tt.currency, tt.controller)
			if tt.wantErr {
				if err == nil {
					t.Errorf("NewAccount() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewAccount() unexpected error: %v", err)
			}
			if !acc.Balance.IsZero() {
				t.Errorf("NewAccount() balance = %s, want 0", acc.Balance)
			}
		})
	}
}

func TestAccount_SetImporterType(t *testing.T) {
	manual, err := NewAccount("acc-1", "user-1", "Everyday", "AUD", ControllerManual)
	if err != nil {
		t.Fatal(err)
	}
	if err := manual.SetImporterType("ing"); err == nil {
		t.Error("SetImporterType() on manual account should fail")
	}

	imp, err := NewAccount("acc-2", "user-1", "ING Savings", "AUD", ControllerImport)
	if err != nil {
		t.Fatal(err)
	}
	if err := imp.SetImporterType(""); err == nil {
		t.Error("SetImporterType() with empty type should fail")
	}
	if err := imp.SetImporterType("ing"); err != nil {
		t.Errorf("SetImporterType() unexpected error: %v", err)
	}
	if imp.ImporterType != "ing" {
		t.Errorf("ImporterType = %q, want %q", imp.ImporterType, "ing")
	}
}

func TestRawTransaction_Link(t *testing.T) {
	raw, err := NewRawTransaction("fp-1", "acc-1", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), "Coffee Shop")
	if err != nil {
		t.Fatal(err)
	}

	if raw.Materialized() {
		t.Error("new raw transaction should not be materialized")
	}

	if err := raw.Link(""); err == nil {
		t.Error("Link() with empty transaction ID should fail")
	}

	if err := raw.Link("txn-1"); err != nil {
		t.Fatalf("Link() unexpected error: %v", err)
	}
	if raw.TransactionID() != "txn-1" {
		t.Errorf("TransactionID() = %q, want %q", raw.TransactionID(), "txn-1")
	}

	// Back-reference is write-once
	if err := raw.Link("txn-2"); err == nil {
		t.Error("Link() on already-linked row should fail")
	}
}

func TestRawTransaction_Amount(t *testing.T) {
	date := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	credit, _ := NewRawTransaction("fp-1", "acc-1", date, "Salary")
	credit.Credit = decimal.NewNullDecimal(decimal.RequireFromString("2500.00"))
	if got := credit.Amount(); !got.Equal(decimal.RequireFromString("2500.00")) {
		t.Errorf("credit Amount() = %s, want 2500.00", got)
	}

	debit, _ := NewRawTransaction("fp-2", "acc-1", date, "Coffee Shop")
	debit.Debit = decimal.NewNullDecimal(decimal.RequireFromString("4.50"))
	if got := debit.Amount(); !got.Equal(decimal.RequireFromString("-4.50")) {
		t.Errorf("debit Amount() = %s, want -4.50", got)
	}

	neither, _ := NewRawTransaction("fp-3", "acc-1", date, "Zero line")
	if got := neither.Amount(); !got.IsZero() {
		t.Errorf("empty Amount() = %s, want 0", got)
	}
}

func TestTransaction_Tags(t *testing.T) {
	txn, err := NewTransaction("txn-1", "acc-1", decimal.RequireFromString("-4.50"), "Coffee Shop",
		TypeDebit, SubTypeOrdinary, time.Now(), SourceImport)
	if err != nil {
		t.Fatal(err)
	}

	if err := txn.AddTag(""); err == nil {
		t.Error("AddTag() with empty ID should fail")
	}

	if err := txn.AddTag("groceries"); err != nil {
		t.Fatal(err)
	}
	// Re-adding an existing tag is a no-op
	if err := txn.AddTag("groceries"); err != nil {
		t.Fatal(err)
	}
	if err := txn.AddTag("coffee"); err != nil {
		t.Fatal(err)
	}

	got := txn.TagIDs()
	want := []string{"coffee", "groceries"}
	if len(got) != len(want) {
		t.Fatalf("TagIDs() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("TagIDs()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if !txn.HasTag("coffee") {
		t.Error("HasTag(coffee) = false, want true")
	}
	if txn.HasTag("dining") {
		t.Error("HasTag(dining) = true, want false")
	}
}

func TestNewTransaction_Validation(t *testing.T) {
	now := time.Now()
	amount := decimal.RequireFromString("1.00")

	if _, err := NewTransaction("", "acc-1", amount, "x", TypeCredit, SubTypeOrdinary, now, SourceWeb); err == nil {
		t.Error("empty ID should fail")
	}
	if _, err := NewTransaction("txn-1", "acc-1", amount, "x", TransactionType("bogus"), SubTypeOrdinary, now, SourceWeb); err == nil {
		t.Error("invalid type should fail")
	}
	if _, err := NewTransaction("txn-1", "acc-1", amount, "x", TypeCredit, TransactionSubType("bogus"), now, SourceWeb); err == nil {
		t.Error("invalid subtype should fail")
	}
	if _, err := NewTransaction("txn-1", "acc-1", amount, "x", TypeCredit, SubTypeOrdinary, time.Time{}, SourceWeb); err == nil {
		t.Error("zero timestamp should fail")
	}
}

func TestNewRule(t *testing.T) {
	if _, err := NewRule("rule-1", "acc-1", "Coffee", nil); err == nil {
		t.Error("rule without tags should fail")
	}
	if _, err := NewRule("rule-1", "acc-1", "", []string{"tag-a"}); err == nil {
		t.Error("rule without pattern should fail")
	}

	rule, err := NewRule("rule-1", "acc-1", "Coffee", []string{"tag-b", "tag-a"})
	if err != nil {
		t.Fatal(err)
	}
	got := rule.TagIDs()
	if len(got) != 2 || got[0] != "tag-a" || got[1] != "tag-b" {
		t.Errorf("TagIDs() = %v, want [tag-a tag-b]", got)
	}
}

func TestRecurringTransaction_NextRun(t *testing.T) {
	lastRun := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		frequency Frequency
		want      time.Time
	}{
		{FrequencyWeekly, time.Date(2024, 1, 22, 0, 0, 0, 0, time.UTC)},
		{FrequencyFortnightly, time.Date(2024, 1, 29, 0, 0, 0, 0, time.UTC)},
		{FrequencyMonthly, time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC)},
		{FrequencyYearly, time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(string(tt.frequency), func(t *testing.T) {
			rec, err := NewRecurringTransaction("rec-1", "acc-1", "Rent", decimal.RequireFromString("-450.00"), tt.frequency, lastRun)
			if err != nil {
				t.Fatal(err)
			}
			if got := rec.NextRun(); !got.Equal(tt.want) {
				t.Errorf("NextRun() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestRecurringTransaction_Due(t *testing.T) {
	lastRun := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rec, err := NewRecurringTransaction("rec-1", "acc-1", "Rent", decimal.RequireFromString("-450.00"), FrequencyWeekly, lastRun)
	if err != nil {
		t.Fatal(err)
	}

	if rec.Due(time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC)) {
		t.Error("Due() before next run should be false")
	}
	if !rec.Due(time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)) {
		t.Error("Due() on next run date should be true")
	}
}

func TestRecurringTransaction_TransactionType(t *testing.T) {
	lastRun := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	debit, _ := NewRecurringTransaction("rec-1", "acc-1", "Rent", decimal.RequireFromString("-450.00"), FrequencyWeekly, lastRun)
	if got := debit.TransactionType(); got != TypeRecurringDebit {
		t.Errorf("TransactionType() = %s, want %s", got, TypeRecurringDebit)
	}

	credit, _ := NewRecurringTransaction("rec-2", "acc-1", "Allowance", decimal.RequireFromString("50.00"), FrequencyWeekly, lastRun)
	if got := credit.TransactionType(); got != TypeRecurringCredit {
		t.Errorf("TransactionType() = %s, want %s", got, TypeRecurringCredit)
	}
}
