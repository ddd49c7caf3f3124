package recurring

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rumor-ml/bankfeed/internal/domain"
	"github.com/rumor-ml/bankfeed/internal/store"
)

func setupRunner(t *testing.T) (*Runner, *store.Store) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "bankfeed.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	runner := NewRunner(st, nil)
	seq := 0
	runner.newID = func() string {
		seq++
		return fmt.Sprintf("txn-%d", seq)
	}
	return runner, st
}

func seedVirtualAccount(t *testing.T, st *store.Store, id string, balance decimal.Decimal) {
	t.Helper()

	account, err := domain.NewAccount(id, "user-1", "Rent Pool", "AUD", domain.ControllerVirtual)
	if err != nil {
		t.Fatal(err)
	}
	account.Balance = balance
	if err := st.SaveAccount(context.Background(), account); err != nil {
		t.Fatal(err)
	}
}

func seedTemplate(t *testing.T, st *store.Store, id, accountID string, amount string, frequency domain.Frequency, lastRun time.Time) {
	t.Helper()

	template, err := domain.NewRecurringTransaction(id, accountID, "Rent", decimal.RequireFromString(amount), frequency, lastRun)
	if err != nil {
		t.Fatal(err)
	}
	if err := st.SaveRecurringTransaction(context.Background(), template); err != nil {
		t.Fatal(err)
	}
}

func TestRunDuePostsTransaction(t *testing.T) {
	runner, st := setupRunner(t)
	ctx := context.Background()

	seedVirtualAccount(t, st, "acc-1", decimal.RequireFromString("1000.00"))
	lastRun := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	seedTemplate(t, st, "tmpl-1", "acc-1", "-400.00", domain.FrequencyWeekly, lastRun)

	now := time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)
	posted, err := runner.RunDue(ctx, now)
	if err != nil {
		t.Fatalf("RunDue failed: %v", err)
	}
	if posted != 1 {
		t.Fatalf("posted = %d, want 1", posted)
	}

	txns, err := st.TransactionsForAccount(ctx, "acc-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(txns) != 1 {
		t.Fatalf("expected 1 transaction, got %d", len(txns))
	}
	txn := txns[0]
	if txn.Type != domain.TypeRecurringDebit {
		t.Errorf("type = %s, want %s", txn.Type, domain.TypeRecurringDebit)
	}
	if txn.Source != domain.SourceRecurring {
		t.Errorf("source = %s, want %s", txn.Source, domain.SourceRecurring)
	}
	wantDue := lastRun.AddDate(0, 0, 7)
	if !txn.Timestamp.Equal(wantDue) {
		t.Errorf("timestamp = %s, want the due date %s", txn.Timestamp, wantDue)
	}

	account, err := st.GetAccount(ctx, "acc-1")
	if err != nil {
		t.Fatal(err)
	}
	if !account.Balance.Equal(decimal.RequireFromString("600.00")) {
		t.Errorf("balance = %s, want 600.00", account.Balance)
	}
}

func TestRunDueAdvancesLastRun(t *testing.T) {
	runner, st := setupRunner(t)
	ctx := context.Background()

	seedVirtualAccount(t, st, "acc-1", decimal.Zero)
	lastRun := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	seedTemplate(t, st, "tmpl-1", "acc-1", "50.00", domain.FrequencyMonthly, lastRun)

	now := time.Date(2024, 2, 20, 0, 0, 0, 0, time.UTC)
	if _, err := runner.RunDue(ctx, now); err != nil {
		t.Fatal(err)
	}

	templates, err := st.RecurringTransactions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(templates) != 1 {
		t.Fatalf("expected 1 template, got %d", len(templates))
	}
	want := time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC)
	if !templates[0].LastRun.Equal(want) {
		t.Errorf("LastRun = %s, want %s", templates[0].LastRun, want)
	}
}

func TestRunDueCatchesUpMissedPeriods(t *testing.T) {
	runner, st := setupRunner(t)
	ctx := context.Background()

	seedVirtualAccount(t, st, "acc-1", decimal.Zero)
	lastRun := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	seedTemplate(t, st, "tmpl-1", "acc-1", "25.00", domain.FrequencyWeekly, lastRun)

	// Three weekly periods have elapsed.
	now := time.Date(2024, 3, 22, 0, 0, 0, 0, time.UTC)
	posted, err := runner.RunDue(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if posted != 3 {
		t.Errorf("posted = %d, want 3", posted)
	}

	account, err := st.GetAccount(ctx, "acc-1")
	if err != nil {
		t.Fatal(err)
	}
	if !account.Balance.Equal(decimal.RequireFromString("75.00")) {
		t.Errorf("balance = %s, want 75.00", account.Balance)
	}
}

func TestRunDueSkipsNotYetDue(t *testing.T) {
	runner, st := setupRunner(t)
	ctx := context.Background()

	seedVirtualAccount(t, st, "acc-1", decimal.Zero)
	lastRun := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	seedTemplate(t, st, "tmpl-1", "acc-1", "25.00", domain.FrequencyMonthly, lastRun)

	now := time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC)
	posted, err := runner.RunDue(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if posted != 0 {
		t.Errorf("posted = %d, want 0", posted)
	}

	txns, err := st.TransactionsForAccount(ctx, "acc-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(txns) != 0 {
		t.Errorf("expected no transactions, got %d", len(txns))
	}
}

func TestRunDueIsIdempotentWithinPeriod(t *testing.T) {
	runner, st := setupRunner(t)
	ctx := context.Background()

	seedVirtualAccount(t, st, "acc-1", decimal.Zero)
	lastRun := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	seedTemplate(t, st, "tmpl-1", "acc-1", "25.00", domain.FrequencyWeekly, lastRun)

	now := time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)
	if _, err := runner.RunDue(ctx, now); err != nil {
		t.Fatal(err)
	}
	posted, err := runner.RunDue(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if posted != 0 {
		t.Errorf("second run posted %d, want 0", posted)
	}

	txns, err := st.TransactionsForAccount(ctx, "acc-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(txns) != 1 {
		t.Errorf("expected 1 transaction after repeat run, got %d", len(txns))
	}
}

func TestRunDueContinuesPastBrokenTemplate(t *testing.T) {
	runner, st := setupRunner(t)
	ctx := context.Background()

	seedVirtualAccount(t, st, "acc-1", decimal.Zero)
	seedVirtualAccount(t, st, "acc-2", decimal.Zero)
	lastRun := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	seedTemplate(t, st, "tmpl-1", "acc-1", "10.00", domain.FrequencyWeekly, lastRun)
	seedTemplate(t, st, "tmpl-2", "acc-2", "10.00", domain.FrequencyWeekly, lastRun)

	// The first generated id is invalid, so whichever template runs
	// first fails its own unit of work without blocking the other.
	seq := 0
	runner.newID = func() string {
		seq++
		if seq == 1 {
			return ""
		}
		return fmt.Sprintf("txn-%d", seq)
	}

	now := time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)
	posted, err := runner.RunDue(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if posted != 1 {
		t.Errorf("posted = %d, want 1", posted)
	}

	acc1Txns, err := st.TransactionsForAccount(ctx, "acc-1")
	if err != nil {
		t.Fatal(err)
	}
	acc2Txns, err := st.TransactionsForAccount(ctx, "acc-2")
	if err != nil {
		t.Fatal(err)
	}
	if len(acc1Txns)+len(acc2Txns) != 1 {
		t.Errorf("exactly one template should post, got %d transactions", len(acc1Txns)+len(acc2Txns))
	}
}
