package staging

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rumor-ml/bankfeed/internal/domain"
	"github.com/rumor-ml/bankfeed/internal/events"
	"github.com/rumor-ml/bankfeed/internal/parser"
)

// memStore is an in-memory Store for pipeline tests
type memStore struct {
	raws     map[string]*domain.RawTransaction
	txns     map[string]*domain.Transaction
	accounts map[string]*domain.Account
}

func newMemStore() *memStore {
	return &memStore{
		raws:     make(map[string]*domain.RawTransaction),
		txns:     make(map[string]*domain.Transaction),
		accounts: make(map[string]*domain.Account),
	}
}

func (m *memStore) Fingerprints(_ context.Context, accountID string) (map[string]struct{}, error) {
	fps := make(map[string]struct{})
	for _, raw := range m.raws {
		if raw.AccountID == accountID {
			fps[raw.Fingerprint] = struct{}{}
		}
	}
	return fps, nil
}

func (m *memStore) SaveRawTransaction(_ context.Context, raw *domain.RawTransaction) error {
	m.raws[raw.AccountID+"/"+raw.Fingerprint] = raw
	return nil
}

func (m *memStore) SaveTransaction(_ context.Context, txn *domain.Transaction) error {
	m.txns[txn.ID] = txn
	return nil
}

func (m *memStore) SaveAccount(_ context.Context, account *domain.Account) error {
	m.accounts[account.ID] = account
	return nil
}

func mustLine(t *testing.T, day int, description, amount, balance string) parser.Line {
	t.Helper()
	line, err := parser.NewLine(time.Date(2025, 7, day, 0, 0, 0, 0, time.UTC), description)
	if err != nil {
		t.Fatalf("NewLine failed: %v", err)
	}
	value := decimal.RequireFromString(amount)
	if value.IsNegative() {
		err = line.SetDebit(value.Abs())
	} else {
		err = line.SetCredit(value)
	}
	if err != nil {
		t.Fatalf("failed to set amount: %v", err)
	}
	if balance != "" {
		line.SetBalance(decimal.RequireFromString(balance))
	}
	return *line
}

func importAccount(t *testing.T) *domain.Account {
	t.Helper()
	account, err := domain.NewAccount("acc-1", "user-1", "Everyday", "AUD", domain.ControllerImport)
	if err != nil {
		t.Fatal(err)
	}
	if err := account.SetImporterType("ing"); err != nil {
		t.Fatal(err)
	}
	return account
}

func manualAccount(t *testing.T) *domain.Account {
	t.Helper()
	account, err := domain.NewAccount("acc-1", "user-1", "Wallet", "AUD", domain.ControllerManual)
	if err != nil {
		t.Fatal(err)
	}
	return account
}

func wiredBus(store Store) *events.Bus {
	bus := events.NewBus()
	events.NewHandlers(store, events.NopInvalidator{}).Wire(bus)
	return bus
}

func TestStageNewLines(t *testing.T) {
	store := newMemStore()
	lines := []parser.Line{
		mustLine(t, 1, "Salary", "2500.00", "2500.00"),
		mustLine(t, 2, "Coffee Shop", "-4.50", "2495.50"),
	}

	staged, err := Stage(context.Background(), store, "acc-1", lines)
	if err != nil {
		t.Fatalf("Stage failed: %v", err)
	}

	if len(staged) != 2 {
		t.Fatalf("expected 2 staged rows, got %d", len(staged))
	}
	if staged[0].Raw.Description != "Salary" || staged[1].Raw.Description != "Coffee Shop" {
		t.Error("statement order not preserved")
	}
	if len(store.raws) != 2 {
		t.Errorf("expected 2 persisted rows, got %d", len(store.raws))
	}
}

func TestStageRedundantUploadIsNoOp(t *testing.T) {
	store := newMemStore()
	lines := []parser.Line{
		mustLine(t, 1, "Salary", "2500.00", "2500.00"),
		mustLine(t, 2, "Coffee Shop", "-4.50", "2495.50"),
	}

	ctx := context.Background()
	if _, err := Stage(ctx, store, "acc-1", lines); err != nil {
		t.Fatal(err)
	}
	staged, err := Stage(ctx, store, "acc-1", lines)
	if err != nil {
		t.Fatal(err)
	}

	if len(staged) != 0 {
		t.Errorf("re-upload staged %d rows, want 0", len(staged))
	}
	if len(store.raws) != 2 {
		t.Errorf("expected 2 persisted rows after re-upload, got %d", len(store.raws))
	}
}

func TestStageOverlappingUploadsUnion(t *testing.T) {
	// Two 10-line files sharing 5 lines stage 15 unique rows.
	store := newMemStore()
	ctx := context.Background()

	fileA := make([]parser.Line, 0, 10)
	for i := 1; i <= 10; i++ {
		fileA = append(fileA, mustLine(t, i, fmt.Sprintf("Line %d", i), "-1.00", ""))
	}
	fileB := make([]parser.Line, 0, 10)
	for i := 6; i <= 15; i++ {
		fileB = append(fileB, mustLine(t, i, fmt.Sprintf("Line %d", i), "-1.00", ""))
	}

	stagedA, err := Stage(ctx, store, "acc-1", fileA)
	if err != nil {
		t.Fatal(err)
	}
	stagedB, err := Stage(ctx, store, "acc-1", fileB)
	if err != nil {
		t.Fatal(err)
	}

	if len(stagedA) != 10 {
		t.Errorf("first file staged %d rows, want 10", len(stagedA))
	}
	if len(stagedB) != 5 {
		t.Errorf("overlapping file staged %d rows, want 5", len(stagedB))
	}
	if len(store.raws) != 15 {
		t.Errorf("expected 15 rows total, got %d", len(store.raws))
	}
}

func TestStageScopesFingerprintsPerAccount(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	lines := []parser.Line{mustLine(t, 1, "Shared Line", "-1.00", "")}

	if _, err := Stage(ctx, store, "acc-1", lines); err != nil {
		t.Fatal(err)
	}
	staged, err := Stage(ctx, store, "acc-2", lines)
	if err != nil {
		t.Fatal(err)
	}

	if len(staged) != 1 {
		t.Error("identical line on a different account must stage independently")
	}
}

func TestMaterializeCreatesTransactions(t *testing.T) {
	store := newMemStore()
	account := manualAccount(t)
	bus := wiredBus(store)
	ctx := context.Background()

	staged, err := Stage(ctx, store, account.ID, []parser.Line{
		mustLine(t, 1, "Salary", "2500.00", ""),
		mustLine(t, 2, "Coffee Shop", "-4.50", ""),
	})
	if err != nil {
		t.Fatal(err)
	}

	txns, err := Materialize(ctx, store, bus, account, staged)
	if err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}

	if len(txns) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(txns))
	}

	salary := txns[0]
	if salary.Type != domain.TypeCredit || !salary.Amount.Equal(decimal.RequireFromString("2500")) {
		t.Errorf("unexpected salary transaction: type %s amount %s", salary.Type, salary.Amount)
	}
	coffee := txns[1]
	if coffee.Type != domain.TypeDebit || !coffee.Amount.Equal(decimal.RequireFromString("-4.50")) {
		t.Errorf("unexpected coffee transaction: type %s amount %s", coffee.Type, coffee.Amount)
	}
	if coffee.Source != domain.SourceImport {
		t.Errorf("source = %s, want %s", coffee.Source, domain.SourceImport)
	}

	for _, row := range staged {
		if !row.Raw.Materialized() {
			t.Errorf("raw %s not linked", row.Raw.Fingerprint)
		}
	}

	// Manual account balance accumulates through the event bus
	if !account.Balance.Equal(decimal.RequireFromString("2495.50")) {
		t.Errorf("balance = %s, want 2495.50", account.Balance)
	}
}

func TestMaterializeImportAccountUsesStatementBalance(t *testing.T) {
	store := newMemStore()
	account := importAccount(t)
	bus := wiredBus(store)
	ctx := context.Background()

	staged, err := Stage(ctx, store, account.ID, []parser.Line{
		mustLine(t, 1, "Salary", "2500.00", "2500.00"),
		mustLine(t, 2, "Coffee Shop", "-4.50", "2495.50"),
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := Materialize(ctx, store, bus, account, staged); err != nil {
		t.Fatal(err)
	}

	if !account.Balance.Equal(decimal.RequireFromString("2495.50")) {
		t.Errorf("balance = %s, want statement ending balance 2495.50", account.Balance)
	}
	if store.accounts[account.ID] == nil {
		t.Error("account balance update should be staged")
	}
}

func TestMaterializeAppliesTagHints(t *testing.T) {
	store := newMemStore()
	account := manualAccount(t)
	bus := wiredBus(store)
	ctx := context.Background()

	line := mustLine(t, 1, "DIVIDEND VAS", "182.40", "")
	line.SetCategoryHint("Dividend Payment")
	line.AddTagHint("dividend-payment")

	staged, err := Stage(ctx, store, account.ID, []parser.Line{line})
	if err != nil {
		t.Fatal(err)
	}
	if staged[0].Raw.CategoryHint != "Dividend Payment" {
		t.Errorf("category hint not staged: %q", staged[0].Raw.CategoryHint)
	}

	txns, err := Materialize(ctx, store, bus, account, staged)
	if err != nil {
		t.Fatal(err)
	}
	if !txns[0].HasTag("dividend-payment") {
		t.Error("tag hint should become an initial tag")
	}
}

func TestMaterializeEmptyBatch(t *testing.T) {
	store := newMemStore()
	account := importAccount(t)
	account.Balance = decimal.RequireFromString("100")
	bus := wiredBus(store)

	txns, err := Materialize(context.Background(), store, bus, account, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(txns) != 0 {
		t.Errorf("expected no transactions, got %d", len(txns))
	}
	if !account.Balance.Equal(decimal.RequireFromString("100")) {
		t.Error("empty batch must not move the balance")
	}
}
