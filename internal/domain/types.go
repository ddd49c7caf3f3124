// Package domain defines the core entities of the bankfeed ledger:
// accounts, staged raw transactions, canonical transactions,
// categorization rules and recurring templates.
package domain

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Controller represents the account's balance-authority mode.
// Use ValidateController to ensure validity before use.
type Controller string

const (
	// ControllerManual accounts accumulate balance as the running sum of
	// their transactions plus manual adjustments.
	ControllerManual Controller = "manual"
	// ControllerVirtual accounts behave like manual accounts but are
	// synthetic containers (budgets, envelopes) rather than real
	// institution accounts.
	ControllerVirtual Controller = "virtual"
	// ControllerImport accounts take their balance from the most recently
	// imported statement's reported ending balance. Incremental summation
	// never touches them.
	ControllerImport Controller = "import"
)

// TransactionType represents the transaction type enum.
type TransactionType string

const (
	TypeCredit                  TransactionType = "credit"
	TypeDebit                   TransactionType = "debit"
	TypeRecurringCredit         TransactionType = "recurring-credit"
	TypeRecurringDebit          TransactionType = "recurring-debit"
	TypeBalanceAdjustmentCredit TransactionType = "balance-adjustment-credit"
	TypeBalanceAdjustmentDebit  TransactionType = "balance-adjustment-debit"
)

// TransactionSubType distinguishes synthesized transactions from
// ordinary statement lines.
type TransactionSubType string

const (
	SubTypeOrdinary          TransactionSubType = "ordinary"
	SubTypeOpeningBalance    TransactionSubType = "opening-balance"
	SubTypeBalanceAdjustment TransactionSubType = "balance-adjustment"
)

// Source records where a transaction entered the system.
type Source string

const (
	SourceImport    Source = "Import"
	SourceEvent     Source = "Event"
	SourceWeb       Source = "Web"
	SourceRecurring Source = "Recurring"
)

// Frequency is the schedule of a recurring transaction template.
type Frequency string

const (
	FrequencyWeekly      Frequency = "weekly"
	FrequencyFortnightly Frequency = "fortnightly"
	FrequencyMonthly     Frequency = "monthly"
	FrequencyYearly      Frequency = "yearly"
)

var (
	validControllers = map[Controller]struct{}{
		ControllerManual: {}, ControllerVirtual: {}, ControllerImport: {},
	}

	validTransactionTypes = map[TransactionType]struct{}{
		TypeCredit: {}, TypeDebit: {},
		TypeRecurringCredit: {}, TypeRecurringDebit: {},
		TypeBalanceAdjustmentCredit: {}, TypeBalanceAdjustmentDebit: {},
	}

	validSubTypes = map[TransactionSubType]struct{}{
		SubTypeOrdinary: {}, SubTypeOpeningBalance: {}, SubTypeBalanceAdjustment: {},
	}

	validFrequencies = map[Frequency]struct{}{
		FrequencyWeekly: {}, FrequencyFortnightly: {},
		FrequencyMonthly: {}, FrequencyYearly: {},
	}
)

// ValidateController checks if controller is valid
func ValidateController(c Controller) bool {
	_, ok := validControllers[c]
	return ok
}

// ValidateTransactionType checks if transaction type is valid
func ValidateTransactionType(t TransactionType) bool {
	_, ok := validTransactionTypes[t]
	return ok
}

// ValidateSubType checks if transaction subtype is valid
func ValidateSubType(s TransactionSubType) bool {
	_, ok := validSubTypes[s]
	return ok
}

// ValidateFrequency checks if frequency is valid
func ValidateFrequency(f Frequency) bool {
	_, ok := validFrequencies[f]
	return ok
}

// Account is an owned financial container. Balance authority depends on
// Controller: import accounts are statement-authoritative, manual and
// virtual accounts are the running sum of their transactions.
type Account struct {
	ID           string
	UserID       string
	Name         string
	Currency     string
	Balance      decimal.Decimal
	Controller   Controller
	ImporterType string // Only meaningful when Controller == ControllerImport
	Closed       bool
	LastUpdated  time.Time
}

// NewAccount creates a validated account
func NewAccount(id, userID, name, currency string, controller Controller) (*Account, error) {
	if id == "" {
		return nil, fmt.Errorf("account ID cannot be empty")
	}
	if userID == "" {
		return nil, fmt.Errorf("user ID cannot be empty")
	}
	if name == "" {
		return nil, fmt.Errorf("account name cannot be empty")
	}
	if currency == "" {
		return nil, fmt.Errorf("currency cannot be empty")
	}
	if !ValidateController(controller) {
		return nil, fmt.Errorf("invalid controller: %s", controller)
	}

	return &Account{
		ID:          id,
		UserID:      userID,
		Name:        name,
		Currency:    currency,
		Balance:     decimal.Zero,
		Controller:  controller,
		LastUpdated: time.Now().UTC(),
	}, nil
}

// SetImporterType configures the importer for an import-controlled
// account. Returns an error for manual and virtual accounts, which have
// no statement source.
func (a *Account) SetImporterType(importerType string) error {
	if a.Controller != ControllerImport {
		return fmt.Errorf("account %s has controller %q, importer type requires %q", a.ID, a.Controller, ControllerImport)
	}
	if importerType == "" {
		return fmt.Errorf("importer type cannot be empty")
	}
	a.ImporterType = importerType
	return nil
}

// Close marks the account closed. Accounts are never hard-deleted.
func (a *Account) Close() {
	a.Closed = true
}

// RawTransaction is the staging record of one parsed statement line.
// Fingerprint is a pure function of the line's content, so two
// independently parsed occurrences of the same statement line always
// collide; see the fingerprint package for the exact input fields.
type RawTransaction struct {
	Fingerprint   string
	AccountID     string
	Date          time.Time
	Description   string
	Credit        decimal.NullDecimal // Populated for inflow lines
	Debit         decimal.NullDecimal // Populated for outflow lines
	Balance       decimal.NullDecimal // Statement's reported running balance
	CategoryHint  string
	transactionID string // Set once by materialization
	ImportedAt    time.Time
}

// NewRawTransaction creates a validated staging row
func NewRawTransaction(fingerprint, accountID string, date time.Time, description string) (*RawTransaction, error) {
	if fingerprint == "" {
		return nil, fmt.Errorf("fingerprint cannot be empty")
	}
	if accountID == "" {
		return nil, fmt.Errorf("account ID cannot be empty")
	}
	if date.IsZero() {
		return nil, fmt.Errorf("date cannot be zero")
	}
	if description == "" {
		return nil, fmt.Errorf("description cannot be empty")
	}

	return &RawTransaction{
		Fingerprint: fingerprint,
		AccountID:   accountID,
		Date:        date,
		Description: description,
		ImportedAt:  time.Now(),
	}, nil
}

// TransactionID returns the back-reference to the materialized
// transaction, or empty string when the row has not been materialized.
func (r *RawTransaction) TransactionID() string { return r.transactionID }

// Materialized reports whether the row has been linked to a transaction.
func (r *RawTransaction) Materialized() bool { return r.transactionID != "" }

// Link sets the back-reference to the materialized transaction. The
// reference is write-once: re-linking a staged row is always a bug.
func (r *RawTransaction) Link(transactionID string) error {
	if transactionID == "" {
		return fmt.Errorf("transaction ID cannot be empty")
	}
	if r.transactionID != "" {
		return fmt.Errorf("raw transaction %s already linked to %s", r.Fingerprint, r.transactionID)
	}
	r.transactionID = transactionID
	return nil
}

// RestoreLink sets the back-reference without the write-once check.
// For store hydration only.
func (r *RawTransaction) RestoreLink(transactionID string) {
	r.transactionID = transactionID
}

// Amount returns the signed amount of the staged line: credit positive,
// debit negative, zero when neither column is populated.
func (r *RawTransaction) Amount() decimal.Decimal {
	if r.Credit.Valid {
		return r.Credit.Decimal
	}
	if r.Debit.Valid {
		return r.Debit.Decimal.Neg()
	}
	return decimal.Zero
}

// Transaction is the canonical financial event. Immutable once created
// except for notes, tag assignment and offset linkage.
type Transaction struct {
	ID                  string
	AccountID           string
	Amount              decimal.Decimal // Signed: positive inflow, negative outflow
	Description         string
	Type                TransactionType
	SubType             TransactionSubType
	Timestamp           time.Time
	Source              Source
	Notes               string
	OffsetTransactionID string
	tagIDs              map[string]struct{}
}

// NewTransaction creates a validated transaction
func NewTransaction(id, accountID string, amount decimal.Decimal, description string, txnType TransactionType, subType TransactionSubType, timestamp time.Time, source Source) (*Transaction, error) {
	if id == "" {
		return nil, fmt.Errorf("transaction ID cannot be empty")
	}
	if accountID == "" {
		return nil, fmt.Errorf("account ID cannot be empty")
	}
	if description == "" {
		return nil, fmt.Errorf("description cannot be empty")
	}
	if !ValidateTransactionType(txnType) {
		return nil, fmt.Errorf("invalid transaction type: %s", txnType)
	}
	if !ValidateSubType(subType) {
		return nil, fmt.Errorf("invalid transaction subtype: %s", subType)
	}
	if timestamp.IsZero() {
		return nil, fmt.Errorf("timestamp cannot be zero")
	}

	return &Transaction{
		ID:          id,
		AccountID:   accountID,
		Amount:      amount,
		Description: description,
		Type:        txnType,
		SubType:     subType,
		Timestamp:   timestamp,
		Source:      source,
		tagIDs:      make(map[string]struct{}),
	}, nil
}

// AddTag applies a tag by id. Adding an already-present tag is a no-op,
// which keeps repeated rule application idempotent.
func (t *Transaction) AddTag(tagID string) error {
	if tagID == "" {
		return fmt.Errorf("tag ID cannot be empty")
	}
	if t.tagIDs == nil {
		t.tagIDs = make(map[string]struct{})
	}
	t.tagIDs[tagID] = struct{}{}
	return nil
}

// HasTag reports whether the tag is applied
func (t *Transaction) HasTag(tagID string) bool {
	_, ok := t.tagIDs[tagID]
	return ok
}

// TagIDs returns the applied tag ids in sorted order
func (t *Transaction) TagIDs() []string {
	ids := make([]string, 0, len(t.tagIDs))
	for id := range t.tagIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Rule is a per-account categorization rule. Matching is
// case-insensitive ordinal substring; multiple rules may match one
// transaction and their tag sets union.
type Rule struct {
	ID          string
	AccountID   string
	Contains    string
	Description string
	tagIDs      map[string]struct{}
}

// NewRule creates a validated rule
func NewRule(id, accountID, contains string, tagIDs []string) (*Rule, error) {
	if id == "" {
		return nil, fmt.Errorf("rule ID cannot be empty")
	}
	if accountID == "" {
		return nil, fmt.Errorf("account ID cannot be empty")
	}
	if contains == "" {
		return nil, fmt.Errorf("contains pattern cannot be empty")
	}
	if len(tagIDs) == 0 {
		return nil, fmt.Errorf("rule must apply at least one tag")
	}

	tags := make(map[string]struct{}, len(tagIDs))
	for _, tagID := range tagIDs {
		if tagID == "" {
			return nil, fmt.Errorf("tag ID cannot be empty")
		}
		tags[tagID] = struct{}{}
	}

	return &Rule{
		ID:        id,
		AccountID: accountID,
		Contains:  contains,
		tagIDs:    tags,
	}, nil
}

// TagIDs returns the rule's tag ids in sorted order
func (r *Rule) TagIDs() []string {
	ids := make([]string, 0, len(r.tagIDs))
	for id := range r.tagIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SetTagIDs replaces the rule's tag set
func (r *Rule) SetTagIDs(tagIDs []string) error {
	if len(tagIDs) == 0 {
		return fmt.Errorf("rule must apply at least one tag")
	}
	tags := make(map[string]struct{}, len(tagIDs))
	for _, tagID := range tagIDs {
		if tagID == "" {
			return fmt.Errorf("tag ID cannot be empty")
		}
		tags[tagID] = struct{}{}
	}
	r.tagIDs = tags
	return nil
}

// RecurringTransaction is a scheduled template owned by a virtual
// account. On its due date it produces a recurring-typed transaction
// and advances LastRun.
type RecurringTransaction struct {
	ID          string
	AccountID   string
	Description string
	Amount      decimal.Decimal // Signed
	Frequency   Frequency
	LastRun     time.Time
}

// NewRecurringTransaction creates a validated recurring template
func NewRecurringTransaction(id, accountID, description string, amount decimal.Decimal, frequency Frequency, lastRun time.Time) (*RecurringTransaction, error) {
	if id == "" {
		return nil, fmt.Errorf("recurring transaction ID cannot be empty")
	}
	if accountID == "" {
		return nil, fmt.Errorf("account ID cannot be empty")
	}
	if description == "" {
		return nil, fmt.Errorf("description cannot be empty")
	}
	if amount.IsZero() {
		return nil, fmt.Errorf("amount cannot be zero")
	}
	if !ValidateFrequency(frequency) {
		return nil, fmt.Errorf("invalid frequency: %s", frequency)
	}
	if lastRun.IsZero() {
		return nil, fmt.Errorf("last run cannot be zero")
	}

	return &RecurringTransaction{
		ID:          id,
		AccountID:   accountID,
		Description: description,
		Amount:      amount,
		Frequency:   frequency,
		LastRun:     lastRun,
	}, nil
}

// NextRun computes the next due date from LastRun and Frequency
func (r *RecurringTransaction) NextRun() time.Time {
	switch r.Frequency {
	case FrequencyWeekly:
		return r.LastRun.AddDate(0, 0, 7)
	case FrequencyFortnightly:
		return r.LastRun.AddDate(0, 0, 14)
	case FrequencyMonthly:
		return r.LastRun.AddDate(0, 1, 0)
	case FrequencyYearly:
		return r.LastRun.AddDate(1, 0, 0)
	}
	return r.LastRun
}

// Due reports whether the template should run at the given time
func (r *RecurringTransaction) Due(now time.Time) bool {
	return !r.NextRun().After(now)
}

// TransactionType returns the type a produced transaction carries,
// derived from the amount's sign.
func (r *RecurringTransaction) TransactionType() TransactionType {
	if r.Amount.IsNegative() {
		return TypeRecurringDebit
	}
	return TypeRecurringCredit
}
