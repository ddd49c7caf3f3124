package events

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rumor-ml/bankfeed/internal/domain"
)

// Staging is the slice of the persistence layer the standard handlers
// write through. Satisfied by store.UnitOfWork, so handler writes join
// the job's transaction.
type Staging interface {
	SaveAccount(ctx context.Context, account *domain.Account) error
	SaveTransaction(ctx context.Context, txn *domain.Transaction) error
}

// Invalidator discards cached read models for a user after instrument
// changes. Satisfied by the Firestore mirror.
type Invalidator interface {
	Invalidate(ctx context.Context, userID string) error
}

// NopInvalidator is used when no read-model mirror is configured.
type NopInvalidator struct{}

func (NopInvalidator) Invalidate(context.Context, string) error { return nil }

// Handlers are the standard balance-maintenance and read-model
// handlers. Wire registers them on a bus; one Handlers instance
// serves one unit of work.
type Handlers struct {
	staging     Staging
	invalidator Invalidator
	now         func() time.Time
}

// NewHandlers creates the standard handler set writing through staging.
// Pass NopInvalidator when no read-model mirror is configured.
func NewHandlers(staging Staging, invalidator Invalidator) *Handlers {
	return &Handlers{
		staging:     staging,
		invalidator: invalidator,
		now:         time.Now,
	}
}

// Wire registers the standard handlers on the bus
func (h *Handlers) Wire(bus *Bus) {
	bus.OnTransactionAdded(h.handleTransactionAdded(bus))
	bus.OnAccountAdded(h.handleAccountAdded(bus))
	bus.OnBalanceAdjusted(h.handleBalanceAdjusted(bus))
	bus.OnInstrumentChanged(h.handleInstrumentChanged)
}

// handleTransactionAdded maintains the running balance. Import accounts
// are statement-authoritative and never incrementally summed.
func (h *Handlers) handleTransactionAdded(bus *Bus) func(context.Context, TransactionAdded) error {
	return func(ctx context.Context, event TransactionAdded) error {
		account := event.Account
		if account.Controller == domain.ControllerImport {
			return nil
		}

		account.Balance = account.Balance.Add(event.Transaction.Amount)
		account.LastUpdated = h.now()
		if err := h.staging.SaveAccount(ctx, account); err != nil {
			return fmt.Errorf("failed to update balance for account %s: %w", account.ID, err)
		}
		return nil
	}
}

// handleAccountAdded synthesizes an opening-balance transaction for
// accounts created with a nonzero starting balance. The synthesized
// transaction republishes TransactionAdded so the balance handler sums
// it like any other transaction.
func (h *Handlers) handleAccountAdded(bus *Bus) func(context.Context, AccountAdded) error {
	return func(ctx context.Context, event AccountAdded) error {
		if event.OpeningBalance.IsZero() {
			return nil
		}

		txn, err := h.synthesize(event.Account, event.OpeningBalance, "Opening balance", domain.SubTypeOpeningBalance, domain.SourceEvent)
		if err != nil {
			return err
		}
		if err := h.staging.SaveTransaction(ctx, txn); err != nil {
			return fmt.Errorf("failed to save opening balance transaction: %w", err)
		}

		return bus.PublishTransactionAdded(ctx, TransactionAdded{
			UserID:      event.UserID,
			Account:     event.Account,
			Transaction: txn,
		})
	}
}

// handleBalanceAdjusted synthesizes a balance-adjustment transaction
// carrying the requested signed amount.
func (h *Handlers) handleBalanceAdjusted(bus *Bus) func(context.Context, BalanceAdjusted) error {
	return func(ctx context.Context, event BalanceAdjusted) error {
		if event.Amount.IsZero() {
			return nil
		}

		source := event.Source
		if source == "" {
			source = domain.SourceEvent
		}

		txn, err := h.synthesize(event.Account, event.Amount, "Balance adjustment", domain.SubTypeBalanceAdjustment, source)
		if err != nil {
			return err
		}
		if err := h.staging.SaveTransaction(ctx, txn); err != nil {
			return fmt.Errorf("failed to save balance adjustment transaction: %w", err)
		}

		return bus.PublishTransactionAdded(ctx, TransactionAdded{
			UserID:      event.UserID,
			Account:     event.Account,
			Transaction: txn,
		})
	}
}

// handleInstrumentChanged stamps the account and invalidates the user's
// cached read model.
func (h *Handlers) handleInstrumentChanged(ctx context.Context, event InstrumentChanged) error {
	event.Account.LastUpdated = h.now()
	if err := h.staging.SaveAccount(ctx, event.Account); err != nil {
		return fmt.Errorf("failed to stamp account %s: %w", event.Account.ID, err)
	}
	if err := h.invalidator.Invalidate(ctx, event.UserID); err != nil {
		return fmt.Errorf("failed to invalidate read model for user %s: %w", event.UserID, err)
	}
	return nil
}

func (h *Handlers) synthesize(account *domain.Account, amount decimal.Decimal, description string, subType domain.TransactionSubType, source domain.Source) (*domain.Transaction, error) {
	txnType := domain.TypeBalanceAdjustmentCredit
	if amount.IsNegative() {
		txnType = domain.TypeBalanceAdjustmentDebit
	}

	txn, err := domain.NewTransaction(uuid.NewString(), account.ID, amount, description, txnType, subType, h.now(), source)
	if err != nil {
		return nil, fmt.Errorf("failed to synthesize %s transaction: %w", subType, err)
	}
	return txn, nil
}
