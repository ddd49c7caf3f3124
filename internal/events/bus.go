// Package events provides the synchronous in-process domain event bus
// and the standard balance-maintenance handlers.
//
// Publishing is synchronous and runs inside the caller's unit of work:
// a handler error aborts the publish, which aborts the job before
// commit. Handlers are explicit typed lists; there is no reflection and
// no dynamic discovery.
package events

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/rumor-ml/bankfeed/internal/domain"
)

// TransactionAdded fires when a transaction joins an account's set,
// whatever its origin (import, event synthesis, web, recurring).
type TransactionAdded struct {
	UserID      string
	Account     *domain.Account
	Transaction *domain.Transaction
}

// AccountAdded fires when an account (real or virtual) is created.
type AccountAdded struct {
	UserID         string
	Account        *domain.Account
	OpeningBalance decimal.Decimal
}

// BalanceAdjusted fires on an explicit balance adjustment command.
type BalanceAdjusted struct {
	UserID  string
	Account *domain.Account
	Amount  decimal.Decimal // Signed
	Source  domain.Source
}

// InstrumentChanged fires when an account is created or its metadata
// mutated, so derived read models can be invalidated.
type InstrumentChanged struct {
	UserID  string
	Account *domain.Account
}

// Bus dispatches domain events to registered handlers in registration
// order. Not safe for concurrent registration; wire handlers before
// publishing.
type Bus struct {
	transactionAdded  []func(context.Context, TransactionAdded) error
	accountAdded      []func(context.Context, AccountAdded) error
	balanceAdjusted   []func(context.Context, BalanceAdjusted) error
	instrumentChanged []func(context.Context, InstrumentChanged) error
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{}
}

// OnTransactionAdded registers a TransactionAdded handler
func (b *Bus) OnTransactionAdded(fn func(context.Context, TransactionAdded) error) {
	b.transactionAdded = append(b.transactionAdded, fn)
}

// OnAccountAdded registers an AccountAdded handler
func (b *Bus) OnAccountAdded(fn func(context.Context, AccountAdded) error) {
	b.accountAdded = append(b.accountAdded, fn)
}

// OnBalanceAdjusted registers a BalanceAdjusted handler
func (b *Bus) OnBalanceAdjusted(fn func(context.Context, BalanceAdjusted) error) {
	b.balanceAdjusted = append(b.balanceAdjusted, fn)
}

// OnInstrumentChanged registers an InstrumentChanged handler
func (b *Bus) OnInstrumentChanged(fn func(context.Context, InstrumentChanged) error) {
	b.instrumentChanged = append(b.instrumentChanged, fn)
}

// PublishTransactionAdded invokes TransactionAdded handlers. The first
// handler error aborts the publish.
func (b *Bus) PublishTransactionAdded(ctx context.Context, event TransactionAdded) error {
	for _, fn := range b.transactionAdded {
		if err := fn(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// PublishAccountAdded invokes AccountAdded handlers
func (b *Bus) PublishAccountAdded(ctx context.Context, event AccountAdded) error {
	for _, fn := range b.accountAdded {
		if err := fn(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// PublishBalanceAdjusted invokes BalanceAdjusted handlers
func (b *Bus) PublishBalanceAdjusted(ctx context.Context, event BalanceAdjusted) error {
	for _, fn := range b.balanceAdjusted {
		if err := fn(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// PublishInstrumentChanged invokes InstrumentChanged handlers
func (b *Bus) PublishInstrumentChanged(ctx context.Context, event InstrumentChanged) error {
	for _, fn := range b.instrumentChanged {
		if err := fn(ctx, event); err != nil {
			return err
		}
	}
	return nil
}
