// Package recurring materializes due scheduled templates into
// transactions. Produced transactions flow through the event bus so the
// owning account's balance updates the same way as any other posting.
package recurring

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/rumor-ml/bankfeed/internal/domain"
	"github.com/rumor-ml/bankfeed/internal/events"
	"github.com/rumor-ml/bankfeed/internal/store"
)

// Runner walks recurring templates and posts a transaction for each one
// that is due. Each template run commits in its own unit of work so one
// failing template does not hold up the rest.
type Runner struct {
	store       *store.Store
	invalidator events.Invalidator
	newID       func() string
}

// NewRunner creates a runner. invalidator may be nil.
func NewRunner(st *store.Store, invalidator events.Invalidator) *Runner {
	if invalidator == nil {
		invalidator = events.NopInvalidator{}
	}
	return &Runner{
		store:       st,
		invalidator: invalidator,
		newID:       uuid.NewString,
	}
}

// RunDue posts every template due at now. A template may be overdue by
// several periods; each missed period produces its own transaction.
// Returns the number of transactions posted.
func (r *Runner) RunDue(ctx context.Context, now time.Time) (int, error) {
	templates, err := r.store.RecurringTransactions(ctx)
	if err != nil {
		return 0, fmt.Errorf("load recurring templates: %w", err)
	}

	posted := 0
	for _, template := range templates {
		n, err := r.runTemplate(ctx, template, now)
		if err != nil {
			log.Printf("ERROR: recurring template %s (%s): %v", template.ID, template.Description, err)
			continue
		}
		posted += n
	}

	return posted, nil
}

func (r *Runner) runTemplate(ctx context.Context, template *domain.RecurringTransaction, now time.Time) (int, error) {
	if !template.Due(now) {
		return 0, nil
	}

	uow, err := r.store.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin unit of work: %w", err)
	}
	defer uow.Rollback()

	account, err := uow.GetAccount(ctx, template.AccountID)
	if err != nil {
		return 0, fmt.Errorf("load account %s: %w", template.AccountID, err)
	}

	bus := events.NewBus()
	events.NewHandlers(uow, r.invalidator).Wire(bus)

	posted := 0
	for template.Due(now) {
		due := template.NextRun()

		txn, err := domain.NewTransaction(r.newID(), template.AccountID, template.Amount,
			template.Description, template.TransactionType(), domain.SubTypeOrdinary, due, domain.SourceRecurring)
		if err != nil {
			return 0, fmt.Errorf("build transaction: %w", err)
		}

		if err := uow.SaveTransaction(ctx, txn); err != nil {
			return 0, fmt.Errorf("save transaction: %w", err)
		}
		if err := bus.PublishTransactionAdded(ctx, events.TransactionAdded{
			UserID:      account.UserID,
			Account:     account,
			Transaction: txn,
		}); err != nil {
			return 0, fmt.Errorf("publish transaction: %w", err)
		}

		template.LastRun = due
		posted++
	}

	if err := uow.SaveRecurringTransaction(ctx, template); err != nil {
		return 0, fmt.Errorf("advance template: %w", err)
	}
	if err := uow.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}

	return posted, nil
}
