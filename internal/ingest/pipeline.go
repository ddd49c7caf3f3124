// Package ingest runs statement uploads through the import pipeline on a
// background worker pool. Each job is parsed, staged, materialized, and
// rule-tagged inside a single unit of work that commits once.
package ingest

import (
	"bytes"
	"context"
	"fmt"
	"log"

	"github.com/rumor-ml/bankfeed/internal/domain"
	"github.com/rumor-ml/bankfeed/internal/events"
	"github.com/rumor-ml/bankfeed/internal/importer"
	"github.com/rumor-ml/bankfeed/internal/rules"
	"github.com/rumor-ml/bankfeed/internal/staging"
	"github.com/rumor-ml/bankfeed/internal/store"
)

// Mirror pushes a committed job's results to an external read model.
type Mirror interface {
	MirrorCommit(ctx context.Context, account *domain.Account, txns []*domain.Transaction) error
}

// Pipeline orchestrates a single import job from raw bytes to committed
// transactions.
type Pipeline struct {
	store       *store.Store
	registry    *importer.Registry
	engine      *rules.Engine
	mirror      Mirror
	invalidator events.Invalidator
}

// NewPipeline creates a pipeline. mirror and invalidator may be nil; a nil
// mirror disables the read-model push.
func NewPipeline(st *store.Store, registry *importer.Registry, engine *rules.Engine, mirror Mirror, invalidator events.Invalidator) *Pipeline {
	if invalidator == nil {
		invalidator = events.NopInvalidator{}
	}
	return &Pipeline{
		store:       st,
		registry:    registry,
		engine:      engine,
		mirror:      mirror,
		invalidator: invalidator,
	}
}

// Run executes the job inside one unit of work. Any failure rolls back the
// whole job; nothing is partially committed.
func (p *Pipeline) Run(ctx context.Context, job *Job) error {
	uow, err := p.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin unit of work: %w", err)
	}
	defer uow.Rollback()

	account, err := uow.GetAccount(ctx, job.AccountID)
	if err != nil {
		return fmt.Errorf("load account %s: %w", job.AccountID, err)
	}

	prs, err := p.registry.Resolve(account)
	if err != nil {
		return err
	}

	lines, err := prs.Parse(ctx, bytes.NewReader(job.Data))
	if err != nil {
		return fmt.Errorf("parse %s: %w", job.Filename, err)
	}

	staged, err := staging.Stage(ctx, uow, account.ID, lines)
	if err != nil {
		return fmt.Errorf("stage %s: %w", job.Filename, err)
	}

	bus := events.NewBus()
	events.NewHandlers(uow, p.invalidator).Wire(bus)

	txns, err := staging.Materialize(ctx, uow, bus, account, staged)
	if err != nil {
		return fmt.Errorf("materialize %s: %w", job.Filename, err)
	}

	accountRules, err := uow.RulesForAccount(ctx, account.ID)
	if err != nil {
		return fmt.Errorf("load rules for account %s: %w", account.ID, err)
	}
	if _, err := p.engine.Apply(accountRules, txns); err != nil {
		return fmt.Errorf("apply rules: %w", err)
	}
	for _, txn := range txns {
		if err := uow.SaveTransaction(ctx, txn); err != nil {
			return fmt.Errorf("save transaction %s: %w", txn.ID, err)
		}
	}

	if err := uow.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	job.Staged = len(staged)
	job.Materialized = len(txns)

	// The local database is the source of truth. A mirror failure is
	// logged but does not fail the committed job.
	if p.mirror != nil && len(txns) > 0 {
		if err := p.mirror.MirrorCommit(ctx, account, txns); err != nil {
			log.Printf("ERROR: mirror commit for account %s: %v", account.ID, err)
		}
	}

	return nil
}
