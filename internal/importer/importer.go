// Package importer resolves the parser configured for an account and
// drives full reprocessing of historical transactions.
package importer

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rumor-ml/bankfeed/internal/domain"
	"github.com/rumor-ml/bankfeed/internal/parser"
	"github.com/rumor-ml/bankfeed/internal/parsers/amp"
	"github.com/rumor-ml/bankfeed/internal/parsers/commsec"
	"github.com/rumor-ml/bankfeed/internal/parsers/ing"
	"github.com/rumor-ml/bankfeed/internal/parsers/ofx"
	"github.com/rumor-ml/bankfeed/internal/parsers/pnc"
)

var (
	// ErrUnknownImporterType means the account's configured importer key
	// is not registered. A configuration error, never retried.
	ErrUnknownImporterType = errors.New("unknown importer type")

	// ErrNotSupported means the account has no importer configured,
	// typically because it is manual or virtual.
	ErrNotSupported = errors.New("account does not support imports")
)

// Enricher is an optional institution-specific hook run during
// reprocessing, after rule application. Parsers that stage category
// hints can implement it to derive extra tags from the hints.
type Enricher interface {
	Enrich(raw *domain.RawTransaction, txn *domain.Transaction) error
}

// Registry maps importer-type keys to parsers. Populated once at
// startup; lookups are read-only afterward.
type Registry struct {
	parsers map[string]parser.Parser
}

// New creates an empty registry
func New() *Registry {
	return &Registry{parsers: make(map[string]parser.Parser)}
}

// Default creates a registry with all built-in parsers registered under
// their names.
func Default() *Registry {
	r := New()
	for _, p := range []parser.Parser{
		ing.NewParser(),
		amp.NewParser(),
		commsec.NewParser(),
		ofx.NewParser(),
		pnc.NewParser(),
	} {
		r.Register(p.Name(), p)
	}
	return r
}

// Register adds a parser under the given importer-type key
func (r *Registry) Register(key string, p parser.Parser) {
	r.parsers[key] = p
}

// Resolve returns the parser for the account's configured importer type
func (r *Registry) Resolve(account *domain.Account) (parser.Parser, error) {
	if account.Controller != domain.ControllerImport || account.ImporterType == "" {
		return nil, fmt.Errorf("account %s: %w", account.ID, ErrNotSupported)
	}

	p, ok := r.parsers[account.ImporterType]
	if !ok {
		return nil, fmt.Errorf("account %s configured with %q: %w", account.ID, account.ImporterType, ErrUnknownImporterType)
	}
	return p, nil
}

// Get returns the parser registered under key
func (r *Registry) Get(key string) (parser.Parser, error) {
	p, ok := r.parsers[key]
	if !ok {
		return nil, fmt.Errorf("%q: %w", key, ErrUnknownImporterType)
	}
	return p, nil
}

// Keys returns the registered importer-type keys in sorted order
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.parsers))
	for key := range r.parsers {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// ReprocessStore is the persistence slice reprocessing reads and writes
type ReprocessStore interface {
	GetAccount(ctx context.Context, id string) (*domain.Account, error)
	RulesForAccount(ctx context.Context, accountID string) ([]*domain.Rule, error)
	TransactionsForAccount(ctx context.Context, accountID string) ([]*domain.Transaction, error)
	RawTransactionsForAccount(ctx context.Context, accountID string) ([]*domain.RawTransaction, error)
	SaveTransaction(ctx context.Context, txn *domain.Transaction) error
}

// RuleApplier applies rules to transactions; satisfied by rules.Engine.
type RuleApplier interface {
	Apply(rules []*domain.Rule, txns []*domain.Transaction) (int, error)
}

// Reprocess re-derives tags for every historical transaction of the
// account: current rules are re-applied and, when the account's parser
// implements Enricher, institution hints are re-evaluated. No re-parse
// and no re-stage; amounts, balances and the transaction set are
// untouched. Safe to repeat.
func (r *Registry) Reprocess(ctx context.Context, store ReprocessStore, engine RuleApplier, accountID string) (int, error) {
	account, err := store.GetAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}

	p, err := r.Resolve(account)
	if err != nil {
		return 0, err
	}

	rules, err := store.RulesForAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}
	txns, err := store.TransactionsForAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}

	tagged, err := engine.Apply(rules, txns)
	if err != nil {
		return 0, err
	}

	if enricher, ok := p.(Enricher); ok {
		if err := r.enrich(ctx, store, enricher, accountID, txns); err != nil {
			return 0, err
		}
	}

	for _, txn := range txns {
		if err := store.SaveTransaction(ctx, txn); err != nil {
			return 0, fmt.Errorf("failed to save reprocessed transaction %s: %w", txn.ID, err)
		}
	}

	return tagged, nil
}

// enrich runs the institution hook against each materialized raw row
// and its linked transaction.
func (r *Registry) enrich(ctx context.Context, store ReprocessStore, enricher Enricher, accountID string, txns []*domain.Transaction) error {
	raws, err := store.RawTransactionsForAccount(ctx, accountID)
	if err != nil {
		return err
	}

	byID := make(map[string]*domain.Transaction, len(txns))
	for _, txn := range txns {
		byID[txn.ID] = txn
	}

	for _, raw := range raws {
		if !raw.Materialized() {
			continue
		}
		txn, ok := byID[raw.TransactionID()]
		if !ok {
			continue
		}
		if err := enricher.Enrich(raw, txn); err != nil {
			return fmt.Errorf("enrichment failed for raw transaction %s: %w", raw.Fingerprint, err)
		}
	}
	return nil
}
