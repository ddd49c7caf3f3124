// Package staging reconciles parsed statement lines against already
// staged rows and materializes the new ones into canonical
// transactions.
package staging

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/rumor-ml/bankfeed/internal/domain"
	"github.com/rumor-ml/bankfeed/internal/events"
	"github.com/rumor-ml/bankfeed/internal/fingerprint"
	"github.com/rumor-ml/bankfeed/internal/parser"
)

// Store is the slice of the persistence layer staging writes through.
// Satisfied by store.UnitOfWork so the whole pipeline shares one
// transaction.
type Store interface {
	Fingerprints(ctx context.Context, accountID string) (map[string]struct{}, error)
	SaveRawTransaction(ctx context.Context, raw *domain.RawTransaction) error
	SaveTransaction(ctx context.Context, txn *domain.Transaction) error
	SaveAccount(ctx context.Context, account *domain.Account) error
}

// Staged pairs a newly staged row with the parse-time tag hints that
// have no column on the staging record.
type Staged struct {
	Raw      *domain.RawTransaction
	TagHints []string
}

// Stage fingerprints every parsed line, drops the ones already staged
// for the account, persists the remainder and returns them in statement
// order. Re-uploading an identical or overlapping statement stages
// nothing for the shared lines.
func Stage(ctx context.Context, store Store, accountID string, lines []parser.Line) ([]Staged, error) {
	existing, err := store.Fingerprints(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load existing fingerprints: %w", err)
	}

	var staged []Staged
	for i, line := range lines {
		fp := fingerprint.Line(line.Date(), line.Description(), line.Amount(), line.Balance())
		if _, seen := existing[fp]; seen {
			continue
		}
		// Also guards against the same line appearing twice in one file.
		existing[fp] = struct{}{}

		raw, err := domain.NewRawTransaction(fp, accountID, line.Date(), line.Description())
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		raw.Credit = line.Credit()
		raw.Debit = line.Debit()
		raw.Balance = line.Balance()
		raw.CategoryHint = line.CategoryHint()

		if err := store.SaveRawTransaction(ctx, raw); err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		staged = append(staged, Staged{Raw: raw, TagHints: line.TagHints()})
	}

	return staged, nil
}

// Materialize turns every new staged row into a canonical Transaction:
// credit populated makes a positive Credit, debit populated a negative
// Debit. The raw row's back-reference is set, TransactionAdded is
// published for each transaction, and for import-controlled accounts
// the balance is set from the last staged line's reported running
// balance. Nothing is committed here; the caller owns the unit of work.
func Materialize(ctx context.Context, store Store, bus *events.Bus, account *domain.Account, staged []Staged) ([]*domain.Transaction, error) {
	txns := make([]*domain.Transaction, 0, len(staged))

	for _, row := range staged {
		raw := row.Raw

		var txnType domain.TransactionType
		switch {
		case raw.Credit.Valid:
			txnType = domain.TypeCredit
		case raw.Debit.Valid:
			txnType = domain.TypeDebit
		default:
			return nil, fmt.Errorf("raw transaction %s has neither credit nor debit", raw.Fingerprint)
		}

		txn, err := domain.NewTransaction(uuid.NewString(), account.ID, raw.Amount(),
			raw.Description, txnType, domain.SubTypeOrdinary, raw.Date, domain.SourceImport)
		if err != nil {
			return nil, fmt.Errorf("failed to materialize raw transaction %s: %w", raw.Fingerprint, err)
		}
		for _, hint := range row.TagHints {
			if err := txn.AddTag(hint); err != nil {
				return nil, fmt.Errorf("failed to apply tag hint to transaction %s: %w", txn.ID, err)
			}
		}

		if err := raw.Link(txn.ID); err != nil {
			return nil, err
		}
		if err := store.SaveRawTransaction(ctx, raw); err != nil {
			return nil, fmt.Errorf("failed to link raw transaction %s: %w", raw.Fingerprint, err)
		}
		if err := store.SaveTransaction(ctx, txn); err != nil {
			return nil, fmt.Errorf("failed to save transaction %s: %w", txn.ID, err)
		}

		if err := bus.PublishTransactionAdded(ctx, events.TransactionAdded{
			UserID:      account.UserID,
			Account:     account,
			Transaction: txn,
		}); err != nil {
			return nil, err
		}

		txns = append(txns, txn)
	}

	if account.Controller == domain.ControllerImport {
		if err := setStatementBalance(ctx, store, account, staged); err != nil {
			return nil, err
		}
	}

	return txns, nil
}

// setStatementBalance applies statement-authoritative balance: the
// last staged line's reported running balance becomes the account
// balance. Statements without any reported balance leave it untouched.
func setStatementBalance(ctx context.Context, store Store, account *domain.Account, staged []Staged) error {
	for i := len(staged) - 1; i >= 0; i-- {
		raw := staged[i].Raw
		if !raw.Balance.Valid {
			continue
		}
		account.Balance = raw.Balance.Decimal
		if err := store.SaveAccount(ctx, account); err != nil {
			return fmt.Errorf("failed to set statement balance for account %s: %w", account.ID, err)
		}
		return nil
	}
	return nil
}
