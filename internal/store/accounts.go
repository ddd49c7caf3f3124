package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/rumor-ml/bankfeed/internal/domain"
)

// queries holds the statements shared by Store and UnitOfWork.
type queries struct {
	dbtx dbtx
}

// SaveAccount inserts or updates an account
func (q queries) SaveAccount(ctx context.Context, account *domain.Account) error {
	_, err := q.dbtx.ExecContext(ctx, `
		INSERT OR REPLACE INTO accounts (id, user_id, name, currency, balance, controller, importer_type, closed, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, account.ID, account.UserID, account.Name, account.Currency,
		account.Balance.String(), string(account.Controller), account.ImporterType, account.Closed,
		account.LastUpdated.UTC())

	if err != nil {
		return fmt.Errorf("failed to save account %s: %w", account.ID, err)
	}
	return nil
}

// GetAccount retrieves an account by id. Returns ErrNotFound for
// unknown ids.
func (q queries) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	var (
		account    domain.Account
		balance    string
		controller string
	)

	err := q.dbtx.QueryRowContext(ctx, `
		SELECT id, user_id, name, currency, balance, controller, importer_type, closed, last_updated
		FROM accounts WHERE id = ?
	`, id).Scan(&account.ID, &account.UserID, &account.Name, &account.Currency,
		&balance, &controller, &account.ImporterType, &account.Closed, &account.LastUpdated)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load account %s: %w", id, err)
	}

	account.Balance, err = decimal.NewFromString(balance)
	if err != nil {
		return nil, fmt.Errorf("account %s has malformed balance %q: %w", id, balance, err)
	}
	account.Controller = domain.Controller(controller)

	return &account, nil
}

// AccountsForUser retrieves every account owned by the user
func (q queries) AccountsForUser(ctx context.Context, userID string) ([]*domain.Account, error) {
	rows, err := q.dbtx.QueryContext(ctx, `
		SELECT id FROM accounts WHERE user_id = ? ORDER BY name
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts for user %s: %w", userID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan account id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}

	accounts := make([]*domain.Account, 0, len(ids))
	for _, id := range ids {
		account, err := q.GetAccount(ctx, id)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, nil
}
