package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/rumor-ml/bankfeed/internal/domain"
)

// SaveRule persists a rule and its tag set
func (q queries) SaveRule(ctx context.Context, rule *domain.Rule) error {
	_, err := q.dbtx.ExecContext(ctx, `
		INSERT OR REPLACE INTO rules (id, account_id, contains, description)
		VALUES (?, ?, ?, ?)
	`, rule.ID, rule.AccountID, rule.Contains, rule.Description)
	if err != nil {
		return fmt.Errorf("failed to save rule %s: %w", rule.ID, err)
	}

	if _, err := q.dbtx.ExecContext(ctx, `DELETE FROM rule_tags WHERE rule_id = ?`, rule.ID); err != nil {
		return fmt.Errorf("failed to clear tags for rule %s: %w", rule.ID, err)
	}
	for _, tagID := range rule.TagIDs() {
		if _, err := q.dbtx.ExecContext(ctx, `
			INSERT INTO rule_tags (rule_id, tag_id) VALUES (?, ?)
		`, rule.ID, tagID); err != nil {
			return fmt.Errorf("failed to save tag %s for rule %s: %w", tagID, rule.ID, err)
		}
	}
	return nil
}

// GetRule retrieves a rule by id. Returns ErrNotFound for unknown ids.
func (q queries) GetRule(ctx context.Context, id string) (*domain.Rule, error) {
	var accountID, contains, description string
	err := q.dbtx.QueryRowContext(ctx, `
		SELECT account_id, contains, description FROM rules WHERE id = ?
	`, id).Scan(&accountID, &contains, &description)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load rule %s: %w", id, err)
	}

	tagIDs, err := q.ruleTags(ctx, id)
	if err != nil {
		return nil, err
	}

	rule, err := domain.NewRule(id, accountID, contains, tagIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to hydrate rule %s: %w", id, err)
	}
	rule.Description = description
	return rule, nil
}

// RulesForAccount retrieves all rules applicable to an account
func (q queries) RulesForAccount(ctx context.Context, accountID string) ([]*domain.Rule, error) {
	rows, err := q.dbtx.QueryContext(ctx, `
		SELECT id FROM rules WHERE account_id = ? ORDER BY id
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules for account %s: %w", accountID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan rule id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}

	rules := make([]*domain.Rule, 0, len(ids))
	for _, id := range ids {
		rule, err := q.GetRule(ctx, id)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// DeleteRule removes a rule. Returns ErrNotFound for unknown ids.
func (q queries) DeleteRule(ctx context.Context, id string) error {
	result, err := q.dbtx.ExecContext(ctx, `DELETE FROM rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete rule %s: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}
	return nil
}

func (q queries) ruleTags(ctx context.Context, ruleID string) ([]string, error) {
	rows, err := q.dbtx.QueryContext(ctx, `
		SELECT tag_id FROM rule_tags WHERE rule_id = ? ORDER BY tag_id
	`, ruleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load tags for rule %s: %w", ruleID, err)
	}
	defer rows.Close()

	var tagIDs []string
	for rows.Next() {
		var tagID string
		if err := rows.Scan(&tagID); err != nil {
			return nil, fmt.Errorf("failed to scan rule tag: %w", err)
		}
		tagIDs = append(tagIDs, tagID)
	}
	return tagIDs, rows.Err()
}

// SaveRecurringTransaction persists a recurring template
func (q queries) SaveRecurringTransaction(ctx context.Context, recurring *domain.RecurringTransaction) error {
	_, err := q.dbtx.ExecContext(ctx, `
		INSERT OR REPLACE INTO recurring_transactions (id, account_id, description, amount, frequency, last_run)
		VALUES (?, ?, ?, ?, ?, ?)
	`, recurring.ID, recurring.AccountID, recurring.Description,
		recurring.Amount.String(), string(recurring.Frequency), recurring.LastRun)
	if err != nil {
		return fmt.Errorf("failed to save recurring transaction %s: %w", recurring.ID, err)
	}
	return nil
}

// RecurringTransactions retrieves all recurring templates
func (q queries) RecurringTransactions(ctx context.Context) ([]*domain.RecurringTransaction, error) {
	rows, err := q.dbtx.QueryContext(ctx, `
		SELECT id, account_id, description, amount, frequency, last_run
		FROM recurring_transactions ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load recurring transactions: %w", err)
	}
	defer rows.Close()

	var recurrings []*domain.RecurringTransaction
	for rows.Next() {
		var (
			id, accountID, description, amount, frequency string
			lastRun                                       sql.NullTime
		)
		if err := rows.Scan(&id, &accountID, &description, &amount, &frequency, &lastRun); err != nil {
			return nil, fmt.Errorf("failed to scan recurring transaction: %w", err)
		}

		parsedAmount, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("recurring transaction %s has malformed amount %q: %w", id, amount, err)
		}

		recurring, err := domain.NewRecurringTransaction(id, accountID, description,
			parsedAmount, domain.Frequency(frequency), lastRun.Time)
		if err != nil {
			return nil, fmt.Errorf("failed to hydrate recurring transaction %s: %w", id, err)
		}
		recurrings = append(recurrings, recurring)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating recurring transactions: %w", err)
	}
	return recurrings, nil
}
