package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/rumor-ml/bankfeed/internal/domain"
)

// Fingerprints returns the set of staged line identities for an account.
// Reconciliation diffs a parsed batch against this set.
func (q queries) Fingerprints(ctx context.Context, accountID string) (map[string]struct{}, error) {
	rows, err := q.dbtx.QueryContext(ctx, `
		SELECT fingerprint FROM raw_transactions WHERE account_id = ?
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load fingerprints for account %s: %w", accountID, err)
	}
	defer rows.Close()

	fingerprints := make(map[string]struct{})
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, fmt.Errorf("failed to scan fingerprint: %w", err)
		}
		fingerprints[fp] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating fingerprints: %w", err)
	}
	return fingerprints, nil
}

// SaveRawTransaction persists a staged statement line
func (q queries) SaveRawTransaction(ctx context.Context, raw *domain.RawTransaction) error {
	var transactionID sql.NullString
	if raw.Materialized() {
		transactionID = sql.NullString{String: raw.TransactionID(), Valid: true}
	}

	_, err := q.dbtx.ExecContext(ctx, `
		INSERT OR REPLACE INTO raw_transactions
			(fingerprint, account_id, date, description, credit, debit, balance, category_hint, transaction_id, imported_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, raw.Fingerprint, raw.AccountID, raw.Date, raw.Description,
		nullDecimalString(raw.Credit), nullDecimalString(raw.Debit), nullDecimalString(raw.Balance),
		raw.CategoryHint, transactionID, raw.ImportedAt)

	if err != nil {
		return fmt.Errorf("failed to save raw transaction %s: %w", raw.Fingerprint, err)
	}
	return nil
}

// RawTransactionsForAccount retrieves all staged lines for an account in
// statement-date order.
func (q queries) RawTransactionsForAccount(ctx context.Context, accountID string) ([]*domain.RawTransaction, error) {
	rows, err := q.dbtx.QueryContext(ctx, `
		SELECT fingerprint, account_id, date, description, credit, debit, balance, category_hint, transaction_id, imported_at
		FROM raw_transactions WHERE account_id = ?
		ORDER BY date, fingerprint
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load raw transactions for account %s: %w", accountID, err)
	}
	defer rows.Close()

	var raws []*domain.RawTransaction
	for rows.Next() {
		var (
			raw                     domain.RawTransaction
			credit, debit, balance  sql.NullString
			transactionID           sql.NullString
		)
		if err := rows.Scan(&raw.Fingerprint, &raw.AccountID, &raw.Date, &raw.Description,
			&credit, &debit, &balance, &raw.CategoryHint, &transactionID, &raw.ImportedAt); err != nil {
			return nil, fmt.Errorf("failed to scan raw transaction: %w", err)
		}

		if raw.Credit, err = scanNullDecimal(credit); err != nil {
			return nil, fmt.Errorf("raw transaction %s: %w", raw.Fingerprint, err)
		}
		if raw.Debit, err = scanNullDecimal(debit); err != nil {
			return nil, fmt.Errorf("raw transaction %s: %w", raw.Fingerprint, err)
		}
		if raw.Balance, err = scanNullDecimal(balance); err != nil {
			return nil, fmt.Errorf("raw transaction %s: %w", raw.Fingerprint, err)
		}
		if transactionID.Valid {
			raw.RestoreLink(transactionID.String)
		}
		raws = append(raws, &raw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating raw transactions: %w", err)
	}
	return raws, nil
}

// UnprocessedCount returns the number of staged lines not yet
// materialized into transactions. Nonzero counts indicate an aborted
// pipeline; the diagnostic endpoint surfaces this.
func (q queries) UnprocessedCount(ctx context.Context, accountID string) (int, error) {
	var count int
	err := q.dbtx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM raw_transactions
		WHERE account_id = ? AND transaction_id IS NULL
	`, accountID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unprocessed rows for account %s: %w", accountID, err)
	}
	return count, nil
}

// SaveTransaction persists a transaction and its tag set
func (q queries) SaveTransaction(ctx context.Context, txn *domain.Transaction) error {
	var offset sql.NullString
	if txn.OffsetTransactionID != "" {
		offset = sql.NullString{String: txn.OffsetTransactionID, Valid: true}
	}

	_, err := q.dbtx.ExecContext(ctx, `
		INSERT OR REPLACE INTO transactions
			(id, account_id, amount, description, type, sub_type, timestamp, source, notes, offset_transaction_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, txn.ID, txn.AccountID, txn.Amount.String(), txn.Description,
		string(txn.Type), string(txn.SubType), txn.Timestamp, string(txn.Source), txn.Notes, offset)
	if err != nil {
		return fmt.Errorf("failed to save transaction %s: %w", txn.ID, err)
	}

	// Tags are replaced wholesale so the stored set mirrors the domain
	// object exactly.
	if _, err := q.dbtx.ExecContext(ctx, `DELETE FROM transaction_tags WHERE transaction_id = ?`, txn.ID); err != nil {
		return fmt.Errorf("failed to clear tags for transaction %s: %w", txn.ID, err)
	}
	for _, tagID := range txn.TagIDs() {
		if _, err := q.dbtx.ExecContext(ctx, `
			INSERT INTO transaction_tags (transaction_id, tag_id) VALUES (?, ?)
		`, txn.ID, tagID); err != nil {
			return fmt.Errorf("failed to save tag %s for transaction %s: %w", tagID, txn.ID, err)
		}
	}
	return nil
}

// GetTransaction retrieves a transaction by id with its tags
func (q queries) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	txn, err := q.scanTransaction(q.dbtx.QueryRowContext(ctx, `
		SELECT id, account_id, amount, description, type, sub_type, timestamp, source, notes, offset_transaction_id
		FROM transactions WHERE id = ?
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transaction %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	if err := q.loadTags(ctx, txn); err != nil {
		return nil, err
	}
	return txn, nil
}

// TransactionsForAccount retrieves all transactions for an account in
// timestamp order, tags included.
func (q queries) TransactionsForAccount(ctx context.Context, accountID string) ([]*domain.Transaction, error) {
	rows, err := q.dbtx.QueryContext(ctx, `
		SELECT id, account_id, amount, description, type, sub_type, timestamp, source, notes, offset_transaction_id
		FROM transactions WHERE account_id = ?
		ORDER BY timestamp, id
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions for account %s: %w", accountID, err)
	}
	defer rows.Close()

	var txns []*domain.Transaction
	for rows.Next() {
		txn, err := q.scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}

	for _, txn := range txns {
		if err := q.loadTags(ctx, txn); err != nil {
			return nil, err
		}
	}
	return txns, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (q queries) scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var (
		id, accountID, amount, description string
		txnType, subType, source, notes    string
		timestamp                          sql.NullTime
		offset                             sql.NullString
	)
	if err := row.Scan(&id, &accountID, &amount, &description,
		&txnType, &subType, &timestamp, &source, &notes, &offset); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan transaction: %w", err)
	}

	parsedAmount, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("transaction %s has malformed amount %q: %w", id, amount, err)
	}

	txn, err := domain.NewTransaction(id, accountID, parsedAmount, description,
		domain.TransactionType(txnType), domain.TransactionSubType(subType),
		timestamp.Time, domain.Source(source))
	if err != nil {
		return nil, fmt.Errorf("failed to hydrate transaction %s: %w", id, err)
	}
	txn.Notes = notes
	if offset.Valid {
		txn.OffsetTransactionID = offset.String
	}
	return txn, nil
}

func (q queries) loadTags(ctx context.Context, txn *domain.Transaction) error {
	rows, err := q.dbtx.QueryContext(ctx, `
		SELECT tag_id FROM transaction_tags WHERE transaction_id = ?
	`, txn.ID)
	if err != nil {
		return fmt.Errorf("failed to load tags for transaction %s: %w", txn.ID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var tagID string
		if err := rows.Scan(&tagID); err != nil {
			return fmt.Errorf("failed to scan tag: %w", err)
		}
		if err := txn.AddTag(tagID); err != nil {
			return fmt.Errorf("failed to hydrate tag for transaction %s: %w", txn.ID, err)
		}
	}
	return rows.Err()
}

func nullDecimalString(d decimal.NullDecimal) sql.NullString {
	if !d.Valid {
		return sql.NullString{}
	}
	return sql.NullString{String: d.Decimal.String(), Valid: true}
}

func scanNullDecimal(s sql.NullString) (decimal.NullDecimal, error) {
	if !s.Valid {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("malformed decimal %q: %w", s.String, err)
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}, nil
}
