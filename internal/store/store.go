// Package store persists accounts, staged statement lines, transactions,
// rules and recurring schedules in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// dbtx is satisfied by both *sql.DB and *sql.Tx so query helpers can run
// inside or outside a unit of work.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
	queries
}

// Open opens (creating if necessary) the database at path and applies
// the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// modernc.org/sqlite serializes access per connection; a single
	// connection avoids SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	s := &Store{db: db, queries: queries{dbtx: db}}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// initSchema creates the necessary tables
func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL,
			currency TEXT NOT NULL,
			balance TEXT NOT NULL,
			controller TEXT NOT NULL,
			importer_type TEXT NOT NULL DEFAULT '',
			closed INTEGER NOT NULL DEFAULT 0,
			last_updated TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_accounts_user ON accounts(user_id)`,
		`CREATE TABLE IF NOT EXISTS raw_transactions (
			fingerprint TEXT NOT NULL,
			account_id TEXT NOT NULL REFERENCES accounts(id),
			date TIMESTAMP NOT NULL,
			description TEXT NOT NULL,
			credit TEXT,
			debit TEXT,
			balance TEXT,
			category_hint TEXT NOT NULL DEFAULT '',
			transaction_id TEXT,
			imported_at TIMESTAMP NOT NULL,
			PRIMARY KEY (account_id, fingerprint)
		)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL REFERENCES accounts(id),
			amount TEXT NOT NULL,
			description TEXT NOT NULL,
			type TEXT NOT NULL,
			sub_type TEXT NOT NULL,
			timestamp TIMESTAMP NOT NULL,
			source TEXT NOT NULL,
			notes TEXT NOT NULL DEFAULT '',
			offset_transaction_id TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_account ON transactions(account_id)`,
		`CREATE TABLE IF NOT EXISTS transaction_tags (
			transaction_id TEXT NOT NULL REFERENCES transactions(id),
			tag_id TEXT NOT NULL,
			PRIMARY KEY (transaction_id, tag_id)
		)`,
		`CREATE TABLE IF NOT EXISTS rules (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL DEFAULT '',
			contains TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rules_account ON rules(account_id)`,
		`CREATE TABLE IF NOT EXISTS rule_tags (
			rule_id TEXT NOT NULL REFERENCES rules(id) ON DELETE CASCADE,
			tag_id TEXT NOT NULL,
			PRIMARY KEY (rule_id, tag_id)
		)`,
		`CREATE TABLE IF NOT EXISTS recurring_transactions (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL REFERENCES accounts(id),
			description TEXT NOT NULL,
			amount TEXT NOT NULL,
			frequency TEXT NOT NULL,
			last_run TIMESTAMP NOT NULL
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// Begin starts a unit of work. All writes made through the returned
// UnitOfWork become visible atomically on Commit.
func (s *Store) Begin(ctx context.Context) (*UnitOfWork, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &UnitOfWork{tx: tx, queries: queries{dbtx: tx}}, nil
}

// Close closes the underlying database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// UnitOfWork is a database transaction scoped to one logical operation,
// typically a single statement import.
type UnitOfWork struct {
	tx *sql.Tx
	queries
}

// Commit makes all writes in the unit of work visible.
func (u *UnitOfWork) Commit() error {
	if err := u.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// Rollback discards all writes in the unit of work. Safe to call after
// Commit; the error is ignored by convention in deferred cleanup.
func (u *UnitOfWork) Rollback() error {
	return u.tx.Rollback()
}
