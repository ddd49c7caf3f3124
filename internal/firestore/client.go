// Package firestore mirrors committed accounts and transactions into
// Firestore as a denormalized read model, and wraps Firebase Auth for
// request authentication. The local SQLite database stays the source of
// truth; the mirror is rebuildable and optional at runtime.
package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/rumor-ml/bankfeed/internal/domain"
	"github.com/rumor-ml/bankfeed/internal/slug"
)

const (
	accountsCollection     = "bankfeed-accounts"
	transactionsCollection = "bankfeed-transactions"
	summariesCollection    = "bankfeed-summaries"
)

// Client wraps Firestore and Firebase Auth with bankfeed operations
type Client struct {
	Firestore *firestore.Client
	Auth      *auth.Client
	projectID string
}

// NewClient creates a client using Application Default Credentials, or
// an explicit credentials file when credsPath is set.
func NewClient(ctx context.Context, projectID, credsPath string) (*Client, error) {
	conf := &firebase.Config{ProjectID: projectID}

	var opts []option.ClientOption
	if credsPath != "" {
		opts = append(opts, option.WithCredentialsFile(credsPath))
	}

	app, err := firebase.NewApp(ctx, conf, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}

	firestoreClient, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	authClient, err := app.Auth(ctx)
	if err != nil {
		firestoreClient.Close()
		return nil, fmt.Errorf("failed to create Auth client: %w", err)
	}

	return &Client{
		Firestore: firestoreClient,
		Auth:      authClient,
		projectID: projectID,
	}, nil
}

// Close closes the Firestore client
func (c *Client) Close() error {
	return c.Firestore.Close()
}

// AccountDoc is the read-model projection of an account
type AccountDoc struct {
	ID           string    `firestore:"id"`
	UserID       string    `firestore:"userId"`
	Name         string    `firestore:"name"`
	Currency     string    `firestore:"currency"`
	Balance      string    `firestore:"balance"`
	Controller   string    `firestore:"controller"`
	ImporterType string    `firestore:"importerType,omitempty"`
	Closed       bool      `firestore:"closed"`
	MirroredAt   time.Time `firestore:"mirroredAt"`
}

// TransactionDoc is the read-model projection of a transaction
type TransactionDoc struct {
	ID          string    `firestore:"id"`
	UserID      string    `firestore:"userId"`
	AccountID   string    `firestore:"accountId"`
	Amount      string    `firestore:"amount"`
	Description string    `firestore:"description"`
	Type        string    `firestore:"type"`
	SubType     string    `firestore:"subType"`
	Timestamp   time.Time `firestore:"timestamp"`
	Source      string    `firestore:"source"`
	Tags        []string  `firestore:"tags"`
	MirroredAt  time.Time `firestore:"mirroredAt"`
}

func accountDoc(account *domain.Account, now time.Time) *AccountDoc {
	return &AccountDoc{
		ID:           account.ID,
		UserID:       account.UserID,
		Name:         account.Name,
		Currency:     account.Currency,
		Balance:      account.Balance.String(),
		Controller:   string(account.Controller),
		ImporterType: account.ImporterType,
		Closed:       account.Closed,
		MirroredAt:   now,
	}
}

func transactionDoc(userID string, txn *domain.Transaction, now time.Time) *TransactionDoc {
	tags := txn.TagIDs()
	if tags == nil {
		tags = []string{}
	}
	return &TransactionDoc{
		ID:          txn.ID,
		UserID:      userID,
		AccountID:   txn.AccountID,
		Amount:      txn.Amount.String(),
		Description: txn.Description,
		Type:        string(txn.Type),
		SubType:     string(txn.SubType),
		Timestamp:   txn.Timestamp,
		Source:      string(txn.Source),
		Tags:        tags,
		MirroredAt:  now,
	}
}

// MirrorCommit pushes a committed job's account and transactions, then
// invalidates the owner's cached summary. Document ids are deterministic
// so re-mirroring after a rebuild overwrites rather than duplicates.
func (c *Client) MirrorCommit(ctx context.Context, account *domain.Account, txns []*domain.Transaction) error {
	now := time.Now().UTC()

	docID := slug.AccountDoc(account.UserID, account.ID)
	if _, err := c.Firestore.Collection(accountsCollection).Doc(docID).Set(ctx, accountDoc(account, now)); err != nil {
		return fmt.Errorf("failed to mirror account %s: %w", account.ID, err)
	}

	for _, txn := range txns {
		doc := transactionDoc(account.UserID, txn, now)
		if _, err := c.Firestore.Collection(transactionsCollection).Doc(doc.ID).Set(ctx, doc); err != nil {
			return fmt.Errorf("failed to mirror transaction %s: %w", txn.ID, err)
		}
	}

	return c.Invalidate(ctx, account.UserID)
}

// Invalidate deletes the user's cached summary document. Deleting an
// absent document is a no-op, so invalidation is safe to repeat.
func (c *Client) Invalidate(ctx context.Context, userID string) error {
	if _, err := c.Firestore.Collection(summariesCollection).Doc(slug.SummaryDoc(userID)).Delete(ctx); err != nil {
		return fmt.Errorf("failed to invalidate summary for user %s: %w", userID, err)
	}
	return nil
}

// Accounts retrieves the mirrored accounts for a user
func (c *Client) Accounts(ctx context.Context, userID string) ([]*AccountDoc, error) {
	iter := c.Firestore.Collection(accountsCollection).
		Where("userId", "==", userID).
		Documents(ctx)

	var accounts []*AccountDoc
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate accounts for user %s: %w", userID, err)
		}

		var acc AccountDoc
		if err := doc.DataTo(&acc); err != nil {
			return nil, fmt.Errorf("failed to parse account: %w", err)
		}
		accounts = append(accounts, &acc)
	}

	return accounts, nil
}

// Transactions retrieves the mirrored transactions for an account,
// newest first
func (c *Client) Transactions(ctx context.Context, userID, accountID string) ([]*TransactionDoc, error) {
	iter := c.Firestore.Collection(transactionsCollection).
		Where("userId", "==", userID).
		Where("accountId", "==", accountID).
		OrderBy("timestamp", firestore.Desc).
		Documents(ctx)

	var txns []*TransactionDoc
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate transactions for account %s: %w", accountID, err)
		}

		var txn TransactionDoc
		if err := doc.DataTo(&txn); err != nil {
			return nil, fmt.Errorf("failed to parse transaction: %w", err)
		}
		txns = append(txns, &txn)
	}

	return txns, nil
}
