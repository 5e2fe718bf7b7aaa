package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrDuplicateIdempotencyKey signals the webhook event was already applied.
	ErrDuplicateIdempotencyKey = errors.New("payments: duplicate idempotency key")
	// ErrTransactionNotFound signals no transaction matches the provider reference.
	ErrTransactionNotFound = errors.New("payments: transaction not found")
	// ErrTransactionSettled signals the transaction already left pending.
	ErrTransactionSettled = errors.New("payments: transaction already settled")
)

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// InsertIdempotencyKey reserves the event key inside the active transaction.
func (r *Repository) InsertIdempotencyKey(ctx context.Context, tx pgx.Tx, key string) error {
	if key == "" {
		return fmt.Errorf("payments: empty idempotency key")
	}

	_, err := tx.Exec(ctx, `INSERT INTO idempotency (key) VALUES ($1)`, key)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("payments: insert idempotency key: %w", err)
	}
	return nil
}

// LockByProviderRef locks and returns the transaction for a provider reference.
func (r *Repository) LockByProviderRef(ctx context.Context, tx pgx.Tx, providerRef string) (Transaction, error) {
	var t Transaction
	err := tx.QueryRow(ctx, `
		SELECT id, user_id, amount_minor, currency, provider_ref, status::text, created_at, completed_at
		FROM transactions
		WHERE provider_ref = $1
		FOR UPDATE
	`, providerRef).Scan(&t.ID, &t.UserID, &t.AmountMinor, &t.Currency, &t.ProviderRef, &t.Status, &t.CreatedAt, &t.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrTransactionNotFound
		}
		return Transaction{}, fmt.Errorf("payments: lock transaction: %w", err)
	}
	return t, nil
}

// MarkStatus stamps the checkout outcome on a pending transaction.
func (r *Repository) MarkStatus(ctx context.Context, tx pgx.Tx, transactionID string, status TransactionStatus) error {
	var completedClause string
	if status == StatusCompleted {
		completedClause = `, completed_at = get_tx_timestamp()`
	}
	tag, err := tx.Exec(ctx, `
		UPDATE transactions
		SET status = $2::transaction_status`+completedClause+`
		WHERE id = $1 AND status = 'pending'
	`, transactionID, status)
	if err != nil {
		return fmt.Errorf("payments: mark transaction %s: %w", status, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTransactionSettled
	}
	return nil
}

// CreatePending records a checkout the processor has not settled yet.
func (r *Repository) CreatePending(ctx context.Context, pool *pgxpool.Pool, userID string, amountMinor int64, currency, providerRef string) (Transaction, error) {
	if amountMinor <= 0 {
		return Transaction{}, fmt.Errorf("payments: amount must be positive")
	}
	if currency == "" {
		currency = "USD"
	}

	var t Transaction
	err := pool.QueryRow(ctx, `
		INSERT INTO transactions (user_id, amount_minor, currency, provider_ref)
		VALUES ($1, $2, $3, $4)
		RETURNING id, user_id, amount_minor, currency, provider_ref, status::text, created_at, completed_at
	`, userID, amountMinor, currency, providerRef).
		Scan(&t.ID, &t.UserID, &t.AmountMinor, &t.Currency, &t.ProviderRef, &t.Status, &t.CreatedAt, &t.CompletedAt)
	if err != nil {
		return Transaction{}, fmt.Errorf("payments: create pending transaction: %w", err)
	}
	return t, nil
}
