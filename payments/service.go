package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// WebhookRepository defines the data access required by the service.
type WebhookRepository interface {
	InsertIdempotencyKey(ctx context.Context, tx pgx.Tx, key string) error
	LockByProviderRef(ctx context.Context, tx pgx.Tx, providerRef string) (Transaction, error)
	MarkStatus(ctx context.Context, tx pgx.Tx, transactionID string, status TransactionStatus) error
}

// WalletCrediter is the external-credit path into the escrow ledger. The
// webhook is the only wallet writer besides the ledger itself and honors the
// same non-negative and sum invariants.
type WalletCrediter interface {
	ExternalCredit(ctx context.Context, tx pgx.Tx, userID string, amountMinor int64, currency string) error
}

type Service struct {
	pool   TxBeginner
	repo   WebhookRepository
	wallet WalletCrediter
}

func NewService(pool TxBeginner, wallet WalletCrediter) *Service {
	return &Service{
		pool:   pool,
		repo:   NewRepository(),
		wallet: wallet,
	}
}

// WithRepository swaps the repository, used by tests.
func (s *Service) WithRepository(repo WebhookRepository) *Service {
	s.repo = repo
	return s
}

var validOutcomes = map[TransactionStatus]bool{
	StatusCompleted: true,
	StatusExpired:   true,
	StatusFailed:    true,
	StatusDisputed:  true,
}

// HandleCheckoutWebhook applies one processor event: the transaction is
// stamped with the outcome and, on completion, the wallet balance and
// total_earned counter are credited together with an external_credit entry.
// Replays of the same event key are acknowledged without re-applying.
func (s *Service) HandleCheckoutWebhook(ctx context.Context, event CheckoutEvent) error {
	if event.IdempotencyKey == "" {
		return fmt.Errorf("payments: missing idempotency key")
	}
	if event.ProviderRef == "" {
		return fmt.Errorf("payments: missing provider reference")
	}
	if !validOutcomes[event.Status] {
		return fmt.Errorf("payments: invalid checkout outcome %q", event.Status)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("payments: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.repo.InsertIdempotencyKey(ctx, tx, event.IdempotencyKey); err != nil {
		if errors.Is(err, ErrDuplicateIdempotencyKey) {
			return nil
		}
		return err
	}

	txn, err := s.repo.LockByProviderRef(ctx, tx, event.ProviderRef)
	if err != nil {
		return err
	}
	if err := s.repo.MarkStatus(ctx, tx, txn.ID, event.Status); err != nil {
		return err
	}

	if event.Status == StatusCompleted {
		if err := s.wallet.ExternalCredit(ctx, tx, txn.UserID, txn.AmountMinor, txn.Currency); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("payments: commit tx: %w", err)
	}
	return nil
}
