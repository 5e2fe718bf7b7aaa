package payments

import "time"

// TransactionStatus is the card-processor checkout outcome.
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusCompleted TransactionStatus = "completed"
	StatusExpired   TransactionStatus = "expired"
	StatusFailed    TransactionStatus = "failed"
	StatusDisputed  TransactionStatus = "disputed"
)

// Transaction mirrors the transactions table.
type Transaction struct {
	ID          string
	UserID      string
	AmountMinor int64
	Currency    string
	ProviderRef string
	Status      TransactionStatus
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// CheckoutEvent is the processor webhook payload normalized for the service.
type CheckoutEvent struct {
	IdempotencyKey string
	ProviderRef    string
	Status         TransactionStatus
}
