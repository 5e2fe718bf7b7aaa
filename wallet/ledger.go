package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is satisfied by *pgxpool.Pool and pgx.Tx alike; read helpers accept
// it so callers can check balances inside or outside a transaction.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Ledger is the only writer of wallet balances besides the payment-processor
// webhook. Every method appends immutable wallet_ledger entries and mutates
// the matching profile balance inside the caller's transaction, so the two
// succeed or fail together.
type Ledger struct{}

func NewLedger() *Ledger {
	return &Ledger{}
}

// Lock debits the payer's wallet by amountMinor and appends the lock entry.
// The debit is guarded: it only applies while the post-debit balance stays
// non-negative, otherwise InsufficientFundsError is returned with no mutation.
func (l *Ledger) Lock(ctx context.Context, tx pgx.Tx, dealID, payerID string, amountMinor int64, currency string) error {
	if amountMinor <= 0 {
		return fmt.Errorf("wallet: lock amount must be positive, got %d", amountMinor)
	}

	var balance int64
	err := tx.QueryRow(ctx, `
		UPDATE profiles
		SET balance_minor = balance_minor - $2,
		    updated_at = get_tx_timestamp()
		WHERE user_id = $1 AND balance_minor >= $2 AND currency = $3
		RETURNING balance_minor
	`, payerID, amountMinor, currency).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return l.classifyDebitFailure(ctx, tx, payerID, amountMinor, currency)
		}
		return fmt.Errorf("wallet: debit payer: %w", err)
	}

	if err := appendEntry(ctx, tx, &dealID, payerID, -amountMinor, currency, KindLock); err != nil {
		return err
	}
	return nil
}

// Release pays out the escrow held for dealID: the winner receives
// price - commission and the platform wallet receives the commission. A second
// call observes the outcome guard and returns ErrAlreadyReleased untouched.
func (l *Ledger) Release(ctx context.Context, tx pgx.Tx, dealID, winnerID string, side Side, rateBP int32) error {
	amount, currency, err := l.lockedAmount(ctx, tx, dealID)
	if err != nil {
		return err
	}

	commission, payout := SplitPrice(amount, rateBP)

	if err := appendEntry(ctx, tx, &dealID, winnerID, payout, currency, side.releaseKind()); err != nil {
		return err
	}
	if err := appendEntry(ctx, tx, &dealID, PlatformWalletID, commission, currency, KindPlatformCommission); err != nil {
		return err
	}
	// Only freelancer payouts count as earnings; a client win is the client's
	// own money coming back, and the commission is platform revenue.
	winnerCredit := credit
	if side == SideFreelancer {
		winnerCredit = creditEarned
	}
	if err := winnerCredit(ctx, tx, winnerID, payout); err != nil {
		return err
	}
	if err := credit(ctx, tx, PlatformWalletID, commission); err != nil {
		return err
	}
	return nil
}

// Refund returns the full locked amount to the payer. Mutually exclusive with
// Release for the same deal; the outcome guard rejects the loser.
func (l *Ledger) Refund(ctx context.Context, tx pgx.Tx, dealID string) error {
	var payerID string
	var amount int64
	var currency string
	err := tx.QueryRow(ctx, `
		SELECT wallet_id, -amount_minor, currency
		FROM wallet_ledger
		WHERE deal_id = $1 AND kind = 'lock'
	`, dealID).Scan(&payerID, &amount, &currency)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNoLock
		}
		return fmt.Errorf("wallet: load lock for refund: %w", err)
	}

	if err := appendEntry(ctx, tx, &dealID, payerID, amount, currency, KindRefund); err != nil {
		return err
	}
	return credit(ctx, tx, payerID, amount)
}

// ExternalCredit applies a payment-processor top-up: balance and total_earned
// both move, and an external_credit entry keeps the sum invariant checkable.
func (l *Ledger) ExternalCredit(ctx context.Context, tx pgx.Tx, userID string, amountMinor int64, currency string) error {
	if amountMinor <= 0 {
		return fmt.Errorf("wallet: external credit must be positive, got %d", amountMinor)
	}
	tag, err := tx.Exec(ctx, `
		UPDATE profiles
		SET balance_minor = balance_minor + $2,
		    total_earned_minor = total_earned_minor + $2,
		    updated_at = get_tx_timestamp()
		WHERE user_id = $1
	`, userID, amountMinor)
	if err != nil {
		return fmt.Errorf("wallet: external credit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrWalletNotFound
	}
	return appendEntry(ctx, tx, nil, userID, amountMinor, currency, KindExternalCredit)
}

// Get reads the wallet row for the given owner.
func (l *Ledger) Get(ctx context.Context, q Querier, userID string) (Wallet, error) {
	var w Wallet
	err := q.QueryRow(ctx, `
		SELECT user_id, balance_minor, total_earned_minor, currency, updated_at
		FROM profiles
		WHERE user_id = $1
	`, userID).Scan(&w.UserID, &w.BalanceMinor, &w.TotalEarnedMinor, &w.Currency, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Wallet{}, ErrWalletNotFound
		}
		return Wallet{}, fmt.Errorf("wallet: get: %w", err)
	}
	return w, nil
}

// SumEntries derives a wallet's balance from its ledger entries. The wallet
// invariant is balance_minor == SumEntries at every observable point.
func (l *Ledger) SumEntries(ctx context.Context, q Querier, userID string) (int64, error) {
	var sum int64
	err := q.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount_minor), 0)
		FROM wallet_ledger
		WHERE wallet_id = $1
	`, userID).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("wallet: sum entries: %w", err)
	}
	return sum, nil
}

// EntriesForDeal lists the movements recorded against one deal, oldest first.
func (l *Ledger) EntriesForDeal(ctx context.Context, q Querier, dealID string) ([]Entry, error) {
	rows, err := q.Query(ctx, `
		SELECT id, deal_id, wallet_id, amount_minor, currency, kind::text, created_at
		FROM wallet_ledger
		WHERE deal_id = $1
		ORDER BY created_at ASC, kind ASC
	`, dealID)
	if err != nil {
		return nil, fmt.Errorf("wallet: list entries: %w", err)
	}
	defer rows.Close()

	out := make([]Entry, 0, 4)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.DealID, &e.WalletID, &e.AmountMinor, &e.Currency, &e.Kind, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("wallet: scan entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("wallet: iterate entries: %w", err)
	}
	return out, nil
}

// lockedAmount returns the escrowed amount for the deal, failing when the
// deal has no lock or has already been settled.
func (l *Ledger) lockedAmount(ctx context.Context, tx pgx.Tx, dealID string) (int64, string, error) {
	var amount int64
	var currency string
	err := tx.QueryRow(ctx, `
		SELECT -amount_minor, currency
		FROM wallet_ledger
		WHERE deal_id = $1 AND kind = 'lock'
	`, dealID).Scan(&amount, &currency)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, "", ErrNoLock
		}
		return 0, "", fmt.Errorf("wallet: load lock: %w", err)
	}
	return amount, currency, nil
}

func (l *Ledger) classifyDebitFailure(ctx context.Context, tx pgx.Tx, payerID string, required int64, currency string) error {
	var available int64
	var walletCurrency string
	err := tx.QueryRow(ctx, `SELECT balance_minor, currency FROM profiles WHERE user_id = $1`, payerID).
		Scan(&available, &walletCurrency)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrWalletNotFound
		}
		return fmt.Errorf("wallet: inspect payer wallet: %w", err)
	}
	if walletCurrency != currency {
		return ErrCurrencyMismatch
	}
	return &InsufficientFundsError{Required: required, Available: available}
}

func appendEntry(ctx context.Context, tx pgx.Tx, dealID *string, walletID string, amountMinor int64, currency string, kind Kind) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO wallet_ledger (deal_id, wallet_id, amount_minor, currency, kind)
		VALUES ($1, $2, $3, $4, $5::ledger_kind)
	`, dealID, walletID, amountMinor, currency, kind)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// The per-deal outcome (and lock) guards are partial unique
			// indexes; a second settlement attempt lands here.
			return ErrAlreadyReleased
		}
		return fmt.Errorf("wallet: append %s entry: %w", kind, err)
	}
	return nil
}

// creditEarned is credit plus the lifetime earnings counter; used for
// freelancer payouts, never for refunds or returned client funds.
func creditEarned(ctx context.Context, tx pgx.Tx, userID string, amountMinor int64) error {
	if amountMinor == 0 {
		return nil
	}
	tag, err := tx.Exec(ctx, `
		UPDATE profiles
		SET balance_minor = balance_minor + $2,
		    total_earned_minor = total_earned_minor + $2,
		    updated_at = get_tx_timestamp()
		WHERE user_id = $1
	`, userID, amountMinor)
	if err != nil {
		return fmt.Errorf("wallet: credit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrWalletNotFound
	}
	return nil
}

func credit(ctx context.Context, tx pgx.Tx, userID string, amountMinor int64) error {
	if amountMinor == 0 {
		return nil
	}
	tag, err := tx.Exec(ctx, `
		UPDATE profiles
		SET balance_minor = balance_minor + $2,
		    updated_at = get_tx_timestamp()
		WHERE user_id = $1
	`, userID, amountMinor)
	if err != nil {
		return fmt.Errorf("wallet: credit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrWalletNotFound
	}
	return nil
}
