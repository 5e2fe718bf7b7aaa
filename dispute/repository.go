package dispute

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"dealflow/deal"
)

var (
	ErrNotFound        = errors.New("dispute: not found")
	ErrForbidden       = errors.New("dispute: forbidden")
	ErrAlreadyResolved = errors.New("dispute: already resolved")
	ErrOpenExists      = errors.New("dispute: deal already has an open dispute")
	ErrNotArbiter      = errors.New("dispute: resolver lacks arbiter capability")
)

const cols = `id, deal_id, opened_by, reason, prior_deal_status::text, status::text,
	resolution_notes, resolved_by, created_at, updated_at, resolved_at`

// Repository holds the SQL for dispute rows. Mutations run inside the
// caller's transaction alongside the deal status change.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.DealID, &rec.OpenedBy, &rec.Reason, &rec.PriorDealStatus,
		&rec.Status, &rec.ResolutionNotes, &rec.ResolvedBy, &rec.CreatedAt, &rec.UpdatedAt, &rec.ResolvedAt)
	return rec, err
}

func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, dealID, openerID, reason string, prior deal.Status) (Record, error) {
	rec, err := scanRecord(tx.QueryRow(ctx, `
		INSERT INTO disputes (deal_id, opened_by, reason, prior_deal_status)
		VALUES ($1, $2, $3, $4::deal_status)
		RETURNING `+cols+`
	`, dealID, openerID, reason, prior))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Record{}, ErrOpenExists
		}
		return Record{}, fmt.Errorf("dispute: insert: %w", err)
	}
	return rec, nil
}

// GetForUpdate locks and returns a dispute row.
func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, disputeID string) (Record, error) {
	rec, err := scanRecord(tx.QueryRow(ctx, `SELECT `+cols+` FROM disputes WHERE id = $1 FOR UPDATE`, disputeID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("dispute: lock: %w", err)
	}
	return rec, nil
}

// Close stamps the dispute's terminal status, resolver, and notes.
func (r *Repository) Close(ctx context.Context, tx pgx.Tx, disputeID string, status Status, resolvedBy, notes string) (Record, error) {
	var resolver any
	if resolvedBy != "" {
		resolver = resolvedBy
	}
	rec, err := scanRecord(tx.QueryRow(ctx, `
		UPDATE disputes
		SET status = $2::dispute_status,
		    resolved_by = $3::uuid,
		    resolution_notes = NULLIF($4, ''),
		    resolved_at = get_tx_timestamp(),
		    updated_at = get_tx_timestamp()
		WHERE id = $1 AND status = 'open'
		RETURNING `+cols+`
	`, disputeID, status, resolver, notes))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrAlreadyResolved
		}
		return Record{}, fmt.Errorf("dispute: close: %w", err)
	}
	return rec, nil
}

// UserRole reads the actor's role for the arbiter capability check.
func (r *Repository) UserRole(ctx context.Context, tx pgx.Tx, userID string) (string, error) {
	var role string
	if err := tx.QueryRow(ctx, `SELECT role::text FROM users WHERE id = $1`, userID).Scan(&role); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrForbidden
		}
		return "", fmt.Errorf("dispute: load resolver role: %w", err)
	}
	return role, nil
}

// ListForDeal returns a deal's disputes, newest first.
func (r *Repository) ListForDeal(ctx context.Context, pool *pgxpool.Pool, dealID string) ([]Record, error) {
	rows, err := pool.Query(ctx, `
		SELECT `+cols+`
		FROM disputes
		WHERE deal_id = $1
		ORDER BY created_at DESC
	`, dealID)
	if err != nil {
		return nil, fmt.Errorf("dispute: list: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, 2)
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.DealID, &rec.OpenedBy, &rec.Reason, &rec.PriorDealStatus,
			&rec.Status, &rec.ResolutionNotes, &rec.ResolvedBy, &rec.CreatedAt, &rec.UpdatedAt, &rec.ResolvedAt); err != nil {
			return nil, fmt.Errorf("dispute: scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate: %w", err)
	}
	return out, nil
}
