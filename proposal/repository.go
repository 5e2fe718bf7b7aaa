package proposal

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals the proposal does not exist.
	ErrNotFound = errors.New("proposal: not found")
	// ErrForbidden signals the actor is not allowed to touch the proposal.
	ErrForbidden = errors.New("proposal: forbidden")
	// ErrDuplicate signals the bidder already has a pending proposal on the item.
	ErrDuplicate = errors.New("proposal: pending proposal already exists")
	// ErrNotPending signals a mutation against a proposal that already left pending.
	ErrNotPending = errors.New("proposal: no longer pending")
	// ErrSelfBid signals the item owner bidding on their own work item.
	ErrSelfBid = errors.New("proposal: cannot bid on own work item")
	// ErrNotWithdrawn guards delete: only withdrawn proposals may be removed.
	ErrNotWithdrawn = errors.New("proposal: only withdrawn proposals can be deleted")
)

const selectCols = `id, work_item_id, bidder_id, price_minor, currency, delivery_days, cover_note, status::text, created_at, updated_at`

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Create(ctx context.Context, params CreateParams) (Proposal, error) {
	if params.WorkItemID == "" || params.BidderID == "" {
		return Proposal{}, fmt.Errorf("proposal: work item and bidder ids required")
	}
	if params.PriceMinor <= 0 {
		return Proposal{}, fmt.Errorf("proposal: price must be positive")
	}
	if params.DeliveryDays <= 0 {
		return Proposal{}, fmt.Errorf("proposal: delivery days must be positive")
	}
	if params.Currency == "" {
		params.Currency = "USD"
	}

	var ownerID string
	var itemStatus string
	err := r.pool.QueryRow(ctx, `SELECT owner_id, status::text FROM work_items WHERE id = $1`, params.WorkItemID).
		Scan(&ownerID, &itemStatus)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Proposal{}, ErrNotFound
		}
		return Proposal{}, fmt.Errorf("proposal: load work item: %w", err)
	}
	if ownerID == params.BidderID {
		return Proposal{}, ErrSelfBid
	}
	if itemStatus != "open" {
		return Proposal{}, ErrNotPending
	}

	var p Proposal
	err = r.pool.QueryRow(ctx, `
		INSERT INTO proposals (work_item_id, bidder_id, price_minor, currency, delivery_days, cover_note)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+selectCols+`
	`, params.WorkItemID, params.BidderID, params.PriceMinor, params.Currency, params.DeliveryDays, params.CoverNote).
		Scan(&p.ID, &p.WorkItemID, &p.BidderID, &p.PriceMinor, &p.Currency, &p.DeliveryDays, &p.CoverNote, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Proposal{}, ErrDuplicate
		}
		return Proposal{}, fmt.Errorf("proposal: insert: %w", err)
	}
	return p, nil
}

func (r *Repository) GetByID(ctx context.Context, id string) (Proposal, error) {
	var p Proposal
	err := r.pool.QueryRow(ctx, `SELECT `+selectCols+` FROM proposals WHERE id = $1`, id).
		Scan(&p.ID, &p.WorkItemID, &p.BidderID, &p.PriceMinor, &p.Currency, &p.DeliveryDays, &p.CoverNote, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Proposal{}, ErrNotFound
		}
		return Proposal{}, fmt.Errorf("proposal: get: %w", err)
	}
	return p, nil
}

// ListForItem returns the proposals targeting a work item, newest first.
func (r *Repository) ListForItem(ctx context.Context, workItemID string) ([]Proposal, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+selectCols+`
		FROM proposals
		WHERE work_item_id = $1
		ORDER BY created_at DESC
	`, workItemID)
	if err != nil {
		return nil, fmt.Errorf("proposal: list: %w", err)
	}
	defer rows.Close()

	out := make([]Proposal, 0, 8)
	for rows.Next() {
		var p Proposal
		if err := rows.Scan(&p.ID, &p.WorkItemID, &p.BidderID, &p.PriceMinor, &p.Currency, &p.DeliveryDays, &p.CoverNote, &p.Status, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("proposal: scan: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("proposal: iterate: %w", err)
	}
	return out, nil
}

// Withdraw moves a pending proposal to withdrawn. Only the bidder may do it.
func (r *Repository) Withdraw(ctx context.Context, proposalID, bidderID string) (Proposal, error) {
	return r.transition(ctx, proposalID, bidderID, "bidder_id", StatusWithdrawn)
}

// Reject moves a pending proposal to rejected. Only the item owner may do it.
func (r *Repository) Reject(ctx context.Context, proposalID, ownerID string) (Proposal, error) {
	const query = `
		UPDATE proposals p
		SET status = 'rejected', updated_at = get_tx_timestamp()
		FROM work_items w
		WHERE p.id = $1
		  AND w.id = p.work_item_id
		  AND w.owner_id = $2
		  AND p.status = 'pending'
		RETURNING p.id, p.work_item_id, p.bidder_id, p.price_minor, p.currency, p.delivery_days, p.cover_note, p.status::text, p.created_at, p.updated_at
	`

	var p Proposal
	err := r.pool.QueryRow(ctx, query, proposalID, ownerID).
		Scan(&p.ID, &p.WorkItemID, &p.BidderID, &p.PriceMinor, &p.Currency, &p.DeliveryDays, &p.CoverNote, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Proposal{}, fmt.Errorf("proposal: reject: %w", err)
	}
	return Proposal{}, r.classifyMiss(ctx, proposalID)
}

// Delete removes a proposal the bidder already withdrew. Accepted and
// rejected proposals are immutable history and never deletable.
func (r *Repository) Delete(ctx context.Context, proposalID, bidderID string) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM proposals
		WHERE id = $1 AND bidder_id = $2 AND status = 'withdrawn'
	`, proposalID, bidderID)
	if err != nil {
		return fmt.Errorf("proposal: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var status string
		err := r.pool.QueryRow(ctx, `SELECT status::text FROM proposals WHERE id = $1 AND bidder_id = $2`, proposalID, bidderID).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("proposal: delete check: %w", err)
		}
		return ErrNotWithdrawn
	}
	return nil
}

func (r *Repository) transition(ctx context.Context, proposalID, actorID, actorCol string, next Status) (Proposal, error) {
	query := `
		UPDATE proposals
		SET status = $3::proposal_status, updated_at = get_tx_timestamp()
		WHERE id = $1 AND ` + actorCol + ` = $2 AND status = 'pending'
		RETURNING ` + selectCols

	var p Proposal
	err := r.pool.QueryRow(ctx, query, proposalID, actorID, next).
		Scan(&p.ID, &p.WorkItemID, &p.BidderID, &p.PriceMinor, &p.Currency, &p.DeliveryDays, &p.CoverNote, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Proposal{}, fmt.Errorf("proposal: transition to %s: %w", next, err)
	}
	return Proposal{}, r.classifyMiss(ctx, proposalID)
}

func (r *Repository) classifyMiss(ctx context.Context, proposalID string) error {
	var status string
	err := r.pool.QueryRow(ctx, `SELECT status::text FROM proposals WHERE id = $1`, proposalID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("proposal: inspect: %w", err)
	}
	if Status(status) != StatusPending {
		return ErrNotPending
	}
	return ErrForbidden
}
