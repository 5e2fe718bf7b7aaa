package deal

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals the requested deal does not exist.
	ErrNotFound = errors.New("deal: not found")
	// ErrProposalNotFound signals the proposal targeted by Accept does not exist.
	ErrProposalNotFound = errors.New("deal: proposal not found")
	// ErrForbidden signals a role or ownership mismatch.
	ErrForbidden = errors.New("deal: forbidden")
	// ErrActiveDealExists signals the work item already carries a non-terminal deal.
	ErrActiveDealExists = errors.New("deal: work item already has an active deal")
	// ErrProposalNotPending signals Accept against a proposal that already left pending.
	ErrProposalNotPending = errors.New("deal: proposal is not pending")
)

const dealCols = `id, proposal_id, work_item_id, client_id, freelancer_id, price_minor, currency,
	delivery_days, chat_id, commission_rate_bp, status::text, created_at, updated_at, resolved_at`

// Repository holds the SQL for deal rows. Every method runs inside the
// caller's transaction so the surrounding locks govern visibility.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

func scanDeal(row pgx.Row) (Deal, error) {
	var d Deal
	err := row.Scan(&d.ID, &d.ProposalID, &d.WorkItemID, &d.ClientID, &d.FreelancerID,
		&d.PriceMinor, &d.Currency, &d.DeliveryDays, &d.ChatID, &d.CommissionRateBP,
		&d.Status, &d.CreatedAt, &d.UpdatedAt, &d.ResolvedAt)
	return d, err
}

func (r *Repository) LockProposal(ctx context.Context, tx pgx.Tx, proposalID string) (proposalRow, error) {
	var p proposalRow
	err := tx.QueryRow(ctx, `
		SELECT id, work_item_id, bidder_id, price_minor, currency, delivery_days, status::text
		FROM proposals
		WHERE id = $1
		FOR UPDATE
	`, proposalID).Scan(&p.ID, &p.WorkItemID, &p.BidderID, &p.PriceMinor, &p.Currency, &p.DeliveryDays, &p.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return proposalRow{}, ErrProposalNotFound
		}
		return proposalRow{}, fmt.Errorf("deal: lock proposal: %w", err)
	}
	return p, nil
}

func (r *Repository) LockWorkItem(ctx context.Context, tx pgx.Tx, workItemID string) (workItemRow, error) {
	var w workItemRow
	err := tx.QueryRow(ctx, `
		SELECT id, owner_id, title, boosted, status::text
		FROM work_items
		WHERE id = $1
		FOR UPDATE
	`, workItemID).Scan(&w.ID, &w.OwnerID, &w.Title, &w.Boosted, &w.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return workItemRow{}, fmt.Errorf("deal: work item missing: %w", ErrNotFound)
		}
		return workItemRow{}, fmt.Errorf("deal: lock work item: %w", err)
	}
	return w, nil
}

// FindByProposal returns the deal created for a proposal, if any. Accept uses
// it to make retries idempotent.
func (r *Repository) FindByProposal(ctx context.Context, tx pgx.Tx, proposalID string) (Deal, bool, error) {
	d, err := scanDeal(tx.QueryRow(ctx, `SELECT `+dealCols+` FROM deals WHERE proposal_id = $1`, proposalID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Deal{}, false, nil
		}
		return Deal{}, false, fmt.Errorf("deal: find by proposal: %w", err)
	}
	return d, true, nil
}

// ActiveDealExists reports whether the work item carries a non-terminal deal.
func (r *Repository) ActiveDealExists(ctx context.Context, tx pgx.Tx, workItemID string) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM deals
			WHERE work_item_id = $1
			  AND status IN ('in_progress','pending_review','revision_requested','disputed')
		)
	`, workItemID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("deal: check active deal: %w", err)
	}
	return exists, nil
}

func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, params InsertParams) (Deal, error) {
	d, err := scanDeal(tx.QueryRow(ctx, `
		INSERT INTO deals (proposal_id, work_item_id, client_id, freelancer_id,
			price_minor, currency, delivery_days, chat_id, commission_rate_bp, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'in_progress')
		RETURNING `+dealCols+`
	`, params.ProposalID, params.WorkItemID, params.ClientID, params.FreelancerID,
		params.PriceMinor, params.Currency, params.DeliveryDays, params.ChatID, params.CommissionRateBP))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// Lost the race on the active-deal-per-item partial index.
			return Deal{}, ErrActiveDealExists
		}
		return Deal{}, fmt.Errorf("deal: insert: %w", err)
	}
	return d, nil
}

func (r *Repository) MarkProposalAccepted(ctx context.Context, tx pgx.Tx, proposalID string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE proposals
		SET status = 'accepted', updated_at = get_tx_timestamp()
		WHERE id = $1 AND status = 'pending'
	`, proposalID)
	if err != nil {
		return fmt.Errorf("deal: mark proposal accepted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProposalNotPending
	}
	return nil
}

func (r *Repository) SetWorkItemStatus(ctx context.Context, tx pgx.Tx, workItemID, status string) error {
	if _, err := tx.Exec(ctx, `
		UPDATE work_items
		SET status = $2::work_item_status, updated_at = get_tx_timestamp()
		WHERE id = $1
	`, workItemID, status); err != nil {
		return fmt.Errorf("deal: set work item status: %w", err)
	}
	return nil
}

// GetForUpdate locks and returns a deal row.
func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, dealID string) (Deal, error) {
	d, err := scanDeal(tx.QueryRow(ctx, `SELECT `+dealCols+` FROM deals WHERE id = $1 FOR UPDATE`, dealID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Deal{}, ErrNotFound
		}
		return Deal{}, fmt.Errorf("deal: lock deal: %w", err)
	}
	return d, nil
}

// SetStatus applies an already-validated transition. Terminal states also
// stamp resolved_at; the stamped fields are written back into d so callers
// return the row as committed.
func (r *Repository) SetStatus(ctx context.Context, tx pgx.Tx, d *Deal, status Status) error {
	var resolvedClause string
	if Terminal(status) {
		resolvedClause = `, resolved_at = get_tx_timestamp()`
	}
	err := tx.QueryRow(ctx, `
		UPDATE deals
		SET status = $2::deal_status, updated_at = get_tx_timestamp()`+resolvedClause+`
		WHERE id = $1
		RETURNING updated_at, resolved_at
	`, d.ID, status).Scan(&d.UpdatedAt, &d.ResolvedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("deal: set status: %w", err)
	}
	d.Status = status
	return nil
}

// GetByID reads a deal outside any transaction.
func (r *Repository) GetByID(ctx context.Context, pool *pgxpool.Pool, dealID string) (Deal, error) {
	d, err := scanDeal(pool.QueryRow(ctx, `SELECT `+dealCols+` FROM deals WHERE id = $1`, dealID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Deal{}, ErrNotFound
		}
		return Deal{}, fmt.Errorf("deal: get: %w", err)
	}
	return d, nil
}

// ListForUser returns the deals where the user is either party, newest first.
func (r *Repository) ListForUser(ctx context.Context, pool *pgxpool.Pool, userID string, limit int) ([]Deal, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	rows, err := pool.Query(ctx, `
		SELECT `+dealCols+`
		FROM deals
		WHERE client_id = $1 OR freelancer_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("deal: list: %w", err)
	}
	defer rows.Close()

	out := make([]Deal, 0, limit)
	for rows.Next() {
		var d Deal
		if err := rows.Scan(&d.ID, &d.ProposalID, &d.WorkItemID, &d.ClientID, &d.FreelancerID,
			&d.PriceMinor, &d.Currency, &d.DeliveryDays, &d.ChatID, &d.CommissionRateBP,
			&d.Status, &d.CreatedAt, &d.UpdatedAt, &d.ResolvedAt); err != nil {
			return nil, fmt.Errorf("deal: scan: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("deal: iterate: %w", err)
	}
	return out, nil
}
