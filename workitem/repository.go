package workitem

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals the requested work item does not exist.
	ErrNotFound = errors.New("workitem: not found")
	// ErrInvalidKind signals an unknown work item kind.
	ErrInvalidKind = errors.New("workitem: invalid kind")
)

// Repository provides access to work item rows.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Create(ctx context.Context, params CreateParams) (WorkItem, error) {
	if params.OwnerID == "" {
		return WorkItem{}, fmt.Errorf("workitem: owner id required")
	}
	if params.Title == "" {
		return WorkItem{}, fmt.Errorf("workitem: title required")
	}
	if params.PriceMinor <= 0 {
		return WorkItem{}, fmt.Errorf("workitem: price must be positive")
	}
	if params.Kind == "" {
		params.Kind = KindOrder
	}
	if params.Kind != KindOrder && params.Kind != KindTask {
		return WorkItem{}, ErrInvalidKind
	}
	if params.Currency == "" {
		params.Currency = "USD"
	}

	const query = `
		INSERT INTO work_items (owner_id, kind, title, price_minor, currency, boosted)
		VALUES ($1, $2::work_item_kind, $3, $4, $5, $6)
		RETURNING id, owner_id, kind::text, title, price_minor, currency, boosted, status::text, created_at, updated_at
	`

	var item WorkItem
	err := r.pool.QueryRow(ctx, query,
		params.OwnerID, params.Kind, params.Title, params.PriceMinor, params.Currency, params.Boosted,
	).Scan(&item.ID, &item.OwnerID, &item.Kind, &item.Title, &item.PriceMinor, &item.Currency, &item.Boosted, &item.Status, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return WorkItem{}, fmt.Errorf("workitem: insert: %w", err)
	}
	return item, nil
}

func (r *Repository) GetByID(ctx context.Context, id string) (WorkItem, error) {
	const query = `
		SELECT id, owner_id, kind::text, title, price_minor, currency, boosted, status::text, created_at, updated_at
		FROM work_items
		WHERE id = $1
	`

	var item WorkItem
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&item.ID, &item.OwnerID, &item.Kind, &item.Title, &item.PriceMinor,
		&item.Currency, &item.Boosted, &item.Status, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return WorkItem{}, ErrNotFound
		}
		return WorkItem{}, fmt.Errorf("workitem: get: %w", err)
	}
	return item, nil
}

// ListOpen returns up to limit open items, newest first.
func (r *Repository) ListOpen(ctx context.Context, limit int) ([]WorkItem, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	const query = `
		SELECT id, owner_id, kind::text, title, price_minor, currency, boosted, status::text, created_at, updated_at
		FROM work_items
		WHERE status = 'open'
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("workitem: list open: %w", err)
	}
	defer rows.Close()

	items := make([]WorkItem, 0, limit)
	for rows.Next() {
		var item WorkItem
		if err := rows.Scan(&item.ID, &item.OwnerID, &item.Kind, &item.Title, &item.PriceMinor,
			&item.Currency, &item.Boosted, &item.Status, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("workitem: scan item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("workitem: iterate items: %w", err)
	}
	return items, nil
}
