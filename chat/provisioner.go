package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrChannelNotFound signals the requested channel does not exist.
var ErrChannelNotFound = errors.New("chat: channel not found")

// Provisioner creates the channels a deal needs. EnsureGeneralChannel runs
// inside the acceptance transaction so a provisioning failure rolls the deal
// back; system messages are posted post-commit and are best-effort.
type Provisioner struct {
	pool *pgxpool.Pool
}

func NewProvisioner(pool *pgxpool.Pool) *Provisioner {
	return &Provisioner{pool: pool}
}

// EnsureGeneralChannel finds or creates the single non-deal channel between
// two users. Racing creators are serialized by the unique pair index; the
// loser's insert is a conflict no-op rather than an error, so the surrounding
// transaction stays usable and the follow-up read returns the winner's row.
func (p *Provisioner) EnsureGeneralChannel(ctx context.Context, tx pgx.Tx, a, b string) (string, error) {
	const findSQL = `
		SELECT id FROM chats
		WHERE kind = 'general'
		  AND LEAST(a_user_id, b_user_id) = LEAST($1::uuid, $2::uuid)
		  AND GREATEST(a_user_id, b_user_id) = GREATEST($1::uuid, $2::uuid)
	`

	var id string
	err := tx.QueryRow(ctx, findSQL, a, b).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("chat: find general channel: %w", err)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO chats (kind, a_user_id, b_user_id)
		VALUES ('general', $1, $2)
		ON CONFLICT (LEAST(a_user_id, b_user_id), GREATEST(a_user_id, b_user_id))
		WHERE kind = 'general' DO NOTHING
		RETURNING id
	`, a, b).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("chat: create general channel: %w", err)
	}

	// The pair's channel committed between the find and the insert.
	if err := tx.QueryRow(ctx, findSQL, a, b).Scan(&id); err != nil {
		return "", fmt.Errorf("chat: reread general channel after conflict: %w", err)
	}
	return id, nil
}

// CreateDealChannel always creates a fresh channel; deal conversations are
// never shared across deals.
func (p *Provisioner) CreateDealChannel(ctx context.Context, tx pgx.Tx, a, b string) (string, error) {
	var id string
	err := tx.QueryRow(ctx, `
		INSERT INTO chats (kind, a_user_id, b_user_id)
		VALUES ('deal', $1, $2)
		RETURNING id
	`, a, b).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("chat: create deal channel: %w", err)
	}
	return id, nil
}

// PostSystemMessage appends a sender-less system message to a channel.
func (p *Provisioner) PostSystemMessage(ctx context.Context, chatID, body string) error {
	tag, err := p.pool.Exec(ctx, `
		INSERT INTO messages (chat_id, body, is_system)
		SELECT id, $2, true FROM chats WHERE id = $1
	`, chatID, body)
	if err != nil {
		return fmt.Errorf("chat: post system message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrChannelNotFound
	}
	return nil
}

// ListMessages returns a channel's messages, oldest first.
func (p *Provisioner) ListMessages(ctx context.Context, chatID string, limit int) ([]Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 200
	}

	rows, err := p.pool.Query(ctx, `
		SELECT id, chat_id, sender_id, body, is_system, created_at
		FROM messages
		WHERE chat_id = $1
		ORDER BY created_at ASC
		LIMIT $2
	`, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("chat: list messages: %w", err)
	}
	defer rows.Close()

	out := make([]Message, 0, limit)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Body, &m.IsSystem, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("chat: scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chat: iterate messages: %w", err)
	}
	return out, nil
}
