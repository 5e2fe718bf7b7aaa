package deal

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"

	"dealflow/wallet"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// acceptanceStore is the repository surface the coordinator needs.
type acceptanceStore interface {
	LockProposal(ctx context.Context, tx pgx.Tx, proposalID string) (proposalRow, error)
	LockWorkItem(ctx context.Context, tx pgx.Tx, workItemID string) (workItemRow, error)
	FindByProposal(ctx context.Context, tx pgx.Tx, proposalID string) (Deal, bool, error)
	ActiveDealExists(ctx context.Context, tx pgx.Tx, workItemID string) (bool, error)
	Insert(ctx context.Context, tx pgx.Tx, params InsertParams) (Deal, error)
	MarkProposalAccepted(ctx context.Context, tx pgx.Tx, proposalID string) error
	SetWorkItemStatus(ctx context.Context, tx pgx.Tx, workItemID, status string) error
}

// ChannelProvisioner is the chat collaborator consumed during acceptance.
type ChannelProvisioner interface {
	EnsureGeneralChannel(ctx context.Context, tx pgx.Tx, a, b string) (string, error)
	CreateDealChannel(ctx context.Context, tx pgx.Tx, a, b string) (string, error)
	PostSystemMessage(ctx context.Context, chatID, body string) error
}

// EscrowLedger is the wallet collaborator moving funds for a deal.
type EscrowLedger interface {
	Lock(ctx context.Context, tx pgx.Tx, dealID, payerID string, amountMinor int64, currency string) error
	Release(ctx context.Context, tx pgx.Tx, dealID, winnerID string, side wallet.Side, rateBP int32) error
	Refund(ctx context.Context, tx pgx.Tx, dealID string) error
}

// Coordinator turns an accepted proposal into a deal with locked escrow.
type Coordinator struct {
	pool   TxBeginner
	repo   acceptanceStore
	chats  ChannelProvisioner
	ledger EscrowLedger
}

func NewCoordinator(pool TxBeginner, chats ChannelProvisioner, ledger EscrowLedger) *Coordinator {
	return &Coordinator{
		pool:   pool,
		repo:   NewRepository(),
		chats:  chats,
		ledger: ledger,
	}
}

// WithStore swaps the repository, used by tests.
func (c *Coordinator) WithStore(store acceptanceStore) *Coordinator {
	c.repo = store
	return c
}

// Accept validates the pending proposal, provisions chat channels, creates
// the deal, and locks the client's funds, all in one transaction. Retries of
// the same accept return the existing deal. A failed escrow lock rolls the
// whole unit back, so no deal ever persists without its lock entry.
func (c *Coordinator) Accept(ctx context.Context, proposalID, actingUserID string) (Deal, error) {
	if proposalID == "" {
		return Deal{}, fmt.Errorf("deal: missing proposal id")
	}
	if actingUserID == "" {
		return Deal{}, fmt.Errorf("deal: missing acting user id")
	}

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return Deal{}, fmt.Errorf("deal: begin accept tx: %w", err)
	}
	defer tx.Rollback(ctx)

	prop, err := c.repo.LockProposal(ctx, tx, proposalID)
	if err != nil {
		return Deal{}, err
	}

	// Idempotency: a retry of an accept that already committed finds its
	// deal here and returns it without touching anything.
	if existing, found, err := c.repo.FindByProposal(ctx, tx, proposalID); err != nil {
		return Deal{}, err
	} else if found {
		if existing.ClientID != actingUserID {
			return Deal{}, ErrForbidden
		}
		return existing, nil
	}

	if prop.Status != "pending" {
		return Deal{}, ErrProposalNotPending
	}

	item, err := c.repo.LockWorkItem(ctx, tx, prop.WorkItemID)
	if err != nil {
		return Deal{}, err
	}
	if item.OwnerID != actingUserID {
		return Deal{}, ErrForbidden
	}

	if exists, err := c.repo.ActiveDealExists(ctx, tx, item.ID); err != nil {
		return Deal{}, err
	} else if exists {
		return Deal{}, ErrActiveDealExists
	}

	if _, err := c.chats.EnsureGeneralChannel(ctx, tx, actingUserID, prop.BidderID); err != nil {
		return Deal{}, fmt.Errorf("deal: ensure general channel: %w", err)
	}
	dealChatID, err := c.chats.CreateDealChannel(ctx, tx, actingUserID, prop.BidderID)
	if err != nil {
		return Deal{}, fmt.Errorf("deal: create deal channel: %w", err)
	}

	created, err := c.repo.Insert(ctx, tx, InsertParams{
		ProposalID:       prop.ID,
		WorkItemID:       item.ID,
		ClientID:         actingUserID,
		FreelancerID:     prop.BidderID,
		PriceMinor:       prop.PriceMinor,
		Currency:         prop.Currency,
		DeliveryDays:     prop.DeliveryDays,
		ChatID:           dealChatID,
		CommissionRateBP: wallet.CommissionRateBP(item.Boosted),
	})
	if err != nil {
		return Deal{}, err
	}

	if err := c.ledger.Lock(ctx, tx, created.ID, actingUserID, prop.PriceMinor, prop.Currency); err != nil {
		return Deal{}, err
	}

	if err := c.repo.MarkProposalAccepted(ctx, tx, prop.ID); err != nil {
		return Deal{}, err
	}
	if err := c.repo.SetWorkItemStatus(ctx, tx, item.ID, "in_progress"); err != nil {
		return Deal{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Deal{}, fmt.Errorf("deal: commit accept: %w", err)
	}

	// The money movement is committed; chat bookkeeping is best-effort.
	summary := fmt.Sprintf("Deal started for %q: %d %s, %d day delivery.",
		item.Title, created.PriceMinor, created.Currency, created.DeliveryDays)
	if err := c.chats.PostSystemMessage(ctx, dealChatID, summary); err != nil {
		log.Printf("deal: post acceptance message: %v", err)
	}

	return created, nil
}
