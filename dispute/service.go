package dispute

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"

	"dealflow/deal"
	"dealflow/wallet"
)

// RoleArbiter is the users.role value carrying the resolve capability.
const RoleArbiter = "arbiter"

type disputeStore interface {
	Insert(ctx context.Context, tx pgx.Tx, dealID, openerID, reason string, prior deal.Status) (Record, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, disputeID string) (Record, error)
	Close(ctx context.Context, tx pgx.Tx, disputeID string, status Status, resolvedBy, notes string) (Record, error)
	UserRole(ctx context.Context, tx pgx.Tx, userID string) (string, error)
}

type dealStore interface {
	GetForUpdate(ctx context.Context, tx pgx.Tx, dealID string) (deal.Deal, error)
	SetStatus(ctx context.Context, tx pgx.Tx, d *deal.Deal, status deal.Status) error
	SetWorkItemStatus(ctx context.Context, tx pgx.Tx, workItemID, status string) error
}

type messenger interface {
	PostSystemMessage(ctx context.Context, chatID, body string) error
}

// Arbiter opens and resolves disputes. Resolution moves the escrow to the
// winning side exactly once; the ledger's outcome guard backs the
// at-most-once rule against races the row locks miss.
type Arbiter struct {
	pool   deal.TxBeginner
	repo   disputeStore
	deals  dealStore
	ledger deal.EscrowLedger
	chats  messenger
}

func NewArbiter(pool deal.TxBeginner, ledger deal.EscrowLedger, chats messenger) *Arbiter {
	return &Arbiter{
		pool:   pool,
		repo:   NewRepository(),
		deals:  deal.NewRepository(),
		ledger: ledger,
		chats:  chats,
	}
}

// WithStores swaps the repositories, used by tests.
func (a *Arbiter) WithStores(repo disputeStore, deals dealStore) *Arbiter {
	a.repo = repo
	a.deals = deals
	return a
}

// Open moves an active deal to disputed and creates the dispute record. The
// opener must be one of the deal's two parties.
func (a *Arbiter) Open(ctx context.Context, dealID, openerID, reason string) (Record, error) {
	if dealID == "" || openerID == "" {
		return Record{}, fmt.Errorf("dispute: deal and opener ids required")
	}

	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("dispute: begin open tx: %w", err)
	}
	defer tx.Rollback(ctx)

	d, err := a.deals.GetForUpdate(ctx, tx, dealID)
	if err != nil {
		return Record{}, err
	}
	if d.ClientID != openerID && d.FreelancerID != openerID {
		return Record{}, ErrForbidden
	}
	if err := deal.ValidateTransition(d.Status, deal.StatusDisputed); err != nil {
		return Record{}, err
	}

	rec, err := a.repo.Insert(ctx, tx, d.ID, openerID, reason, d.Status)
	if err != nil {
		return Record{}, err
	}
	if err := a.deals.SetStatus(ctx, tx, &d, deal.StatusDisputed); err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("dispute: commit open: %w", err)
	}
	return rec, nil
}

// Resolve closes an open dispute in favor of winningSide: deal and dispute
// move to the matching resolved_* state and escrow is released to the winner
// at the deal's frozen commission rate. Re-resolving fails with
// ErrAlreadyResolved and changes nothing.
func (a *Arbiter) Resolve(ctx context.Context, disputeID, resolverID string, winningSide wallet.Side, notes string) (Record, error) {
	if disputeID == "" || resolverID == "" {
		return Record{}, fmt.Errorf("dispute: dispute and resolver ids required")
	}
	if winningSide != wallet.SideClient && winningSide != wallet.SideFreelancer {
		return Record{}, fmt.Errorf("dispute: invalid winning side %q", winningSide)
	}

	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("dispute: begin resolve tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := a.repo.GetForUpdate(ctx, tx, disputeID)
	if err != nil {
		return Record{}, err
	}
	if rec.Status != StatusOpen {
		return Record{}, ErrAlreadyResolved
	}

	role, err := a.repo.UserRole(ctx, tx, resolverID)
	if err != nil {
		return Record{}, err
	}
	if role != RoleArbiter {
		return Record{}, ErrNotArbiter
	}

	d, err := a.deals.GetForUpdate(ctx, tx, rec.DealID)
	if err != nil {
		return Record{}, err
	}

	target := deal.StatusResolvedFreelancer
	winnerID := d.FreelancerID
	winnerLabel := "freelancer"
	if winningSide == wallet.SideClient {
		target = deal.StatusResolvedClient
		winnerID = d.ClientID
		winnerLabel = "client"
	}
	if err := deal.ValidateTransition(d.Status, target); err != nil {
		return Record{}, err
	}

	if err := a.deals.SetStatus(ctx, tx, &d, target); err != nil {
		return Record{}, err
	}
	closed, err := a.repo.Close(ctx, tx, rec.ID, Status(target), resolverID, notes)
	if err != nil {
		return Record{}, err
	}
	if err := a.ledger.Release(ctx, tx, d.ID, winnerID, winningSide, d.CommissionRateBP); err != nil {
		return Record{}, err
	}
	if err := a.deals.SetWorkItemStatus(ctx, tx, d.WorkItemID, "closed"); err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("dispute: commit resolve: %w", err)
	}

	if d.ChatID != nil {
		msg := fmt.Sprintf("Dispute resolved in favor of the %s.", winnerLabel)
		if err := a.chats.PostSystemMessage(ctx, *d.ChatID, msg); err != nil {
			log.Printf("dispute: post resolution message: %v", err)
		}
	}
	return closed, nil
}

// Cancel lets the opener withdraw an open dispute; the deal returns to the
// state it held when the dispute opened.
func (a *Arbiter) Cancel(ctx context.Context, disputeID, actorID string) (Record, error) {
	if disputeID == "" || actorID == "" {
		return Record{}, fmt.Errorf("dispute: dispute and actor ids required")
	}

	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("dispute: begin cancel tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := a.repo.GetForUpdate(ctx, tx, disputeID)
	if err != nil {
		return Record{}, err
	}
	if rec.Status != StatusOpen {
		return Record{}, ErrAlreadyResolved
	}
	if rec.OpenedBy != actorID {
		return Record{}, ErrForbidden
	}

	d, err := a.deals.GetForUpdate(ctx, tx, rec.DealID)
	if err != nil {
		return Record{}, err
	}
	if d.Status != deal.StatusDisputed {
		return Record{}, &deal.StateConflictError{Current: d.Status, Requested: rec.PriorDealStatus}
	}

	closed, err := a.repo.Close(ctx, tx, rec.ID, StatusCancelled, "", "")
	if err != nil {
		return Record{}, err
	}
	if err := a.deals.SetStatus(ctx, tx, &d, rec.PriorDealStatus); err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("dispute: commit cancel: %w", err)
	}
	return closed, nil
}
