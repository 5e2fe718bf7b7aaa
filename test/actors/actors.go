package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dealflow/deal"
	"dealflow/dispute"
	"dealflow/payments"
	"dealflow/proposal"
	"dealflow/wallet"
)

// benign reports whether err is an expected domain rejection under
// contention rather than a harness failure.
func benign(err error) bool {
	var conflict *deal.StateConflictError
	var funds *wallet.InsufficientFundsError
	switch {
	case err == nil:
		return true
	case errors.As(err, &conflict), errors.As(err, &funds):
		return true
	case errors.Is(err, pgx.ErrNoRows):
		return true
	}
	for _, sentinel := range []error{
		deal.ErrActiveDealExists,
		deal.ErrProposalNotPending,
		deal.ErrProposalNotFound,
		deal.ErrForbidden,
		deal.ErrNotFound,
		proposal.ErrDuplicate,
		proposal.ErrNotPending,
		proposal.ErrSelfBid,
		dispute.ErrOpenExists,
		dispute.ErrAlreadyResolved,
		dispute.ErrForbidden,
		dispute.ErrNotFound,
		wallet.ErrAlreadyReleased,
		wallet.ErrNoLock,
		payments.ErrTransactionSettled,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

// Bidder keeps placing fresh proposals from a freelancer onto the seeded
// work items. Duplicate pending proposals are expected rejections.
func Bidder(ctx context.Context, proposals *proposal.Repository, freelancerID string, itemIDs []string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		itemID := itemIDs[rand.Intn(len(itemIDs))]
		_, err := proposals.Create(ctx, proposal.CreateParams{
			WorkItemID:   itemID,
			BidderID:     freelancerID,
			PriceMinor:   int64(1000 + rand.Intn(9000)),
			Currency:     "USD",
			DeliveryDays: 1 + rand.Intn(14),
		})
		if !benign(err) {
			return fmt.Errorf("bidder: %w", err)
		}
		time.Sleep(time.Duration(10+rand.Intn(20)) * time.Millisecond)
	}
}

// Acceptor races to accept pending proposals on the client's work items.
// At most one acceptance per item can win; the rest bounce off the active
// deal guard.
func Acceptor(ctx context.Context, pool *pgxpool.Pool, accepts *deal.Coordinator, clientID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		var proposalID string
		err := pool.QueryRow(ctx, `
			SELECT p.id FROM proposals p
			JOIN work_items w ON w.id = p.work_item_id
			WHERE p.status = 'pending' AND w.owner_id = $1
			ORDER BY random() LIMIT 1
		`, clientID).Scan(&proposalID)
		if err == nil {
			_, err = accepts.Accept(ctx, proposalID, clientID)
		}
		if !benign(err) {
			return fmt.Errorf("acceptor: %w", err)
		}
		time.Sleep(time.Duration(15+rand.Intn(30)) * time.Millisecond)
	}
}

// Driver walks active deals through review and settlement. Competing
// drivers on the same deal surface state conflicts, which is the point.
func Driver(ctx context.Context, pool *pgxpool.Pool, deals *deal.Service, clientID, freelancerID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		var dealID string
		var status string
		err := pool.QueryRow(ctx, `
			SELECT id, status::text FROM deals
			WHERE client_id = $1 AND freelancer_id = $2
			  AND status IN ('in_progress','pending_review','revision_requested')
			ORDER BY random() LIMIT 1
		`, clientID, freelancerID).Scan(&dealID, &status)
		if err == nil {
			switch status {
			case "in_progress", "revision_requested":
				if rand.Intn(10) == 0 {
					_, err = deals.Cancel(ctx, dealID, clientID)
				} else {
					_, err = deals.SubmitForReview(ctx, dealID, freelancerID)
				}
			case "pending_review":
				if rand.Intn(4) == 0 {
					_, err = deals.RequestRevision(ctx, dealID, clientID)
				} else {
					_, err = deals.Complete(ctx, dealID, clientID)
				}
			}
		}
		if !benign(err) {
			return fmt.Errorf("driver: %w", err)
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// Disputer opens disputes on active deals and lets the arbiter settle them,
// occasionally withdrawing instead.
func Disputer(ctx context.Context, pool *pgxpool.Pool, arb *dispute.Arbiter, clientID, freelancerID, arbiterID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		var err error
		if rand.Intn(3) == 0 {
			var dealID string
			err = pool.QueryRow(ctx, `
				SELECT id FROM deals
				WHERE client_id = $1 AND freelancer_id = $2
				  AND status IN ('in_progress','pending_review','revision_requested')
				ORDER BY random() LIMIT 1
			`, clientID, freelancerID).Scan(&dealID)
			if err == nil {
				opener := clientID
				if rand.Intn(2) == 0 {
					opener = freelancerID
				}
				_, err = arb.Open(ctx, dealID, opener, "stress dispute")
			}
		} else {
			var disputeID, openedBy string
			err = pool.QueryRow(ctx, `
				SELECT id, opened_by FROM disputes WHERE status = 'open'
				ORDER BY random() LIMIT 1
			`).Scan(&disputeID, &openedBy)
			if err == nil {
				switch rand.Intn(3) {
				case 0:
					_, err = arb.Cancel(ctx, disputeID, openedBy)
				case 1:
					_, err = arb.Resolve(ctx, disputeID, arbiterID, wallet.SideClient, "stress")
				default:
					_, err = arb.Resolve(ctx, disputeID, arbiterID, wallet.SideFreelancer, "stress")
				}
			}
		}
		if !benign(err) {
			return fmt.Errorf("disputer: %w", err)
		}
		time.Sleep(time.Duration(50+rand.Intn(100)) * time.Millisecond)
	}
}

// Crediter seeds pending checkout transactions and replays the processor
// webhook, duplicates included, to keep the client wallet funded.
func Crediter(ctx context.Context, pool *pgxpool.Pool, checkout *payments.Service, userID string, stop <-chan struct{}) error {
	for i := 0; ; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		ref := fmt.Sprintf("stress-%d-%d", i, rand.Int63())
		_, err := pool.Exec(ctx, `
			INSERT INTO transactions (user_id, amount_minor, currency, provider_ref)
			VALUES ($1, $2, 'USD', $3)
		`, userID, int64(10000+rand.Intn(90000)), ref)
		if err == nil {
			event := payments.CheckoutEvent{
				IdempotencyKey: "evt-" + ref,
				ProviderRef:    ref,
				Status:         payments.StatusCompleted,
			}
			err = checkout.HandleCheckoutWebhook(ctx, event)
			if err == nil && rand.Intn(3) == 0 {
				// replay must be a silent no-op
				err = checkout.HandleCheckoutWebhook(ctx, event)
			}
		}
		if !benign(err) {
			return fmt.Errorf("crediter: %w", err)
		}
		time.Sleep(time.Duration(80+rand.Intn(80)) * time.Millisecond)
	}
}
