package deal

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"dealflow/wallet"
)

// transitionStore is the repository surface the transition service needs.
type transitionStore interface {
	GetForUpdate(ctx context.Context, tx pgx.Tx, dealID string) (Deal, error)
	SetStatus(ctx context.Context, tx pgx.Tx, d *Deal, status Status) error
	SetWorkItemStatus(ctx context.Context, tx pgx.Tx, workItemID, status string) error
}

// Service drives a deal through its work states. Each call is one
// transaction holding the deal row lock, so concurrent transitions serialize
// and the loser observes a StateConflictError.
type Service struct {
	pool   TxBeginner
	repo   transitionStore
	ledger EscrowLedger
}

func NewService(pool TxBeginner, ledger EscrowLedger) *Service {
	return &Service{
		pool:   pool,
		repo:   NewRepository(),
		ledger: ledger,
	}
}

// WithStore swaps the repository, used by tests.
func (s *Service) WithStore(store transitionStore) *Service {
	s.repo = store
	return s
}

// SubmitForReview moves in_progress or revision_requested work to
// pending_review. Only the freelancer may submit.
func (s *Service) SubmitForReview(ctx context.Context, dealID, actorID string) (Deal, error) {
	return s.transition(ctx, dealID, StatusPendingReview, func(d Deal) error {
		if d.FreelancerID != actorID {
			return ErrForbidden
		}
		return nil
	}, nil)
}

// RequestRevision sends reviewed work back to the freelancer. Only the
// client may request it.
func (s *Service) RequestRevision(ctx context.Context, dealID, actorID string) (Deal, error) {
	return s.transition(ctx, dealID, StatusRevisionRequested, func(d Deal) error {
		if d.ClientID != actorID {
			return ErrForbidden
		}
		return nil
	}, nil)
}

// Complete accepts delivered work: the deal terminates and escrow is
// released to the freelancer at the deal's frozen commission rate. The
// ledger's outcome guard makes a retried release fail closed.
func (s *Service) Complete(ctx context.Context, dealID, actorID string) (Deal, error) {
	return s.transition(ctx, dealID, StatusCompleted, func(d Deal) error {
		if d.ClientID != actorID {
			return ErrForbidden
		}
		return nil
	}, func(ctx context.Context, tx pgx.Tx, d Deal) error {
		if err := s.ledger.Release(ctx, tx, d.ID, d.FreelancerID, wallet.SideFreelancer, d.CommissionRateBP); err != nil {
			return err
		}
		return s.repo.SetWorkItemStatus(ctx, tx, d.WorkItemID, "closed")
	})
}

// Cancel terminates a pre-completion, non-disputed deal and refunds the full
// locked amount to the client. Either party may cancel.
func (s *Service) Cancel(ctx context.Context, dealID, actorID string) (Deal, error) {
	return s.transition(ctx, dealID, StatusCancelled, func(d Deal) error {
		if d.ClientID != actorID && d.FreelancerID != actorID {
			return ErrForbidden
		}
		return nil
	}, func(ctx context.Context, tx pgx.Tx, d Deal) error {
		if err := s.ledger.Refund(ctx, tx, d.ID); err != nil {
			return err
		}
		return s.repo.SetWorkItemStatus(ctx, tx, d.WorkItemID, "open")
	})
}

func (s *Service) transition(
	ctx context.Context,
	dealID string,
	to Status,
	gate func(Deal) error,
	settle func(context.Context, pgx.Tx, Deal) error,
) (Deal, error) {
	if dealID == "" {
		return Deal{}, fmt.Errorf("deal: missing deal id")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Deal{}, fmt.Errorf("deal: begin transition tx: %w", err)
	}
	defer tx.Rollback(ctx)

	d, err := s.repo.GetForUpdate(ctx, tx, dealID)
	if err != nil {
		return Deal{}, err
	}
	if err := gate(d); err != nil {
		return Deal{}, err
	}
	if err := ValidateTransition(d.Status, to); err != nil {
		return Deal{}, err
	}

	if err := s.repo.SetStatus(ctx, tx, &d, to); err != nil {
		return Deal{}, err
	}
	if settle != nil {
		if err := settle(ctx, tx, d); err != nil {
			return Deal{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Deal{}, fmt.Errorf("deal: commit transition: %w", err)
	}
	return d, nil
}
