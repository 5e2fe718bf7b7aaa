package deal

import (
	"context"
	"errors"
	"testing"

	"dealflow/wallet"
)

func pendingAcceptFixture() *fakeStore {
	return &fakeStore{
		proposal: proposalRow{
			ID:           "prop-1",
			WorkItemID:   "item-1",
			BidderID:     "freelancer-1",
			PriceMinor:   65000,
			Currency:     "USD",
			DeliveryDays: 7,
			Status:       "pending",
		},
		item: workItemRow{
			ID:      "item-1",
			OwnerID: "client-1",
			Title:   "Landing page",
			Boosted: false,
			Status:  "open",
		},
	}
}

func TestAccept_Success(t *testing.T) {
	pool := &fakePool{}
	store := pendingAcceptFixture()
	chats := &fakeChats{}
	ledger := &fakeLedger{}
	coord := NewCoordinator(pool, chats, ledger).WithStore(store)

	d, err := coord.Accept(context.Background(), "prop-1", "client-1")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}

	if !pool.tx.committed {
		t.Error("expected commit")
	}
	if !ledger.locked || ledger.lockAmt != 65000 {
		t.Errorf("expected escrow lock of 65000, got locked=%v amt=%d", ledger.locked, ledger.lockAmt)
	}
	if !store.acceptedMark {
		t.Error("expected proposal marked accepted")
	}
	if store.itemStatusSet != "in_progress" {
		t.Errorf("expected work item in_progress, got %q", store.itemStatusSet)
	}
	if d.CommissionRateBP != wallet.DefaultCommissionBP {
		t.Errorf("expected default commission rate, got %d", d.CommissionRateBP)
	}
	if chats.dealChats != 1 {
		t.Errorf("expected one fresh deal channel, got %d", chats.dealChats)
	}
	if len(chats.posted) != 1 {
		t.Errorf("expected one system message, got %d", len(chats.posted))
	}
}

func TestAccept_BoostedRate(t *testing.T) {
	pool := &fakePool{}
	store := pendingAcceptFixture()
	store.item.Boosted = true
	coord := NewCoordinator(pool, &fakeChats{}, &fakeLedger{}).WithStore(store)

	d, err := coord.Accept(context.Background(), "prop-1", "client-1")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if d.CommissionRateBP != wallet.BoostedCommissionBP {
		t.Errorf("expected boosted commission rate frozen on deal, got %d", d.CommissionRateBP)
	}
}

func TestAccept_IdempotentRetry(t *testing.T) {
	pool := &fakePool{}
	store := pendingAcceptFixture()
	store.hasExisting = true
	store.existingDeal = Deal{ID: "deal-42", ClientID: "client-1", Status: StatusInProgress}
	ledger := &fakeLedger{}
	coord := NewCoordinator(pool, &fakeChats{}, ledger).WithStore(store)

	d, err := coord.Accept(context.Background(), "prop-1", "client-1")
	if err != nil {
		t.Fatalf("accept retry: %v", err)
	}
	if d.ID != "deal-42" {
		t.Errorf("expected existing deal back, got %q", d.ID)
	}
	if ledger.locked {
		t.Error("retry must not lock funds again")
	}
	if pool.tx.committed {
		t.Error("retry must not commit new writes")
	}
	if !pool.tx.rolled {
		t.Error("expected rollback of the read-only retry")
	}
}

func TestAccept_NotOwner(t *testing.T) {
	pool := &fakePool{}
	coord := NewCoordinator(pool, &fakeChats{}, &fakeLedger{}).WithStore(pendingAcceptFixture())

	_, err := coord.Accept(context.Background(), "prop-1", "someone-else")
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if pool.tx.committed {
		t.Error("no commit on permission failure")
	}
}

func TestAccept_ActiveDealConflict(t *testing.T) {
	pool := &fakePool{}
	store := pendingAcceptFixture()
	store.activeOnItem = true
	ledger := &fakeLedger{}
	coord := NewCoordinator(pool, &fakeChats{}, ledger).WithStore(store)

	_, err := coord.Accept(context.Background(), "prop-1", "client-1")
	if !errors.Is(err, ErrActiveDealExists) {
		t.Fatalf("expected ErrActiveDealExists, got %v", err)
	}
	if ledger.locked {
		t.Error("no lock entry on conflict")
	}
	if store.inserted != nil {
		t.Error("no deal insert on conflict")
	}
}

func TestAccept_ProposalNotPending(t *testing.T) {
	pool := &fakePool{}
	store := pendingAcceptFixture()
	store.proposal.Status = "rejected"
	coord := NewCoordinator(pool, &fakeChats{}, &fakeLedger{}).WithStore(store)

	_, err := coord.Accept(context.Background(), "prop-1", "client-1")
	if !errors.Is(err, ErrProposalNotPending) {
		t.Fatalf("expected ErrProposalNotPending, got %v", err)
	}
}

func TestAccept_InsufficientFundsRollsBack(t *testing.T) {
	pool := &fakePool{}
	store := pendingAcceptFixture()
	fundsErr := &wallet.InsufficientFundsError{Required: 50000, Available: 10000}
	ledger := &fakeLedger{lockErr: fundsErr}
	coord := NewCoordinator(pool, &fakeChats{}, ledger).WithStore(store)

	_, err := coord.Accept(context.Background(), "prop-1", "client-1")

	var insufficient *wallet.InsufficientFundsError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientFundsError, got %v", err)
	}
	if insufficient.Required != 50000 || insufficient.Available != 10000 {
		t.Errorf("shortfall fields = %d/%d", insufficient.Required, insufficient.Available)
	}
	if pool.tx.committed {
		t.Error("failed lock must not commit; the deal insert rolls back with it")
	}
	if !pool.tx.rolled {
		t.Error("expected rollback")
	}
	if store.acceptedMark {
		t.Error("proposal must stay pending when the lock fails")
	}
}

func TestAccept_ChannelFailureRollsBack(t *testing.T) {
	pool := &fakePool{}
	chats := &fakeChats{dealErr: errors.New("chat backend down")}
	ledger := &fakeLedger{}
	coord := NewCoordinator(pool, chats, ledger).WithStore(pendingAcceptFixture())

	_, err := coord.Accept(context.Background(), "prop-1", "client-1")
	if err == nil {
		t.Fatal("expected channel provisioning failure to surface")
	}
	if pool.tx.committed {
		t.Error("no commit on provisioning failure")
	}
	if ledger.locked {
		t.Error("no lock on provisioning failure")
	}
}

func TestAccept_SystemMessageFailureIsNonFatal(t *testing.T) {
	pool := &fakePool{}
	chats := &fakeChats{postErr: errors.New("socket layer down")}
	coord := NewCoordinator(pool, chats, &fakeLedger{}).WithStore(pendingAcceptFixture())

	d, err := coord.Accept(context.Background(), "prop-1", "client-1")
	if err != nil {
		t.Fatalf("post-commit message failure must not fail accept: %v", err)
	}
	if !pool.tx.committed {
		t.Error("expected commit despite message failure")
	}
	if d.ID == "" {
		t.Error("expected a deal back")
	}
}
