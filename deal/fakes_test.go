package deal

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"dealflow/wallet"
)

type fakePool struct {
	tx       *fakeTx
	beginErr error
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	if f.beginErr != nil {
		return nil, f.beginErr
	}
	f.tx = &fakeTx{}
	return f.tx, nil
}

type fakeTx struct {
	rolled    bool
	committed bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}

// fakeStore drives both the coordinator and the transition service.
type fakeStore struct {
	proposal    proposalRow
	proposalErr error

	item    workItemRow
	itemErr error

	existingDeal  Deal
	hasExisting   bool
	activeOnItem  bool
	insertErr     error
	inserted      *InsertParams
	acceptedMark  bool
	itemStatusSet string

	deal          Deal
	dealErr       error
	statusSet     Status
	statusSetErr  error
}

func (f *fakeStore) LockProposal(ctx context.Context, tx pgx.Tx, proposalID string) (proposalRow, error) {
	return f.proposal, f.proposalErr
}

func (f *fakeStore) LockWorkItem(ctx context.Context, tx pgx.Tx, workItemID string) (workItemRow, error) {
	return f.item, f.itemErr
}

func (f *fakeStore) FindByProposal(ctx context.Context, tx pgx.Tx, proposalID string) (Deal, bool, error) {
	return f.existingDeal, f.hasExisting, nil
}

func (f *fakeStore) ActiveDealExists(ctx context.Context, tx pgx.Tx, workItemID string) (bool, error) {
	return f.activeOnItem, nil
}

func (f *fakeStore) Insert(ctx context.Context, tx pgx.Tx, params InsertParams) (Deal, error) {
	if f.insertErr != nil {
		return Deal{}, f.insertErr
	}
	f.inserted = &params
	return Deal{
		ID:               "deal-1",
		ProposalID:       params.ProposalID,
		WorkItemID:       params.WorkItemID,
		ClientID:         params.ClientID,
		FreelancerID:     params.FreelancerID,
		PriceMinor:       params.PriceMinor,
		Currency:         params.Currency,
		DeliveryDays:     params.DeliveryDays,
		ChatID:           &params.ChatID,
		CommissionRateBP: params.CommissionRateBP,
		Status:           StatusInProgress,
	}, nil
}

func (f *fakeStore) MarkProposalAccepted(ctx context.Context, tx pgx.Tx, proposalID string) error {
	f.acceptedMark = true
	return nil
}

func (f *fakeStore) SetWorkItemStatus(ctx context.Context, tx pgx.Tx, workItemID, status string) error {
	f.itemStatusSet = status
	return nil
}

func (f *fakeStore) GetForUpdate(ctx context.Context, tx pgx.Tx, dealID string) (Deal, error) {
	return f.deal, f.dealErr
}

func (f *fakeStore) SetStatus(ctx context.Context, tx pgx.Tx, d *Deal, status Status) error {
	if f.statusSetErr != nil {
		return f.statusSetErr
	}
	f.statusSet = status
	d.Status = status
	d.UpdatedAt = time.Now()
	if Terminal(status) {
		now := d.UpdatedAt
		d.ResolvedAt = &now
	}
	return nil
}

type fakeChats struct {
	generalErr error
	dealErr    error
	postErr    error
	posted     []string
	dealChats  int
}

func (f *fakeChats) EnsureGeneralChannel(ctx context.Context, tx pgx.Tx, a, b string) (string, error) {
	if f.generalErr != nil {
		return "", f.generalErr
	}
	return "chat-general", nil
}

func (f *fakeChats) CreateDealChannel(ctx context.Context, tx pgx.Tx, a, b string) (string, error) {
	if f.dealErr != nil {
		return "", f.dealErr
	}
	f.dealChats++
	return "chat-deal", nil
}

func (f *fakeChats) PostSystemMessage(ctx context.Context, chatID, body string) error {
	if f.postErr != nil {
		return f.postErr
	}
	f.posted = append(f.posted, body)
	return nil
}

type fakeLedger struct {
	lockErr    error
	releaseErr error
	refundErr  error

	locked    bool
	lockDeal  string
	lockAmt   int64
	released  bool
	relWinner string
	relSide   wallet.Side
	relRateBP int32
	refunded  bool
}

func (f *fakeLedger) Lock(ctx context.Context, tx pgx.Tx, dealID, payerID string, amountMinor int64, currency string) error {
	if f.lockErr != nil {
		return f.lockErr
	}
	f.locked = true
	f.lockDeal = dealID
	f.lockAmt = amountMinor
	return nil
}

func (f *fakeLedger) Release(ctx context.Context, tx pgx.Tx, dealID, winnerID string, side wallet.Side, rateBP int32) error {
	if f.releaseErr != nil {
		return f.releaseErr
	}
	f.released = true
	f.relWinner = winnerID
	f.relSide = side
	f.relRateBP = rateBP
	return nil
}

func (f *fakeLedger) Refund(ctx context.Context, tx pgx.Tx, dealID string) error {
	if f.refundErr != nil {
		return f.refundErr
	}
	f.refunded = true
	return nil
}
