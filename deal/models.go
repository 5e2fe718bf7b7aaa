package deal

import "time"

// Deal mirrors the deals table. A deal owns its escrow conceptually: the
// commission rate is frozen here at creation time and payout never
// re-derives it from the work item.
type Deal struct {
	ID               string
	ProposalID       string
	WorkItemID       string
	ClientID         string
	FreelancerID     string
	PriceMinor       int64
	Currency         string
	DeliveryDays     int
	ChatID           *string
	CommissionRateBP int32
	Status           Status
	CreatedAt        time.Time
	UpdatedAt        time.Time
	ResolvedAt       *time.Time
}

// proposalRow is the proposal slice the coordinator locks during acceptance.
type proposalRow struct {
	ID           string
	WorkItemID   string
	BidderID     string
	PriceMinor   int64
	Currency     string
	DeliveryDays int
	Status       string
}

// workItemRow is the work item slice the coordinator locks during acceptance.
type workItemRow struct {
	ID      string
	OwnerID string
	Title   string
	Boosted bool
	Status  string
}

// InsertParams enumerates the columns written when the coordinator creates a deal.
type InsertParams struct {
	ProposalID       string
	WorkItemID       string
	ClientID         string
	FreelancerID     string
	PriceMinor       int64
	Currency         string
	DeliveryDays     int
	ChatID           string
	CommissionRateBP int32
}
