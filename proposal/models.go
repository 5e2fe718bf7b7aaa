package proposal

import "time"

type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusWithdrawn Status = "withdrawn"
)

// Proposal is a bid against exactly one work item. Once accepted or rejected
// it is immutable; deletion is only reachable through withdraw.
type Proposal struct {
	ID           string
	WorkItemID   string
	BidderID     string
	PriceMinor   int64
	Currency     string
	DeliveryDays int
	CoverNote    string
	Status       Status
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type CreateParams struct {
	WorkItemID   string
	BidderID     string
	PriceMinor   int64
	Currency     string
	DeliveryDays int
	CoverNote    string
}
