package workitem

import "time"

// Kind distinguishes client-posted orders from freelancer-posted tasks.
type Kind string

const (
	KindOrder Kind = "order"
	KindTask  Kind = "task"
)

type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusClosed     Status = "closed"
	StatusCancelled  Status = "cancelled"
)

// WorkItem is an order or task that proposals target. The boosted flag
// decides the commission rate frozen onto a deal at acceptance.
type WorkItem struct {
	ID         string
	OwnerID    string
	Kind       Kind
	Title      string
	PriceMinor int64
	Currency   string
	Boosted    bool
	Status     Status
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CreateParams enumerates the fields required to post a new work item.
type CreateParams struct {
	OwnerID    string
	Kind       Kind
	Title      string
	PriceMinor int64
	Currency   string
	Boosted    bool
}
