package dispute

import (
	"time"

	"dealflow/deal"
)

// Status represents the lifecycle of a dispute record.
type Status string

const (
	StatusOpen               Status = "open"
	StatusResolvedClient     Status = "resolved_client"
	StatusResolvedFreelancer Status = "resolved_freelancer"
	StatusCancelled          Status = "cancelled"
)

// Record mirrors the disputes table. PriorDealStatus remembers where the
// deal stood when the dispute opened so a cancelled dispute can put it back.
type Record struct {
	ID              string
	DealID          string
	OpenedBy        string
	Reason          string
	PriorDealStatus deal.Status
	Status          Status
	ResolutionNotes *string
	ResolvedBy      *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ResolvedAt      *time.Time
}
