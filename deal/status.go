package deal

import "fmt"

// Status is the exhaustive deal state enum. Transitions not listed in the
// table below are rejected rather than applied.
type Status string

const (
	StatusInProgress         Status = "in_progress"
	StatusPendingReview      Status = "pending_review"
	StatusRevisionRequested  Status = "revision_requested"
	StatusCompleted          Status = "completed"
	StatusDisputed           Status = "disputed"
	StatusResolvedClient     Status = "resolved_client"
	StatusResolvedFreelancer Status = "resolved_freelancer"
	StatusCancelled          Status = "cancelled"
)

// StateConflictError names the current and requested state of a rejected
// transition.
type StateConflictError struct {
	Current   Status
	Requested Status
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("deal: illegal transition %s -> %s", e.Current, e.Requested)
}

var transitions = map[Status][]Status{
	StatusInProgress:        {StatusPendingReview, StatusDisputed, StatusCancelled},
	StatusPendingReview:     {StatusRevisionRequested, StatusCompleted, StatusDisputed, StatusCancelled},
	StatusRevisionRequested: {StatusPendingReview, StatusDisputed, StatusCancelled},
	StatusDisputed:          {StatusResolvedClient, StatusResolvedFreelancer},
	// completed, resolved_*, cancelled are terminal.
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns a StateConflictError for any undefined edge.
func ValidateTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return &StateConflictError{Current: from, Requested: to}
	}
	return nil
}

// Terminal reports whether a deal in this state can never move again.
func Terminal(s Status) bool {
	switch s {
	case StatusCompleted, StatusResolvedClient, StatusResolvedFreelancer, StatusCancelled:
		return true
	}
	return false
}
