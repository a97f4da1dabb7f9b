// Package registration owns the patient visit queue: walk-in registration,
// the queue status state machine, and the merge that reconciles optimistic
// local transitions with periodically re-fetched server state.
package registration

// Status is the queue state of one registration. It is not a native column
// in the store; it lives in the ledger under QUEUE_STATUS_{registration id},
// and a missing ledger row means WAITING.
type Status string

const (
	StatusWaiting    Status = "WAITING"
	StatusCalling    Status = "CALLING"
	StatusConsulting Status = "CONSULTING"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
)

// Rank imposes the total order used by the merge: a refresh may never move a
// registration to a lower rank. COMPLETED and CANCELLED tie at the top; both
// are equally final.
func (s Status) Rank() int {
	switch s {
	case StatusCalling:
		return 1
	case StatusConsulting:
		return 2
	case StatusCompleted, StatusCancelled:
		return 3
	default:
		return 0
	}
}

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// ParseStatus maps a ledger value to a Status. Anything unrecognized,
// including the empty string of a missing row, is the initial state.
func ParseStatus(v string) Status {
	switch Status(v) {
	case StatusCalling, StatusConsulting, StatusCompleted, StatusCancelled:
		return Status(v)
	default:
		return StatusWaiting
	}
}
