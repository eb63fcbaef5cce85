package pipeline

import (
	"time"

	"github.com/shpitdev/lead-engagement-pipeline/internal/lead"
)

type EventKind int

const (
	// EventState is emitted on every state transition.
	EventState EventKind = iota
	EventLeadScored
	EventEmailDrafted
	EventLeadFailed
)

func (k EventKind) String() string {
	switch k {
	case EventState:
		return "state"
	case EventLeadScored:
		return "lead-scored"
	case EventEmailDrafted:
		return "email-drafted"
	case EventLeadFailed:
		return "lead-failed"
	default:
		return "unknown"
	}
}

// Event reports pipeline progress. Per-lead events carry the lead's input
// index and the number of items in the current stage.
type Event struct {
	RunID string
	Kind  EventKind
	State State
	Time  time.Time

	Index int
	Total int
	Lead  lead.Lead
	Score int
	// Attempts is set on EventLeadFailed.
	Attempts int
	Err      error
}
