// Package pipeline runs leads through scoring, filtering and drafting, and
// shapes the finished run for display.
package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shpitdev/lead-engagement-pipeline/internal/lead"
)

// ErrRunInProgress is returned when Execute is handed a run that is still executing.
var ErrRunInProgress = errors.New("pipeline run already in progress")

type State int

const (
	StateIdle State = iota
	StateFetchingLeads
	StateScoring
	StateFiltering
	StateDrafting
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetchingLeads:
		return "fetching-leads"
	case StateScoring:
		return "scoring"
	case StateFiltering:
		return "filtering"
	case StateDrafting:
		return "drafting"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText encodes s by name, so JSON reports carry "done" rather than 5.
func (s State) MarshalText() ([]byte, error) {
	if s < StateIdle || s > StateFailed {
		return nil, fmt.Errorf("invalid pipeline state %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for v := StateIdle; v <= StateFailed; v++ {
		if v.String() == string(b) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown pipeline state %q", b)
}

// Terminal reports whether s is Done or Failed.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Failure is a per-lead error recorded when failures are isolated.
type Failure struct {
	Stage State
	Index int
	Lead  lead.Lead
	// Attempts counts the calls spent on the lead, retries included.
	Attempts int
	Err      error
}

// Run carries the state of one pipeline execution. It is owned by the caller;
// Execute writes it while running and callers read it once Execute returns.
type Run struct {
	ID    string
	State State

	Leads    []lead.Lead
	Scored   []lead.ScoredLead
	Filtered []lead.ScoredLead
	Emails   []lead.EmailDraft
	Failures []Failure

	// Err is the error that moved the run to StateFailed.
	Err error

	StartedAt  time.Time
	FinishedAt time.Time
}

// NewRun returns an idle run.
func NewRun() *Run {
	return &Run{State: StateIdle}
}

func (r *Run) reset() {
	*r = Run{
		ID:    uuid.NewString(),
		State: StateIdle,
	}
}
