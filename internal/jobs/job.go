// Package jobs is the orchestrator core: it owns the render job and
// job-page state machines, the page worker pool, per-page processing,
// progress aggregation, and the recovery sweep.
package jobs

import (
	"fmt"
	"time"
)

// Status is a render job's lifecycle state.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusGenerating Status = "generating"
	StatusAssembling Status = "assembling"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status ends the job's lifecycle.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// jobTransitions is the closed transition table. Anything absent is an
// illegal transition and rejected at the boundary.
var jobTransitions = map[Status][]Status{
	StatusQueued:     {StatusGenerating, StatusFailed},
	StatusGenerating: {StatusAssembling, StatusFailed},
	StatusAssembling: {StatusSucceeded, StatusFailed},
}

// CanTransitionTo reports whether moving to next is legal.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range jobTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Event is one timestamped lifecycle entry.
type Event struct {
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// NewEvent creates a timestamped event.
func NewEvent(format string, args ...any) Event {
	return Event{Message: fmt.Sprintf(format, args...), At: time.Now().UTC()}
}

// Job is one automation run turning a book into an illustrated
// artifact. Identity is immutable; status, pages, and events mutate
// until a terminal status is reached.
type Job struct {
	ID         string `json:"id"`
	BookID     string `json:"book_id"`
	TrainingID string `json:"training_id"`
	UserID     string `json:"user_id"`
	ReaderID   string `json:"reader_id,omitempty"`
	ReaderName string `json:"reader_name,omitempty"`
	Pronouns   string `json:"pronouns,omitempty"`
	Title      string `json:"title,omitempty"`

	Status        Status  `json:"status"`
	Progress      int     `json:"progress"`
	AssemblyBonus int     `json:"assembly_bonus,omitempty"`
	ETASeconds    *int    `json:"eta_seconds,omitempty"`
	Error         string  `json:"error,omitempty"`
	Events        []Event `json:"events,omitempty"`
	ArtifactID    string  `json:"artifact_id,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`

	Pages []*Page `json:"pages"`
}

// PageByOrder returns the job page with the given order, or nil.
func (j *Job) PageByOrder(order float64) *Page {
	for _, p := range j.Pages {
		if p.Order == order {
			return p
		}
	}
	return nil
}

// AllPagesTerminal reports whether every page reached a terminal
// status.
func (j *Job) AllPagesTerminal() bool {
	for _, p := range j.Pages {
		if !p.Status.Terminal() {
			return false
		}
	}
	return true
}

// Clone returns a deep copy safe to hand to subscribers.
func (j *Job) Clone() *Job {
	c := *j
	if j.ETASeconds != nil {
		v := *j.ETASeconds
		c.ETASeconds = &v
	}
	c.Events = append([]Event(nil), j.Events...)
	c.Pages = make([]*Page, len(j.Pages))
	for i, p := range j.Pages {
		c.Pages[i] = p.Clone()
	}
	return &c
}
