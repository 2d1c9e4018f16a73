package jobs

import (
	"time"

	"github.com/fableforge/fable/internal/assets"
	"github.com/fableforge/fable/internal/generations"
)

// PageStatus is one job page's lifecycle state.
type PageStatus string

const (
	PageQueued     PageStatus = "queued"
	PageGenerating PageStatus = "generating"
	PageRanking    PageStatus = "ranking"
	PageCompleted  PageStatus = "completed"
	PageFailed     PageStatus = "failed"
	PageSkipped    PageStatus = "skipped"
)

// Terminal reports whether the status ends the page's lifecycle.
func (s PageStatus) Terminal() bool {
	return s == PageCompleted || s == PageFailed || s == PageSkipped
}

// pageTransitions is the closed transition table for page statuses.
var pageTransitions = map[PageStatus][]PageStatus{
	PageQueued:     {PageGenerating, PageCompleted, PageFailed, PageSkipped},
	PageGenerating: {PageRanking, PageCompleted, PageFailed, PageSkipped},
	PageRanking:    {PageCompleted, PageFailed, PageSkipped},
}

// CanTransitionTo reports whether moving to next is legal.
func (s PageStatus) CanTransitionTo(next PageStatus) bool {
	for _, allowed := range pageTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Page is one page's generation lifecycle within a job. Mutated only
// via targeted patches addressed by job id and order, never by
// rewriting the job's whole page list.
type Page struct {
	JobID string `json:"job_id"`

	// PageID references the owning content page. Empty for synthetic
	// front-matter pages.
	PageID string  `json:"page_id,omitempty"`
	Order  float64 `json:"order"`
	Kind   string  `json:"kind"`
	Text   string  `json:"text,omitempty"`
	Prompt string  `json:"prompt,omitempty"`

	Status       PageStatus `json:"status"`
	Progress     int        `json:"progress"`
	GenerationID string     `json:"generation_id,omitempty"`

	Character         *assets.Descriptor   `json:"character,omitempty"`
	CharacterOriginal *assets.Descriptor   `json:"character_original,omitempty"`
	Background        *assets.Descriptor   `json:"background,omitempty"`
	Ranking           *generations.Ranking `json:"ranking,omitempty"`
	Candidates        []assets.Descriptor  `json:"candidates,omitempty"`
	SelectedCandidate int                  `json:"selected_candidate"`

	Events    []Event   `json:"events,omitempty"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Clone returns a deep copy of the page.
func (p *Page) Clone() *Page {
	c := *p
	c.Events = append([]Event(nil), p.Events...)
	c.Candidates = append([]assets.Descriptor(nil), p.Candidates...)
	if p.Character != nil {
		d := *p.Character
		c.Character = &d
	}
	if p.CharacterOriginal != nil {
		d := *p.CharacterOriginal
		c.CharacterOriginal = &d
	}
	if p.Background != nil {
		d := *p.Background
		c.Background = &d
	}
	if p.Ranking != nil {
		r := *p.Ranking
		r.Winners = append([]int(nil), p.Ranking.Winners...)
		r.Ranked = append([]generations.RankedCandidate(nil), p.Ranking.Ranked...)
		c.Ranking = &r
	}
	return &c
}
