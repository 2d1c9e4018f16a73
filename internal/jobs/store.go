package jobs

import (
	"context"
	"time"

	"github.com/fableforge/fable/internal/assets"
	"github.com/fableforge/fable/internal/generations"
)

// JobPatch is a targeted field update for one job record. Nil fields
// are left unchanged.
type JobPatch struct {
	Status        *Status
	Progress      *int
	AssemblyBonus *int
	ETASeconds    *int
	ClearETA      bool
	Error         *string
	ArtifactID    *string
	StartedAt     *time.Time
	CompletedAt   *time.Time
	AppendEvent   *Event
}

// PagePatch is a targeted field update for one job page, addressed by
// job id and page order. Concurrent workers each patch their own page;
// the store must never rewrite the whole page list.
type PagePatch struct {
	Status            *PageStatus
	Progress          *int
	GenerationID      *string
	Character         *assets.Descriptor
	CharacterOriginal *assets.Descriptor
	Ranking           *generations.Ranking
	Candidates        []assets.Descriptor
	SelectedCandidate *int
	Error             *string
	AppendEvent       *Event
}

// Store is the persistence contract for jobs and their pages.
type Store interface {
	// CreateJob persists a job and its pages in one logical write.
	CreateJob(ctx context.Context, job *Job) error

	// GetJob returns a job with its pages ordered ascending, or
	// ErrJobNotFound.
	GetJob(ctx context.Context, id string) (*Job, error)

	// ListJobsForBook returns jobs for a book, newest first.
	ListJobsForBook(ctx context.Context, bookID string, limit int) ([]*Job, error)

	// UpdateJob applies a targeted patch to one job record.
	UpdateJob(ctx context.Context, id string, patch JobPatch) error

	// UpdateJobPage applies a targeted patch to the single page
	// addressed by job id and order.
	UpdateJobPage(ctx context.Context, jobID string, order float64, patch PagePatch) error

	// ListGeneratingPages returns pages still in generating whose last
	// update is older than the cutoff. Used by the recovery sweep.
	ListGeneratingPages(ctx context.Context, updatedBefore time.Time) ([]*Page, error)
}
