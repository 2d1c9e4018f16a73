// Package assemble composes a finished job's pages into one PDF
// artifact, persists a frozen per-page snapshot of everything that went
// into it, and supports point-fixes against a specific snapshot
// (regenerate one page, swap in an alternate candidate) without
// rebuilding the artifact's sibling pages.
package assemble

import (
	"context"
	"errors"
	"time"

	"github.com/fableforge/fable/internal/assets"
	"github.com/fableforge/fable/internal/generations"
)

// ErrArtifactNotFound is returned when an artifact lookup matches
// nothing.
var ErrArtifactNotFound = errors.New("artifact not found")

// ErrPageNotFound is returned when a page reference resolves to no
// snapshot row in the artifact.
var ErrPageNotFound = errors.New("artifact page not found")

// Artifact is one assembled document. Its page snapshots freeze content
// at assembly time; later content-page edits never leak into it except
// through an explicit per-page patch.
type Artifact struct {
	ID        string             `json:"id"`
	BookID    string             `json:"book_id"`
	JobID     string             `json:"job_id"`
	PDF       *assets.Descriptor `json:"pdf,omitempty"`
	PageCount int                `json:"page_count"`
	CreatedAt time.Time          `json:"created_at"`

	Pages []*ArtifactPage `json:"pages,omitempty"`
}

// ArtifactPage is the frozen record of one page's content and asset
// state at assembly time.
type ArtifactPage struct {
	ArtifactID string `json:"artifact_id"`

	// PageID references the live content page this row froze. Empty for
	// synthetic front-matter pages.
	PageID string  `json:"page_id,omitempty"`
	Order  float64 `json:"order"`
	Kind   string  `json:"kind"`
	Text       string  `json:"text,omitempty"`
	Prompt     string  `json:"prompt,omitempty"`

	Background        *assets.Descriptor   `json:"background,omitempty"`
	Character         *assets.Descriptor   `json:"character,omitempty"`
	CharacterOriginal *assets.Descriptor   `json:"character_original,omitempty"`
	Candidates        []assets.Descriptor  `json:"candidates,omitempty"`
	Ranking           *generations.Ranking `json:"ranking,omitempty"`
	SelectedCandidate int                  `json:"selected_candidate"`

	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// PageByOrder returns the snapshot row with the given order, or nil.
func (a *Artifact) PageByOrder(order float64) *ArtifactPage {
	for _, p := range a.Pages {
		if p.Order == order {
			return p
		}
	}
	return nil
}

// PagePatch is a targeted update for one snapshot row. Nil fields are
// left unchanged.
type PagePatch struct {
	Character         *assets.Descriptor
	CharacterOriginal *assets.Descriptor
	SelectedCandidate *int
}

// Store is the persistence contract for artifacts. UpdateArtifactPage
// addresses exactly one snapshot row by artifact id and order; sibling
// rows and other artifacts referencing the same order are never
// touched.
type Store interface {
	CreateArtifact(ctx context.Context, artifact *Artifact) error
	CreateArtifactPages(ctx context.Context, pages []*ArtifactPage) error
	GetArtifact(ctx context.Context, id string) (*Artifact, error)
	UpdateArtifactPage(ctx context.Context, artifactID string, order float64, patch PagePatch) error
}
