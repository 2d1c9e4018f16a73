package assemble

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/fableforge/fable/internal/assets"
	"github.com/fableforge/fable/internal/books"
	"github.com/fableforge/fable/internal/finalize"
	"github.com/fableforge/fable/internal/jobs"
)

// ServiceDeps wires an assembly service.
type ServiceDeps struct {
	Store     Store
	Books     books.Store
	Jobs      *jobs.Manager
	Assets    assets.Store
	Finalizer jobs.Finalizer
	Renderer  Renderer // nil means the default flat compositor
	Logger    *slog.Logger
}

// Service assembles artifacts and patches their snapshots.
type Service struct {
	store     Store
	books     books.Store
	jobs      *jobs.Manager
	assets    assets.Store
	finalizer jobs.Finalizer
	renderer  Renderer
	logger    *slog.Logger
}

// NewService creates an assembly service.
func NewService(deps ServiceDeps) *Service {
	renderer := deps.Renderer
	if renderer == nil {
		renderer = NewFlatRenderer()
	}
	return &Service{
		store:     deps.Store,
		books:     deps.Books,
		jobs:      deps.Jobs,
		assets:    deps.Assets,
		finalizer: deps.Finalizer,
		renderer:  renderer,
		logger:    deps.Logger,
	}
}

// Assemble renders every non-skipped page, composes the final PDF,
// uploads it, and persists the artifact with a frozen snapshot of each
// page. Returns the artifact id.
//
// Live content pages are re-fetched first so images finalized mid-run
// make it into the render, and the assembly bonus on job progress
// advances as rendering proceeds.
func (s *Service) Assemble(ctx context.Context, job *jobs.Job) (string, error) {
	contentPages, err := s.books.GetPages(ctx, job.BookID)
	if err != nil {
		return "", fmt.Errorf("fetch content pages: %w", err)
	}
	liveByOrder := make(map[float64]*books.ContentPage, len(contentPages))
	for _, cp := range contentPages {
		liveByOrder[cp.Order] = cp
	}

	renderable := make([]*jobs.Page, 0, len(job.Pages))
	for _, p := range job.Pages {
		if p.Status == jobs.PageSkipped {
			continue
		}
		renderable = append(renderable, p)
	}
	sort.Slice(renderable, func(i, j int) bool { return renderable[i].Order < renderable[j].Order })
	if len(renderable) == 0 {
		return "", &jobs.AssemblyError{Reason: "no renderable pages"}
	}

	artifactID := uuid.NewString()
	logger := s.logger.With("job_id", job.ID, "artifact_id", artifactID)

	now := time.Now().UTC()
	rendered := make([][]byte, 0, len(renderable))
	snapshots := make([]*ArtifactPage, 0, len(renderable))
	for i, page := range renderable {
		live := liveByOrder[page.Order]
		in := renderInputFor(page, live)

		in.Background = s.fetchLayer(ctx, logger, background(page, live))
		in.Character = s.fetchLayer(ctx, logger, character(page, live))

		img, err := s.renderer.RenderPage(ctx, in)
		if err != nil {
			return "", fmt.Errorf("render page %v: %w", page.Order, err)
		}
		rendered = append(rendered, img)
		snapshots = append(snapshots, snapshotPage(artifactID, page, live, now))

		// Rendering owns the first 8 points of the assembly bonus.
		s.setBonus(ctx, job, (i+1)*8/len(renderable))
	}

	pdf, err := composePDF(rendered)
	if err != nil {
		return "", fmt.Errorf("compose artifact: %w", err)
	}
	s.setBonus(ctx, job, 9)

	desc, err := s.assets.UploadBuffer(ctx, finalize.ArtifactKey(job.BookID, artifactID), pdf, "application/pdf")
	if err != nil {
		return "", fmt.Errorf("upload artifact: %w", err)
	}
	sanitized := desc.Sanitize()

	artifact := &Artifact{
		ID:        artifactID,
		BookID:    job.BookID,
		JobID:     job.ID,
		PDF:       &sanitized,
		PageCount: len(rendered),
		CreatedAt: now,
	}
	if err := s.store.CreateArtifact(ctx, artifact); err != nil {
		return "", fmt.Errorf("persist artifact: %w", err)
	}
	if err := s.store.CreateArtifactPages(ctx, snapshots); err != nil {
		return "", fmt.Errorf("persist artifact pages: %w", err)
	}
	s.setBonus(ctx, job, 10)

	logger.Info("artifact assembled", "pages", len(rendered), "bytes", len(pdf))
	return artifactID, nil
}

// renderInputFor prefers the re-fetched live page's text over the
// job-time copy.
func renderInputFor(page *jobs.Page, live *books.ContentPage) RenderInput {
	in := RenderInput{Order: page.Order, Kind: page.Kind, Text: page.Text}
	if live != nil && live.Text != "" {
		in.Text = live.Text
	}
	return in
}

func background(page *jobs.Page, live *books.ContentPage) *assets.Descriptor {
	if live != nil && live.Background != nil {
		return live.Background
	}
	return page.Background
}

func character(page *jobs.Page, live *books.ContentPage) *assets.Descriptor {
	if live != nil && live.Character != nil {
		return live.Character
	}
	return page.Character
}

// fetchLayer downloads a layer's bytes. A missing or unreadable layer
// renders as absence, not as a failed assembly.
func (s *Service) fetchLayer(ctx context.Context, logger *slog.Logger, d *assets.Descriptor) []byte {
	if d == nil || d.Key == "" {
		return nil
	}
	data, err := s.assets.DownloadByKey(ctx, d.Key)
	if err != nil {
		logger.Warn("layer download failed, rendering without it", "key", d.Key, "error", err)
		return nil
	}
	return data
}

// snapshotPage freezes one page's content into an artifact row. Deep
// copies throughout so later live-page mutation cannot reach into the
// snapshot.
func snapshotPage(artifactID string, page *jobs.Page, live *books.ContentPage, now time.Time) *ArtifactPage {
	frozen := page.Clone()
	snap := &ArtifactPage{
		ArtifactID:        artifactID,
		PageID:            frozen.PageID,
		Order:             frozen.Order,
		Kind:              frozen.Kind,
		Text:              frozen.Text,
		Prompt:            frozen.Prompt,
		Background:        frozen.Background,
		Character:         frozen.Character,
		CharacterOriginal: frozen.CharacterOriginal,
		Candidates:        frozen.Candidates,
		Ranking:           frozen.Ranking,
		SelectedCandidate: frozen.SelectedCandidate,
		CreatedAt:         now,
	}
	if live != nil {
		if live.Text != "" {
			snap.Text = live.Text
		}
		if live.Character != nil {
			d := *live.Character
			snap.Character = &d
		}
		if live.CharacterOriginal != nil {
			d := *live.CharacterOriginal
			snap.CharacterOriginal = &d
		}
	}
	return snap
}

// setBonus advances the assembly bonus on job progress. Failures here
// only cost progress fidelity, never the artifact.
func (s *Service) setBonus(ctx context.Context, job *jobs.Job, bonus int) {
	if err := s.jobs.PatchJob(ctx, job, jobs.JobPatch{AssemblyBonus: &bonus}); err != nil {
		s.logger.Warn("failed to advance assembly bonus", "job_id", job.ID, "error", err)
	}
}
