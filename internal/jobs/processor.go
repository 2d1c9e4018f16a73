package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fableforge/fable/internal/assets"
	"github.com/fableforge/fable/internal/books"
	"github.com/fableforge/fable/internal/bridge"
	"github.com/fableforge/fable/internal/finalize"
	"github.com/fableforge/fable/internal/generations"
	"github.com/fableforge/fable/internal/providers"
)

// Fixed generation quality parameters. Every page uses the same
// inference settings so regenerations are comparable.
func generationInput() map[string]any {
	return map[string]any{
		"num_outputs":         4,
		"num_inference_steps": 28,
		"guidance_scale":      3.5,
		"output_format":       "png",
	}
}

// Finalizer is the asset finalization collaborator.
type Finalizer interface {
	Finalize(ctx context.Context, req finalize.Request) (*finalize.Result, error)
}

// CandidateRanker is the optional fallback ranker collaborator.
type CandidateRanker interface {
	Enabled() bool
	Rank(ctx context.Context, prompt string, candidates []assets.Descriptor) (*generations.Ranking, error)
}

// ProcessorDeps wires a page processor.
type ProcessorDeps struct {
	Jobs        *Manager
	Generations *generations.Manager
	Bridge      *bridge.Bridge
	Providers   *providers.Registry
	Finalizer   Finalizer
	Ranker      CandidateRanker // optional
	Books       books.Store
	WebhookURL  string
	Logger      *slog.Logger
}

// Processor drives one job page to a terminal state.
type Processor struct {
	jobs       *Manager
	gens       *generations.Manager
	bridge     *bridge.Bridge
	registry   *providers.Registry
	finalizer  Finalizer
	ranker     CandidateRanker
	books      books.Store
	webhookURL string
	logger     *slog.Logger
}

// NewProcessor creates a page processor.
func NewProcessor(deps ProcessorDeps) *Processor {
	return &Processor{
		jobs:       deps.Jobs,
		gens:       deps.Generations,
		bridge:     deps.Bridge,
		registry:   deps.Providers,
		finalizer:  deps.Finalizer,
		ranker:     deps.Ranker,
		books:      deps.Books,
		webhookURL: deps.WebhookURL,
		logger:     deps.Logger,
	}
}

// ProcessPage drives exactly one page to a terminal status. Returned
// errors are fatal to the job after the pool drains; page-local
// recoverable conditions (missing source asset, removal failure) are
// absorbed here and never bubble past this boundary.
func (p *Processor) ProcessPage(ctx context.Context, job *Job, page *Page) error {
	logger := p.logger.With("job_id", job.ID, "order", page.Order)

	// Front matter never generates; assembly renders it from the book's
	// own fields.
	if page.Kind != books.KindStory {
		return p.completeWithoutGeneration(ctx, job, page, "front matter ready")
	}

	prompt := page.Prompt
	if prompt == "" {
		prompt = page.Text
	}
	hasBackground := page.Background != nil && !page.Background.IsZero()

	if prompt == "" && !hasBackground {
		verr := &ValidationError{Order: page.Order, Reason: "no prompt, no text, and no background image"}
		p.failPage(ctx, job, page, verr)
		return verr
	}
	if prompt == "" {
		// Background-only pages are valid and need no generation.
		return p.completeWithoutGeneration(ctx, job, page, "background-only page")
	}

	resolved := books.ResolvePlaceholders(prompt, job.ReaderName, job.Pronouns)

	gen, err := p.gens.Create(ctx, &generations.Generation{
		JobID:        job.ID,
		PageID:       page.PageID,
		Prompt:       resolved,
		ModelVersion: job.TrainingID,
		Input:        generationInput(),
	})
	if err != nil {
		derr := &DispatchError{Order: page.Order, Err: err}
		p.failPage(ctx, job, page, derr)
		return derr
	}

	status := PageGenerating
	progress := 10
	ev := NewEvent("page-started")
	if err := p.jobs.PatchPage(ctx, job, page.Order, PagePatch{
		Status:       &status,
		Progress:     &progress,
		GenerationID: &gen.ID,
		AppendEvent:  &ev,
	}); err != nil {
		return err
	}

	// Register before dispatch: the completion event may arrive before
	// the dispatch call returns.
	waiter, err := p.bridge.Register(gen.ID)
	if err != nil {
		gerr := &GenerationError{Order: page.Order, Err: err}
		p.failPage(ctx, job, page, gerr)
		return gerr
	}

	if err := p.registry.Dispatcher().DispatchGeneration(ctx, gen, p.webhookURL); err != nil {
		p.bridge.Unregister(gen.ID)
		derr := &DispatchError{Order: page.Order, Err: err}
		p.failPage(ctx, job, page, derr)
		return derr
	}

	updatesDone := make(chan struct{})
	go func() {
		defer close(updatesDone)
		for u := range waiter.Updates() {
			p.applyProgress(ctx, job, page, u)
		}
	}()

	update, err := waiter.Wait(ctx)
	<-updatesDone
	if err != nil {
		var perr error
		switch {
		case errors.Is(err, bridge.ErrWaitTimeout):
			perr = &TimeoutError{Order: page.Order, GenerationID: gen.ID}
		default:
			perr = &GenerationError{Order: page.Order, Err: err}
		}
		p.failPage(ctx, job, page, perr)
		return perr
	}

	candidates := make([]assets.Descriptor, len(update.Images))
	for i, img := range update.Images {
		candidates[i] = img.Sanitize()
	}
	if len(candidates) == 0 {
		gerr := &GenerationError{Order: page.Order, Err: errors.New("generation returned no candidates")}
		p.failPage(ctx, job, page, gerr)
		return gerr
	}

	ranking := update.Ranking
	if ranking == nil && len(candidates) > 1 && p.ranker != nil && p.ranker.Enabled() {
		if rk, rErr := p.ranker.Rank(ctx, resolved, candidates); rErr != nil {
			logger.Warn("fallback ranking failed", "error", rErr)
		} else {
			ranking = rk
		}
	}
	winner := generations.PickWinner(len(candidates), ranking)

	rankingStatus := PageRanking
	rankingProgress := 85
	if err := p.jobs.PatchPage(ctx, job, page.Order, PagePatch{
		Status:            &rankingStatus,
		Progress:          &rankingProgress,
		Ranking:           ranking,
		Candidates:        candidates,
		SelectedCandidate: &winner,
	}); err != nil {
		return err
	}

	res, err := p.finalizer.Finalize(ctx, finalize.Request{
		Source:      candidates[winner],
		DestKey:     finalize.CharacterKey(job.BookID, page.Order),
		OriginalKey: finalize.OriginalKey(job.BookID, page.Order),
	})
	if err != nil {
		if errors.Is(err, assets.ErrNotFound) {
			// Missing upstream files must not abort the whole job.
			logger.Warn("winning asset missing from storage, skipping page", "error", err)
			p.skipPage(ctx, job, page, err)
			return nil
		}
		gerr := &GenerationError{Order: page.Order, Err: err}
		p.failPage(ctx, job, page, gerr)
		return gerr
	}

	// Write through to the live content page's durable character slot.
	if page.PageID != "" {
		if err := p.books.UpdatePage(ctx, page.PageID, books.PagePatch{
			Character:         &res.Character,
			CharacterOriginal: &res.Original,
		}); err != nil {
			logger.Warn("failed to update content page", "page_id", page.PageID, "error", err)
		}
	}

	completed := PageCompleted
	done := 100
	doneEv := NewEvent("page-completed")
	return p.jobs.PatchPage(ctx, job, page.Order, PagePatch{
		Status:            &completed,
		Progress:          &done,
		Character:         &res.Character,
		CharacterOriginal: &res.Original,
		AppendEvent:       &doneEv,
	})
}

// applyProgress maps a non-terminal generation update onto page
// progress. Provider progress occupies the 10-80 band; finalization
// owns the rest.
func (p *Processor) applyProgress(ctx context.Context, job *Job, page *Page, u *generations.Update) {
	progress := 10 + clampProgress(u.Progress)*70/100
	patch := PagePatch{Progress: &progress}
	if u.Status == generations.StatusRanking && page.Status == PageGenerating {
		s := PageRanking
		patch.Status = &s
	}
	if err := p.jobs.PatchPage(ctx, job, page.Order, patch); err != nil {
		p.logger.Warn("failed to apply progress update",
			"job_id", job.ID,
			"order", page.Order,
			"error", err)
	}
}

func (p *Processor) completeWithoutGeneration(ctx context.Context, job *Job, page *Page, reason string) error {
	status := PageCompleted
	progress := 100
	ev := NewEvent("page-completed: %s", reason)
	return p.jobs.PatchPage(ctx, job, page.Order, PagePatch{
		Status:      &status,
		Progress:    &progress,
		AppendEvent: &ev,
	})
}

// failPage records a terminal failure. A failed page contributes
// nothing to job progress, so whatever had accumulated is reset.
func (p *Processor) failPage(ctx context.Context, job *Job, page *Page, cause error) {
	status := PageFailed
	progress := 0
	msg := cause.Error()
	ev := NewEvent("page-failed: %s", msg)
	if err := p.jobs.PatchPage(ctx, job, page.Order, PagePatch{
		Status:      &status,
		Progress:    &progress,
		Error:       &msg,
		AppendEvent: &ev,
	}); err != nil {
		p.logger.Error("failed to persist page failure",
			"job_id", job.ID,
			"order", page.Order,
			"error", err)
	}
}

func (p *Processor) skipPage(ctx context.Context, job *Job, page *Page, cause error) {
	status := PageSkipped
	progress := 100
	msg := fmt.Sprintf("source asset missing: %v", cause)
	ev := NewEvent("page-skipped: %s", msg)
	if err := p.jobs.PatchPage(ctx, job, page.Order, PagePatch{
		Status:      &status,
		Progress:    &progress,
		Error:       &msg,
		AppendEvent: &ev,
	}); err != nil {
		p.logger.Error("failed to persist page skip",
			"job_id", job.ID,
			"order", page.Order,
			"error", err)
	}
}
