package jobs

import (
	"context"
	"log/slog"
	"time"
)

// Assembler composes the final artifact once every page drains.
type Assembler interface {
	// Assemble builds and persists the artifact for a finished job and
	// returns its id.
	Assemble(ctx context.Context, job *Job) (string, error)
}

// Runner drives one job end to end: queued through generation,
// assembly, and a terminal status.
type Runner struct {
	manager     *Manager
	processor   *Processor
	assembler   Assembler
	concurrency int
	logger      *slog.Logger
}

// NewRunner creates a job runner.
func NewRunner(manager *Manager, processor *Processor, assembler Assembler, concurrency int, logger *slog.Logger) *Runner {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Runner{
		manager:     manager,
		processor:   processor,
		assembler:   assembler,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Run executes the whole job. Errors are terminal and already recorded
// on the job; the return value is for the caller's logging only.
func (r *Runner) Run(ctx context.Context, job *Job) error {
	logger := r.logger.With("job_id", job.ID)

	generating := StatusGenerating
	now := time.Now().UTC()
	ev := NewEvent("generation started with concurrency %d", r.concurrency)
	if err := r.manager.PatchJob(ctx, job, JobPatch{
		Status:      &generating,
		StartedAt:   &now,
		AppendEvent: &ev,
	}); err != nil {
		return r.fail(ctx, job, err)
	}

	if err := RunPages(ctx, job, r.concurrency, r.processor.ProcessPage); err != nil {
		return r.fail(ctx, job, err)
	}

	assembling := StatusAssembling
	assemblingEv := NewEvent("all pages drained, assembling artifact")
	if err := r.manager.PatchJob(ctx, job, JobPatch{
		Status:      &assembling,
		AppendEvent: &assemblingEv,
	}); err != nil {
		return r.fail(ctx, job, err)
	}

	artifactID, err := r.assembler.Assemble(ctx, job)
	if err != nil {
		return r.fail(ctx, job, err)
	}

	succeeded := StatusSucceeded
	completedAt := time.Now().UTC()
	doneEv := NewEvent("artifact %s assembled", artifactID)
	if err := r.manager.PatchJob(ctx, job, JobPatch{
		Status:      &succeeded,
		ArtifactID:  &artifactID,
		CompletedAt: &completedAt,
		AppendEvent: &doneEv,
	}); err != nil {
		return r.fail(ctx, job, err)
	}

	logger.Info("job succeeded", "artifact_id", artifactID, "pages", len(job.Pages))
	return nil
}

// fail marks the job failed with the first recorded error. Progress
// freezes at whatever had accumulated.
func (r *Runner) fail(ctx context.Context, job *Job, cause error) error {
	failed := StatusFailed
	msg := cause.Error()
	completedAt := time.Now().UTC()
	ev := NewEvent("job-failed: %s", msg)
	if err := r.manager.PatchJob(ctx, job, JobPatch{
		Status:      &failed,
		Error:       &msg,
		CompletedAt: &completedAt,
		AppendEvent: &ev,
	}); err != nil {
		r.logger.Error("failed to persist job failure", "job_id", job.ID, "error", err)
	}
	r.logger.Warn("job failed", "job_id", job.ID, "error", msg)
	return cause
}
