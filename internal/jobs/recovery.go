package jobs

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper reconciles pages orphaned by a process restart. A page still
// in generating past the wait timeout can no longer resolve: its waiter
// lives only in process memory. The sweep marks such pages failed with
// a stale-generation error and settles their jobs.
type Sweeper struct {
	store      Store
	manager    *Manager
	interval   time.Duration
	staleAfter time.Duration
	logger     *slog.Logger
}

// NewSweeper creates a recovery sweeper. staleAfter should match the
// generation wait timeout.
func NewSweeper(store Store, manager *Manager, interval, staleAfter time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 15 * time.Minute
	}
	return &Sweeper{
		store:      store,
		manager:    manager,
		interval:   interval,
		staleAfter: staleAfter,
		logger:     logger,
	}
}

// Run sweeps on the configured interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.Sweep(ctx); err != nil {
				s.logger.Error("recovery sweep failed", "error", err)
			} else if n > 0 {
				s.logger.Info("recovery sweep reconciled pages", "pages", n)
			}
		}
	}
}

// Sweep marks pages stuck in generating past the stale cutoff as
// failed and re-evaluates their jobs. Returns the number of pages
// reconciled.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.staleAfter)
	stuck, err := s.store.ListGeneratingPages(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if len(stuck) == 0 {
		return 0, nil
	}

	jobIDs := make(map[string]struct{})
	for _, page := range stuck {
		jobIDs[page.JobID] = struct{}{}
	}

	reconciled := 0
	for jobID := range jobIDs {
		job, err := s.manager.GetJob(ctx, jobID)
		if err != nil {
			s.logger.Error("recovery: failed to load job", "job_id", jobID, "error", err)
			continue
		}

		for _, page := range job.Pages {
			if page.Status != PageGenerating || page.UpdatedAt.After(cutoff) {
				continue
			}
			failed := PageFailed
			progress := 0
			msg := "generation went stale: no completion event within the wait window"
			ev := NewEvent("page-failed: %s", msg)
			if err := s.manager.PatchPage(ctx, job, page.Order, PagePatch{
				Status:      &failed,
				Progress:    &progress,
				Error:       &msg,
				AppendEvent: &ev,
			}); err != nil {
				s.logger.Error("recovery: failed to fail stale page",
					"job_id", jobID,
					"order", page.Order,
					"error", err)
				continue
			}
			reconciled++
		}

		s.settleJob(ctx, job)
	}

	return reconciled, nil
}

// settleJob moves a non-terminal job whose pages have all drained to
// failed. A job in this state was abandoned mid-run; nothing will
// assemble it.
func (s *Sweeper) settleJob(ctx context.Context, job *Job) {
	if job.Status.Terminal() || !job.AllPagesTerminal() {
		return
	}

	msg := firstPageError(job)
	if msg == "" {
		msg = "job abandoned before assembly"
	}

	failed := StatusFailed
	completedAt := time.Now().UTC()
	ev := NewEvent("job-failed: %s", msg)
	if err := s.manager.PatchJob(ctx, job, JobPatch{
		Status:      &failed,
		Error:       &msg,
		CompletedAt: &completedAt,
		AppendEvent: &ev,
	}); err != nil {
		s.logger.Error("recovery: failed to settle job", "job_id", job.ID, "error", err)
		return
	}
	s.logger.Warn("recovery: job settled as failed", "job_id", job.ID, "error", msg)
}

// firstPageError returns the first failed page's error by page order.
func firstPageError(job *Job) string {
	for _, page := range job.Pages {
		if page.Status == PageFailed && page.Error != "" {
			return page.Error
		}
	}
	return ""
}
