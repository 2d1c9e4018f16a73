package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fableforge/fable/internal/assets"
	"github.com/fableforge/fable/internal/books"
)

// snapshotBuffer bounds each subscriber's snapshot channel. Slow
// subscribers miss intermediate snapshots rather than blocking the
// orchestrator.
const snapshotBuffer = 16

// StartRequest carries the parameters of one automation run.
type StartRequest struct {
	BookID     string `json:"book_id"`
	TrainingID string `json:"training_id"`
	UserID     string `json:"user_id"`
	ReaderID   string `json:"reader_id,omitempty"`
	ReaderName string `json:"reader_name,omitempty"`
	Title      string `json:"title,omitempty"`
}

// Manager owns job records: creation, targeted patching, progress
// recomputation, and snapshot fan-out to subscribers.
type Manager struct {
	store  Store
	assets assets.Store
	logger *slog.Logger

	// jobMu serializes in-memory mutation of a job aggregate. Page
	// workers patch distinct pages, but recompute reads every page and
	// writes job-level fields, and publish clones the whole job.
	jobMu sync.Mutex

	mu      sync.Mutex
	subs    map[int]chan *Job
	nextSub int
}

// NewManager creates a job manager.
func NewManager(store Store, assetStore assets.Store, logger *slog.Logger) *Manager {
	return &Manager{
		store:  store,
		assets: assetStore,
		logger: logger,
		subs:   make(map[int]chan *Job),
	}
}

// Subscribe registers a snapshot observer. The returned cancel func
// must be called to release the subscription.
func (m *Manager) Subscribe() (<-chan *Job, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSub
	m.nextSub++
	ch := make(chan *Job, snapshotBuffer)
	m.subs[id] = ch

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

// publish fans the current snapshot out to all subscribers.
func (m *Manager) publish(job *Job) {
	snapshot := job.Clone()

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- snapshot:
		default:
		}
	}
}

// StartJob creates a queued job for a book: synthetic front-matter
// pages first (cover at order 0, dedication at 0.5), then one page per
// story content page in ascending order.
func (m *Manager) StartJob(ctx context.Context, book *books.Book, contentPages []*books.ContentPage, req StartRequest) (*Job, error) {
	if req.TrainingID == "" {
		return nil, fmt.Errorf("training id is required")
	}
	if len(contentPages) == 0 {
		return nil, fmt.Errorf("book %s has no pages", book.ID)
	}

	readerName := req.ReaderName
	if readerName == "" {
		readerName = book.ReaderName
	}
	title := req.Title
	if title == "" {
		title = book.Title
	}

	job := &Job{
		ID:         uuid.NewString(),
		BookID:     book.ID,
		TrainingID: req.TrainingID,
		UserID:     req.UserID,
		ReaderID:   req.ReaderID,
		ReaderName: readerName,
		Pronouns:   book.Pronouns,
		Title:      title,
		Status:     StatusQueued,
		Events:     []Event{NewEvent("job created for book %s", book.ID)},
		CreatedAt:  time.Now().UTC(),
	}

	job.Pages = append(job.Pages, &Page{
		JobID:      job.ID,
		Order:      books.CoverOrder,
		Kind:       books.KindCover,
		Text:       title,
		Status:     PageQueued,
		Background: book.Cover,
	})
	if book.Dedication != "" {
		job.Pages = append(job.Pages, &Page{
			JobID:  job.ID,
			Order:  books.DedicationOrder,
			Kind:   books.KindDedication,
			Text:   book.Dedication,
			Status: PageQueued,
		})
	}

	sorted := make([]*books.ContentPage, len(contentPages))
	copy(sorted, contentPages)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })
	for _, cp := range sorted {
		job.Pages = append(job.Pages, &Page{
			JobID:      job.ID,
			PageID:     cp.ID,
			Order:      cp.Order,
			Kind:       books.KindStory,
			Text:       cp.Text,
			Prompt:     cp.Prompt,
			Status:     PageQueued,
			Background: cp.Background,
		})
	}

	if err := m.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("persist job: %w", err)
	}

	m.logger.Info("job created",
		"job_id", job.ID,
		"book_id", book.ID,
		"pages", len(job.Pages))
	m.publish(job)
	return job, nil
}

// GetJob returns a job snapshot with every embedded asset descriptor
// re-signed. Stale signed URLs are never served.
func (m *Manager) GetJob(ctx context.Context, id string) (*Job, error) {
	job, err := m.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	m.refreshURLs(job)
	return job, nil
}

// ListJobsForBook returns recent jobs for a book with re-signed URLs.
func (m *Manager) ListJobsForBook(ctx context.Context, bookID string, limit int) ([]*Job, error) {
	list, err := m.store.ListJobsForBook(ctx, bookID, limit)
	if err != nil {
		return nil, err
	}
	for _, job := range list {
		m.refreshURLs(job)
	}
	return list, nil
}

// PatchJob validates the status transition, persists the patch, applies
// it to the in-memory job, recomputes progress/ETA, and republishes the
// snapshot.
func (m *Manager) PatchJob(ctx context.Context, job *Job, patch JobPatch) error {
	if patch.Status != nil && *patch.Status != job.Status {
		if !job.Status.CanTransitionTo(*patch.Status) {
			return fmt.Errorf("illegal job transition %s -> %s", job.Status, *patch.Status)
		}
	}
	if err := m.store.UpdateJob(ctx, job.ID, patch); err != nil {
		return fmt.Errorf("persist job patch: %w", err)
	}
	m.jobMu.Lock()
	defer m.jobMu.Unlock()
	applyJobPatch(job, patch)
	return m.recompute(ctx, job)
}

// PatchPage validates the page status transition, persists the patch
// for the single page addressed by order, applies it in memory, and
// recomputes job progress.
func (m *Manager) PatchPage(ctx context.Context, job *Job, order float64, patch PagePatch) error {
	page := job.PageByOrder(order)
	if page == nil {
		return fmt.Errorf("job %s has no page with order %v", job.ID, order)
	}
	if patch.Status != nil && *patch.Status != page.Status {
		if !page.Status.CanTransitionTo(*patch.Status) {
			return fmt.Errorf("illegal page transition %s -> %s", page.Status, *patch.Status)
		}
	}
	if err := m.store.UpdateJobPage(ctx, job.ID, order, patch); err != nil {
		return fmt.Errorf("persist page patch: %w", err)
	}
	m.jobMu.Lock()
	defer m.jobMu.Unlock()
	applyPagePatch(page, patch)
	return m.recompute(ctx, job)
}

// recompute refreshes progress/ETA after any progress-relevant
// mutation, persists the derived fields, and republishes the snapshot.
// Callers hold jobMu.
func (m *Manager) recompute(ctx context.Context, job *Job) error {
	progress := ComputeProgress(job)
	eta := ComputeETA(job, time.Now())

	patch := JobPatch{}
	changed := false
	if progress != job.Progress {
		patch.Progress = &progress
		changed = true
	}
	if !etaEqual(eta, job.ETASeconds) {
		if eta == nil {
			patch.ClearETA = true
		} else {
			patch.ETASeconds = eta
		}
		changed = true
	}

	if changed {
		if err := m.store.UpdateJob(ctx, job.ID, patch); err != nil {
			return fmt.Errorf("persist progress: %w", err)
		}
		job.Progress = progress
		job.ETASeconds = eta
	}

	m.publish(job)
	return nil
}

func (m *Manager) refreshURLs(job *Job) {
	for _, p := range job.Pages {
		refreshDescriptor(m.assets, p.Character)
		refreshDescriptor(m.assets, p.CharacterOriginal)
		refreshDescriptor(m.assets, p.Background)
		assets.RefreshList(m.assets, p.Candidates)
	}
}

func refreshDescriptor(store assets.Store, d *assets.Descriptor) {
	if d != nil {
		assets.Refresh(store, d)
	}
}

func etaEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// applyJobPatch mirrors a persisted patch onto the in-memory job.
func applyJobPatch(j *Job, patch JobPatch) {
	if patch.Status != nil {
		j.Status = *patch.Status
	}
	if patch.Progress != nil {
		j.Progress = *patch.Progress
	}
	if patch.AssemblyBonus != nil {
		j.AssemblyBonus = *patch.AssemblyBonus
	}
	if patch.ETASeconds != nil {
		j.ETASeconds = patch.ETASeconds
	}
	if patch.ClearETA {
		j.ETASeconds = nil
	}
	if patch.Error != nil {
		j.Error = *patch.Error
	}
	if patch.ArtifactID != nil {
		j.ArtifactID = *patch.ArtifactID
	}
	if patch.StartedAt != nil {
		j.StartedAt = *patch.StartedAt
	}
	if patch.CompletedAt != nil {
		j.CompletedAt = *patch.CompletedAt
	}
	if patch.AppendEvent != nil {
		j.Events = append(j.Events, *patch.AppendEvent)
	}
}

// applyPagePatch mirrors a persisted patch onto the in-memory page.
func applyPagePatch(p *Page, patch PagePatch) {
	if patch.Status != nil {
		p.Status = *patch.Status
	}
	if patch.Progress != nil {
		p.Progress = *patch.Progress
	}
	if patch.GenerationID != nil {
		p.GenerationID = *patch.GenerationID
	}
	if patch.Character != nil {
		p.Character = patch.Character
	}
	if patch.CharacterOriginal != nil {
		p.CharacterOriginal = patch.CharacterOriginal
	}
	if patch.Ranking != nil {
		p.Ranking = patch.Ranking
	}
	if patch.Candidates != nil {
		p.Candidates = patch.Candidates
	}
	if patch.SelectedCandidate != nil {
		p.SelectedCandidate = *patch.SelectedCandidate
	}
	if patch.Error != nil {
		p.Error = *patch.Error
	}
	if patch.AppendEvent != nil {
		p.Events = append(p.Events, *patch.AppendEvent)
	}
	p.UpdatedAt = time.Now().UTC()
}
