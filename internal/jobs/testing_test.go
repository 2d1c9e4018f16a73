package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fableforge/fable/internal/assets"
	"github.com/fableforge/fable/internal/books"
	"github.com/fableforge/fable/internal/finalize"
	"github.com/fableforge/fable/internal/generations"
)

// memStore is an in-memory jobs.Store.
type memStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

func newMemStore() *memStore {
	return &memStore{jobs: make(map[string]*Job)}
}

func (s *memStore) CreateJob(ctx context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *memStore) GetJob(ctx context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	c := job.Clone()
	sort.Slice(c.Pages, func(i, j int) bool { return c.Pages[i].Order < c.Pages[j].Order })
	return c, nil
}

func (s *memStore) ListJobsForBook(ctx context.Context, bookID string, limit int) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Job
	for _, job := range s.jobs {
		if job.BookID == bookID {
			out = append(out, job.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) UpdateJob(ctx context.Context, id string, patch JobPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	applyJobPatch(job, patch)
	return nil
}

func (s *memStore) UpdateJobPage(ctx context.Context, jobID string, order float64, patch PagePatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	page := job.PageByOrder(order)
	if page == nil {
		return fmt.Errorf("page %v not found in job %s", order, jobID)
	}
	applyPagePatch(page, patch)
	return nil
}

func (s *memStore) ListGeneratingPages(ctx context.Context, updatedBefore time.Time) ([]*Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Page
	for _, job := range s.jobs {
		for _, page := range job.Pages {
			if page.Status == PageGenerating && page.UpdatedAt.Before(updatedBefore) {
				out = append(out, page.Clone())
			}
		}
	}
	return out, nil
}

// backdatePage rewrites a stored page's update time for sweep tests.
func (s *memStore) backdatePage(jobID string, order float64, to time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[jobID]; ok {
		if page := job.PageByOrder(order); page != nil {
			page.UpdatedAt = to
		}
	}
}

// fakeAssets is an in-memory assets.Store that marks re-signed URLs.
type fakeAssets struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeAssets() *fakeAssets {
	return &fakeAssets{objects: make(map[string][]byte)}
}

func (s *fakeAssets) UploadBuffer(ctx context.Context, key string, data []byte, contentType string) (assets.Descriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return assets.Descriptor{
		Key:         key,
		URL:         "http://assets/" + key,
		SignedURL:   "http://assets/" + key + "?sig=upload",
		Size:        int64(len(data)),
		ContentType: contentType,
		UploadedAt:  time.Now().UTC(),
	}, nil
}

func (s *fakeAssets) DownloadByKey(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", assets.ErrNotFound, key)
	}
	return data, nil
}

func (s *fakeAssets) SignedURL(key string, ttl time.Duration) (string, error) {
	return "http://assets/" + key + "?sig=fresh", nil
}

// fakeGenStore is an in-memory generations.Store.
type fakeGenStore struct {
	mu   sync.Mutex
	gens map[string]*generations.Generation
}

func newFakeGenStore() *fakeGenStore {
	return &fakeGenStore{gens: make(map[string]*generations.Generation)}
}

func (s *fakeGenStore) CreateGeneration(ctx context.Context, gen *generations.Generation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *gen
	s.gens[gen.ID] = &c
	return nil
}

func (s *fakeGenStore) GetGeneration(ctx context.Context, id string) (*generations.Generation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	gen, ok := s.gens[id]
	if !ok {
		return nil, fmt.Errorf("generation not found: %s", id)
	}
	c := *gen
	return &c, nil
}

func (s *fakeGenStore) UpdateGeneration(ctx context.Context, id string, patch generations.Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	gen, ok := s.gens[id]
	if !ok {
		return fmt.Errorf("generation not found: %s", id)
	}
	if patch.Status != nil {
		gen.Status = *patch.Status
	}
	if patch.Images != nil {
		gen.Images = patch.Images
	}
	if patch.Ranking != nil {
		gen.Ranking = patch.Ranking
	}
	if patch.Error != nil {
		gen.Error = *patch.Error
	}
	if patch.CompletedAt != nil {
		gen.CompletedAt = *patch.CompletedAt
	}
	return nil
}

// fakeBooks is an in-memory books.Store recording page patches.
type fakeBooks struct {
	mu      sync.Mutex
	books   map[string]*books.Book
	pages   map[string]*books.ContentPage
	patched map[string]int
}

func newFakeBooks() *fakeBooks {
	return &fakeBooks{
		books:   make(map[string]*books.Book),
		pages:   make(map[string]*books.ContentPage),
		patched: make(map[string]int),
	}
}

func (s *fakeBooks) CreateBook(ctx context.Context, book *books.Book) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.books[book.ID] = book
	return book.ID, nil
}

func (s *fakeBooks) GetBook(ctx context.Context, id string) (*books.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	book, ok := s.books[id]
	if !ok {
		return nil, fmt.Errorf("book not found: %s", id)
	}
	return book, nil
}

func (s *fakeBooks) ListBooks(ctx context.Context, limit int) ([]*books.Book, error) {
	return nil, nil
}

func (s *fakeBooks) CreatePages(ctx context.Context, pages []*books.ContentPage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range pages {
		s.pages[p.ID] = p
	}
	return nil
}

func (s *fakeBooks) GetPages(ctx context.Context, bookID string) ([]*books.ContentPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*books.ContentPage
	for _, p := range s.pages {
		if p.BookID == bookID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

func (s *fakeBooks) UpdatePage(ctx context.Context, pageID string, patch books.PagePatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	page, ok := s.pages[pageID]
	if !ok {
		return fmt.Errorf("page not found: %s", pageID)
	}
	if patch.Character != nil {
		page.Character = patch.Character
	}
	if patch.CharacterOriginal != nil {
		page.CharacterOriginal = patch.CharacterOriginal
	}
	s.patched[pageID]++
	return nil
}

// fakeFinalizer returns canned descriptors.
type fakeFinalizer struct {
	mu    sync.Mutex
	err   error
	calls []finalize.Request
}

func (f *fakeFinalizer) Finalize(ctx context.Context, req finalize.Request) (*finalize.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &finalize.Result{
		Character: assets.Descriptor{Key: req.DestKey, URL: "http://assets/" + req.DestKey, BackgroundRemoved: true},
		Original:  assets.Descriptor{Key: req.OriginalKey, URL: "http://assets/" + req.OriginalKey},
	}, nil
}

// fakeAssembler returns a fixed artifact id.
type fakeAssembler struct {
	err error
}

func (a *fakeAssembler) Assemble(ctx context.Context, job *Job) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	return "artifact-1", nil
}
