package jobs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/fableforge/fable/internal/assets"
	"github.com/fableforge/fable/internal/books"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testBook() *books.Book {
	return &books.Book{
		ID:         "book-1",
		Title:      "The Great Adventure",
		ReaderName: "Maya",
		Pronouns:   "she/her",
		Dedication: "For Maya, who loves dragons",
		Cover:      &assets.Descriptor{Key: "books/book-1/cover.png", URL: "http://assets/cover.png"},
	}
}

func testContentPages() []*books.ContentPage {
	return []*books.ContentPage{
		{ID: "cp-3", BookID: "book-1", Order: 3, Kind: books.KindStory, Text: "The end.", Prompt: "a sunset"},
		{ID: "cp-1", BookID: "book-1", Order: 1, Kind: books.KindStory, Text: "Once upon a time.", Prompt: "{{name}} in a forest"},
		{ID: "cp-2", BookID: "book-1", Order: 2, Kind: books.KindStory, Text: "A dragon appeared."},
	}
}

func TestStartJobBuildsPages(t *testing.T) {
	store := newMemStore()
	m := NewManager(store, newFakeAssets(), discardLogger())

	job, err := m.StartJob(context.Background(), testBook(), testContentPages(), StartRequest{
		BookID:     "book-1",
		TrainingID: "train-1",
		UserID:     "user-1",
	})
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}

	if job.Status != StatusQueued {
		t.Errorf("status = %s, want queued", job.Status)
	}
	if job.Pronouns != "she/her" {
		t.Errorf("pronouns = %q, want she/her", job.Pronouns)
	}

	wantOrders := []float64{0, 0.5, 1, 2, 3}
	if len(job.Pages) != len(wantOrders) {
		t.Fatalf("pages = %d, want %d", len(job.Pages), len(wantOrders))
	}
	for i, want := range wantOrders {
		if job.Pages[i].Order != want {
			t.Errorf("page[%d].Order = %v, want %v", i, job.Pages[i].Order, want)
		}
	}

	cover := job.Pages[0]
	if cover.Kind != books.KindCover || cover.Text != "The Great Adventure" {
		t.Errorf("cover page = kind %q text %q", cover.Kind, cover.Text)
	}
	if cover.Background == nil || cover.Background.Key != "books/book-1/cover.png" {
		t.Error("cover page missing book cover background")
	}

	dedication := job.Pages[1]
	if dedication.Kind != books.KindDedication || dedication.Text != "For Maya, who loves dragons" {
		t.Errorf("dedication page = kind %q text %q", dedication.Kind, dedication.Text)
	}

	if job.Pages[2].PageID != "cp-1" || job.Pages[4].PageID != "cp-3" {
		t.Errorf("story pages out of order: %q, %q", job.Pages[2].PageID, job.Pages[4].PageID)
	}

	stored, err := store.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("job not persisted: %v", err)
	}
	if len(stored.Pages) != len(wantOrders) {
		t.Errorf("persisted pages = %d, want %d", len(stored.Pages), len(wantOrders))
	}
}

func TestStartJobSkipsDedicationWhenAbsent(t *testing.T) {
	m := NewManager(newMemStore(), newFakeAssets(), discardLogger())
	book := testBook()
	book.Dedication = ""

	job, err := m.StartJob(context.Background(), book, testContentPages(), StartRequest{TrainingID: "train-1"})
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	for _, p := range job.Pages {
		if p.Kind == books.KindDedication {
			t.Error("dedication page created for a book without a dedication")
		}
	}
	if len(job.Pages) != 4 {
		t.Errorf("pages = %d, want 4", len(job.Pages))
	}
}

func TestStartJobValidation(t *testing.T) {
	m := NewManager(newMemStore(), newFakeAssets(), discardLogger())

	t.Run("requires training id", func(t *testing.T) {
		_, err := m.StartJob(context.Background(), testBook(), testContentPages(), StartRequest{})
		if err == nil {
			t.Fatal("expected error without training id")
		}
	})

	t.Run("requires pages", func(t *testing.T) {
		_, err := m.StartJob(context.Background(), testBook(), nil, StartRequest{TrainingID: "train-1"})
		if err == nil {
			t.Fatal("expected error without content pages")
		}
	})
}

func TestPatchPageRejectsIllegalTransition(t *testing.T) {
	m := NewManager(newMemStore(), newFakeAssets(), discardLogger())
	job, err := m.StartJob(context.Background(), testBook(), testContentPages(), StartRequest{TrainingID: "train-1"})
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}

	completed := PageCompleted
	if err := m.PatchPage(context.Background(), job, 1, PagePatch{Status: &completed}); err != nil {
		t.Fatalf("queued -> completed should be legal: %v", err)
	}

	generating := PageGenerating
	if err := m.PatchPage(context.Background(), job, 1, PagePatch{Status: &generating}); err == nil {
		t.Fatal("completed -> generating should be rejected")
	}
}

func TestPatchJobRejectsIllegalTransition(t *testing.T) {
	m := NewManager(newMemStore(), newFakeAssets(), discardLogger())
	job, err := m.StartJob(context.Background(), testBook(), testContentPages(), StartRequest{TrainingID: "train-1"})
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}

	succeeded := StatusSucceeded
	if err := m.PatchJob(context.Background(), job, JobPatch{Status: &succeeded}); err == nil {
		t.Fatal("queued -> succeeded should be rejected")
	}
}

func TestPatchPageRecomputesJobProgress(t *testing.T) {
	store := newMemStore()
	m := NewManager(store, newFakeAssets(), discardLogger())
	book := testBook()
	book.Dedication = ""

	// One cover plus one story page.
	job, err := m.StartJob(context.Background(), book, testContentPages()[:1], StartRequest{TrainingID: "train-1"})
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}

	completed := PageCompleted
	full := 100
	for _, order := range []float64{0, 3} {
		if err := m.PatchPage(context.Background(), job, order, PagePatch{Status: &completed, Progress: &full}); err != nil {
			t.Fatalf("PatchPage(%v): %v", order, err)
		}
	}
	if job.Progress != 90 {
		t.Errorf("progress after all pages = %d, want 90", job.Progress)
	}

	bonus := 10
	if err := m.PatchJob(context.Background(), job, JobPatch{AssemblyBonus: &bonus}); err != nil {
		t.Fatalf("PatchJob: %v", err)
	}
	if job.Progress != 100 {
		t.Errorf("progress with assembly bonus = %d, want 100", job.Progress)
	}

	stored, err := store.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if stored.Progress != 100 {
		t.Errorf("persisted progress = %d, want 100", stored.Progress)
	}
}

// Page workers patch distinct pages of one job in parallel, and every
// patch recomputes job progress over all pages while subscribers clone
// snapshots. The manager must serialize the aggregate so concurrent
// patching stays consistent (and clean under the race detector).
func TestPatchPageConcurrentWorkers(t *testing.T) {
	m := NewManager(newMemStore(), newFakeAssets(), discardLogger())
	book := testBook()
	book.Dedication = ""

	var pages []*books.ContentPage
	for i := 1; i <= 8; i++ {
		pages = append(pages, &books.ContentPage{
			ID:     fmt.Sprintf("cp-%d", i),
			BookID: book.ID,
			Order:  float64(i),
			Kind:   books.KindStory,
			Prompt: fmt.Sprintf("scene %d", i),
		})
	}
	job, err := m.StartJob(context.Background(), book, pages, StartRequest{TrainingID: "train-1"})
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}

	ch, cancel := m.Subscribe()
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for range ch {
		}
	}()

	var wg sync.WaitGroup
	for _, p := range job.Pages {
		wg.Add(1)
		go func(order float64) {
			defer wg.Done()
			generating := PageGenerating
			for _, progress := range []int{10, 40, 70} {
				pr := progress
				if err := m.PatchPage(context.Background(), job, order, PagePatch{Status: &generating, Progress: &pr}); err != nil {
					t.Errorf("PatchPage(%v, %d): %v", order, pr, err)
					return
				}
			}
			completed := PageCompleted
			full := 100
			if err := m.PatchPage(context.Background(), job, order, PagePatch{Status: &completed, Progress: &full}); err != nil {
				t.Errorf("PatchPage(%v, 100): %v", order, err)
			}
		}(p.Order)
	}
	wg.Wait()
	cancel()
	<-drained

	if job.Progress != 90 {
		t.Errorf("progress after all pages = %d, want 90", job.Progress)
	}
	for _, p := range job.Pages {
		if p.Status != PageCompleted || p.Progress != 100 {
			t.Errorf("page %v = %s/%d, want completed/100", p.Order, p.Status, p.Progress)
		}
	}
}

func TestSubscribeReceivesSnapshots(t *testing.T) {
	m := NewManager(newMemStore(), newFakeAssets(), discardLogger())
	ch, cancel := m.Subscribe()
	defer cancel()

	job, err := m.StartJob(context.Background(), testBook(), testContentPages(), StartRequest{TrainingID: "train-1"})
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}

	select {
	case snap := <-ch:
		if snap.ID != job.ID {
			t.Errorf("snapshot job id = %s, want %s", snap.ID, job.ID)
		}
		// Snapshots are clones; mutating one must not touch the live job.
		snap.Pages[0].Progress = 77
		if job.Pages[0].Progress == 77 {
			t.Error("snapshot shares page state with the live job")
		}
	case <-time.After(time.Second):
		t.Fatal("no snapshot delivered")
	}
}

func TestGetJobRefreshesSignedURLs(t *testing.T) {
	store := newMemStore()
	m := NewManager(store, newFakeAssets(), discardLogger())

	job := &Job{
		ID:     "job-urls",
		BookID: "book-1",
		Status: StatusSucceeded,
		Pages: []*Page{
			{
				JobID:  "job-urls",
				Order:  1,
				Status: PageCompleted,
				Character: &assets.Descriptor{
					Key:       "books/book-1/pages/1/character.png",
					URL:       "http://assets/books/book-1/pages/1/character.png",
					SignedURL: "http://assets/stale?sig=expired",
				},
				Candidates: []assets.Descriptor{
					{Key: "candidates/0.png", SignedURL: "http://assets/stale?sig=expired"},
				},
			},
		},
	}
	if err := store.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	got, err := m.GetJob(context.Background(), "job-urls")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}

	page := got.Pages[0]
	if page.Character.SignedURL != "http://assets/books/book-1/pages/1/character.png?sig=fresh" {
		t.Errorf("character signed URL not refreshed: %q", page.Character.SignedURL)
	}
	if page.Candidates[0].SignedURL != "http://assets/candidates/0.png?sig=fresh" {
		t.Errorf("candidate signed URL not refreshed: %q", page.Candidates[0].SignedURL)
	}
}

func TestListJobsForBook(t *testing.T) {
	m := NewManager(newMemStore(), newFakeAssets(), discardLogger())

	for i := 0; i < 3; i++ {
		if _, err := m.StartJob(context.Background(), testBook(), testContentPages(), StartRequest{TrainingID: "train-1"}); err != nil {
			t.Fatalf("StartJob: %v", err)
		}
	}

	list, err := m.ListJobsForBook(context.Background(), "book-1", 2)
	if err != nil {
		t.Fatalf("ListJobsForBook: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("jobs = %d, want 2 with limit", len(list))
	}

	none, err := m.ListJobsForBook(context.Background(), "book-other", 0)
	if err != nil {
		t.Fatalf("ListJobsForBook: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("jobs for unknown book = %d, want 0", len(none))
	}
}
