package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func poolJob(n int) *Job {
	job := &Job{ID: "job-pool"}
	for i := 1; i <= n; i++ {
		job.Pages = append(job.Pages, &Page{JobID: job.ID, Order: float64(i), Status: PageQueued})
	}
	return job
}

func TestRunPagesProcessesEveryPage(t *testing.T) {
	job := poolJob(7)

	var mu sync.Mutex
	seen := make(map[float64]int)

	err := RunPages(context.Background(), job, 3, func(ctx context.Context, j *Job, p *Page) error {
		mu.Lock()
		seen[p.Order]++
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("RunPages: %v", err)
	}

	if len(seen) != 7 {
		t.Fatalf("processed %d distinct pages, want 7", len(seen))
	}
	for order, count := range seen {
		if count != 1 {
			t.Errorf("page %v processed %d times", order, count)
		}
	}
}

func TestRunPagesRespectsConcurrencyCap(t *testing.T) {
	job := poolJob(10)

	var active, peak atomic.Int64
	err := RunPages(context.Background(), job, 3, func(ctx context.Context, j *Job, p *Page) error {
		n := active.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
		return nil
	})
	if err != nil {
		t.Fatalf("RunPages: %v", err)
	}

	if got := peak.Load(); got > 3 {
		t.Errorf("peak concurrency %d exceeds cap 3", got)
	}
}

func TestRunPagesDrainsRemainingPagesAfterFailure(t *testing.T) {
	job := poolJob(6)

	var mu sync.Mutex
	seen := make(map[float64]int)

	err := RunPages(context.Background(), job, 2, func(ctx context.Context, j *Job, p *Page) error {
		mu.Lock()
		seen[p.Order]++
		mu.Unlock()
		if p.Order == 2 {
			return errors.New("page 2 exploded")
		}
		return nil
	})
	if err == nil || err.Error() != "page 2 exploded" {
		t.Fatalf("RunPages error = %v", err)
	}

	// One worker dies on page 2; the survivor keeps claiming, so every
	// page is still processed exactly once.
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 6 {
		t.Fatalf("processed %d distinct pages, want all 6 despite the failure", len(seen))
	}
	for order, count := range seen {
		if count != 1 {
			t.Errorf("page %v processed %d times", order, count)
		}
	}
}

func TestRunPagesReturnsFirstErrorByPageOrder(t *testing.T) {
	job := poolJob(2)

	started := make(map[float64]chan struct{})
	release := make(map[float64]chan struct{})
	for _, p := range job.Pages {
		started[p.Order] = make(chan struct{})
		release[p.Order] = make(chan struct{})
	}

	errPage1 := errors.New("page 1 failed")
	errPage2 := errors.New("page 2 failed")

	done := make(chan error, 1)
	go func() {
		done <- RunPages(context.Background(), job, 2, func(ctx context.Context, j *Job, p *Page) error {
			close(started[p.Order])
			<-release[p.Order]
			if p.Order == 1 {
				return errPage1
			}
			return errPage2
		})
	}()

	// Page 2 fails first in wall-clock time; page 1's error must still
	// win because it comes first by order.
	<-started[1]
	<-started[2]
	close(release[2])
	time.Sleep(10 * time.Millisecond)
	close(release[1])

	if err := <-done; !errors.Is(err, errPage1) {
		t.Fatalf("RunPages error = %v, want %v", err, errPage1)
	}
}

func TestRunPagesHonorsContextCancellation(t *testing.T) {
	job := poolJob(20)
	ctx, cancel := context.WithCancel(context.Background())

	var processed atomic.Int64
	done := make(chan error, 1)
	go func() {
		done <- RunPages(ctx, job, 1, func(ctx context.Context, j *Job, p *Page) error {
			if processed.Add(1) == 2 {
				cancel()
			}
			return nil
		})
	}()

	err := <-done
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("RunPages error = %v, want context.Canceled", err)
	}
	if n := processed.Load(); n >= 20 {
		t.Errorf("processed %d pages despite cancellation", n)
	}
}

func TestRunPagesNoPages(t *testing.T) {
	if err := RunPages(context.Background(), &Job{}, 4, func(ctx context.Context, j *Job, p *Page) error {
		t.Error("process func called with no pages")
		return nil
	}); err != nil {
		t.Fatalf("RunPages: %v", err)
	}
}
