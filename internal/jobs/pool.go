package jobs

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
)

// DefaultConcurrency is the number of pages processed in parallel when
// no value is configured.
const DefaultConcurrency = 2

// ProcessFunc drives one page to a terminal state.
type ProcessFunc func(ctx context.Context, job *Job, page *Page) error

// RunPages pulls the job's pages through a shared cursor with up to
// concurrency workers. A worker that hits a processing error stops, but
// its siblings keep draining the cursor, so every remaining page still
// reaches a terminal state before the call returns. The returned error
// is the first recorded error by page order, not by completion time,
// so failure reporting is deterministic despite concurrency.
func RunPages(ctx context.Context, job *Job, concurrency int, process ProcessFunc) error {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if concurrency > len(job.Pages) {
		concurrency = len(job.Pages)
	}

	type pageError struct {
		order float64
		err   error
	}

	var (
		cursor atomic.Int64
		mu     sync.Mutex
		errs   []pageError
		wg     sync.WaitGroup
	)

	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if ctx.Err() != nil {
					return
				}
				i := int(cursor.Add(1)) - 1
				if i >= len(job.Pages) {
					return
				}
				page := job.Pages[i]
				if err := process(ctx, job, page); err != nil {
					mu.Lock()
					errs = append(errs, pageError{order: page.Order, err: err})
					mu.Unlock()
					return
				}
			}
		}()
	}

	wg.Wait()

	if len(errs) == 0 {
		return ctx.Err()
	}
	sort.Slice(errs, func(i, j int) bool { return errs[i].order < errs[j].order })
	return errs[0].err
}
