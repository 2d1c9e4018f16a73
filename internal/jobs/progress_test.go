package jobs

import (
	"testing"
	"time"
)

func TestComputeProgress(t *testing.T) {
	pages := func(progresses ...int) []*Page {
		out := make([]*Page, len(progresses))
		for i, p := range progresses {
			out[i] = &Page{Order: float64(i + 1), Progress: p}
		}
		return out
	}

	tests := []struct {
		name string
		job  *Job
		want int
	}{
		{
			name: "succeeded is always 100",
			job:  &Job{Status: StatusSucceeded, Progress: 73},
			want: 100,
		},
		{
			name: "failed freezes accumulated progress",
			job:  &Job{Status: StatusFailed, Progress: 42, Pages: pages(100, 100)},
			want: 42,
		},
		{
			name: "queued with untouched pages",
			job:  &Job{Status: StatusQueued, Pages: pages(0, 0, 0)},
			want: 0,
		},
		{
			name: "all pages done without assembly",
			job:  &Job{Status: StatusGenerating, Pages: pages(100, 100, 100)},
			want: 90,
		},
		{
			name: "all pages done plus full assembly bonus",
			job:  &Job{Status: StatusAssembling, AssemblyBonus: 10, Pages: pages(100, 100)},
			want: 100,
		},
		{
			name: "assembly bonus is clamped",
			job:  &Job{Status: StatusAssembling, AssemblyBonus: 40, Pages: pages(100)},
			want: 100,
		},
		{
			name: "partial pages floor the average",
			job:  &Job{Status: StatusGenerating, Pages: pages(100, 100, 100, 100, 0)},
			want: 72,
		},
		{
			name: "page progress outside bounds is clamped",
			job:  &Job{Status: StatusGenerating, Pages: pages(150, -20)},
			want: 45,
		},
		{
			name: "no pages",
			job:  &Job{Status: StatusGenerating},
			want: 0,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ComputeProgress(tc.job); got != tc.want {
				t.Errorf("ComputeProgress() = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestComputeProgressNeverDecreasesAsPagesAdvance(t *testing.T) {
	job := &Job{
		Status: StatusGenerating,
		Pages: []*Page{
			{Order: 1},
			{Order: 2},
			{Order: 3},
		},
	}

	last := ComputeProgress(job)
	for step := 10; step <= 100; step += 10 {
		for _, p := range job.Pages {
			p.Progress = step
		}
		got := ComputeProgress(job)
		if got < last {
			t.Fatalf("progress decreased from %d to %d at step %d", last, got, step)
		}
		last = got
	}
}

func TestComputeETA(t *testing.T) {
	now := time.Now()

	t.Run("nil before any progress", func(t *testing.T) {
		job := &Job{Status: StatusGenerating, StartedAt: now.Add(-time.Minute)}
		if eta := ComputeETA(job, now); eta != nil {
			t.Errorf("expected nil ETA, got %d", *eta)
		}
	})

	t.Run("nil when not started", func(t *testing.T) {
		job := &Job{Status: StatusGenerating, Progress: 50}
		if eta := ComputeETA(job, now); eta != nil {
			t.Errorf("expected nil ETA, got %d", *eta)
		}
	})

	t.Run("nil after terminal status", func(t *testing.T) {
		for _, status := range []Status{StatusSucceeded, StatusFailed} {
			job := &Job{Status: status, Progress: 80, StartedAt: now.Add(-time.Minute)}
			if eta := ComputeETA(job, now); eta != nil {
				t.Errorf("status %s: expected nil ETA, got %d", status, *eta)
			}
		}
	})

	t.Run("projects remaining from elapsed pace", func(t *testing.T) {
		job := &Job{
			Status:    StatusGenerating,
			Progress:  50,
			StartedAt: now.Add(-60 * time.Second),
		}
		eta := ComputeETA(job, now)
		if eta == nil {
			t.Fatal("expected an ETA")
		}
		if *eta != 60 {
			t.Errorf("ETA = %d, want 60", *eta)
		}
	})

	t.Run("shrinks near completion", func(t *testing.T) {
		job := &Job{
			Status:    StatusAssembling,
			Progress:  90,
			StartedAt: now.Add(-90 * time.Second),
		}
		eta := ComputeETA(job, now)
		if eta == nil {
			t.Fatal("expected an ETA")
		}
		if *eta != 10 {
			t.Errorf("ETA = %d, want 10", *eta)
		}
	})
}
