package jobs

import (
	"math"
	"time"
)

// maxAssemblyBonus bounds the extra progress assembly contributes on
// top of the 90% page budget.
const maxAssemblyBonus = 10

// ComputeProgress derives overall job progress from page state.
// Generation accounts for 0-90, assembly for the remaining 0-10.
// Succeeded is always 100; failed freezes whatever had accumulated.
func ComputeProgress(j *Job) int {
	switch j.Status {
	case StatusSucceeded:
		return 100
	case StatusFailed:
		return j.Progress
	}

	base := 0
	if len(j.Pages) > 0 {
		sum := 0
		for _, p := range j.Pages {
			sum += clampProgress(p.Progress)
		}
		avg := float64(sum) / float64(len(j.Pages))
		base = int(math.Floor(90 * avg / 100))
	}

	bonus := j.AssemblyBonus
	if bonus < 0 {
		bonus = 0
	}
	if bonus > maxAssemblyBonus {
		bonus = maxAssemblyBonus
	}

	total := base + bonus
	if total > 100 {
		total = 100
	}
	return total
}

// ComputeETA projects seconds remaining from elapsed time and progress
// achieved so far. Nil before any progress and after terminal status.
func ComputeETA(j *Job, now time.Time) *int {
	if j.Status.Terminal() || j.Progress <= 0 || j.StartedAt.IsZero() {
		return nil
	}
	elapsed := now.Sub(j.StartedAt).Seconds()
	if elapsed <= 0 {
		return nil
	}
	remaining := int(math.Ceil(elapsed / float64(j.Progress) * float64(100-j.Progress)))
	if remaining < 0 {
		remaining = 0
	}
	return &remaining
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
