package jobs

import (
	"errors"
	"fmt"
)

// ErrJobNotFound is returned when a job lookup matches nothing.
var ErrJobNotFound = errors.New("job not found")

// ValidationError rejects a page with nothing to generate and nothing
// to show. Raised before any provider call; fatal to the job after the
// worker pool drains.
type ValidationError struct {
	Order  float64
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("page %v has nothing to render: %s", e.Order, e.Reason)
}

// DispatchError wraps a provider rejection of a generation request.
// Fatal to the job after the worker pool drains.
type DispatchError struct {
	Order float64
	Err   error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("page %v dispatch failed: %v", e.Order, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// TimeoutError marks a page whose generation produced no completion
// event within the wait window. Treated like a provider failure.
type TimeoutError struct {
	Order        float64
	GenerationID string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("page %v timed out waiting for generation %s", e.Order, e.GenerationID)
}

// GenerationError wraps a terminal provider failure for a page. Fatal
// to the job after the worker pool drains.
type GenerationError struct {
	Order float64
	Err   error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("page %v generation failed: %v", e.Order, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// AssemblyError marks a job whose assembly produced nothing.
type AssemblyError struct {
	Reason string
}

func (e *AssemblyError) Error() string {
	return fmt.Sprintf("assembly failed: %s", e.Reason)
}
