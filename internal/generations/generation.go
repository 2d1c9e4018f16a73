// Package generations models one request/response cycle with the
// external AI image provider. The orchestrator treats a generation as
// opaque except for its status, its image assets, and its ranking.
package generations

import (
	"time"

	"github.com/fableforge/fable/internal/assets"
)

// Status is a generation's provider-side lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusRanking    Status = "ranking"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status ends the generation's lifecycle.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Generation is one dispatched image-generation request.
type Generation struct {
	ID           string              `json:"id"`
	JobID        string              `json:"job_id"`
	PageID       string              `json:"page_id"`
	Prompt       string              `json:"prompt"`
	ModelVersion string              `json:"model_version"`
	Input        map[string]any      `json:"input,omitempty"`
	Status       Status              `json:"status"`
	Images       []assets.Descriptor `json:"images,omitempty"`
	Ranking      *Ranking            `json:"ranking,omitempty"`
	Error        string              `json:"error,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	CompletedAt  time.Time           `json:"completed_at,omitempty"`
}
