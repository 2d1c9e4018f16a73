package generations

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fableforge/fable/internal/assets"
)

// Update is a completion-stream notification for one generation. The
// provider posts these to the generation webhook; the bridge fans them
// out to the registered waiter.
type Update struct {
	GenerationID string              `json:"generation_id"`
	Status       Status              `json:"status"`
	Progress     int                 `json:"progress,omitempty"`
	Images       []assets.Descriptor `json:"images,omitempty"`
	Ranking      *Ranking            `json:"ranking,omitempty"`
	Error        string              `json:"error,omitempty"`
}

// Terminal reports whether the update ends the wait.
func (u *Update) Terminal() bool {
	return u.Status.Terminal()
}

// ParseUpdate decodes a webhook payload. Provider status strings are
// normalized onto the local Status set.
func ParseUpdate(body []byte) (*Update, error) {
	var u Update
	if err := json.Unmarshal(body, &u); err != nil {
		return nil, fmt.Errorf("decode generation update: %w", err)
	}
	if u.GenerationID == "" {
		return nil, fmt.Errorf("generation update missing generation_id")
	}
	u.Status = normalizeStatus(string(u.Status))
	return &u, nil
}

// normalizeStatus maps provider status vocabulary onto local statuses.
// Unknown non-terminal states are treated as processing.
func normalizeStatus(s string) Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "starting", "queued", "pending":
		return StatusPending
	case "processing", "running", "in_progress":
		return StatusProcessing
	case "ranking":
		return StatusRanking
	case "succeeded", "completed", "success":
		return StatusSucceeded
	case "failed", "error", "canceled", "cancelled":
		return StatusFailed
	default:
		return StatusProcessing
	}
}
