package generations

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fableforge/fable/internal/assets"
)

// Store is the persistence contract for generation records.
type Store interface {
	CreateGeneration(ctx context.Context, gen *Generation) error
	GetGeneration(ctx context.Context, id string) (*Generation, error)
	UpdateGeneration(ctx context.Context, id string, patch Patch) error
}

// Patch is a targeted field update for one generation record. Nil
// fields are left unchanged.
type Patch struct {
	Status      *Status
	Images      []assets.Descriptor
	Ranking     *Ranking
	Error       *string
	CompletedAt *time.Time
}

// Manager creates and records generation lifecycles.
type Manager struct {
	store  Store
	logger *slog.Logger
}

// NewManager creates a generation manager.
func NewManager(store Store, logger *slog.Logger) *Manager {
	return &Manager{store: store, logger: logger}
}

// Create assigns an identity to the generation and persists it in
// pending state. The record must exist before dispatch so webhook
// deliveries always find something to attach to.
func (m *Manager) Create(ctx context.Context, gen *Generation) (*Generation, error) {
	if gen.Prompt == "" {
		return nil, fmt.Errorf("generation requires a prompt")
	}
	gen.ID = uuid.NewString()
	gen.Status = StatusPending
	gen.CreatedAt = time.Now().UTC()

	if err := m.store.CreateGeneration(ctx, gen); err != nil {
		return nil, fmt.Errorf("persist generation: %w", err)
	}

	m.logger.Info("generation created",
		"generation_id", gen.ID,
		"job_id", gen.JobID,
		"page_id", gen.PageID)
	return gen, nil
}

// Get returns a generation record by id.
func (m *Manager) Get(ctx context.Context, id string) (*Generation, error) {
	return m.store.GetGeneration(ctx, id)
}

// ApplyUpdate persists an update's fields onto the generation record.
// Non-terminal updates only touch status; terminal ones record images,
// ranking, error, and completion time.
func (m *Manager) ApplyUpdate(ctx context.Context, u *Update) error {
	patch := Patch{Status: &u.Status}
	if u.Terminal() {
		now := time.Now().UTC()
		patch.CompletedAt = &now
		patch.Images = u.Images
		patch.Ranking = u.Ranking
		if u.Error != "" {
			patch.Error = &u.Error
		}
	}
	if err := m.store.UpdateGeneration(ctx, u.GenerationID, patch); err != nil {
		return fmt.Errorf("persist generation update: %w", err)
	}
	return nil
}
