// Package providers holds the external AI collaborator clients: the
// asynchronous image-generation provider and the background-removal
// service. Dispatch is fire-and-forget; results arrive on the
// generation webhook, never as a return value.
package providers

import (
	"context"

	"github.com/fableforge/fable/internal/generations"
)

// Dispatcher submits a generation request to the image provider. The
// provider delivers the outcome asynchronously via webhook.
type Dispatcher interface {
	// Name returns the provider identifier (e.g., "replicate").
	Name() string

	// DispatchGeneration submits the generation. webhookURL is where
	// the provider posts status updates keyed by the generation id.
	DispatchGeneration(ctx context.Context, gen *generations.Generation, webhookURL string) error
}

// BackgroundRemover strips the background from a generated image.
type BackgroundRemover interface {
	// Name returns the provider identifier (e.g., "rembg").
	Name() string

	// RemoveBackground fetches the image at imageURL, removes its
	// background, and returns the resulting PNG bytes.
	RemoveBackground(ctx context.Context, imageURL string) ([]byte, error)
}
