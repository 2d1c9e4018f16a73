// Package finalize copies a winning generated image into durable
// per-page storage, conditionally removes its background, and produces
// sanitized, URL-refreshed descriptors.
package finalize

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/fableforge/fable/internal/assets"
	"github.com/fableforge/fable/internal/providers"
)

// Request describes one finalization.
type Request struct {
	// Source is the winning candidate to finalize.
	Source assets.Descriptor

	// DestKey is the deterministic destination key for the finalized
	// image. Stable across regenerations so repeats overwrite rather
	// than leak objects.
	DestKey string

	// OriginalKey stores the pre-processing copy of the source bytes.
	OriginalKey string
}

// Result carries the finalized descriptors.
type Result struct {
	// Character is the final (background removed when possible) image.
	Character assets.Descriptor

	// Original is the untouched source copy.
	Original assets.Descriptor
}

// Pipeline finalizes winning assets.
type Pipeline struct {
	store    assets.Store
	registry *providers.Registry
	logger   *slog.Logger
	client   *http.Client
}

// New creates a finalization pipeline.
func New(store assets.Store, registry *providers.Registry, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		store:    store,
		registry: registry,
		logger:   logger,
		client:   &http.Client{Timeout: 60 * time.Second},
	}
}

// Finalize downloads the source bytes, stores a pre-processing copy,
// removes the background unless the source is already flagged removed,
// and uploads the final bytes to the deterministic destination key.
//
// A source that exists nowhere (key absent and no URL reachable) is
// reported as assets.ErrNotFound so callers can skip the page instead
// of failing the job. Background-removal failures fall back to the
// original bytes and are never fatal.
func (p *Pipeline) Finalize(ctx context.Context, req Request) (*Result, error) {
	if req.DestKey == "" || req.OriginalKey == "" {
		return nil, fmt.Errorf("destination keys are required")
	}

	data, err := p.download(ctx, req.Source)
	if err != nil {
		return nil, err
	}

	original, err := p.store.UploadBuffer(ctx, req.OriginalKey, data, req.Source.ContentType)
	if err != nil {
		return nil, fmt.Errorf("store original: %w", err)
	}

	final := data
	removed := req.Source.BackgroundRemoved
	if !removed {
		if out, rmErr := p.removeBackground(ctx, original); rmErr != nil {
			p.logger.Warn("background removal failed, using original bytes",
				"key", req.DestKey,
				"error", rmErr)
		} else {
			final = out
			removed = true
		}
	}

	character, err := p.store.UploadBuffer(ctx, req.DestKey, final, "image/png")
	if err != nil {
		return nil, fmt.Errorf("store finalized image: %w", err)
	}
	character.BackgroundRemoved = removed

	return &Result{
		Character: character.Sanitize(),
		Original:  original.Sanitize(),
	}, nil
}

// download fetches source bytes by key, falling back through canonical,
// signed, and long-lived download URLs when the key lookup misses.
func (p *Pipeline) download(ctx context.Context, source assets.Descriptor) ([]byte, error) {
	if source.Key != "" {
		data, err := p.store.DownloadByKey(ctx, source.Key)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, assets.ErrNotFound) {
			return nil, fmt.Errorf("download source by key: %w", err)
		}
	}

	for _, url := range []string{source.URL, source.SignedURL, source.DownloadURL} {
		if url == "" {
			continue
		}
		data, err := p.fetch(ctx, url)
		if err != nil {
			p.logger.Debug("source url fetch failed", "url", url, "error", err)
			continue
		}
		return data, nil
	}

	return nil, fmt.Errorf("%w: source %q has no retrievable bytes", assets.ErrNotFound, source.Key)
}

// fetch downloads a URL with retries for transient failures.
func (p *Pipeline) fetch(ctx context.Context, url string) ([]byte, error) {
	var data []byte
	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			resp, err := p.client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusForbidden {
				return retry.Unrecoverable(fmt.Errorf("source url returned status %d", resp.StatusCode))
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("source url returned status %d", resp.StatusCode)
			}

			data, err = io.ReadAll(resp.Body)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(500*time.Millisecond),
	)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// removeBackground calls the removal provider with a fresh signed URL
// for the stored original.
func (p *Pipeline) removeBackground(ctx context.Context, original assets.Descriptor) ([]byte, error) {
	remover := p.registry.Remover()
	if remover == nil {
		return nil, fmt.Errorf("no background removal provider configured")
	}

	url, err := p.store.SignedURL(original.Key, 0)
	if err != nil {
		return nil, fmt.Errorf("sign original url: %w", err)
	}

	out, err := remover.RemoveBackground(ctx, url)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("removal provider returned no bytes")
	}
	return out, nil
}
