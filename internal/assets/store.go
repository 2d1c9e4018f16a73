package assets

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a storage key does not exist. Callers
// distinguish it from transient I/O errors to decide between skipping a
// page and failing a job.
var ErrNotFound = errors.New("asset not found")

// Store is the object storage contract the orchestrator consumes.
type Store interface {
	// UploadBuffer persists bytes at key and returns a populated
	// descriptor including a canonical URL and fresh signed URL.
	UploadBuffer(ctx context.Context, key string, data []byte, contentType string) (Descriptor, error)

	// DownloadByKey returns the stored bytes, or ErrNotFound.
	DownloadByKey(ctx context.Context, key string) ([]byte, error)

	// SignedURL returns a time-limited download URL for key.
	// A ttl of zero uses the store default.
	SignedURL(key string, ttl time.Duration) (string, error)
}

// Refresh re-signs the descriptor's URL in place. Descriptors served to
// clients always carry a fresh signed URL regardless of what was stored.
func Refresh(store Store, d *Descriptor) {
	if d.IsZero() || d.Key == "" {
		return
	}
	if url, err := store.SignedURL(d.Key, 0); err == nil {
		d.SignedURL = url
	}
}

// RefreshList re-signs every descriptor in the slice.
func RefreshList(store Store, ds []Descriptor) {
	for i := range ds {
		Refresh(store, &ds[i])
	}
}
