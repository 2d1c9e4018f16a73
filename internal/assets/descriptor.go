// Package assets provides the object store abstraction and the asset
// descriptor type that references stored binaries throughout fable.
package assets

import (
	"encoding/json"
	"time"
)

// Descriptor is a content-addressed-by-key reference to a stored binary.
// Any descriptor persisted into a job or artifact snapshot must be
// self-contained: no references to ephemeral upload state survive a
// round-trip through Sanitize.
type Descriptor struct {
	Key               string    `json:"key"`
	URL               string    `json:"url,omitempty"`
	SignedURL         string    `json:"signed_url,omitempty"`
	DownloadURL       string    `json:"download_url,omitempty"`
	Size              int64     `json:"size,omitempty"`
	ContentType       string    `json:"content_type,omitempty"`
	UploadedAt        time.Time `json:"uploaded_at,omitempty"`
	Filename          string    `json:"filename,omitempty"`
	BackgroundRemoved bool      `json:"background_removed,omitempty"`
}

// IsZero reports whether the descriptor references nothing.
func (d *Descriptor) IsZero() bool {
	return d == nil || (d.Key == "" && d.URL == "" && d.SignedURL == "" && d.DownloadURL == "")
}

// Sanitize returns a copy safe to persist into a snapshot: signed URLs
// are dropped (they expire) and only durable fields remain.
func (d Descriptor) Sanitize() Descriptor {
	d.SignedURL = ""
	return d
}

// BestURL returns the most durable URL available for downloading,
// preferring canonical over signed over long-lived download links.
func (d *Descriptor) BestURL() string {
	switch {
	case d == nil:
		return ""
	case d.URL != "":
		return d.URL
	case d.SignedURL != "":
		return d.SignedURL
	default:
		return d.DownloadURL
	}
}

// MarshalString encodes the descriptor as a JSON string for document
// storage. Returns "" for nil/zero descriptors.
func MarshalString(d *Descriptor) string {
	if d.IsZero() {
		return ""
	}
	b, err := json.Marshal(d)
	if err != nil {
		return ""
	}
	return string(b)
}

// UnmarshalString decodes a descriptor from its document-store form.
// Returns nil for empty input.
func UnmarshalString(s string) *Descriptor {
	if s == "" {
		return nil
	}
	var d Descriptor
	if err := json.Unmarshal([]byte(s), &d); err != nil {
		return nil
	}
	return &d
}

// MarshalList encodes a descriptor slice as a JSON string.
func MarshalList(ds []Descriptor) string {
	if len(ds) == 0 {
		return ""
	}
	b, err := json.Marshal(ds)
	if err != nil {
		return ""
	}
	return string(b)
}

// UnmarshalList decodes a descriptor slice from its document-store form.
func UnmarshalList(s string) []Descriptor {
	if s == "" {
		return nil
	}
	var ds []Descriptor
	if err := json.Unmarshal([]byte(s), &ds); err != nil {
		return nil
	}
	return ds
}
