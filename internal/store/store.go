// Package store persists fable's records as DefraDB documents. Every
// mutation is a field-scoped patch addressed by identity (document id,
// or job id plus page order) so concurrent page workers never rewrite
// each other's fields. Composite values (asset descriptors, rankings,
// event logs) are stored as JSON strings inside the document.
package store

import (
	"log/slog"

	"github.com/fableforge/fable/internal/assemble"
	"github.com/fableforge/fable/internal/books"
	"github.com/fableforge/fable/internal/defra"
	"github.com/fableforge/fable/internal/generations"
	"github.com/fableforge/fable/internal/jobs"
)

// Store is the DefraDB-backed implementation of the persistence
// contracts consumed by the books, jobs, generations, and assemble
// packages.
type Store struct {
	client *defra.Client
	logger *slog.Logger
}

// New creates a store over a DefraDB client.
func New(client *defra.Client, logger *slog.Logger) *Store {
	return &Store{client: client, logger: logger}
}

// Contract checks
var (
	_ books.Store       = (*Store)(nil)
	_ jobs.Store        = (*Store)(nil)
	_ generations.Store = (*Store)(nil)
	_ assemble.Store    = (*Store)(nil)
)
