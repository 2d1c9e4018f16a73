// Package books holds the book and content-page records the
// orchestrator renders from, plus prompt personalization.
package books

import (
	"context"
	"time"

	"github.com/fableforge/fable/internal/assets"
)

// Page kinds.
const (
	KindStory      = "story"
	KindCover      = "cover"
	KindDedication = "dedication"
)

// Front-matter orders. Cover and dedication slot before page 1.
const (
	CoverOrder      = 0.0
	DedicationOrder = 0.5
)

// Book is one personalized book template.
type Book struct {
	ID         string             `json:"id"`
	Title      string             `json:"title"`
	ReaderName string             `json:"reader_name"`
	Pronouns   string             `json:"pronouns"` // "she/her", "he/him", "they/them"
	Dedication string             `json:"dedication,omitempty"`
	Status     string             `json:"status,omitempty"`
	Cover      *assets.Descriptor `json:"cover,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at,omitempty"`
}

// ContentPage is the live, mutable record of one page's content. The
// orchestrator writes finalized character images back into it; artifact
// snapshots freeze copies of it at assembly time.
type ContentPage struct {
	ID                string             `json:"id"`
	BookID            string             `json:"book_id"`
	Order             float64            `json:"order"`
	Kind              string             `json:"kind"`
	Text              string             `json:"text,omitempty"`
	Prompt            string             `json:"prompt,omitempty"`
	Background        *assets.Descriptor `json:"background,omitempty"`
	Character         *assets.Descriptor `json:"character,omitempty"`
	CharacterOriginal *assets.Descriptor `json:"character_original,omitempty"`
	CreatedAt         time.Time          `json:"created_at,omitempty"`
	UpdatedAt         time.Time          `json:"updated_at,omitempty"`
}

// PagePatch is a targeted update for one content page. Nil fields are
// left unchanged.
type PagePatch struct {
	Character         *assets.Descriptor
	CharacterOriginal *assets.Descriptor
}

// Store is the persistence contract for book records.
type Store interface {
	CreateBook(ctx context.Context, book *Book) (string, error)
	GetBook(ctx context.Context, id string) (*Book, error)
	ListBooks(ctx context.Context, limit int) ([]*Book, error)
	CreatePages(ctx context.Context, pages []*ContentPage) error
	GetPages(ctx context.Context, bookID string) ([]*ContentPage, error)
	UpdatePage(ctx context.Context, pageID string, patch PagePatch) error
}
