package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/fableforge/fable/internal/assets"
	"github.com/fableforge/fable/internal/books"
)

const (
	bookCollection     = "Book"
	bookPageCollection = "BookPage"

	bookFields = `id title reader_name pronouns dedication status cover created_at updated_at`

	bookPageFields = `id book_id order kind text prompt background character
		character_original created_at updated_at`
)

// ErrBookNotFound is returned when a book lookup matches nothing.
var ErrBookNotFound = fmt.Errorf("book not found")

// CreateBook persists a book document. An id is assigned when the
// caller did not provide one.
func (s *Store) CreateBook(ctx context.Context, book *books.Book) (string, error) {
	if book.ID == "" {
		book.ID = uuid.NewString()
	}
	if book.CreatedAt.IsZero() {
		book.CreatedAt = time.Now().UTC()
	}

	input := map[string]any{
		"id":          book.ID,
		"title":       book.Title,
		"reader_name": book.ReaderName,
		"pronouns":    book.Pronouns,
		"dedication":  book.Dedication,
		"status":      book.Status,
		"cover":       assets.MarshalString(book.Cover),
		"created_at":  timeStr(book.CreatedAt),
		"updated_at":  timeStr(time.Now()),
	}
	if _, err := s.client.Create(ctx, bookCollection, input); err != nil {
		return "", fmt.Errorf("create book: %w", err)
	}
	return book.ID, nil
}

// GetBook returns a book by id, or ErrBookNotFound.
func (s *Store) GetBook(ctx context.Context, id string) (*books.Book, error) {
	query := fmt.Sprintf(`{ %s(filter: {id: {_eq: %s}}) { %s } }`,
		bookCollection, gqlStr(id), bookFields)
	resp, err := s.client.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query book: %w", err)
	}
	if msg := resp.Error(); msg != "" {
		return nil, fmt.Errorf("query book: %s", msg)
	}

	docs := resp.Docs(bookCollection)
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrBookNotFound, id)
	}
	return docToBook(docs[0]), nil
}

// ListBooks returns books, newest first.
func (s *Store) ListBooks(ctx context.Context, limit int) ([]*books.Book, error) {
	query := fmt.Sprintf(`{ %s { %s } }`, bookCollection, bookFields)
	resp, err := s.client.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query books: %w", err)
	}
	if msg := resp.Error(); msg != "" {
		return nil, fmt.Errorf("query books: %s", msg)
	}

	list := make([]*books.Book, 0)
	for _, doc := range resp.Docs(bookCollection) {
		list = append(list, docToBook(doc))
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

// CreatePages persists content pages in one batch.
func (s *Store) CreatePages(ctx context.Context, pages []*books.ContentPage) error {
	if len(pages) == 0 {
		return nil
	}
	inputs := make([]map[string]any, len(pages))
	for i, page := range pages {
		if page.ID == "" {
			page.ID = uuid.NewString()
		}
		if page.CreatedAt.IsZero() {
			page.CreatedAt = time.Now().UTC()
		}
		inputs[i] = map[string]any{
			"id":                 page.ID,
			"book_id":            page.BookID,
			"order":              page.Order,
			"kind":               page.Kind,
			"text":               page.Text,
			"prompt":             page.Prompt,
			"background":         assets.MarshalString(page.Background),
			"character":          assets.MarshalString(page.Character),
			"character_original": assets.MarshalString(page.CharacterOriginal),
			"created_at":         timeStr(page.CreatedAt),
			"updated_at":         timeStr(time.Now()),
		}
	}
	if _, err := s.client.CreateMany(ctx, bookPageCollection, inputs, "order"); err != nil {
		return fmt.Errorf("create content pages: %w", err)
	}
	return nil
}

// GetPages returns a book's content pages ordered ascending.
func (s *Store) GetPages(ctx context.Context, bookID string) ([]*books.ContentPage, error) {
	query := fmt.Sprintf(`{ %s(filter: {book_id: {_eq: %s}}) { %s } }`,
		bookPageCollection, gqlStr(bookID), bookPageFields)
	resp, err := s.client.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query content pages: %w", err)
	}
	if msg := resp.Error(); msg != "" {
		return nil, fmt.Errorf("query content pages: %s", msg)
	}

	pages := make([]*books.ContentPage, 0)
	for _, doc := range resp.Docs(bookPageCollection) {
		pages = append(pages, docToContentPage(doc))
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].Order < pages[j].Order })
	return pages, nil
}

// UpdatePage applies a targeted patch to one content page.
func (s *Store) UpdatePage(ctx context.Context, pageID string, patch books.PagePatch) error {
	input := map[string]any{"updated_at": timeStr(time.Now())}
	if patch.Character != nil {
		input["character"] = assets.MarshalString(patch.Character)
	}
	if patch.CharacterOriginal != nil {
		input["character_original"] = assets.MarshalString(patch.CharacterOriginal)
	}

	if err := s.client.UpdateWhere(ctx, bookPageCollection,
		map[string]any{"id": map[string]any{"_eq": pageID}}, input); err != nil {
		return fmt.Errorf("update content page: %w", err)
	}
	return nil
}

func docToBook(doc map[string]any) *books.Book {
	return &books.Book{
		ID:         docStr(doc, "id"),
		Title:      docStr(doc, "title"),
		ReaderName: docStr(doc, "reader_name"),
		Pronouns:   docStr(doc, "pronouns"),
		Dedication: docStr(doc, "dedication"),
		Status:     docStr(doc, "status"),
		Cover:      assets.UnmarshalString(docStr(doc, "cover")),
		CreatedAt:  docTime(doc, "created_at"),
		UpdatedAt:  docTime(doc, "updated_at"),
	}
}

func docToContentPage(doc map[string]any) *books.ContentPage {
	return &books.ContentPage{
		ID:                docStr(doc, "id"),
		BookID:            docStr(doc, "book_id"),
		Order:             docFloat(doc, "order"),
		Kind:              docStr(doc, "kind"),
		Text:              docStr(doc, "text"),
		Prompt:            docStr(doc, "prompt"),
		Background:        assets.UnmarshalString(docStr(doc, "background")),
		Character:         assets.UnmarshalString(docStr(doc, "character")),
		CharacterOriginal: assets.UnmarshalString(docStr(doc, "character_original")),
		CreatedAt:         docTime(doc, "created_at"),
		UpdatedAt:         docTime(doc, "updated_at"),
	}
}
