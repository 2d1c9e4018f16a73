package endpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/fableforge/fable/internal/api"
	"github.com/fableforge/fable/internal/assets"
	"github.com/fableforge/fable/internal/books"
	"github.com/fableforge/fable/internal/store"
	"github.com/fableforge/fable/internal/svcctx"
)

// CreateBookRequest is the request body for registering a book template.
type CreateBookRequest struct {
	Title      string             `json:"title"`
	ReaderName string             `json:"reader_name"`
	Pronouns   string             `json:"pronouns,omitempty"`
	Dedication string             `json:"dedication,omitempty"`
	Cover      *assets.Descriptor `json:"cover,omitempty"`
	Pages      []CreatePageInput  `json:"pages"`
}

// CreatePageInput is one content page of a book template.
type CreatePageInput struct {
	Order      float64            `json:"order"`
	Text       string             `json:"text,omitempty"`
	Prompt     string             `json:"prompt,omitempty"`
	Background *assets.Descriptor `json:"background,omitempty"`
}

// BookResponse is a book with its content pages.
type BookResponse struct {
	Book  *books.Book          `json:"book"`
	Pages []*books.ContentPage `json:"pages"`
}

// CreateBookEndpoint handles POST /api/books.
type CreateBookEndpoint struct{}

func (e *CreateBookEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/books", e.handler
}

func (e *CreateBookEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Register a book template
//	@Description	Register a personalized book template with its content pages
//	@Tags			books
//	@Accept			json
//	@Produce		json
//	@Param			request	body		CreateBookRequest	true	"Book template"
//	@Success		201		{object}	BookResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		500		{object}	ErrorResponse
//	@Router			/api/books [post]
func (e *CreateBookEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req CreateBookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" || req.ReaderName == "" {
		writeError(w, http.StatusBadRequest, "title and reader_name are required")
		return
	}
	if len(req.Pages) == 0 {
		writeError(w, http.StatusBadRequest, "at least one page is required")
		return
	}

	bookStore := svcctx.BooksFrom(r.Context())
	book := &books.Book{
		Title:      req.Title,
		ReaderName: req.ReaderName,
		Pronouns:   req.Pronouns,
		Dedication: req.Dedication,
		Cover:      req.Cover,
	}
	id, err := bookStore.CreateBook(r.Context(), book)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	pages := make([]*books.ContentPage, len(req.Pages))
	for i, p := range req.Pages {
		pages[i] = &books.ContentPage{
			BookID:     id,
			Order:      p.Order,
			Kind:       books.KindStory,
			Text:       p.Text,
			Prompt:     p.Prompt,
			Background: p.Background,
		}
	}
	if err := bookStore.CreatePages(r.Context(), pages); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, BookResponse{Book: book, Pages: pages})
}

func (e *CreateBookEndpoint) Command(getServerURL func() string) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a book template from a JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := readBookTemplate(file)
			if err != nil {
				return err
			}
			client := api.NewClient(getServerURL())
			var resp BookResponse
			if err := client.Post(cmd.Context(), "/api/books", req, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Path to a book template JSON file")
	cmd.MarkFlagRequired("file")
	return cmd
}

// readBookTemplate loads a CreateBookRequest from a JSON file.
func readBookTemplate(path string) (*CreateBookRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template: %w", err)
	}
	var req CreateBookRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	return &req, nil
}

// ListBooksEndpoint handles GET /api/books.
type ListBooksEndpoint struct{}

func (e *ListBooksEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/books", e.handler
}

func (e *ListBooksEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		List books
//	@Description	List registered book templates, newest first
//	@Tags			books
//	@Produce		json
//	@Param			limit	query		int	false	"Maximum number of books"
//	@Success		200		{array}		books.Book
//	@Failure		500		{object}	ErrorResponse
//	@Router			/api/books [get]
func (e *ListBooksEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	list, err := svcctx.BooksFrom(r.Context()).ListBooks(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (e *ListBooksEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered books",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp []*books.Book
			if err := client.Get(cmd.Context(), "/api/books", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// GetBookEndpoint handles GET /api/books/{book_id}.
type GetBookEndpoint struct{}

func (e *GetBookEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/books/{book_id}", e.handler
}

func (e *GetBookEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Get a book
//	@Description	Get a book template with its content pages
//	@Tags			books
//	@Produce		json
//	@Param			book_id	path		string	true	"Book ID"
//	@Success		200		{object}	BookResponse
//	@Failure		404		{object}	ErrorResponse
//	@Failure		500		{object}	ErrorResponse
//	@Router			/api/books/{book_id} [get]
func (e *GetBookEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	bookID := r.PathValue("book_id")
	bookStore := svcctx.BooksFrom(r.Context())

	book, err := bookStore.GetBook(r.Context(), bookID)
	if err != nil {
		if errors.Is(err, store.ErrBookNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	pages, err := bookStore.GetPages(r.Context(), bookID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, BookResponse{Book: book, Pages: pages})
}

func (e *GetBookEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <book_id>",
		Short: "Get a book with its pages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp BookResponse
			if err := client.Get(cmd.Context(), "/api/books/"+args[0], &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
