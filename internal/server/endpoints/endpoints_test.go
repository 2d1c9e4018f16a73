package endpoints

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fableforge/fable/internal/assets"
	"github.com/fableforge/fable/internal/bridge"
	"github.com/fableforge/fable/internal/generations"
	"github.com/fableforge/fable/internal/svcctx"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memGenStore is a minimal in-memory generations.Store.
type memGenStore struct {
	mu      sync.Mutex
	gens    map[string]*generations.Generation
	patches []generations.Patch
}

func newMemGenStore() *memGenStore {
	return &memGenStore{gens: make(map[string]*generations.Generation)}
}

func (s *memGenStore) CreateGeneration(_ context.Context, gen *generations.Generation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gens[gen.ID] = gen
	return nil
}

func (s *memGenStore) GetGeneration(_ context.Context, id string) (*generations.Generation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gens[id], nil
}

func (s *memGenStore) UpdateGeneration(_ context.Context, id string, patch generations.Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patches = append(s.patches, patch)
	return nil
}

// newTestMux registers the given endpoints on a mux wrapped with a
// services-injecting middleware, mirroring the server wiring.
func newTestMux(services *svcctx.Services, eps ...interface {
	Route() (string, string, http.HandlerFunc)
}) http.Handler {
	mux := http.NewServeMux()
	for _, ep := range eps {
		method, path, handler := ep.Route()
		mux.HandleFunc(method+" "+path, handler)
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if services != nil {
			r = r.WithContext(svcctx.WithServices(r.Context(), services))
		}
		mux.ServeHTTP(w, r)
	})
}

func TestHealthEndpoint(t *testing.T) {
	h := newTestMux(nil, &HealthEndpoint{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("Status = %q, want %q", resp.Status, "ok")
	}
}

func TestReadyEndpointWithoutServices(t *testing.T) {
	h := newTestMux(nil, &ReadyEndpoint{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/ready", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "degraded" {
		t.Errorf("Status = %q, want %q", resp.Status, "degraded")
	}
	if resp.Defra != "not_initialized" {
		t.Errorf("Defra = %q, want %q", resp.Defra, "not_initialized")
	}
}

func TestGenerationWebhook(t *testing.T) {
	br := bridge.New(time.Minute, discardLogger())
	defer br.Close()
	genStore := newMemGenStore()

	services := &svcctx.Services{
		Generations: generations.NewManager(genStore, discardLogger()),
		Bridge:      br,
		Logger:      discardLogger(),
	}
	h := newTestMux(services, &GenerationWebhookEndpoint{})

	t.Run("terminal update reaches waiter", func(t *testing.T) {
		waiter, err := br.Register("gen-1")
		if err != nil {
			t.Fatalf("register waiter: %v", err)
		}
		defer br.Unregister("gen-1")

		body := `{
			"generation_id": "gen-1",
			"status": "succeeded",
			"images": [{"key": "books/b1/candidates/0.png"}]
		}`
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("POST", "/api/webhooks/generations", strings.NewReader(body)))

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		update, err := waiter.Wait(ctx)
		if err != nil {
			t.Fatalf("waiter did not receive update: %v", err)
		}
		if update.GenerationID != "gen-1" {
			t.Errorf("GenerationID = %q, want %q", update.GenerationID, "gen-1")
		}
		if update.Status != generations.StatusSucceeded {
			t.Errorf("Status = %q, want %q", update.Status, generations.StatusSucceeded)
		}
		if len(update.Images) != 1 {
			t.Errorf("len(Images) = %d, want 1", len(update.Images))
		}

		genStore.mu.Lock()
		patched := len(genStore.patches)
		genStore.mu.Unlock()
		if patched != 1 {
			t.Errorf("store patches = %d, want 1", patched)
		}
	})

	t.Run("update without waiter still accepted", func(t *testing.T) {
		body := `{"generation_id": "gen-orphan", "status": "failed", "error": "NSFW content detected"}`
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("POST", "/api/webhooks/generations", strings.NewReader(body)))

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
		}
	})

	t.Run("malformed body rejected", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("POST", "/api/webhooks/generations", strings.NewReader("{not json")))

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
		}
	})

	t.Run("missing generation_id rejected", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("POST", "/api/webhooks/generations", strings.NewReader(`{"status":"succeeded"}`)))

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
		}
	})
}

func TestAssetEndpoint(t *testing.T) {
	fileStore, err := assets.NewFileStore(assets.FileStoreConfig{
		BasePath:   t.TempDir(),
		PublicURL:  "http://localhost:8080",
		Secret:     "endpoint-test-secret",
		DefaultTTL: time.Hour,
	})
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	content := []byte("\x89PNG\r\n\x1a\nfake image bytes")
	desc, err := fileStore.UploadBuffer(context.Background(), "books/b1/pages/1/character.png", content, "image/png")
	if err != nil {
		t.Fatalf("UploadBuffer: %v", err)
	}

	services := &svcctx.Services{Assets: fileStore, Logger: discardLogger()}
	h := newTestMux(services, &AssetEndpoint{})

	signed, err := url.Parse(desc.SignedURL)
	if err != nil {
		t.Fatalf("parse signed URL %q: %v", desc.SignedURL, err)
	}

	t.Run("valid signature serves bytes", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", signed.Path+"?"+signed.RawQuery, nil))

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
		}
		if got := rec.Body.Bytes(); string(got) != string(content) {
			t.Errorf("body mismatch: got %d bytes, want %d", len(got), len(content))
		}
		if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
			t.Errorf("Content-Type = %q, want %q", ct, "image/png")
		}
	})

	t.Run("tampered signature rejected", func(t *testing.T) {
		q := signed.Query()
		q.Set("sig", "deadbeef")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", signed.Path+"?"+q.Encode(), nil))

		if rec.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusForbidden)
		}
	})

	t.Run("missing signature rejected", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", signed.Path, nil))

		if rec.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusForbidden)
		}
	})

	t.Run("valid signature for absent key is 404", func(t *testing.T) {
		missing, err := fileStore.SignedURL("books/b1/pages/9/character.png", time.Hour)
		if err != nil {
			t.Fatalf("SignedURL: %v", err)
		}
		u, err := url.Parse(missing)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", u.Path+"?"+u.RawQuery, nil))

		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
		}
	})
}

func TestCreateBookValidation(t *testing.T) {
	h := newTestMux(&svcctx.Services{Logger: discardLogger()}, &CreateBookEndpoint{})

	cases := []struct {
		name string
		body string
	}{
		{"missing title", `{"reader_name": "Maya", "pages": [{"order": 1}]}`},
		{"missing reader name", `{"title": "Maya and the Moon", "pages": [{"order": 1}]}`},
		{"no pages", `{"title": "Maya and the Moon", "reader_name": "Maya"}`},
		{"malformed json", `{"title": `},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest("POST", "/api/books", strings.NewReader(tc.body)))

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestRegistryListsEveryRoute(t *testing.T) {
	eps := All(Config{})

	seen := make(map[string]bool)
	for _, ep := range eps {
		method, path, handler := ep.Route()
		if method == "" || path == "" || handler == nil {
			t.Errorf("endpoint %T has incomplete route", ep)
		}
		key := method + " " + path
		if seen[key] {
			t.Errorf("duplicate route %s", key)
		}
		seen[key] = true
	}

	for _, want := range []string{
		"GET /health",
		"GET /ready",
		"GET /status",
		"POST /api/books",
		"GET /api/books",
		"GET /api/books/{book_id}",
		"POST /api/books/{book_id}/jobs",
		"GET /api/books/{book_id}/jobs",
		"GET /api/jobs/{job_id}",
		"GET /api/books/{book_id}/artifacts/{artifact_id}",
		"POST /api/books/{book_id}/artifacts/{artifact_id}/pages/{page_ref}/regenerate",
		"POST /api/books/{book_id}/artifacts/{artifact_id}/pages/{page_ref}/select",
		"POST /api/webhooks/generations",
		"GET /assets/{key...}",
	} {
		if !seen[want] {
			t.Errorf("route %s not registered", want)
		}
	}
}
