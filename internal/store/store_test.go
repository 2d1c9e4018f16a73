package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fableforge/fable/internal/assemble"
	"github.com/fableforge/fable/internal/assets"
	"github.com/fableforge/fable/internal/books"
	"github.com/fableforge/fable/internal/defra"
	"github.com/fableforge/fable/internal/generations"
	"github.com/fableforge/fable/internal/jobs"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// docRoundTrip pushes an input map through JSON so numerics come back
// as float64, the same shape GraphQL responses decode to.
func docRoundTrip(t *testing.T, input map[string]any) map[string]any {
	t.Helper()
	b, err := json.Marshal(input)
	if err != nil {
		t.Fatalf("marshal input: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(b, &doc); err != nil {
		t.Fatalf("unmarshal doc: %v", err)
	}
	return doc
}

func TestCodecHelpers(t *testing.T) {
	t.Run("time round trip", func(t *testing.T) {
		at := time.Date(2024, 6, 1, 12, 30, 45, 123456789, time.UTC)
		doc := map[string]any{"created_at": timeStr(at)}
		if got := docTime(doc, "created_at"); !got.Equal(at) {
			t.Fatalf("docTime = %v, want %v", got, at)
		}
	})

	t.Run("zero time stores empty", func(t *testing.T) {
		if got := timeStr(time.Time{}); got != "" {
			t.Fatalf("timeStr(zero) = %q, want empty", got)
		}
		if got := docTime(map[string]any{}, "created_at"); !got.IsZero() {
			t.Fatalf("docTime(absent) = %v, want zero", got)
		}
		if got := docTime(map[string]any{"created_at": "garbage"}, "created_at"); !got.IsZero() {
			t.Fatalf("docTime(garbage) = %v, want zero", got)
		}
	})

	t.Run("gql string escaping", func(t *testing.T) {
		if got := gqlStr(`he said "hi"`); got != `"he said \"hi\""` {
			t.Fatalf("gqlStr = %s", got)
		}
	})

	t.Run("gql float formatting", func(t *testing.T) {
		if got := gqlFloat(0.5); got != "0.5" {
			t.Fatalf("gqlFloat(0.5) = %s", got)
		}
		if got := gqlFloat(3); got != "3" {
			t.Fatalf("gqlFloat(3) = %s", got)
		}
	})

	t.Run("events round trip", func(t *testing.T) {
		at := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
		events := []jobs.Event{
			{Message: "job started", At: at},
			{Message: "page 1 dispatched", At: at.Add(time.Second)},
		}
		got := unmarshalEvents(marshalEvents(events))
		if len(got) != 2 {
			t.Fatalf("got %d events, want 2", len(got))
		}
		if got[1].Message != "page 1 dispatched" || !got[1].At.Equal(events[1].At) {
			t.Fatalf("event mismatch: %+v", got[1])
		}
		if marshalEvents(nil) != "" {
			t.Fatal("empty event log should store as empty string")
		}
		if unmarshalEvents("") != nil {
			t.Fatal("empty string should decode to nil events")
		}
	})

	t.Run("ranking round trip", func(t *testing.T) {
		r := &generations.Ranking{
			Winners: []int{2},
			Ranked:  []generations.RankedCandidate{{Index: 2, Rank: 1, Score: 0.9}},
			Summary: "candidate 2 has the cleanest face",
		}
		got := unmarshalRanking(marshalRanking(r))
		if got == nil || len(got.Winners) != 1 || got.Winners[0] != 2 {
			t.Fatalf("ranking winners = %+v", got)
		}
		if got.Summary != r.Summary {
			t.Fatalf("summary = %q", got.Summary)
		}
		if unmarshalRanking("") != nil {
			t.Fatal("empty string should decode to nil ranking")
		}
	})

	t.Run("map round trip", func(t *testing.T) {
		m := map[string]any{"num_outputs": float64(4), "lora_scale": 0.8}
		got := unmarshalMap(marshalMap(m))
		if got["num_outputs"] != float64(4) || got["lora_scale"] != 0.8 {
			t.Fatalf("map = %+v", got)
		}
		if marshalMap(nil) != "" {
			t.Fatal("nil map should store as empty string")
		}
	})
}

func TestJobDocumentRoundTrip(t *testing.T) {
	eta := 42
	created := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	job := &jobs.Job{
		ID:            "job-1",
		BookID:        "book-1",
		TrainingID:    "train-1",
		UserID:        "user-1",
		ReaderID:      "reader-1",
		ReaderName:    "Maya",
		Pronouns:      "she/her",
		Title:         "The Great Adventure",
		Status:        jobs.StatusGenerating,
		Progress:      37,
		AssemblyBonus: 0,
		ETASeconds:    &eta,
		Error:         "",
		Events:        []jobs.Event{{Message: "job started", At: created}},
		ArtifactID:    "",
		CreatedAt:     created,
		StartedAt:     created.Add(time.Second),
	}

	got := docToJob(docRoundTrip(t, jobInput(job)))

	if got.ID != job.ID || got.BookID != job.BookID || got.TrainingID != job.TrainingID {
		t.Fatalf("identity mismatch: %+v", got)
	}
	if got.ReaderName != "Maya" || got.Pronouns != "she/her" || got.Title != job.Title {
		t.Fatalf("reader fields mismatch: %+v", got)
	}
	if got.Status != jobs.StatusGenerating || got.Progress != 37 {
		t.Fatalf("status/progress mismatch: %s %d", got.Status, got.Progress)
	}
	if got.ETASeconds == nil || *got.ETASeconds != 42 {
		t.Fatalf("eta = %v, want 42", got.ETASeconds)
	}
	if len(got.Events) != 1 || got.Events[0].Message != "job started" {
		t.Fatalf("events = %+v", got.Events)
	}
	if !got.CreatedAt.Equal(created) || !got.StartedAt.Equal(created.Add(time.Second)) {
		t.Fatalf("timestamps mismatch: %v %v", got.CreatedAt, got.StartedAt)
	}
	if !got.CompletedAt.IsZero() {
		t.Fatalf("completed_at = %v, want zero", got.CompletedAt)
	}
}

func TestJobETASentinel(t *testing.T) {
	t.Run("nil eta stores as -1", func(t *testing.T) {
		doc := docRoundTrip(t, jobInput(&jobs.Job{ID: "job-1"}))
		if doc["eta_seconds"] != float64(-1) {
			t.Fatalf("eta_seconds = %v, want -1", doc["eta_seconds"])
		}
		if got := docToJob(doc); got.ETASeconds != nil {
			t.Fatalf("eta = %v, want nil", got.ETASeconds)
		}
	})

	t.Run("absent eta reads as nil", func(t *testing.T) {
		if got := docToJob(map[string]any{"id": "job-1"}); got.ETASeconds != nil {
			t.Fatalf("eta = %v, want nil", got.ETASeconds)
		}
	})

	t.Run("zero is a valid eta", func(t *testing.T) {
		got := docToJob(map[string]any{"id": "job-1", "eta_seconds": float64(0)})
		if got.ETASeconds == nil || *got.ETASeconds != 0 {
			t.Fatalf("eta = %v, want 0", got.ETASeconds)
		}
	})
}

func TestPageDocumentRoundTrip(t *testing.T) {
	sel := 2
	page := &jobs.Page{
		JobID:        "job-1",
		PageID:       "cp-1",
		Order:        0.5,
		Kind:         "dedication",
		Text:         "For Maya",
		Prompt:       "Maya riding a dragon",
		Background:   &assets.Descriptor{Key: "books/book-1/bg.png", URL: "http://assets/bg.png"},
		Status:       jobs.PageCompleted,
		Progress:     100,
		GenerationID: "gen-1",
		Character:    &assets.Descriptor{Key: "books/book-1/char.png"},
		Ranking:      &generations.Ranking{Winners: []int{2}},
		Candidates: []assets.Descriptor{
			{Key: "gen-1/0.png"},
			{Key: "gen-1/1.png"},
			{Key: "gen-1/2.png"},
		},
		SelectedCandidate: sel,
		Events:            []jobs.Event{{Message: "ranked", At: time.Date(2024, 6, 1, 11, 0, 0, 0, time.UTC)}},
	}

	got := docToPage(docRoundTrip(t, pageInput(page)))

	if got.JobID != "job-1" || got.PageID != "cp-1" || got.Order != 0.5 {
		t.Fatalf("identity mismatch: %+v", got)
	}
	if got.Kind != "dedication" || got.Text != "For Maya" || got.Prompt != page.Prompt {
		t.Fatalf("content mismatch: %+v", got)
	}
	if got.Background == nil || got.Background.Key != "books/book-1/bg.png" {
		t.Fatalf("background = %+v", got.Background)
	}
	if got.Character == nil || got.Character.Key != "books/book-1/char.png" {
		t.Fatalf("character = %+v", got.Character)
	}
	if got.CharacterOriginal != nil {
		t.Fatalf("character_original = %+v, want nil", got.CharacterOriginal)
	}
	if len(got.Candidates) != 3 || got.Candidates[2].Key != "gen-1/2.png" {
		t.Fatalf("candidates = %+v", got.Candidates)
	}
	if got.Ranking == nil || got.Ranking.Winners[0] != 2 {
		t.Fatalf("ranking = %+v", got.Ranking)
	}
	if got.SelectedCandidate != 2 || got.Status != jobs.PageCompleted || got.Progress != 100 {
		t.Fatalf("selection/status mismatch: %+v", got)
	}
}

// fakeDefra answers GraphQL requests from a canned table keyed by a
// substring of the query, and records every query it sees.
type fakeDefra struct {
	t       *testing.T
	answers map[string]map[string]any
	queries []string
}

func (f *fakeDefra) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req defra.GQLRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			f.t.Errorf("decode request: %v", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.queries = append(f.queries, req.Query)
		for needle, data := range f.answers {
			if strings.Contains(req.Query, needle) {
				json.NewEncoder(w).Encode(map[string]any{"data": data})
				return
			}
		}
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{}})
	})
}

func (f *fakeDefra) sawQuery(needle string) bool {
	for _, q := range f.queries {
		if strings.Contains(q, needle) {
			return true
		}
	}
	return false
}

func newTestStore(t *testing.T, fake *fakeDefra) *Store {
	t.Helper()
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)
	return New(defra.NewClient(srv.URL), discardLogger())
}

func TestStoreGetJob(t *testing.T) {
	jobDoc := docRoundTrip(t, jobInput(&jobs.Job{
		ID:     "job-1",
		BookID: "book-1",
		Status: jobs.StatusGenerating,
	}))
	page0 := docRoundTrip(t, pageInput(&jobs.Page{JobID: "job-1", Order: 0, Kind: "cover", Status: jobs.PageQueued}))
	page2 := docRoundTrip(t, pageInput(&jobs.Page{JobID: "job-1", Order: 2, Kind: "story", Status: jobs.PageQueued}))

	fake := &fakeDefra{t: t, answers: map[string]map[string]any{
		"RenderJob(filter": {"RenderJob": []any{jobDoc}},
		// Out of order on purpose; GetJob must sort ascending.
		"JobPage(filter": {"JobPage": []any{page2, page0}},
	}}
	store := newTestStore(t, fake)

	job, err := store.GetJob(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.ID != "job-1" || job.Status != jobs.StatusGenerating {
		t.Fatalf("job = %+v", job)
	}
	if len(job.Pages) != 2 || job.Pages[0].Order != 0 || job.Pages[1].Order != 2 {
		t.Fatalf("pages not sorted: %+v", job.Pages)
	}
	if job.ETASeconds != nil {
		t.Fatalf("eta = %v, want nil", job.ETASeconds)
	}
}

func TestStoreGetJobNotFound(t *testing.T) {
	fake := &fakeDefra{t: t, answers: map[string]map[string]any{
		"RenderJob(filter": {"RenderJob": []any{}},
	}}
	store := newTestStore(t, fake)

	_, err := store.GetJob(context.Background(), "missing")
	if !errors.Is(err, jobs.ErrJobNotFound) {
		t.Fatalf("err = %v, want ErrJobNotFound", err)
	}
}

func TestStoreUpdateJobPageFilter(t *testing.T) {
	fake := &fakeDefra{t: t, answers: map[string]map[string]any{
		"update_JobPage": {"update_JobPage": []any{map[string]any{"_docID": "doc-1"}}},
	}}
	store := newTestStore(t, fake)

	status := jobs.PageCompleted
	progress := 100
	err := store.UpdateJobPage(context.Background(), "job-1", 2, jobs.PagePatch{
		Status:   &status,
		Progress: &progress,
	})
	if err != nil {
		t.Fatalf("UpdateJobPage: %v", err)
	}

	if len(fake.queries) != 1 {
		t.Fatalf("got %d queries, want 1", len(fake.queries))
	}
	q := fake.queries[0]
	for _, want := range []string{"update_JobPage", `job_id: {_eq: "job-1"}`, "order: {_eq: 2}", `status: "completed"`, "progress: 100"} {
		if !strings.Contains(q, want) {
			t.Fatalf("query missing %q:\n%s", want, q)
		}
	}
}

func TestStoreUpdateJobAppendEvent(t *testing.T) {
	existing := marshalEvents([]jobs.Event{{Message: "job started", At: time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)}})
	fake := &fakeDefra{t: t, answers: map[string]map[string]any{
		"{ RenderJob(filter": {"RenderJob": []any{map[string]any{"id": "job-1", "events": existing}}},
		"update_RenderJob":   {"update_RenderJob": []any{map[string]any{"_docID": "doc-1"}}},
	}}
	store := newTestStore(t, fake)

	ev := jobs.NewEvent("assembly started")
	err := store.UpdateJob(context.Background(), "job-1", jobs.JobPatch{AppendEvent: &ev})
	if err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	// Read-modify-write: a query for the current log, then the patch
	// carrying both events.
	if len(fake.queries) != 2 {
		t.Fatalf("got %d queries, want 2", len(fake.queries))
	}
	update := fake.queries[1]
	if !strings.Contains(update, "job started") || !strings.Contains(update, "assembly started") {
		t.Fatalf("update does not carry appended log:\n%s", update)
	}
}

func TestStoreListGeneratingPages(t *testing.T) {
	stale := docRoundTrip(t, pageInput(&jobs.Page{JobID: "job-1", Order: 1, Status: jobs.PageGenerating}))
	fake := &fakeDefra{t: t, answers: map[string]map[string]any{
		"JobPage(filter": {"JobPage": []any{stale}},
	}}
	store := newTestStore(t, fake)

	cutoff := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	pages, err := store.ListGeneratingPages(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("ListGeneratingPages: %v", err)
	}
	if len(pages) != 1 || pages[0].Order != 1 {
		t.Fatalf("pages = %+v", pages)
	}
	if !fake.sawQuery(`status: {_eq: "generating"}`) {
		t.Fatal("query missing status filter")
	}
	if !fake.sawQuery(fmt.Sprintf("updated_at: {_lt: %s}", gqlStr(timeStr(cutoff)))) {
		t.Fatal("query missing updated_at cutoff")
	}
}

func TestStoreGetArtifactNotFound(t *testing.T) {
	fake := &fakeDefra{t: t, answers: map[string]map[string]any{
		"Artifact(filter": {"Artifact": []any{}},
	}}
	store := newTestStore(t, fake)

	_, err := store.GetArtifact(context.Background(), "missing")
	if !errors.Is(err, assemble.ErrArtifactNotFound) {
		t.Fatalf("err = %v, want ErrArtifactNotFound", err)
	}
}

func TestStoreCreateBookAssignsID(t *testing.T) {
	fake := &fakeDefra{t: t, answers: map[string]map[string]any{
		"create_Book": {"create_Book": []any{map[string]any{"_docID": "doc-1"}}},
	}}
	store := newTestStore(t, fake)

	id, err := store.CreateBook(context.Background(), &books.Book{Title: "The Great Adventure", ReaderName: "Maya"})
	if err != nil {
		t.Fatalf("CreateBook: %v", err)
	}
	if id == "" {
		t.Fatal("CreateBook returned empty id")
	}
	if !fake.sawQuery(fmt.Sprintf("id: %s", gqlStr(id))) {
		t.Fatal("create mutation missing assigned id")
	}
}
