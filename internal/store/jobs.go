package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/fableforge/fable/internal/assets"
	"github.com/fableforge/fable/internal/jobs"
)

const (
	jobCollection     = "RenderJob"
	jobPageCollection = "JobPage"

	jobFields = `id book_id training_id user_id reader_id reader_name pronouns title
		status progress assembly_bonus eta_seconds error events artifact_id
		created_at started_at completed_at updated_at`

	jobPageFields = `job_id page_id order kind text prompt background status progress
		generation_id character character_original ranking candidates
		selected_candidate events error updated_at`
)

// CreateJob persists the job document and one JobPage document per
// page in a single batch.
func (s *Store) CreateJob(ctx context.Context, job *jobs.Job) error {
	if _, err := s.client.Create(ctx, jobCollection, jobInput(job)); err != nil {
		return fmt.Errorf("create job: %w", err)
	}

	inputs := make([]map[string]any, len(job.Pages))
	for i, page := range job.Pages {
		inputs[i] = pageInput(page)
	}
	if _, err := s.client.CreateMany(ctx, jobPageCollection, inputs, "order"); err != nil {
		return fmt.Errorf("create job pages: %w", err)
	}
	return nil
}

// GetJob returns the job with its pages ordered ascending.
func (s *Store) GetJob(ctx context.Context, id string) (*jobs.Job, error) {
	query := fmt.Sprintf(`{ %s(filter: {id: {_eq: %s}}) { %s } }`,
		jobCollection, gqlStr(id), jobFields)
	resp, err := s.client.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query job: %w", err)
	}
	if msg := resp.Error(); msg != "" {
		return nil, fmt.Errorf("query job: %s", msg)
	}

	docs := resp.Docs(jobCollection)
	if len(docs) == 0 {
		return nil, jobs.ErrJobNotFound
	}
	job := docToJob(docs[0])

	pages, err := s.pagesForJob(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	job.Pages = pages
	return job, nil
}

// ListJobsForBook returns jobs for a book, newest first.
func (s *Store) ListJobsForBook(ctx context.Context, bookID string, limit int) ([]*jobs.Job, error) {
	query := fmt.Sprintf(`{ %s(filter: {book_id: {_eq: %s}}) { %s } }`,
		jobCollection, gqlStr(bookID), jobFields)
	resp, err := s.client.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	if msg := resp.Error(); msg != "" {
		return nil, fmt.Errorf("query jobs: %s", msg)
	}

	list := make([]*jobs.Job, 0)
	for _, doc := range resp.Docs(jobCollection) {
		list = append(list, docToJob(doc))
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}

	for _, job := range list {
		pages, err := s.pagesForJob(ctx, job.ID)
		if err != nil {
			return nil, err
		}
		job.Pages = pages
	}
	return list, nil
}

// UpdateJob applies a targeted patch to one job document.
func (s *Store) UpdateJob(ctx context.Context, id string, patch jobs.JobPatch) error {
	input := map[string]any{"updated_at": timeStr(time.Now())}
	if patch.Status != nil {
		input["status"] = string(*patch.Status)
	}
	if patch.Progress != nil {
		input["progress"] = *patch.Progress
	}
	if patch.AssemblyBonus != nil {
		input["assembly_bonus"] = *patch.AssemblyBonus
	}
	if patch.ETASeconds != nil {
		input["eta_seconds"] = *patch.ETASeconds
	}
	if patch.ClearETA {
		input["eta_seconds"] = -1
	}
	if patch.Error != nil {
		input["error"] = *patch.Error
	}
	if patch.ArtifactID != nil {
		input["artifact_id"] = *patch.ArtifactID
	}
	if patch.StartedAt != nil {
		input["started_at"] = timeStr(*patch.StartedAt)
	}
	if patch.CompletedAt != nil {
		input["completed_at"] = timeStr(*patch.CompletedAt)
	}
	if patch.AppendEvent != nil {
		events, err := s.jobEvents(ctx, id)
		if err != nil {
			return err
		}
		input["events"] = marshalEvents(append(events, *patch.AppendEvent))
	}

	if err := s.client.UpdateWhere(ctx, jobCollection,
		map[string]any{"id": map[string]any{"_eq": id}}, input); err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// UpdateJobPage applies a targeted patch to the single JobPage document
// addressed by job id and order.
func (s *Store) UpdateJobPage(ctx context.Context, jobID string, order float64, patch jobs.PagePatch) error {
	input := map[string]any{"updated_at": timeStr(time.Now())}
	if patch.Status != nil {
		input["status"] = string(*patch.Status)
	}
	if patch.Progress != nil {
		input["progress"] = *patch.Progress
	}
	if patch.GenerationID != nil {
		input["generation_id"] = *patch.GenerationID
	}
	if patch.Character != nil {
		input["character"] = assets.MarshalString(patch.Character)
	}
	if patch.CharacterOriginal != nil {
		input["character_original"] = assets.MarshalString(patch.CharacterOriginal)
	}
	if patch.Ranking != nil {
		input["ranking"] = marshalRanking(patch.Ranking)
	}
	if patch.Candidates != nil {
		input["candidates"] = assets.MarshalList(patch.Candidates)
	}
	if patch.SelectedCandidate != nil {
		input["selected_candidate"] = *patch.SelectedCandidate
	}
	if patch.Error != nil {
		input["error"] = *patch.Error
	}
	if patch.AppendEvent != nil {
		events, err := s.pageEvents(ctx, jobID, order)
		if err != nil {
			return err
		}
		input["events"] = marshalEvents(append(events, *patch.AppendEvent))
	}

	filter := map[string]any{
		"job_id": map[string]any{"_eq": jobID},
		"order":  map[string]any{"_eq": order},
	}
	if err := s.client.UpdateWhere(ctx, jobPageCollection, filter, input); err != nil {
		return fmt.Errorf("update job page: %w", err)
	}
	return nil
}

// ListGeneratingPages returns pages stuck in generating since before
// the cutoff. RFC3339 strings compare correctly lexicographically.
func (s *Store) ListGeneratingPages(ctx context.Context, updatedBefore time.Time) ([]*jobs.Page, error) {
	query := fmt.Sprintf(`{ %s(filter: {status: {_eq: "generating"}, updated_at: {_lt: %s}}) { %s } }`,
		jobPageCollection, gqlStr(timeStr(updatedBefore)), jobPageFields)
	resp, err := s.client.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query generating pages: %w", err)
	}
	if msg := resp.Error(); msg != "" {
		return nil, fmt.Errorf("query generating pages: %s", msg)
	}

	var pages []*jobs.Page
	for _, doc := range resp.Docs(jobPageCollection) {
		pages = append(pages, docToPage(doc))
	}
	return pages, nil
}

func (s *Store) pagesForJob(ctx context.Context, jobID string) ([]*jobs.Page, error) {
	query := fmt.Sprintf(`{ %s(filter: {job_id: {_eq: %s}}) { %s } }`,
		jobPageCollection, gqlStr(jobID), jobPageFields)
	resp, err := s.client.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query job pages: %w", err)
	}
	if msg := resp.Error(); msg != "" {
		return nil, fmt.Errorf("query job pages: %s", msg)
	}

	pages := make([]*jobs.Page, 0)
	for _, doc := range resp.Docs(jobPageCollection) {
		pages = append(pages, docToPage(doc))
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].Order < pages[j].Order })
	return pages, nil
}

func (s *Store) jobEvents(ctx context.Context, id string) ([]jobs.Event, error) {
	query := fmt.Sprintf(`{ %s(filter: {id: {_eq: %s}}) { events } }`, jobCollection, gqlStr(id))
	resp, err := s.client.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query job events: %w", err)
	}
	docs := resp.Docs(jobCollection)
	if len(docs) == 0 {
		return nil, jobs.ErrJobNotFound
	}
	return unmarshalEvents(docStr(docs[0], "events")), nil
}

func (s *Store) pageEvents(ctx context.Context, jobID string, order float64) ([]jobs.Event, error) {
	query := fmt.Sprintf(`{ %s(filter: {job_id: {_eq: %s}, order: {_eq: %s}}) { events } }`,
		jobPageCollection, gqlStr(jobID), gqlFloat(order))
	resp, err := s.client.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query page events: %w", err)
	}
	docs := resp.Docs(jobPageCollection)
	if len(docs) == 0 {
		return nil, fmt.Errorf("job %s has no page with order %v", jobID, order)
	}
	return unmarshalEvents(docStr(docs[0], "events")), nil
}

func jobInput(job *jobs.Job) map[string]any {
	eta := -1
	if job.ETASeconds != nil {
		eta = *job.ETASeconds
	}
	return map[string]any{
		"id":             job.ID,
		"book_id":        job.BookID,
		"training_id":    job.TrainingID,
		"user_id":        job.UserID,
		"reader_id":      job.ReaderID,
		"reader_name":    job.ReaderName,
		"pronouns":       job.Pronouns,
		"title":          job.Title,
		"status":         string(job.Status),
		"progress":       job.Progress,
		"assembly_bonus": job.AssemblyBonus,
		"eta_seconds":    eta,
		"error":          job.Error,
		"events":         marshalEvents(job.Events),
		"artifact_id":    job.ArtifactID,
		"created_at":     timeStr(job.CreatedAt),
		"started_at":     timeStr(job.StartedAt),
		"completed_at":   timeStr(job.CompletedAt),
		"updated_at":     timeStr(time.Now()),
	}
}

func pageInput(page *jobs.Page) map[string]any {
	return map[string]any{
		"job_id":             page.JobID,
		"page_id":            page.PageID,
		"order":              page.Order,
		"kind":               page.Kind,
		"text":               page.Text,
		"prompt":             page.Prompt,
		"background":         assets.MarshalString(page.Background),
		"status":             string(page.Status),
		"progress":           page.Progress,
		"generation_id":      page.GenerationID,
		"character":          assets.MarshalString(page.Character),
		"character_original": assets.MarshalString(page.CharacterOriginal),
		"ranking":            marshalRanking(page.Ranking),
		"candidates":         assets.MarshalList(page.Candidates),
		"selected_candidate": page.SelectedCandidate,
		"events":             marshalEvents(page.Events),
		"error":              page.Error,
		"updated_at":         timeStr(time.Now()),
	}
}

func docToJob(doc map[string]any) *jobs.Job {
	job := &jobs.Job{
		ID:            docStr(doc, "id"),
		BookID:        docStr(doc, "book_id"),
		TrainingID:    docStr(doc, "training_id"),
		UserID:        docStr(doc, "user_id"),
		ReaderID:      docStr(doc, "reader_id"),
		ReaderName:    docStr(doc, "reader_name"),
		Pronouns:      docStr(doc, "pronouns"),
		Title:         docStr(doc, "title"),
		Status:        jobs.Status(docStr(doc, "status")),
		Progress:      docInt(doc, "progress"),
		AssemblyBonus: docInt(doc, "assembly_bonus"),
		Error:         docStr(doc, "error"),
		Events:        unmarshalEvents(docStr(doc, "events")),
		ArtifactID:    docStr(doc, "artifact_id"),
		CreatedAt:     docTime(doc, "created_at"),
		StartedAt:     docTime(doc, "started_at"),
		CompletedAt:   docTime(doc, "completed_at"),
	}
	// -1 is the stored form of "no ETA".
	if v, ok := doc["eta_seconds"].(float64); ok && v >= 0 {
		eta := int(v)
		job.ETASeconds = &eta
	}
	return job
}

func docToPage(doc map[string]any) *jobs.Page {
	return &jobs.Page{
		JobID:             docStr(doc, "job_id"),
		PageID:            docStr(doc, "page_id"),
		Order:             docFloat(doc, "order"),
		Kind:              docStr(doc, "kind"),
		Text:              docStr(doc, "text"),
		Prompt:            docStr(doc, "prompt"),
		Background:        assets.UnmarshalString(docStr(doc, "background")),
		Status:            jobs.PageStatus(docStr(doc, "status")),
		Progress:          docInt(doc, "progress"),
		GenerationID:      docStr(doc, "generation_id"),
		Character:         assets.UnmarshalString(docStr(doc, "character")),
		CharacterOriginal: assets.UnmarshalString(docStr(doc, "character_original")),
		Ranking:           unmarshalRanking(docStr(doc, "ranking")),
		Candidates:        assets.UnmarshalList(docStr(doc, "candidates")),
		SelectedCandidate: docInt(doc, "selected_candidate"),
		Events:            unmarshalEvents(docStr(doc, "events")),
		Error:             docStr(doc, "error"),
		UpdatedAt:         docTime(doc, "updated_at"),
	}
}
