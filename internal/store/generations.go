package store

import (
	"context"
	"fmt"

	"github.com/fableforge/fable/internal/assets"
	"github.com/fableforge/fable/internal/generations"
)

const (
	generationCollection = "Generation"

	generationFields = `id job_id page_id prompt model_version input status images
		ranking error created_at completed_at`
)

// ErrGenerationNotFound is returned when a generation lookup matches
// nothing.
var ErrGenerationNotFound = fmt.Errorf("generation not found")

// CreateGeneration persists a generation document.
func (s *Store) CreateGeneration(ctx context.Context, gen *generations.Generation) error {
	input := map[string]any{
		"id":            gen.ID,
		"job_id":        gen.JobID,
		"page_id":       gen.PageID,
		"prompt":        gen.Prompt,
		"model_version": gen.ModelVersion,
		"input":         marshalMap(gen.Input),
		"status":        string(gen.Status),
		"images":        assets.MarshalList(gen.Images),
		"ranking":       marshalRanking(gen.Ranking),
		"error":         gen.Error,
		"created_at":    timeStr(gen.CreatedAt),
		"completed_at":  timeStr(gen.CompletedAt),
	}
	if _, err := s.client.Create(ctx, generationCollection, input); err != nil {
		return fmt.Errorf("create generation: %w", err)
	}
	return nil
}

// GetGeneration returns a generation by id, or ErrGenerationNotFound.
func (s *Store) GetGeneration(ctx context.Context, id string) (*generations.Generation, error) {
	query := fmt.Sprintf(`{ %s(filter: {id: {_eq: %s}}) { %s } }`,
		generationCollection, gqlStr(id), generationFields)
	resp, err := s.client.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query generation: %w", err)
	}
	if msg := resp.Error(); msg != "" {
		return nil, fmt.Errorf("query generation: %s", msg)
	}

	docs := resp.Docs(generationCollection)
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrGenerationNotFound, id)
	}
	return docToGeneration(docs[0]), nil
}

// UpdateGeneration applies a targeted patch to one generation document.
func (s *Store) UpdateGeneration(ctx context.Context, id string, patch generations.Patch) error {
	input := map[string]any{}
	if patch.Status != nil {
		input["status"] = string(*patch.Status)
	}
	if patch.Images != nil {
		input["images"] = assets.MarshalList(patch.Images)
	}
	if patch.Ranking != nil {
		input["ranking"] = marshalRanking(patch.Ranking)
	}
	if patch.Error != nil {
		input["error"] = *patch.Error
	}
	if patch.CompletedAt != nil {
		input["completed_at"] = timeStr(*patch.CompletedAt)
	}
	if len(input) == 0 {
		return nil
	}

	if err := s.client.UpdateWhere(ctx, generationCollection,
		map[string]any{"id": map[string]any{"_eq": id}}, input); err != nil {
		return fmt.Errorf("update generation: %w", err)
	}
	return nil
}

func docToGeneration(doc map[string]any) *generations.Generation {
	return &generations.Generation{
		ID:           docStr(doc, "id"),
		JobID:        docStr(doc, "job_id"),
		PageID:       docStr(doc, "page_id"),
		Prompt:       docStr(doc, "prompt"),
		ModelVersion: docStr(doc, "model_version"),
		Input:        unmarshalMap(docStr(doc, "input")),
		Status:       generations.Status(docStr(doc, "status")),
		Images:       assets.UnmarshalList(docStr(doc, "images")),
		Ranking:      unmarshalRanking(docStr(doc, "ranking")),
		Error:        docStr(doc, "error"),
		CreatedAt:    docTime(doc, "created_at"),
		CompletedAt:  docTime(doc, "completed_at"),
	}
}
