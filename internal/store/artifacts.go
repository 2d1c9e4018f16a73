package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/fableforge/fable/internal/assemble"
	"github.com/fableforge/fable/internal/assets"
)

const (
	artifactCollection     = "Artifact"
	artifactPageCollection = "ArtifactPage"

	artifactFields = `id book_id job_id pdf page_count created_at`

	artifactPageFields = `artifact_id page_id order kind text prompt background
		character character_original candidates ranking selected_candidate
		created_at updated_at`
)

// CreateArtifact persists an artifact document. Snapshot rows are
// written separately via CreateArtifactPages.
func (s *Store) CreateArtifact(ctx context.Context, artifact *assemble.Artifact) error {
	input := map[string]any{
		"id":         artifact.ID,
		"book_id":    artifact.BookID,
		"job_id":     artifact.JobID,
		"pdf":        assets.MarshalString(artifact.PDF),
		"page_count": artifact.PageCount,
		"created_at": timeStr(artifact.CreatedAt),
	}
	if _, err := s.client.Create(ctx, artifactCollection, input); err != nil {
		return fmt.Errorf("create artifact: %w", err)
	}
	return nil
}

// CreateArtifactPages persists snapshot rows in one batch.
func (s *Store) CreateArtifactPages(ctx context.Context, pages []*assemble.ArtifactPage) error {
	if len(pages) == 0 {
		return nil
	}
	inputs := make([]map[string]any, len(pages))
	for i, page := range pages {
		inputs[i] = map[string]any{
			"artifact_id":        page.ArtifactID,
			"page_id":            page.PageID,
			"order":              page.Order,
			"kind":               page.Kind,
			"text":               page.Text,
			"prompt":             page.Prompt,
			"background":         assets.MarshalString(page.Background),
			"character":          assets.MarshalString(page.Character),
			"character_original": assets.MarshalString(page.CharacterOriginal),
			"candidates":         assets.MarshalList(page.Candidates),
			"ranking":            marshalRanking(page.Ranking),
			"selected_candidate": page.SelectedCandidate,
			"created_at":         timeStr(page.CreatedAt),
			"updated_at":         timeStr(time.Now()),
		}
	}
	if _, err := s.client.CreateMany(ctx, artifactPageCollection, inputs, "order"); err != nil {
		return fmt.Errorf("create artifact pages: %w", err)
	}
	return nil
}

// GetArtifact returns an artifact with its snapshot rows ordered
// ascending, or assemble.ErrArtifactNotFound.
func (s *Store) GetArtifact(ctx context.Context, id string) (*assemble.Artifact, error) {
	query := fmt.Sprintf(`{ %s(filter: {id: {_eq: %s}}) { %s } }`,
		artifactCollection, gqlStr(id), artifactFields)
	resp, err := s.client.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query artifact: %w", err)
	}
	if msg := resp.Error(); msg != "" {
		return nil, fmt.Errorf("query artifact: %s", msg)
	}

	docs := resp.Docs(artifactCollection)
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: %s", assemble.ErrArtifactNotFound, id)
	}
	artifact := docToArtifact(docs[0])

	pageQuery := fmt.Sprintf(`{ %s(filter: {artifact_id: {_eq: %s}}) { %s } }`,
		artifactPageCollection, gqlStr(id), artifactPageFields)
	pageResp, err := s.client.Query(ctx, pageQuery)
	if err != nil {
		return nil, fmt.Errorf("query artifact pages: %w", err)
	}
	if msg := pageResp.Error(); msg != "" {
		return nil, fmt.Errorf("query artifact pages: %s", msg)
	}
	for _, doc := range pageResp.Docs(artifactPageCollection) {
		artifact.Pages = append(artifact.Pages, docToArtifactPage(doc))
	}
	sort.Slice(artifact.Pages, func(i, j int) bool { return artifact.Pages[i].Order < artifact.Pages[j].Order })
	return artifact, nil
}

// UpdateArtifactPage patches the single snapshot row addressed by
// artifact id and order.
func (s *Store) UpdateArtifactPage(ctx context.Context, artifactID string, order float64, patch assemble.PagePatch) error {
	input := map[string]any{"updated_at": timeStr(time.Now())}
	if patch.Character != nil {
		input["character"] = assets.MarshalString(patch.Character)
	}
	if patch.CharacterOriginal != nil {
		input["character_original"] = assets.MarshalString(patch.CharacterOriginal)
	}
	if patch.SelectedCandidate != nil {
		input["selected_candidate"] = *patch.SelectedCandidate
	}

	filter := map[string]any{
		"artifact_id": map[string]any{"_eq": artifactID},
		"order":       map[string]any{"_eq": order},
	}
	if err := s.client.UpdateWhere(ctx, artifactPageCollection, filter, input); err != nil {
		return fmt.Errorf("update artifact page: %w", err)
	}
	return nil
}

func docToArtifact(doc map[string]any) *assemble.Artifact {
	return &assemble.Artifact{
		ID:        docStr(doc, "id"),
		BookID:    docStr(doc, "book_id"),
		JobID:     docStr(doc, "job_id"),
		PDF:       assets.UnmarshalString(docStr(doc, "pdf")),
		PageCount: docInt(doc, "page_count"),
		CreatedAt: docTime(doc, "created_at"),
	}
}

func docToArtifactPage(doc map[string]any) *assemble.ArtifactPage {
	return &assemble.ArtifactPage{
		ArtifactID:        docStr(doc, "artifact_id"),
		PageID:            docStr(doc, "page_id"),
		Order:             docFloat(doc, "order"),
		Kind:              docStr(doc, "kind"),
		Text:              docStr(doc, "text"),
		Prompt:            docStr(doc, "prompt"),
		Background:        assets.UnmarshalString(docStr(doc, "background")),
		Character:         assets.UnmarshalString(docStr(doc, "character")),
		CharacterOriginal: assets.UnmarshalString(docStr(doc, "character_original")),
		Candidates:        assets.UnmarshalList(docStr(doc, "candidates")),
		Ranking:           unmarshalRanking(docStr(doc, "ranking")),
		SelectedCandidate: docInt(doc, "selected_candidate"),
		CreatedAt:         docTime(doc, "created_at"),
		UpdatedAt:         docTime(doc, "updated_at"),
	}
}
