package assemble

import (
	"context"
	"fmt"
	"strconv"

	"github.com/fableforge/fable/internal/assets"
	"github.com/fableforge/fable/internal/books"
	"github.com/fableforge/fable/internal/finalize"
)

// PageResult is the outcome of a single-page point-fix.
type PageResult struct {
	Order             float64            `json:"order"`
	SelectedCandidate int                `json:"selected_candidate"`
	Character         *assets.Descriptor `json:"character,omitempty"`
	CharacterOriginal *assets.Descriptor `json:"character_original,omitempty"`
}

// GetArtifact loads an artifact with its page snapshots, verifying it
// belongs to the book. Descriptor URLs are re-signed so stale links are
// never served.
func (s *Service) GetArtifact(ctx context.Context, bookID, artifactID string) (*Artifact, error) {
	artifact, err := s.store.GetArtifact(ctx, artifactID)
	if err != nil {
		return nil, err
	}
	if artifact.BookID != bookID {
		return nil, fmt.Errorf("artifact %s does not belong to book %s", artifactID, bookID)
	}

	if artifact.PDF != nil {
		assets.Refresh(s.assets, artifact.PDF)
	}
	for _, p := range artifact.Pages {
		for _, d := range []*assets.Descriptor{p.Background, p.Character, p.CharacterOriginal} {
			if d != nil {
				assets.Refresh(s.assets, d)
			}
		}
		assets.RefreshList(s.assets, p.Candidates)
	}
	return artifact, nil
}

// RegeneratePage re-runs asset finalization for one already-assembled
// page from its currently selected candidate, writing the result
// through to both the live content page and the one snapshot row in
// the addressed artifact. Sibling rows and other artifacts are never
// touched.
func (s *Service) RegeneratePage(ctx context.Context, bookID, artifactID, pageRef string) (*PageResult, error) {
	artifact, snap, live, err := s.resolvePage(ctx, bookID, artifactID, pageRef)
	if err != nil {
		return nil, err
	}
	return s.finalizeCandidate(ctx, artifact, snap, live, snap.SelectedCandidate)
}

// SelectCandidate swaps a previously stored ranking candidate in as the
// page's chosen illustration, finalizing it through the same pipeline.
func (s *Service) SelectCandidate(ctx context.Context, bookID, artifactID, pageRef string, candidateIndex int) (*PageResult, error) {
	artifact, snap, live, err := s.resolvePage(ctx, bookID, artifactID, pageRef)
	if err != nil {
		return nil, err
	}
	return s.finalizeCandidate(ctx, artifact, snap, live, candidateIndex)
}

// resolvePage loads the artifact and locates the snapshot row and live
// content page a reference addresses. The reference is a page order or
// a content-page id.
func (s *Service) resolvePage(ctx context.Context, bookID, artifactID, pageRef string) (*Artifact, *ArtifactPage, *books.ContentPage, error) {
	artifact, err := s.store.GetArtifact(ctx, artifactID)
	if err != nil {
		return nil, nil, nil, err
	}
	if artifact.BookID != bookID {
		return nil, nil, nil, fmt.Errorf("artifact %s does not belong to book %s", artifactID, bookID)
	}

	contentPages, err := s.books.GetPages(ctx, bookID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("fetch content pages: %w", err)
	}

	order, live, err := resolveRef(pageRef, contentPages)
	if err != nil {
		return nil, nil, nil, err
	}

	snap := artifact.PageByOrder(order)
	if snap == nil {
		return nil, nil, nil, fmt.Errorf("%w: artifact %s order %v", ErrPageNotFound, artifactID, order)
	}
	if live == nil {
		for _, cp := range contentPages {
			if cp.Order == order {
				live = cp
				break
			}
		}
	}
	return artifact, snap, live, nil
}

// resolveRef interprets a page reference as a numeric order first, then
// as a content-page id.
func resolveRef(pageRef string, contentPages []*books.ContentPage) (float64, *books.ContentPage, error) {
	if order, err := strconv.ParseFloat(pageRef, 64); err == nil {
		return order, nil, nil
	}
	for _, cp := range contentPages {
		if cp.ID == pageRef {
			return cp.Order, cp, nil
		}
	}
	return 0, nil, fmt.Errorf("%w: reference %q", ErrPageNotFound, pageRef)
}

// finalizeCandidate runs the chosen candidate through asset
// finalization and patches exactly one snapshot row plus the live
// content page.
func (s *Service) finalizeCandidate(ctx context.Context, artifact *Artifact, snap *ArtifactPage, live *books.ContentPage, candidateIndex int) (*PageResult, error) {
	if candidateIndex < 0 || candidateIndex >= len(snap.Candidates) {
		return nil, fmt.Errorf("candidate index %d out of range (%d candidates)", candidateIndex, len(snap.Candidates))
	}

	res, err := s.finalizer.Finalize(ctx, finalize.Request{
		Source:      snap.Candidates[candidateIndex],
		DestKey:     finalize.CharacterKey(artifact.BookID, snap.Order),
		OriginalKey: finalize.OriginalKey(artifact.BookID, snap.Order),
	})
	if err != nil {
		return nil, fmt.Errorf("finalize candidate %d for page %v: %w", candidateIndex, snap.Order, err)
	}

	if err := s.store.UpdateArtifactPage(ctx, artifact.ID, snap.Order, PagePatch{
		Character:         &res.Character,
		CharacterOriginal: &res.Original,
		SelectedCandidate: &candidateIndex,
	}); err != nil {
		return nil, fmt.Errorf("patch artifact page: %w", err)
	}

	if live != nil {
		if err := s.books.UpdatePage(ctx, live.ID, books.PagePatch{
			Character:         &res.Character,
			CharacterOriginal: &res.Original,
		}); err != nil {
			s.logger.Warn("failed to update live content page",
				"page_id", live.ID,
				"order", snap.Order,
				"error", err)
		}
	}

	s.logger.Info("artifact page finalized",
		"artifact_id", artifact.ID,
		"order", snap.Order,
		"candidate", candidateIndex)

	return &PageResult{
		Order:             snap.Order,
		SelectedCandidate: candidateIndex,
		Character:         &res.Character,
		CharacterOriginal: &res.Original,
	}, nil
}
