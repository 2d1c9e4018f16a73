package endpoints

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/fableforge/fable/internal/api"
	"github.com/fableforge/fable/internal/assemble"
	"github.com/fableforge/fable/internal/assets"
	"github.com/fableforge/fable/internal/svcctx"
)

// GetArtifactEndpoint handles GET /api/books/{book_id}/artifacts/{artifact_id}.
type GetArtifactEndpoint struct{}

func (e *GetArtifactEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/books/{book_id}/artifacts/{artifact_id}", e.handler
}

func (e *GetArtifactEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Get an artifact
//	@Description	Get an assembled artifact with its frozen page snapshots
//	@Tags			artifacts
//	@Produce		json
//	@Param			book_id		path		string	true	"Book ID"
//	@Param			artifact_id	path		string	true	"Artifact ID"
//	@Success		200			{object}	assemble.Artifact
//	@Failure		404			{object}	ErrorResponse
//	@Failure		500			{object}	ErrorResponse
//	@Router			/api/books/{book_id}/artifacts/{artifact_id} [get]
func (e *GetArtifactEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	artifact, err := svcctx.AssemblyFrom(r.Context()).GetArtifact(r.Context(), r.PathValue("book_id"), r.PathValue("artifact_id"))
	if err != nil {
		if errors.Is(err, assemble.ErrArtifactNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, artifact)
}

func (e *GetArtifactEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <book_id> <artifact_id>",
		Short: "Get an assembled artifact",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp assemble.Artifact
			if err := client.Get(cmd.Context(), "/api/books/"+args[0]+"/artifacts/"+args[1], &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// RegeneratePageEndpoint handles
// POST /api/books/{book_id}/artifacts/{artifact_id}/pages/{page_ref}/regenerate.
type RegeneratePageEndpoint struct{}

func (e *RegeneratePageEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/books/{book_id}/artifacts/{artifact_id}/pages/{page_ref}/regenerate", e.handler
}

func (e *RegeneratePageEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Regenerate one page's finalized asset
//	@Description	Re-run asset finalization for a single assembled page from its selected candidate
//	@Tags			artifacts
//	@Produce		json
//	@Param			book_id		path		string	true	"Book ID"
//	@Param			artifact_id	path		string	true	"Artifact ID"
//	@Param			page_ref	path		string	true	"Page order or content page ID"
//	@Success		200			{object}	assemble.PageResult
//	@Failure		404			{object}	ErrorResponse
//	@Failure		500			{object}	ErrorResponse
//	@Router			/api/books/{book_id}/artifacts/{artifact_id}/pages/{page_ref}/regenerate [post]
func (e *RegeneratePageEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	res, err := svcctx.AssemblyFrom(r.Context()).RegeneratePage(r.Context(),
		r.PathValue("book_id"), r.PathValue("artifact_id"), r.PathValue("page_ref"))
	if err != nil {
		writeArtifactError(w, err)
		return
	}
	refreshPageResult(r, res)
	writeJSON(w, http.StatusOK, res)
}

func (e *RegeneratePageEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "regenerate <book_id> <artifact_id> <page_ref>",
		Short: "Re-finalize one assembled page from its selected candidate",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp assemble.PageResult
			path := "/api/books/" + args[0] + "/artifacts/" + args[1] + "/pages/" + args[2] + "/regenerate"
			if err := client.Post(cmd.Context(), path, nil, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// SelectCandidateRequest picks a stored ranking candidate.
type SelectCandidateRequest struct {
	CandidateIndex int `json:"candidate_index"`
}

// SelectCandidateEndpoint handles
// POST /api/books/{book_id}/artifacts/{artifact_id}/pages/{page_ref}/select.
type SelectCandidateEndpoint struct{}

func (e *SelectCandidateEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/books/{book_id}/artifacts/{artifact_id}/pages/{page_ref}/select", e.handler
}

func (e *SelectCandidateEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Swap a page's selected candidate
//	@Description	Finalize a different stored candidate as the page's chosen illustration
//	@Tags			artifacts
//	@Accept			json
//	@Produce		json
//	@Param			book_id		path		string					true	"Book ID"
//	@Param			artifact_id	path		string					true	"Artifact ID"
//	@Param			page_ref	path		string					true	"Page order or content page ID"
//	@Param			request		body		SelectCandidateRequest	true	"Candidate index"
//	@Success		200			{object}	assemble.PageResult
//	@Failure		400			{object}	ErrorResponse
//	@Failure		404			{object}	ErrorResponse
//	@Failure		500			{object}	ErrorResponse
//	@Router			/api/books/{book_id}/artifacts/{artifact_id}/pages/{page_ref}/select [post]
func (e *SelectCandidateEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req SelectCandidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := svcctx.AssemblyFrom(r.Context()).SelectCandidate(r.Context(),
		r.PathValue("book_id"), r.PathValue("artifact_id"), r.PathValue("page_ref"), req.CandidateIndex)
	if err != nil {
		writeArtifactError(w, err)
		return
	}
	refreshPageResult(r, res)
	writeJSON(w, http.StatusOK, res)
}

func (e *SelectCandidateEndpoint) Command(getServerURL func() string) *cobra.Command {
	var index int
	cmd := &cobra.Command{
		Use:   "select <book_id> <artifact_id> <page_ref>",
		Short: "Swap in a different ranking candidate for a page",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp assemble.PageResult
			path := "/api/books/" + args[0] + "/artifacts/" + args[1] + "/pages/" + args[2] + "/select"
			if err := client.Post(cmd.Context(), path, SelectCandidateRequest{CandidateIndex: index}, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().IntVar(&index, "candidate", 0, "Candidate index to finalize")
	cmd.MarkFlagRequired("candidate")
	return cmd
}

// writeArtifactError maps artifact lookup failures onto HTTP statuses.
func writeArtifactError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, assemble.ErrArtifactNotFound), errors.Is(err, assemble.ErrPageNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// refreshPageResult re-signs descriptor URLs before serving.
func refreshPageResult(r *http.Request, res *assemble.PageResult) {
	store := svcctx.AssetsFrom(r.Context())
	if store == nil {
		return
	}
	if res.Character != nil {
		assets.Refresh(store, res.Character)
	}
	if res.CharacterOriginal != nil {
		assets.Refresh(store, res.CharacterOriginal)
	}
}
