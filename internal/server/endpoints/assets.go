package endpoints

import (
	"mime"
	"net/http"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fableforge/fable/internal/svcctx"
)

// AssetEndpoint handles GET /assets/{key...}. Every request must carry
// a valid exp/sig pair from a signed URL; there is no unsigned access.
type AssetEndpoint struct{}

func (e *AssetEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/assets/{key...}", e.handler
}

func (e *AssetEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Download an asset
//	@Description	Serve a stored asset by key, authorized by the exp/sig query pair of a signed URL
//	@Tags			assets
//	@Param			key	path		string	true	"Asset key"
//	@Param			exp	query		string	true	"Expiry unix timestamp"
//	@Param			sig	query		string	true	"HMAC signature"
//	@Success		200	{file}		binary
//	@Failure		403	{object}	ErrorResponse
//	@Failure		404	{object}	ErrorResponse
//	@Router			/assets/{key} [get]
func (e *AssetEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	exp := r.URL.Query().Get("exp")
	sig := r.URL.Query().Get("sig")

	store := svcctx.AssetsFrom(r.Context())
	if store == nil {
		writeError(w, http.StatusServiceUnavailable, "asset store not initialized")
		return
	}
	if !store.VerifySignature(key, exp, sig) {
		writeError(w, http.StatusForbidden, "invalid or expired signature")
		return
	}

	data, err := store.DownloadByKey(r.Context(), key)
	if err != nil {
		writeError(w, http.StatusNotFound, "asset not found")
		return
	}

	contentType := mime.TypeByExtension(filepath.Ext(key))
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "private, max-age=60")
	w.Write(data)
}

func (e *AssetEndpoint) Command(_ func() string) *cobra.Command {
	return nil // assets are fetched through signed URLs, not the CLI
}
