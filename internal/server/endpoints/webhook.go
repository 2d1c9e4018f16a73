package endpoints

import (
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/fableforge/fable/internal/api"
	"github.com/fableforge/fable/internal/generations"
	"github.com/fableforge/fable/internal/svcctx"
)

// WebhookResponse acknowledges a provider callback.
type WebhookResponse struct {
	Status string `json:"status"`
}

// GenerationWebhookEndpoint handles POST /api/webhooks/generations.
// Providers call it with generation status updates; the update is
// persisted and republished to any in-process waiter. The response is
// always fast so providers never time out and retry into a duplicate.
type GenerationWebhookEndpoint struct{}

func (e *GenerationWebhookEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/webhooks/generations", e.handler
}

func (e *GenerationWebhookEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Receive a generation update
//	@Description	Provider callback with generation status, progress, and output images
//	@Tags			webhooks
//	@Accept			json
//	@Produce		json
//	@Param			request	body		generations.Update	true	"Generation update"
//	@Success		200		{object}	WebhookResponse
//	@Failure		400		{object}	ErrorResponse
//	@Router			/api/webhooks/generations [post]
func (e *GenerationWebhookEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable request body")
		return
	}

	update, err := generations.ParseUpdate(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	logger := svcctx.LoggerFrom(r.Context())
	if err := svcctx.GenerationsFrom(r.Context()).ApplyUpdate(r.Context(), update); err != nil {
		// Waiters still get the update; the poll fallback reconciles
		// the stored record.
		logger.Warn("failed to persist generation update",
			"generation_id", update.GenerationID,
			"status", update.Status,
			"error", err)
	}

	svcctx.BridgeFrom(r.Context()).Publish(update)

	writeJSON(w, http.StatusOK, WebhookResponse{Status: "accepted"})
}

func (e *GenerationWebhookEndpoint) Command(getServerURL func() string) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:    "send",
		Short:  "Replay a generation update from a JSON file",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			update, err := generations.ParseUpdate(data)
			if err != nil {
				return err
			}
			client := api.NewClient(getServerURL())
			var resp WebhookResponse
			if err := client.Post(cmd.Context(), "/api/webhooks/generations", update, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Path to a generation update JSON file")
	cmd.MarkFlagRequired("file")
	return cmd
}
