package endpoints

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/fableforge/fable/internal/api"
	"github.com/fableforge/fable/internal/jobs"
	"github.com/fableforge/fable/internal/store"
	"github.com/fableforge/fable/internal/svcctx"
)

// StartJobResponse acknowledges an accepted automation run.
type StartJobResponse struct {
	JobID  string `json:"job_id"`
	BookID string `json:"book_id"`
	Status string `json:"status"`
	Pages  int    `json:"pages"`
}

// StartJobEndpoint handles POST /api/books/{book_id}/jobs. The job is
// created synchronously; generation and assembly run in the background.
type StartJobEndpoint struct{}

func (e *StartJobEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/books/{book_id}/jobs", e.handler
}

func (e *StartJobEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Start an automation run
//	@Description	Create a render job for a book and start generating illustrations
//	@Tags			jobs
//	@Accept			json
//	@Produce		json
//	@Param			book_id	path		string				true	"Book ID"
//	@Param			request	body		jobs.StartRequest	true	"Run parameters"
//	@Success		202		{object}	StartJobResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Failure		500		{object}	ErrorResponse
//	@Router			/api/books/{book_id}/jobs [post]
func (e *StartJobEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	bookID := r.PathValue("book_id")

	var req jobs.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.BookID = bookID

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

	manager := svcctx.JobsFrom(r.Context())
	job, err := manager.StartJob(r.Context(), book, pages, req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// The run outlives the request. WithoutCancel keeps the service
	// context values alive past the response.
	runner := svcctx.RunnerFrom(r.Context())
	logger := svcctx.LoggerFrom(r.Context())
	runCtx := context.WithoutCancel(r.Context())
	go func() {
		if err := runner.Run(runCtx, job); err != nil {
			logger.Warn("automation run finished with error", "job_id", job.ID, "error", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, StartJobResponse{
		JobID:  job.ID,
		BookID: bookID,
		Status: string(job.Status),
		Pages:  len(job.Pages),
	})
}

func (e *StartJobEndpoint) Command(getServerURL func() string) *cobra.Command {
	var trainingID, userID, readerID, readerName, title string
	cmd := &cobra.Command{
		Use:   "start <book_id>",
		Short: "Start an automation run for a book",
		Long: `Start an automation run for a book.

The run generates one illustration per story page using the trained
character model, then assembles the final PDF artifact.

The command submits the run and returns immediately.
Use 'fable api jobs get <job-id>' to check progress.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp StartJobResponse
			err := client.Post(cmd.Context(), "/api/books/"+args[0]+"/jobs", jobs.StartRequest{
				TrainingID: trainingID,
				UserID:     userID,
				ReaderID:   readerID,
				ReaderName: readerName,
				Title:      title,
			}, &resp)
			if err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&trainingID, "training-id", "", "Trained character model version (required)")
	cmd.Flags().StringVar(&userID, "user-id", "", "Owning user id")
	cmd.Flags().StringVar(&readerID, "reader-id", "", "Reader profile id")
	cmd.Flags().StringVar(&readerName, "reader-name", "", "Override the book's reader name")
	cmd.Flags().StringVar(&title, "title", "", "Override the book's title")
	cmd.MarkFlagRequired("training-id")
	return cmd
}

// GetJobEndpoint handles GET /api/jobs/{job_id}.
type GetJobEndpoint struct{}

func (e *GetJobEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/jobs/{job_id}", e.handler
}

func (e *GetJobEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Get a job
//	@Description	Get a render job with per-page status, progress, and fresh asset URLs
//	@Tags			jobs
//	@Produce		json
//	@Param			job_id	path		string	true	"Job ID"
//	@Success		200		{object}	jobs.Job
//	@Failure		404		{object}	ErrorResponse
//	@Failure		500		{object}	ErrorResponse
//	@Router			/api/jobs/{job_id} [get]
func (e *GetJobEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	job, err := svcctx.JobsFrom(r.Context()).GetJob(r.Context(), r.PathValue("job_id"))
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (e *GetJobEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <job_id>",
		Short: "Get a job with per-page progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp jobs.Job
			if err := client.Get(cmd.Context(), "/api/jobs/"+args[0], &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// ListJobsEndpoint handles GET /api/books/{book_id}/jobs.
type ListJobsEndpoint struct{}

func (e *ListJobsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/books/{book_id}/jobs", e.handler
}

func (e *ListJobsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		List jobs for a book
//	@Description	List render jobs for a book, newest first
//	@Tags			jobs
//	@Produce		json
//	@Param			book_id	path		string	true	"Book ID"
//	@Param			limit	query		int		false	"Maximum number of jobs"
//	@Success		200		{array}		jobs.Job
//	@Failure		500		{object}	ErrorResponse
//	@Router			/api/books/{book_id}/jobs [get]
func (e *ListJobsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	list, err := svcctx.JobsFrom(r.Context()).ListJobsForBook(r.Context(), r.PathValue("book_id"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (e *ListJobsEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "list <book_id>",
		Short: "List jobs for a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp []*jobs.Job
			if err := client.Get(cmd.Context(), "/api/books/"+args[0]+"/jobs", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
