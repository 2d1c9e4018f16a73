package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/fableforge/fable/internal/generations"
)

const (
	ReplicateName    = "replicate"
	ReplicateBaseURL = "https://api.replicate.com/v1"
)

// ReplicateConfig holds configuration for the Replicate client.
type ReplicateConfig struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	RateLimit  int           // Requests per minute
	RetryDelay time.Duration // Base delay between dispatch retries
}

// ReplicateClient implements Dispatcher against Replicate's
// asynchronous prediction API. A dispatched prediction reports back
// through the webhook; the dispatch response itself only confirms
// acceptance.
type ReplicateClient struct {
	apiKey     string
	baseURL    string
	limiter    *RateLimiter
	retryDelay time.Duration
	client     *http.Client
}

// NewReplicateClient creates a new Replicate client.
func NewReplicateClient(cfg ReplicateConfig) *ReplicateClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = ReplicateBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 2 * time.Second
	}

	return &ReplicateClient{
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
		limiter:    NewRateLimiter(cfg.RateLimit),
		retryDelay: cfg.RetryDelay,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Name returns the provider identifier.
func (c *ReplicateClient) Name() string {
	return ReplicateName
}

// LimiterStatus reports the dispatch rate limiter's state.
func (c *ReplicateClient) LimiterStatus() RateLimiterStatus {
	return c.limiter.Status()
}

// DispatchGeneration submits a prediction request. Transient failures
// (429, 5xx, network errors) are retried with backoff; a definitive
// rejection from the provider is returned to the caller unretried.
func (c *ReplicateClient) DispatchGeneration(ctx context.Context, gen *generations.Generation, webhookURL string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	input := map[string]any{"prompt": gen.Prompt}
	for k, v := range gen.Input {
		input[k] = v
	}

	reqBody := replicateCreateRequest{
		Version:             gen.ModelVersion,
		Input:               input,
		Webhook:             webhookURL,
		WebhookEventsFilter: []string{"start", "output", "completed"},
	}

	return retry.Do(
		func() error {
			return c.createPrediction(ctx, reqBody)
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(c.retryDelay),
		retry.RetryIf(func(err error) bool {
			var te *transientError
			return errors.As(err, &te)
		}),
	)
}

func (c *ReplicateClient) createPrediction(ctx context.Context, body replicateCreateRequest) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/predictions", bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return &transientError{err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &transientError{err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		c.limiter.Record429()
		return &transientError{err: fmt.Errorf("replicate rate limited (status 429)")}
	}
	if resp.StatusCode >= 500 {
		return &transientError{err: fmt.Errorf("replicate server error (status %d): %s", resp.StatusCode, string(respBody))}
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		var errResp replicateErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Detail != "" {
			return fmt.Errorf("replicate rejected prediction (status %d): %s", resp.StatusCode, errResp.Detail)
		}
		return fmt.Errorf("replicate rejected prediction (status %d): %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// transientError marks failures worth retrying.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Replicate API types

type replicateCreateRequest struct {
	Version             string         `json:"version"`
	Input               map[string]any `json:"input"`
	Webhook             string         `json:"webhook,omitempty"`
	WebhookEventsFilter []string       `json:"webhook_events_filter,omitempty"`
}

type replicateErrorResponse struct {
	Detail string `json:"detail"`
}

// Verify interface
var _ Dispatcher = (*ReplicateClient)(nil)
