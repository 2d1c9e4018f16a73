package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	RembgName    = "rembg"
	RembgBaseURL = "https://api.rembg.io/v1"
)

// RembgConfig holds configuration for the background-removal client.
type RembgConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// RembgClient implements BackgroundRemover against a rembg-style HTTP
// endpoint that takes an image URL and returns PNG bytes.
type RembgClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewRembgClient creates a new background-removal client.
func NewRembgClient(cfg RembgConfig) *RembgClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = RembgBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	return &RembgClient{
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Name returns the provider identifier.
func (c *RembgClient) Name() string {
	return RembgName
}

// RemoveBackground submits the image URL for background removal and
// returns the resulting PNG bytes.
func (c *RembgClient) RemoveBackground(ctx context.Context, imageURL string) ([]byte, error) {
	if imageURL == "" {
		return nil, fmt.Errorf("image url is required")
	}

	reqBody := rembgRequest{ImageURL: imageURL, Format: "png"}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/remove", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp rembgErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return nil, fmt.Errorf("background removal failed (status %d): %s", resp.StatusCode, errResp.Error)
		}
		return nil, fmt.Errorf("background removal failed (status %d)", resp.StatusCode)
	}

	if len(respBody) == 0 {
		return nil, fmt.Errorf("background removal returned empty body")
	}

	return respBody, nil
}

// Rembg API types

type rembgRequest struct {
	ImageURL string `json:"image_url"`
	Format   string `json:"format,omitempty"`
}

type rembgErrorResponse struct {
	Error string `json:"error"`
}

// Verify interface
var _ BackgroundRemover = (*RembgClient)(nil)
