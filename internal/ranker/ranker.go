// Package ranker is the optional vision-LLM fallback for picking a
// winning candidate when the image provider returns multiple outputs
// but no ranking metadata. Ranker failures are never fatal; the caller
// falls back to the default winner rule.
package ranker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/fableforge/fable/internal/assets"
	"github.com/fableforge/fable/internal/generations"
)

const defaultModel = "gpt-4o-mini"

const systemPrompt = `You are ranking candidate illustrations generated for one page of a children's book. Judge how well each image matches the page prompt, with special attention to character consistency and printability. Return ONLY JSON conforming to the provided schema: a winner index, a ranked list covering every candidate, and a one-sentence summary.`

// Config holds ranker configuration.
type Config struct {
	Enabled    bool
	APIKey     string
	Model      string
	Timeout    time.Duration
	BaseURL    string       // Optional (tests)
	HTTPClient *http.Client // Optional (tests)
}

// Ranker ranks generation candidates with a vision LLM.
type Ranker struct {
	client  openai.Client
	model   string
	enabled bool
	logger  *slog.Logger
}

// New creates a ranker. A disabled ranker is valid; Rank returns an
// error callers treat as "no ranking available".
func New(cfg Config, logger *slog.Logger) *Ranker {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(2),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Ranker{
		client:  openai.NewClient(opts...),
		model:   cfg.Model,
		enabled: cfg.Enabled,
		logger:  logger,
	}
}

// Enabled reports whether ranking is configured on.
func (r *Ranker) Enabled() bool {
	return r.enabled
}

// Rank asks the vision model to order the candidates for a page
// prompt. Candidates without a usable URL are skipped; fewer than two
// usable candidates means there is nothing to rank.
func (r *Ranker) Rank(ctx context.Context, prompt string, candidates []assets.Descriptor) (*generations.Ranking, error) {
	if !r.enabled {
		return nil, fmt.Errorf("ranker is disabled")
	}

	parts := []openai.ChatCompletionContentPartUnionParam{
		openai.TextContentPart(fmt.Sprintf("Page prompt:\n%s\n\nCandidates follow in index order (0-based).", prompt)),
	}
	usable := 0
	for i := range candidates {
		url := candidates[i].BestURL()
		if url == "" {
			continue
		}
		usable++
		parts = append(parts,
			openai.TextContentPart(fmt.Sprintf("Candidate %d:", i)),
			openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: url}),
		)
	}
	if usable < 2 {
		return nil, fmt.Errorf("need at least 2 candidates with URLs, have %d", usable)
	}

	resp, err := r.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: r.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(parts),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("ranking request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("ranking returned no choices")
	}

	ranking, err := parseRanking(resp.Choices[0].Message.Content, len(candidates))
	if err != nil {
		return nil, err
	}

	r.logger.Info("candidates ranked",
		"model", r.model,
		"candidates", len(candidates),
		"winner", ranking.Winners[0])
	return ranking, nil
}

// rankingOutput is the model's structured response.
type rankingOutput struct {
	Winner int `json:"winner"`
	Ranked []struct {
		Index int     `json:"index"`
		Rank  int     `json:"rank"`
		Score float64 `json:"score"`
		Notes string  `json:"notes,omitempty"`
	} `json:"ranked"`
	Summary string `json:"summary"`
}

// parseRanking decodes and validates model output, then maps it onto a
// generation ranking.
func parseRanking(content string, n int) (*generations.Ranking, error) {
	raw, err := parseStructuredJSON(content)
	if err != nil {
		return nil, err
	}
	if err := validateRankingJSON(raw); err != nil {
		return nil, err
	}

	var out rankingOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode ranking: %w", err)
	}
	if out.Winner < 0 || out.Winner >= n {
		return nil, fmt.Errorf("winner index %d out of range for %d candidates", out.Winner, n)
	}

	ranking := &generations.Ranking{
		Winners: []int{out.Winner},
		Summary: out.Summary,
	}
	for _, c := range out.Ranked {
		ranking.Ranked = append(ranking.Ranked, generations.RankedCandidate{
			Index: c.Index,
			Rank:  c.Rank,
			Score: c.Score,
			Notes: c.Notes,
		})
	}
	return ranking, nil
}
