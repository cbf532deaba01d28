// Package llm provides the text-in, text-out completion client the
// reconstruction pipeline depends on. It is passed around as an explicit
// interface value rather than a process-global — every call site stays
// testable against a stub.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/longformai/coherence/pkg/config"
)

// StopReason classifies why the provider stopped generating.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopMaxTokens StopReason = "max_tokens"
	StopOther     StopReason = "other"
)

// Request is a single completion call.
type Request struct {
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Response is what the provider returned.
type Response struct {
	Text       string
	StopReason StopReason
}

// ErrEmptyCompletion indicates the provider returned no usable content; the
// caller treats this as a transport error for retry purposes (spec §7).
var ErrEmptyCompletion = errors.New("llm: empty completion")

// Client is the ambient LLM handle threaded through the skeleton extractor,
// chunk reconstructor, and length enforcer.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// HTTPClient talks to a single text-completion HTTP endpoint, matching the
// shape of the runbook GitHub client: a configured *http.Client, optional
// bearer auth, and JSON request/response bodies.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	model      string
	apiKey     string
	logger     *slog.Logger
}

// NewHTTPClient builds a Client from an LLMProviderConfig, resolving the API
// key from the configured environment variable.
func NewHTTPClient(cfg *config.LLMProviderConfig) *HTTPClient {
	apiKey := ""
	if cfg.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.APIKeyEnv)
	}
	return &HTTPClient{
		httpClient: &http.Client{Timeout: cfg.Timeout()},
		baseURL:    cfg.BaseURL,
		model:      cfg.Model,
		apiKey:     apiKey,
		logger:     slog.Default().With("component", "llm", "provider", cfg.Name),
	}
}

type completionRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature,omitempty"`
}

type completionResponse struct {
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason"`
}

// Complete issues a single completion request with the configured transport
// timeout (spec §4.F: 10-minute default).
func (c *HTTPClient) Complete(ctx context.Context, req Request) (Response, error) {
	start := time.Now()

	body, err := json.Marshal(completionRequest{
		Model:       c.model,
		Prompt:      req.Prompt,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return Response{}, fmt.Errorf("llm: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/completions", bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("llm: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.setAuthHeader(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("llm: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("llm: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return Response{}, fmt.Errorf("llm: provider returned HTTP %d: %s", resp.StatusCode, truncate(string(raw), 300))
	}

	var parsed completionResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Response{}, fmt.Errorf("llm: decode response: %w", err)
	}
	if parsed.Text == "" {
		return Response{}, ErrEmptyCompletion
	}

	c.logger.Debug("completion", "latency", time.Since(start), "chars", len(parsed.Text), "finish_reason", parsed.FinishReason)

	return Response{
		Text:       parsed.Text,
		StopReason: normalizeStopReason(parsed.FinishReason),
	}, nil
}

func (c *HTTPClient) setAuthHeader(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func normalizeStopReason(reason string) StopReason {
	switch reason {
	case "stop", "end_turn", "":
		return StopEndTurn
	case "length", "max_tokens":
		return StopMaxTokens
	default:
		return StopOther
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
