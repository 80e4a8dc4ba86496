// Package llm talks to OpenAI-compatible chat-completion endpoints
// (OpenRouter by default).
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"mediabot/internal/domain"
	"mediabot/internal/metrics"
)

const (
	DefaultAPIBase = "https://openrouter.ai/api/v1"
	DefaultModel   = "meta-llama/llama-3.3-70b-instruct"
)

// ErrEmptyResponse is returned when the service answers without choices.
var ErrEmptyResponse = errors.New("llm: empty response")

// Client implements domain.Completer.
type Client struct {
	apiKey  string
	apiBase string
	model   string
	title   string
	client  *http.Client
	limiter *RateLimiter
	logger  *slog.Logger
}

type ClientConfig struct {
	APIKey  string
	APIBase string
	Model   string
	// AppTitle is sent as X-Title so OpenRouter can attribute usage.
	AppTitle string
	// RatePerMinute enables the token-bucket limiter when > 0.
	RatePerMinute float64
	HTTPClient    *http.Client
	Logger        *slog.Logger
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.APIBase == "" {
		cfg.APIBase = DefaultAPIBase
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = NewHTTPClient(60 * time.Second)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	c := &Client{
		apiKey:  cfg.APIKey,
		apiBase: cfg.APIBase,
		model:   cfg.Model,
		title:   cfg.AppTitle,
		client:  cfg.HTTPClient,
		logger:  cfg.Logger,
	}
	if cfg.RatePerMinute > 0 {
		c.limiter = NewRateLimiter(cfg.RatePerMinute)
	}
	return c
}

// NewHTTPClient returns a pooled client. Per-call deadlines come from the
// request context; timeout is only the outer bound.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        20,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
}

type chatRequest struct {
	Model    string               `json:"model"`
	Messages []domain.ChatMessage `json:"messages"`
	Stream   bool                 `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete sends one non-streaming completion and returns the first choice.
func (c *Client) Complete(ctx context.Context, req domain.CompletionRequest) (string, error) {
	if c.limiter != nil {
		waited, err := c.limiter.Wait(ctx)
		if err != nil {
			return "", fmt.Errorf("rate limit: %w", err)
		}
		if waited > 0 {
			c.logger.Debug("llm call throttled", "waited", waited)
		}
	}
	model := req.Model
	if model == "" {
		model = c.model
	}

	body, err := json.Marshal(chatRequest{Model: model, Messages: req.Messages})
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.apiBase+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	if c.title != "" {
		httpReq.Header.Set("X-Title", c.title)
	}

	metrics.LLMRequestsTotal.Inc()
	start := time.Now()
	resp, err := c.client.Do(httpReq)
	metrics.LLMLatency.ObserveSince(start)
	if err != nil {
		return "", fmt.Errorf("llm request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("llm %d: %s", resp.StatusCode, string(respBody))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	if out.Error != nil {
		return "", fmt.Errorf("llm: %s", out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	c.logger.Debug("llm completion", "model", model, "finish", out.Choices[0].FinishReason,
		"duration", time.Since(start))
	return out.Choices[0].Message.Content, nil
}
