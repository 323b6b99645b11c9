// Package llm talks to an OpenAI-compatible chat completions endpoint to
// produce in-character dialogue and end-of-session summaries.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bdobrica/Yukari/common/redact"
	"github.com/bdobrica/Yukari/common/retry"
	"github.com/bdobrica/Yukari/internal/yukari/session"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o-mini"
	defaultTimeout = 60 * time.Second
)

// Config configures the chat completions client.
type Config struct {
	// APIKey is the bearer token used to authenticate against the API.
	// When empty the client reports itself unconfigured and callers get
	// the canned notice instead of an HTTP error.
	APIKey string

	// BaseURL overrides the API endpoint.  Useful for local models
	// (Ollama), OpenRouter, DeepSeek, or any other OpenAI-compatible
	// endpoint.  Defaults to https://api.openai.com/v1 when empty.
	BaseURL string

	// Model is the chat model to use.  Defaults to gpt-4o-mini when empty.
	Model string

	// Temperature controls sampling.  Defaults to 0.7 when zero.
	Temperature float64

	// Timeout is the HTTP request timeout.  Dialogue generation can be
	// slow on local models, so this defaults to 60 s.
	Timeout time.Duration
}

// Client implements session.Generator and session.Summarizer against a chat
// completions API. Safe for concurrent use.
type Client struct {
	cfg    Config
	client *http.Client
}

var (
	_ session.Generator  = (*Client)(nil)
	_ session.Summarizer = (*Client)(nil)
)

// New returns a Client for the given configuration.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Ready reports whether the client has credentials to call the API.
func (c *Client) Ready() bool {
	return c.cfg.APIKey != ""
}

// --- minimal chat completions wire types ---

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
	Error   *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

type chatChoice struct {
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// Generate produces the next dialogue lines for the session snapshot.
func (c *Client) Generate(ctx context.Context, req session.ReplyRequest) (string, error) {
	if !c.Ready() {
		return session.UnconfiguredNotice, nil
	}
	prompt := BuildReplyPrompt(req)
	return c.complete(ctx, prompt)
}

// Summarize condenses a finished conversation into a short event summary.
func (c *Client) Summarize(ctx context.Context, history []session.Turn, roster string) (string, error) {
	if !c.Ready() {
		return "", fmt.Errorf("llm: no API key configured")
	}
	if len(history) == 0 {
		return "", fmt.Errorf("llm: nothing to summarize")
	}
	return c.complete(ctx, BuildSummaryPrompt(history, roster))
}

// complete sends the whole prompt as a single user message, mirroring how
// the prompt is authored: one self-contained block of instructions and
// data, not a structured chat.
func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	body := chatRequest{
		Model:       c.cfg.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: c.cfg.Temperature,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("llm: marshal request: %w", err)
	}

	var content string
	err = retry.Do(ctx, retry.Config{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     5 * time.Second,
		ShouldRetry:  isTransient,
	}, func() error {
		var callErr error
		content, callErr = c.call(ctx, data)
		return callErr
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(content), nil
}

func (c *Client) call(ctx context.Context, payload []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/chat/completions",
		bytes.NewReader(payload),
	)
	if err != nil {
		return "", fmt.Errorf("llm: create http request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", &transientError{fmt.Errorf("llm: http request: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &transientError{fmt.Errorf("llm: read response body: %w", err)}
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		// Proxies occasionally echo request headers back in error bodies;
		// keep the key out of the logs.
		body := redact.String(string(respBody), c.cfg.APIKey)
		return "", &transientError{fmt.Errorf("llm: API returned HTTP %d: %.200s", resp.StatusCode, body)}
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("llm: decode API response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("llm: API error (%s): %s", parsed.Error.Type, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("llm: no choices returned (HTTP %d)", resp.StatusCode)
	}
	return parsed.Choices[0].Message.Content, nil
}

// transientError marks failures worth retrying: network faults, 5xx, 429.
type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func isTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}
