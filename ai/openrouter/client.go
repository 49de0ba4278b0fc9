// Package openrouter is the OpenRouter.ai chat-completions client and the
// default Oracle for field mapping and scoring.
package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/intake/ai"
	"github.com/teranos/intake/ai/tracker"
	"github.com/teranos/intake/errors"
	"github.com/teranos/intake/internal/httpclient"
)

const (
	// DefaultModel matches openrouter.model in am defaults
	DefaultModel = "openai/gpt-4o-mini"
	// DefaultBaseURL is the public API root
	DefaultBaseURL = "https://openrouter.ai/api/v1"
	// MaxAttempts bounds tries per Chat call
	MaxAttempts = 3
)

// Client is an OpenRouter.ai API client
type Client struct {
	baseURL    string
	httpClient *httpclient.SaferClient
	config     Config
	logger     *zap.SugaredLogger
	retryDelay time.Duration
}

var _ ai.KeyedOracle = (*Client)(nil)

// Config holds client settings. Zero values take the defaults.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature *float64 // nil = 0.2
	MaxTokens   *int     // nil = 1000
	Logger      *zap.SugaredLogger
	Tracker     *tracker.UsageTracker // nil = no usage rows
}

// NewClient creates a client that refuses private network targets
func NewClient(config Config) *Client {
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Temperature == nil {
		t := 0.2
		config.Temperature = &t
	}
	if config.MaxTokens == nil {
		n := 1000
		config.MaxTokens = &n
	}
	log := config.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		httpClient: httpclient.NewSaferClient(120 * time.Second),
		config:     config,
		logger:     log.Named("openrouter"),
		retryDelay: time.Second,
	}
}

// ChatCompletionRequest is the wire request of /chat/completions
type ChatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// Message is one chat message
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionResponse is the wire response of /chat/completions
type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// Choice is one completion choice
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Usage is token accounting for one call
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatRequest is a high-level request; pointer fields override the config
type ChatRequest struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  *float64
	MaxTokens    *int
	Model        *string
	APIKey       string // overrides Config.APIKey when set
}

// ChatResponse is the trimmed reply text plus usage
type ChatResponse struct {
	Content string
	Usage   Usage
}

// StatusError is a non-200 reply from the API
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return "API request failed with status " + http.StatusText(e.Code) + ": " + e.Body
}

// Complete implements ai.Oracle
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.Chat(ctx, ChatRequest{UserPrompt: prompt})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// CompleteWithKey implements ai.KeyedOracle
func (c *Client) CompleteWithKey(ctx context.Context, apiKey, prompt string) (string, error) {
	resp, err := c.Chat(ctx, ChatRequest{UserPrompt: prompt, APIKey: apiKey})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// CreateChatCompletion performs one HTTP round trip
func (c *Client) CreateChatCompletion(ctx context.Context, apiKey string, req ChatCompletionRequest) (*ChatCompletionResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	httpReq.Header.Set("X-Title", "intake/"+string(tracker.OperationFromContext(ctx)))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode, Body: string(respBody)}
	}

	var out ChatCompletionResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal response")
	}
	return &out, nil
}

// Chat sends a request, retrying network failures, 429 and 5xx up to MaxAttempts
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	apiKey := c.config.APIKey
	if req.APIKey != "" {
		apiKey = req.APIKey
	}
	if apiKey == "" {
		return nil, errors.WithHint(
			errors.Wrap(errors.ErrServiceUnavailable, "OpenRouter API key not configured"),
			"set openrouter.api_key in am.toml or INTAKE_OPENROUTER_API_KEY")
	}

	temperature := *c.config.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	maxTokens := *c.config.MaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}
	model := c.config.Model
	if req.Model != nil {
		model = *req.Model
	}

	messages := []Message{{Role: "user", Content: req.UserPrompt}}
	if req.SystemPrompt != "" {
		messages = append([]Message{{Role: "system", Content: req.SystemPrompt}}, messages...)
	}
	wire := ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}

	started := time.Now()
	var resp *ChatCompletionResponse
	var err error

	for attempt := 0; attempt < MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt) * c.retryDelay
			c.logger.Debugw("Retrying OpenRouter request", "attempt", attempt+1, "delay", delay)
			select {
			case <-ctx.Done():
				err = errors.Wrap(ctx.Err(), "OpenRouter retry cancelled")
				c.track(ctx, started, model, nil, err)
				return nil, err
			case <-time.After(delay):
			}
		}

		resp, err = c.CreateChatCompletion(ctx, apiKey, wire)
		if err == nil {
			break
		}

		c.logger.Warnw("OpenRouter API error",
			"attempt", attempt+1, "max_attempts", MaxAttempts,
			"error", err, "model", model)

		if !isRetryableError(err) {
			c.track(ctx, started, model, nil, err)
			return nil, errors.Wrap(err, "OpenRouter API error")
		}
	}
	if err != nil {
		c.track(ctx, started, model, nil, err)
		return nil, errors.Wrapf(err, "OpenRouter API error after %d attempts", MaxAttempts)
	}

	if len(resp.Choices) == 0 {
		err := errors.New("no response choices from OpenRouter")
		c.track(ctx, started, model, nil, err)
		return nil, err
	}

	c.track(ctx, started, model, &resp.Usage, nil)
	return &ChatResponse{
		Content: strings.TrimSpace(resp.Choices[0].Message.Content),
		Usage:   resp.Usage,
	}, nil
}

func (c *Client) track(ctx context.Context, started time.Time, model string, usage *Usage, callErr error) {
	if c.config.Tracker == nil {
		return
	}
	record := tracker.NewUsage(ctx, "openrouter", model, started)
	record.Success = callErr == nil
	if callErr != nil {
		record.ErrorMessage = callErr.Error()
	}
	if usage != nil {
		prompt, completion := usage.PromptTokens, usage.CompletionTokens
		cost := CalculateCost(model, prompt, completion)
		record.PromptTokens = &prompt
		record.CompletionTokens = &completion
		record.Cost = &cost
	}
	if err := c.config.Tracker.TrackUsage(context.WithoutCancel(ctx), record); err != nil {
		c.logger.Warnw("Failed to track usage", "error", err, "model", model)
	}
}

// isRetryableError reports network failures, rate limiting and server errors
func isRetryableError(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code == http.StatusTooManyRequests || statusErr.Code >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.ETIMEDOUT:
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"connection reset by peer",
		"connection refused",
		"timeout",
		"temporary failure",
		"network is unreachable",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// IsConfigured reports whether a default API key is set
func (c *Client) IsConfigured() bool {
	return c.config.APIKey != ""
}

// SetHTTPClient replaces the SSRF-guarded client. Tests use it to reach httptest servers.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = httpclient.WrapClient(client)
}
