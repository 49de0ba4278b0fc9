package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/teranos/intake/ai"
	"github.com/teranos/intake/am"
	"github.com/teranos/intake/errors"
	"github.com/teranos/intake/internal/httpclient"
)

// LocalProvider talks to a local OpenAI-compatible inference server (Ollama, LocalAI)
type LocalProvider struct {
	baseURL    string
	model      string
	httpClient *httpclient.SaferClient
}

var _ ai.Oracle = (*LocalProvider)(nil)

// NewLocalProvider creates a provider for local inference. The endpoint is
// operator-configured and usually loopback, so private-IP blocking is off.
func NewLocalProvider(cfg am.LocalInferenceConfig) *LocalProvider {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &LocalProvider{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		httpClient: httpclient.WrapClient(&http.Client{Timeout: timeout}),
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  *chatOptions  `json:"options,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatOptions are Ollama-specific knobs; other servers ignore them
type chatOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"num_predict,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

// Complete implements ai.Oracle
func (lp *LocalProvider) Complete(ctx context.Context, prompt string) (string, error) {
	reqBody := chatRequest{
		Model:    lp.model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
		Options:  &chatOptions{Temperature: 0.2, MaxTokens: 1000},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, lp.baseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := lp.httpClient.Do(req)
	if err != nil {
		return "", errors.Wrapf(err, "local inference at %s unreachable", lp.baseURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", errors.Newf("local inference returned status %d: %s", resp.StatusCode, string(body))
	}

	var completion chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return "", errors.Wrap(err, "failed to decode response")
	}
	if len(completion.Choices) == 0 {
		return "", errors.New("no completion choices returned")
	}
	return strings.TrimSpace(completion.Choices[0].Message.Content), nil
}

// GetModelName returns the configured local model name
func (lp *LocalProvider) GetModelName() string {
	return lp.model
}
