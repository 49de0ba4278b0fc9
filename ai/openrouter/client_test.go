package openrouter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/intake/ai/tracker"
	"github.com/teranos/intake/errors"
	qtest "github.com/teranos/intake/internal/testing"
)

func newTestClient(t *testing.T, srv *httptest.Server, cfg Config) *Client {
	t.Helper()
	cfg.BaseURL = srv.URL
	c := NewClient(cfg)
	c.SetHTTPClient(srv.Client())
	c.retryDelay = time.Millisecond
	return c
}

func replyWith(content string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ChatCompletionResponse{
			ID:      "gen-1",
			Model:   DefaultModel,
			Choices: []Choice{{Message: Message{Role: "assistant", Content: content}}},
			Usage:   Usage{PromptTokens: 120, CompletionTokens: 30, TotalTokens: 150},
		})
	}
}

func TestNewClientDefaults(t *testing.T) {
	c := NewClient(Config{})
	assert.Equal(t, DefaultModel, c.config.Model)
	assert.Equal(t, DefaultBaseURL, c.baseURL)
	assert.Equal(t, 0.2, *c.config.Temperature)
	assert.Equal(t, 1000, *c.config.MaxTokens)
	assert.False(t, c.IsConfigured())
}

func TestComplete(t *testing.T) {
	var seen ChatCompletionRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&seen))
		replyWith("  {\"matchLevel\":\"High Match\",\"matchScore\":92}  ")(w, r)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Config{APIKey: "sk-default"})
	out, err := c.Complete(context.Background(), "score Kirby")
	require.NoError(t, err)

	assert.Equal(t, `{"matchLevel":"High Match","matchScore":92}`, out)
	assert.Equal(t, "Bearer sk-default", auth)
	require.Len(t, seen.Messages, 1)
	assert.Equal(t, "user", seen.Messages[0].Role)
	assert.Equal(t, "score Kirby", seen.Messages[0].Content)
}

func TestCompleteWithKeyOverridesDefault(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		replyWith("ok")(w, r)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Config{APIKey: "sk-default"})
	_, err := c.CompleteWithKey(context.Background(), "sk-rotated", "hello")
	require.NoError(t, err)
	assert.Equal(t, "Bearer sk-rotated", auth)
}

func TestChatWithoutKey(t *testing.T) {
	c := NewClient(Config{})
	_, err := c.Complete(context.Background(), "hello")
	require.Error(t, err)
	assert.True(t, errors.IsServiceUnavailableError(err))
}

func TestChatRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		replyWith("third time")(w, r)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Config{APIKey: "k"})
	out, err := c.Complete(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "third time", out)
	assert.Equal(t, int32(3), calls.Load())
}

func TestChatDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Config{APIKey: "k"})
	_, err := c.Complete(context.Background(), "hello")
	require.Error(t, err)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusUnauthorized, statusErr.Code)
	assert.Equal(t, int32(1), calls.Load())
}

func TestChatGivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Config{APIKey: "k"})
	_, err := c.Complete(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, int32(MaxAttempts), calls.Load())
}

func TestChatNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"x","choices":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Config{APIKey: "k"})
	_, err := c.Complete(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no response choices")
}

func TestChatRecordsUsage(t *testing.T) {
	db := qtest.CreateTestDB(t)
	usage := tracker.NewUsageTracker(db)

	srv := httptest.NewServer(replyWith("ok"))
	defer srv.Close()

	c := newTestClient(t, srv, Config{APIKey: "k", Tracker: usage})
	ctx := tracker.WithOperation(context.Background(), tracker.OperationScoring)
	_, err := c.Complete(ctx, "score Yugi")
	require.NoError(t, err)

	var op, provider string
	var prompt, completion int
	var success bool
	err = db.QueryRow(`SELECT operation, model_provider, prompt_tokens, completion_tokens, success FROM ai_model_usage`).
		Scan(&op, &provider, &prompt, &completion, &success)
	require.NoError(t, err)
	assert.Equal(t, "scoring", op)
	assert.Equal(t, "openrouter", provider)
	assert.Equal(t, 120, prompt)
	assert.Equal(t, 30, completion)
	assert.True(t, success)
}

func TestIsRetryableError(t *testing.T) {
	assert.True(t, isRetryableError(&StatusError{Code: 429}))
	assert.True(t, isRetryableError(&StatusError{Code: 503}))
	assert.False(t, isRetryableError(&StatusError{Code: 400}))
	assert.True(t, isRetryableError(errors.New("read tcp: connection reset by peer")))
	assert.False(t, isRetryableError(errors.New("invalid character")))
}
