// Package vertex is the Vertex AI Gemini Oracle.
package vertex

import (
	"context"
	"strings"
	"time"

	"cloud.google.com/go/vertexai/genai"
	"go.uber.org/zap"

	"github.com/teranos/intake/ai"
	"github.com/teranos/intake/ai/tracker"
	"github.com/teranos/intake/am"
	"github.com/teranos/intake/errors"
)

// Client wraps one Gemini model
type Client struct {
	client    *genai.Client
	model     *genai.GenerativeModel
	modelName string
	tracker   *tracker.UsageTracker
	logger    *zap.SugaredLogger
}

var _ ai.Oracle = (*Client)(nil)

// New dials Vertex AI with application-default credentials
func New(ctx context.Context, cfg am.VertexConfig, usage *tracker.UsageTracker, log *zap.SugaredLogger) (*Client, error) {
	if cfg.ProjectID == "" {
		return nil, errors.WithHint(
			errors.Wrap(errors.ErrServiceUnavailable, "vertex project not configured"),
			"set vertex.project_id in am.toml or GOOGLE_CLOUD_PROJECT")
	}
	location := cfg.Location
	if location == "" {
		location = "us-central1"
	}
	modelName := cfg.Model
	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	client, err := genai.NewClient(ctx, cfg.ProjectID, location)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Vertex AI client")
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(0.2)
	model.SetTopK(40)
	model.SetTopP(0.95)
	model.SetMaxOutputTokens(2048)

	return &Client{
		client:    client,
		model:     model,
		modelName: modelName,
		tracker:   usage,
		logger:    log.Named("vertex"),
	}, nil
}

// Complete implements ai.Oracle
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	started := time.Now()
	resp, err := c.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		err = errors.Wrap(err, "failed to generate content")
		c.track(ctx, started, nil, err)
		return "", err
	}
	c.track(ctx, started, resp.UsageMetadata, nil)

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("no response candidates returned")
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	return strings.TrimSpace(b.String()), nil
}

func (c *Client) track(ctx context.Context, started time.Time, meta *genai.UsageMetadata, callErr error) {
	if c.tracker == nil {
		return
	}
	record := tracker.NewUsage(ctx, "vertex", c.modelName, started)
	record.Success = callErr == nil
	if callErr != nil {
		record.ErrorMessage = callErr.Error()
	}
	if meta != nil {
		prompt, completion := int(meta.PromptTokenCount), int(meta.CandidatesTokenCount)
		record.PromptTokens = &prompt
		record.CompletionTokens = &completion
	}
	if err := c.tracker.TrackUsage(context.WithoutCancel(ctx), record); err != nil {
		c.logger.Warnw("Failed to track usage", "error", err)
	}
}

// Close releases the gRPC connection
func (c *Client) Close() error {
	return c.client.Close()
}
