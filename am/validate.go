package am

import "github.com/teranos/intake/errors"

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return errors.Newf("server.port must be between 0 and 65535, got %d", c.Server.Port)
	}

	// 0 workers = submit-only process (no background execution)
	if c.Pulse.Workers < 0 {
		return errors.Newf("pulse.workers must be >= 0, got %d", c.Pulse.Workers)
	}

	if c.Pulse.TaskRetentionHours < 0 {
		return errors.Newf("pulse.task_retention_hours must be >= 0, got %d", c.Pulse.TaskRetentionHours)
	}

	if c.Pipeline.StageDelayMS < 0 {
		return errors.Newf("pipeline.stage_delay_ms must be >= 0, got %d", c.Pipeline.StageDelayMS)
	}
	if c.Pipeline.MaxRetries < 0 {
		return errors.Newf("pipeline.max_retries must be >= 0, got %d", c.Pipeline.MaxRetries)
	}
	if c.Pipeline.BatchSize <= 0 {
		return errors.Newf("pipeline.batch_size must be > 0, got %d", c.Pipeline.BatchSize)
	}

	if c.FieldMapper.Attempts <= 0 {
		return errors.Newf("field_mapper.attempts must be > 0, got %d", c.FieldMapper.Attempts)
	}
	if c.FieldMapper.BaseDelayMS < 0 || c.FieldMapper.JitterMS < 0 {
		return errors.New("field_mapper delays must be >= 0")
	}

	if c.Extraction.Concurrency <= 0 {
		return errors.Newf("extraction.concurrency must be > 0, got %d", c.Extraction.Concurrency)
	}

	if c.Scoring.RatePerWindow <= 0 {
		return errors.Newf("scoring.rate_per_window must be > 0, got %d", c.Scoring.RatePerWindow)
	}
	if c.Scoring.WindowSeconds <= 0 {
		return errors.Newf("scoring.window_seconds must be > 0, got %d", c.Scoring.WindowSeconds)
	}
	if c.Scoring.Concurrency <= 0 {
		return errors.Newf("scoring.concurrency must be > 0, got %d", c.Scoring.Concurrency)
	}
	if c.Scoring.Attempts <= 0 {
		return errors.Newf("scoring.attempts must be > 0, got %d", c.Scoring.Attempts)
	}

	switch c.Scoring.Provider {
	case "openrouter", "local", "vertex", "":
	default:
		return errors.Newf("scoring.provider must be one of openrouter, local, vertex; got %q", c.Scoring.Provider)
	}

	if c.LocalInference.Enabled {
		if c.LocalInference.BaseURL == "" {
			return errors.New("local_inference.base_url cannot be empty when enabled")
		}
		if c.LocalInference.Model == "" {
			return errors.New("local_inference.model cannot be empty when enabled")
		}
	}

	return nil
}
