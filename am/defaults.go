package am

import (
	"time"

	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "intake.db")

	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.allowed_origins", []string{
		"http://localhost",
		"https://localhost",
		"http://127.0.0.1",
		"https://127.0.0.1",
	})

	v.SetDefault("pulse.workers", 5)
	v.SetDefault("pulse.poll_interval_ms", 500)
	v.SetDefault("pulse.cleanup_interval_minutes", 60)
	v.SetDefault("pulse.task_retention_hours", 168)

	v.SetDefault("pipeline.stage_delay_ms", 1000)
	v.SetDefault("pipeline.max_retries", 3)
	v.SetDefault("pipeline.batch_size", 5)
	v.SetDefault("pipeline.progress_every", 10)

	v.SetDefault("field_mapper.attempts", 6)
	v.SetDefault("field_mapper.base_delay_ms", 1000)
	v.SetDefault("field_mapper.jitter_ms", 200)
	v.SetDefault("field_mapper.sample_rows", 5)

	v.SetDefault("extraction.concurrency", 3)
	v.SetDefault("extraction.min_text_length", 50)
	v.SetDefault("extraction.max_download_bytes", 5*1024*1024)
	v.SetDefault("extraction.timeout_seconds", 60)
	v.SetDefault("extraction.pdftotext", "pdftotext")
	v.SetDefault("extraction.pdftoppm", "pdftoppm")
	v.SetDefault("extraction.tesseract", "tesseract")
	v.SetDefault("extraction.dpi", 300)
	v.SetDefault("extraction.max_pages", 5)

	v.SetDefault("scoring.provider", "openrouter")
	v.SetDefault("scoring.rate_per_window", 15) // Observed production quota
	v.SetDefault("scoring.window_seconds", 60)
	v.SetDefault("scoring.capacity", 0)
	v.SetDefault("scoring.concurrency", 2)
	v.SetDefault("scoring.attempts", 3)

	v.SetDefault("openrouter.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("openrouter.model", "openai/gpt-4o-mini")
	v.SetDefault("openrouter.temperature", 0.2)
	v.SetDefault("openrouter.max_tokens", 1000)

	v.SetDefault("local_inference.enabled", false)
	v.SetDefault("local_inference.base_url", "http://localhost:11434")
	v.SetDefault("local_inference.model", "llama3.2:3b")
	v.SetDefault("local_inference.timeout_seconds", 300)

	v.SetDefault("vertex.location", "us-central1")
	v.SetDefault("vertex.model", "gemini-1.5-flash")

	v.SetDefault("google.requests_per_second", 8.0) // Drive allows 10/sec/user
	v.SetDefault("google.burst", 10)

	v.SetDefault("hr_report.timeout_seconds", 60)
}

// BindSensitiveEnvVars explicitly binds secrets to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("database.path", "INTAKE_DATABASE_PATH")
	v.BindEnv("openrouter.api_key", "INTAKE_OPENROUTER_API_KEY", "OPENROUTER_API_KEY")
	v.BindEnv("google.credentials_file", "INTAKE_GOOGLE_CREDENTIALS", "GOOGLE_APPLICATION_CREDENTIALS")
	v.BindEnv("vertex.project_id", "INTAKE_VERTEX_PROJECT", "GOOGLE_CLOUD_PROJECT")
	v.BindEnv("vertex.location", "INTAKE_VERTEX_LOCATION", "GOOGLE_CLOUD_LOCATION")
	v.BindEnv("hr_report.username", "INTAKE_HR_REPORT_USERNAME")
	v.BindEnv("hr_report.password", "INTAKE_HR_REPORT_PASSWORD")
}

// GetDatabasePath returns the configured database path
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return "intake.db"
	}
	return c.Database.Path
}

// GetServerAllowedOrigins returns the allowed CORS origins
func (c *Config) GetServerAllowedOrigins() []string {
	if len(c.Server.AllowedOrigins) == 0 {
		return []string{"http://localhost", "http://127.0.0.1"}
	}
	return c.Server.AllowedOrigins
}

// StageDelay returns the pause between consecutive stages
func (c *Config) StageDelay() time.Duration {
	return time.Duration(c.Pipeline.StageDelayMS) * time.Millisecond
}

// PollInterval returns the worker polling interval
func (c *Config) PollInterval() time.Duration {
	if c.Pulse.PollIntervalMS <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.Pulse.PollIntervalMS) * time.Millisecond
}

// CleanupInterval returns how often finished tasks are pruned
func (c *Config) CleanupInterval() time.Duration {
	if c.Pulse.CleanupIntervalMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(c.Pulse.CleanupIntervalMinutes) * time.Minute
}

// TaskRetention returns how long finished tasks are kept; zero keeps them forever
func (c *Config) TaskRetention() time.Duration {
	return time.Duration(c.Pulse.TaskRetentionHours) * time.Hour
}

// ScoringWindow returns the rate-limiter refill window
func (c *Config) ScoringWindow() time.Duration {
	return time.Duration(c.Scoring.WindowSeconds) * time.Second
}

// ScoringCapacity returns the token bucket size, defaulting to the per-window rate
func (c *Config) ScoringCapacity() int {
	if c.Scoring.Capacity > 0 {
		return c.Scoring.Capacity
	}
	return c.Scoring.RatePerWindow
}
