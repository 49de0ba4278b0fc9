// Package am ("I am") loads and persists intake configuration.
package am

// Config is the full intake configuration tree.
type Config struct {
	Database       DatabaseConfig       `mapstructure:"database"`
	Server         ServerConfig         `mapstructure:"server"`
	Pulse          PulseConfig          `mapstructure:"pulse"`
	Pipeline       PipelineConfig       `mapstructure:"pipeline"`
	FieldMapper    FieldMapperConfig    `mapstructure:"field_mapper"`
	Extraction     ExtractionConfig     `mapstructure:"extraction"`
	Scoring        ScoringConfig        `mapstructure:"scoring"`
	OpenRouter     OpenRouterConfig     `mapstructure:"openrouter"`
	LocalInference LocalInferenceConfig `mapstructure:"local_inference"`
	Vertex         VertexConfig         `mapstructure:"vertex"`
	Google         GoogleConfig         `mapstructure:"google"`
	HRReport       HRReportConfig       `mapstructure:"hr_report"`
}

// DatabaseConfig configures the SQLite record store
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig configures the HTTP/WebSocket server
type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// PulseConfig configures the task queue worker pool
type PulseConfig struct {
	Workers        int `mapstructure:"workers"`          // Concurrent stage executions across all jobs
	PollIntervalMS int `mapstructure:"poll_interval_ms"` // How often idle workers check for due tasks

	CleanupIntervalMinutes int `mapstructure:"cleanup_interval_minutes"`
	TaskRetentionHours     int `mapstructure:"task_retention_hours"` // Finished tasks older than this are deleted (0 = keep)
}

// PipelineConfig configures stage scheduling and retry
type PipelineConfig struct {
	StageDelayMS  int `mapstructure:"stage_delay_ms"` // Delay before the next stage runs
	MaxRetries    int `mapstructure:"max_retries"`    // Retries per stage before a job stays FAILED
	BatchSize     int `mapstructure:"batch_size"`     // Rows per data-source page
	ProgressEvery int `mapstructure:"progress_every"` // Candidates between progress events
}

// FieldMapperConfig configures AI column mapping
type FieldMapperConfig struct {
	Attempts    int `mapstructure:"attempts"`
	BaseDelayMS int `mapstructure:"base_delay_ms"`
	JitterMS    int `mapstructure:"jitter_ms"`
	SampleRows  int `mapstructure:"sample_rows"`
}

// ExtractionConfig configures resume download and text extraction
type ExtractionConfig struct {
	Concurrency      int    `mapstructure:"concurrency"`
	MinTextLength    int    `mapstructure:"min_text_length"`
	MaxDownloadBytes int64  `mapstructure:"max_download_bytes"`
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	Pdftotext        string `mapstructure:"pdftotext"`
	Pdftoppm         string `mapstructure:"pdftoppm"`
	Tesseract        string `mapstructure:"tesseract"`
	DPI              int    `mapstructure:"dpi"`
	MaxPages         int    `mapstructure:"max_pages"`
}

// ScoringConfig configures the resume scorer and its throttles
type ScoringConfig struct {
	Provider      string   `mapstructure:"provider"`        // openrouter, local, vertex
	RatePerWindow int      `mapstructure:"rate_per_window"` // Tokens refilled per window
	WindowSeconds int      `mapstructure:"window_seconds"`
	Capacity      int      `mapstructure:"capacity"` // Bucket size (0 = rate_per_window)
	Concurrency   int      `mapstructure:"concurrency"`
	Attempts      int      `mapstructure:"attempts"`
	APIKeys       []string `mapstructure:"api_keys"` // Rotated round-robin; empty = provider default key
}

// OpenRouterConfig configures OpenRouter.ai API access
type OpenRouterConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Model       string  `mapstructure:"model"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// LocalInferenceConfig configures an OpenAI-compatible local endpoint (Ollama, LocalAI)
type LocalInferenceConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	BaseURL        string `mapstructure:"base_url"`
	Model          string `mapstructure:"model"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// VertexConfig configures Vertex AI Gemini access
type VertexConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Location  string `mapstructure:"location"`
	Model     string `mapstructure:"model"`
}

// GoogleConfig configures Sheets and Drive access
type GoogleConfig struct {
	CredentialsFile   string  `mapstructure:"credentials_file"` // Service account or authorized-user JSON
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// HRReportConfig configures the HR-system report source
type HRReportConfig struct {
	Username       string `mapstructure:"username"`
	Password       string `mapstructure:"password"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// Server port constants
const (
	DefaultServerPort = 8770
)

// File system constants
const (
	DefaultDirPermissions  = 0755
	DefaultFilePermissions = 0644
)
