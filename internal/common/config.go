package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration. Constructed once at
// startup and passed into every component; nothing reads it through a global.
type Config struct {
	Environment    string               `toml:"environment"` // "development" or "production"
	Server         ServerConfig         `toml:"server"`
	Badger         BadgerConfig         `toml:"badger"`
	Logging        LoggingConfig        `toml:"logging"`
	Queue          QueueConfig          `toml:"queue"`
	Locks          LocksConfig          `toml:"locks"`
	Retry          RetryConfig          `toml:"retry"`
	Classification ClassificationConfig `toml:"classification"`
	Answer         AnswerConfig         `toml:"answer"`
	Search         SearchConfig         `toml:"search"`
	Media          MediaConfig          `toml:"media"`
	Instagram      InstagramConfig      `toml:"instagram"`
	Telegram       TelegramConfig       `toml:"telegram"`
	Webhook        WebhookConfig        `toml:"webhook"`
	Gemini         GeminiConfig         `toml:"gemini"`
	Claude         ClaudeConfig         `toml:"claude"`
	LLM            LLMConfig            `toml:"llm"`
	Scheduler      SchedulerConfig      `toml:"scheduler"`
	WebSocket      WebSocketConfig      `toml:"websocket"`
}

type ServerConfig struct {
	Port int    `toml:"port" validate:"min=1,max=65535"`
	Host string `toml:"host" validate:"required"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path" validate:"required"` // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"`         // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs
}

type QueueConfig struct {
	PollInterval      string `toml:"poll_interval"`      // e.g., "1s" - how often workers poll for tasks
	Concurrency       int    `toml:"concurrency" validate:"min=1"`
	VisibilityTimeout string `toml:"visibility_timeout"` // e.g., "5m" - task visibility timeout for redelivery
	MaxReceive        int    `toml:"max_receive" validate:"min=1"`
	QueueName         string `toml:"queue_name"`
}

type LocksConfig struct {
	DefaultTTL       string `toml:"default_ttl"`        // per-stage lock TTL
	WaitPollInterval string `toml:"wait_poll_interval"` // blocking-acquire poll interval
}

// RetryConfig holds the pipeline-wide retry/backoff policy.
type RetryConfig struct {
	// Schedule is the transient backoff ladder in seconds. Attempt N waits
	// Schedule[min(N, len-1)] seconds.
	Schedule []int `toml:"schedule"`
	// DeferRequeueDelay is the fixed delay for deferred re-drives; these do
	// not consume retry budget.
	DeferRequeueDelay string `toml:"defer_requeue_delay"`
	// StalenessTimeout flags "processing" records abandoned by crashed
	// workers.
	StalenessTimeout string `toml:"staleness_timeout"`
}

type ClassificationConfig struct {
	MaxRetries int    `toml:"max_retries" validate:"min=0"`
	Model      string `toml:"model"`
	// MaxDefer bounds consecutive media-context deferrals before
	// classification proceeds without context.
	MaxDefer int `toml:"max_defer"`
}

type AnswerConfig struct {
	MaxRetries      int    `toml:"max_retries" validate:"min=0"`
	Model           string `toml:"model"`
	MaxHistoryTurns int    `toml:"max_history_turns"` // bounded conversation context
	MaxTurns        int    `toml:"max_turns"`         // agent loop bound
	MaxToolCalls    int    `toml:"max_tool_calls"`    // agent loop bound
	// MinQualityScore gates dispatch: answers scoring below are suppressed
	// instead of sent. Zero disables the gate.
	MinQualityScore int `toml:"min_quality_score" validate:"min=0,max=100"`
}

// SearchConfig contains semantic search behavior.
type SearchConfig struct {
	// SimilarityThreshold partitions high-confidence matches from
	// out-of-distribution ones. Process-wide, not per-call.
	SimilarityThreshold float64 `toml:"similarity_threshold" validate:"min=0,max=1"`
	EmbeddingModel      string  `toml:"embedding_model"`
	EmbeddingDimension  int     `toml:"embedding_dimension" validate:"min=1"`
}

type MediaConfig struct {
	AnalysisModel string `toml:"analysis_model"` // vision model for media context
	MaxRetries    int    `toml:"max_retries"`
}

type InstagramConfig struct {
	AccessToken string `toml:"access_token"`
	APIVersion  string `toml:"api_version"`
	BaseURL     string `toml:"base_url"`
	BotUsername string `toml:"bot_username"` // webhook skip rule: drop our own replies

	// Reply dispatch throttling (shared token bucket)
	RepliesPerHour int    `toml:"replies_per_hour" validate:"min=1"`
	ReplyBurst     int    `toml:"reply_burst" validate:"min=1"`
	ReplyMaxWait   string `toml:"reply_max_wait"` // bounded limiter wait before retryable failure

	// OAuth token lifecycle
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RedirectURI  string `toml:"redirect_uri"`
}

type TelegramConfig struct {
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
	ThreadID int    `toml:"thread_id"`
}

type WebhookConfig struct {
	VerifyToken string `toml:"verify_token"` // GET verification challenge token
	AppSecret   string `toml:"app_secret"`   // HMAC key for X-Hub-Signature-256
	// SignatureOptional allows unsigned requests in development only.
	SignatureOptional bool `toml:"signature_optional"`
}

// GeminiConfig contains Google Gemini API configuration
type GeminiConfig struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`
	Timeout     string  `toml:"timeout"`
	Temperature float32 `toml:"temperature"`
}

// ClaudeConfig contains Anthropic Claude API configuration
type ClaudeConfig struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`
	MaxTokens   int     `toml:"max_tokens"`
	Timeout     string  `toml:"timeout"`
	Temperature float32 `toml:"temperature"`
}

// LLMProvider represents the AI provider type
type LLMProvider string

const (
	// LLMProviderGemini uses Google Gemini API
	LLMProviderGemini LLMProvider = "gemini"
	// LLMProviderClaude uses Anthropic Claude API
	LLMProviderClaude LLMProvider = "claude"
)

// LLMConfig contains unified configuration for all AI providers
type LLMConfig struct {
	DefaultProvider LLMProvider `toml:"default_provider"` // "gemini" or "claude"
}

type SchedulerConfig struct {
	Enabled bool `toml:"enabled"`
	// Cron expressions per maintenance job
	StaleReclaimSchedule string `toml:"stale_reclaim_schedule"`
	RetrySweepSchedule   string `toml:"retry_sweep_schedule"`
	LockGCSchedule       string `toml:"lock_gc_schedule"`
	TokenCheckSchedule   string `toml:"token_check_schedule"`
}

// WebSocketConfig contains configuration for the pipeline event stream.
type WebSocketConfig struct {
	// AllowedEvents whitelists event types to broadcast. Empty allows all.
	AllowedEvents []string `toml:"allowed_events"`
	// ThrottlePerSecond caps transition broadcasts per second.
	ThrottlePerSecond float64 `toml:"throttle_per_second"`
}

// NewDefaultConfig creates a configuration with default values. Technical
// parameters are hardcoded here; only user-facing settings belong in the
// TOML file.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Badger: BadgerConfig{
			Path: "./data",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05",
		},
		Queue: QueueConfig{
			PollInterval:      "1s",
			Concurrency:       4,
			VisibilityTimeout: "5m",
			MaxReceive:        6, // above the longest per-stage retry budget
			QueueName:         "instachatico_tasks",
		},
		Locks: LocksConfig{
			DefaultTTL:       "3m",
			WaitPollInterval: "100ms",
		},
		Retry: RetryConfig{
			Schedule:          []int{15, 60, 300, 900, 3600},
			DeferRequeueDelay: "60s",
			StalenessTimeout:  "10m",
		},
		Classification: ClassificationConfig{
			MaxRetries: 3,
			MaxDefer:   10,
		},
		Answer: AnswerConfig{
			MaxRetries:      5,
			MaxHistoryTurns: 5,
			MaxTurns:        10,
			MaxToolCalls:    15,
			MinQualityScore: 0, // gate disabled by default
		},
		Search: SearchConfig{
			SimilarityThreshold: 0.7,
			EmbeddingModel:      "gemini-embedding-001",
			EmbeddingDimension:  768,
		},
		Media: MediaConfig{
			MaxRetries: 3,
		},
		Instagram: InstagramConfig{
			APIVersion:     "v23.0",
			BaseURL:        "https://graph.instagram.com",
			RepliesPerHour: 60,
			ReplyBurst:     5,
			ReplyMaxWait:   "30s",
		},
		Webhook: WebhookConfig{
			SignatureOptional: false,
		},
		Gemini: GeminiConfig{
			Model:       "gemini-3-flash-preview",
			Timeout:     "2m",
			Temperature: 0.7,
		},
		Claude: ClaudeConfig{
			Model:       "claude-haiku-3-5-20241022",
			MaxTokens:   8192,
			Timeout:     "2m",
			Temperature: 0.7,
		},
		LLM: LLMConfig{
			DefaultProvider: LLMProviderGemini,
		},
		Scheduler: SchedulerConfig{
			Enabled:              true,
			StaleReclaimSchedule: "*/5 * * * *",
			RetrySweepSchedule:   "*/1 * * * *",
			LockGCSchedule:       "*/10 * * * *",
			TokenCheckSchedule:   "0 */6 * * *",
		},
		WebSocket: WebSocketConfig{
			AllowedEvents:     []string{},
			ThrottlePerSecond: 10,
		},
	}
}

// LoadFromFiles loads configuration from multiple files. Later files override
// earlier ones; environment variables override all files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// ApplyFlagOverrides applies command-line flag values (highest priority).
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks the assembled configuration before startup proceeds.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if len(c.Retry.Schedule) == 0 {
		return fmt.Errorf("invalid configuration: retry schedule is empty")
	}
	for _, s := range c.Retry.Schedule {
		if s < 0 {
			return fmt.Errorf("invalid configuration: negative retry delay %d", s)
		}
	}
	if _, err := c.ParseDuration(c.Queue.VisibilityTimeout, 0); err != nil {
		return fmt.Errorf("invalid queue.visibility_timeout: %w", err)
	}
	if c.Environment == "production" && c.Webhook.SignatureOptional {
		return fmt.Errorf("invalid configuration: webhook.signature_optional is not allowed in production")
	}
	return nil
}

// ParseDuration parses a duration config string, returning the fallback for
// empty values.
func (c *Config) ParseDuration(value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration %q: %w", value, err)
	}
	return d, nil
}

// RetryDelay returns the backoff for a given transient attempt (0-based),
// saturating at the last rung of the schedule.
func (c *Config) RetryDelay(attempt int) time.Duration {
	if len(c.Retry.Schedule) == 0 {
		return time.Minute
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= len(c.Retry.Schedule) {
		attempt = len(c.Retry.Schedule) - 1
	}
	return time.Duration(c.Retry.Schedule[attempt]) * time.Second
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("INSTACHATICO_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("INSTACHATICO_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("INSTACHATICO_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Storage configuration
	if badgerPath := os.Getenv("INSTACHATICO_BADGER_PATH"); badgerPath != "" {
		config.Badger.Path = badgerPath
	}

	// Logging configuration
	if level := os.Getenv("INSTACHATICO_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("INSTACHATICO_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Queue configuration
	if pollInterval := os.Getenv("INSTACHATICO_QUEUE_POLL_INTERVAL"); pollInterval != "" {
		config.Queue.PollInterval = pollInterval
	}
	if concurrency := os.Getenv("INSTACHATICO_QUEUE_CONCURRENCY"); concurrency != "" {
		if n, err := strconv.Atoi(concurrency); err == nil {
			config.Queue.Concurrency = n
		}
	}
	if visibilityTimeout := os.Getenv("INSTACHATICO_QUEUE_VISIBILITY_TIMEOUT"); visibilityTimeout != "" {
		config.Queue.VisibilityTimeout = visibilityTimeout
	}

	// Search configuration
	if threshold := os.Getenv("INSTACHATICO_SEARCH_SIMILARITY_THRESHOLD"); threshold != "" {
		if t, err := strconv.ParseFloat(threshold, 64); err == nil {
			config.Search.SimilarityThreshold = t
		}
	}

	// Provider credentials (standard env names checked first, then prefixed)
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		config.Claude.APIKey = apiKey
	}
	if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" {
		config.Gemini.APIKey = apiKey
	}
	if provider := os.Getenv("INSTACHATICO_LLM_PROVIDER"); provider != "" {
		config.LLM.DefaultProvider = LLMProvider(provider)
	}

	// Instagram configuration
	if token := os.Getenv("INSTAGRAM_ACCESS_TOKEN"); token != "" {
		config.Instagram.AccessToken = token
	}
	if username := os.Getenv("INSTACHATICO_INSTAGRAM_BOT_USERNAME"); username != "" {
		config.Instagram.BotUsername = username
	}

	// Telegram configuration
	if token := os.Getenv("TELEGRAM_BOT_TOKEN"); token != "" {
		config.Telegram.BotToken = token
	}
	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		config.Telegram.ChatID = chatID
	}

	// Webhook configuration
	if verifyToken := os.Getenv("INSTACHATICO_WEBHOOK_VERIFY_TOKEN"); verifyToken != "" {
		config.Webhook.VerifyToken = verifyToken
	}
	if appSecret := os.Getenv("INSTACHATICO_WEBHOOK_APP_SECRET"); appSecret != "" {
		config.Webhook.AppSecret = appSecret
	}
}
