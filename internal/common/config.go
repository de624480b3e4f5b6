package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Queue       QueueConfig     `toml:"queue"`
	Retry       RetryConfig     `toml:"retry"`
	Scraper     ScraperConfig   `toml:"scraper"`
	WebSocket   WebSocketConfig `toml:"websocket"`
	Logging     LoggingConfig   `toml:"logging"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	DataDir        string `toml:"data_dir"`         // Badger database directory
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type QueueConfig struct {
	PollInterval      string `toml:"poll_interval"`      // e.g., "1s" - how often workers poll for items
	Workers           int    `toml:"workers"`            // Number of concurrent workers
	VisibilityTimeout string `toml:"visibility_timeout"` // e.g., "5m" - claimed item redelivery timeout
	MaxReceive        int    `toml:"max_receive"`        // Max times an item can be claimed before it is dropped
}

type RetryConfig struct {
	MaxAttempts int    `toml:"max_attempts"` // Scrape attempts per article before FAILED
	BaseDelay   string `toml:"base_delay"`   // e.g., "1s" - first backoff step
	MaxDelay    string `toml:"max_delay"`    // e.g., "60s" - backoff ceiling
}

// ScraperConfig contains article fetch configuration
type ScraperConfig struct {
	UserAgent   string `toml:"user_agent"`    // User agent for HTTP fetches
	Timeout     string `toml:"timeout"`       // e.g., "30s" - per-fetch deadline
	MaxBodySize int    `toml:"max_body_size"` // Maximum response body size in bytes
	UseBrowser  bool   `toml:"use_browser"`   // Render pages with headless Chrome before extraction
	BrowserWait string `toml:"browser_wait"`  // e.g., "3s" - time to let scripts settle when rendering
}

// WebSocketConfig contains configuration for the progress stream
type WebSocketConfig struct {
	HeartbeatInterval string   `toml:"heartbeat_interval"` // Server ping cadence, e.g. "30s"
	BufferSize        int      `toml:"buffer_size"`        // Per-connection outbound queue depth
	MinLevel          string   `toml:"min_level"`          // Minimum log level to broadcast ("debug", "info", "warn", "error")
	ExcludePatterns   []string `toml:"exclude_patterns"`   // Log message patterns to exclude from broadcasting
	// Whitelist of event types to broadcast. Empty list allows all events.
	AllowedEvents []string `toml:"allowed_events"`
	// Throttle intervals for high-frequency events. Map of event type to duration string.
	ThrottleIntervals map[string]string `toml:"throttle_intervals"`
}

type LoggingConfig struct {
	Level       string   `toml:"level"`        // "debug", "info", "warn", "error"
	Format      string   `toml:"format"`       // "json" or "text"
	Output      []string `toml:"output"`       // "stdout", "file"
	ClientDebug bool     `toml:"client_debug"` // Enable client-side debug logging
}

// SchedulerConfig covers scheduled definition submission and maintenance sweeps
type SchedulerConfig struct {
	Enabled        bool   `toml:"enabled"`         // Run cron-scheduled definitions
	DefinitionsDir string `toml:"definitions_dir"` // Directory containing YAML job definitions
	SweepInterval  string `toml:"sweep_interval"`  // How often the maintenance sweep runs
	StaleAfter     string `toml:"stale_after"`     // Age at which a SCRAPING article is considered orphaned
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for production stability.
// Only user-facing settings should be exposed in colligo.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8000,
			Host: "0.0.0.0",
		},
		Storage: StorageConfig{
			DataDir: "./data",
		},
		Queue: QueueConfig{
			PollInterval:      "1s",
			Workers:           4,
			VisibilityTimeout: "5m",
			MaxReceive:        5,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   "1s",
			MaxDelay:    "60s",
		},
		Scraper: ScraperConfig{
			UserAgent:   "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			Timeout:     "30s",
			MaxBodySize: 10 * 1024 * 1024, // 10MB
			UseBrowser:  false,
			BrowserWait: "3s",
		},
		WebSocket: WebSocketConfig{
			HeartbeatInterval: "30s",
			BufferSize:        256,
			MinLevel:          "info",
			ExcludePatterns: []string{
				"WebSocket client connected",
				"WebSocket client disconnected",
				"HTTP request",
				"HTTP response",
			},
			// Empty AllowedEvents allows all events
			AllowedEvents: []string{},
			// Throttle high-frequency events so large jobs do not flood clients
			ThrottleIntervals: map[string]string{},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: []string{"stdout", "file"},
		},
		Scheduler: SchedulerConfig{
			Enabled:        false,
			DefinitionsDir: "./definitions",
			SweepInterval:  "5m",
			StaleAfter:     "15m",
		},
	}
}

// LoadFromFile loads configuration with priority: default -> file -> env -> CLI
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration from multiple files with priority:
// default -> file1 -> file2 -> ... -> env -> CLI. Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	// Start with defaults
	config := NewDefaultConfig()

	// Load and merge each config file in order (later files override earlier files)
	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		err = toml.Unmarshal(data, config)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	// Apply environment variables (overrides all file configs)
	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	// Environment configuration (highest priority: COLLIGO_ENV, fallback: GO_ENV)
	if env := os.Getenv("COLLIGO_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("COLLIGO_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("COLLIGO_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Storage configuration
	if dataDir := os.Getenv("COLLIGO_STORAGE_DATA_DIR"); dataDir != "" {
		config.Storage.DataDir = dataDir
	}

	// Queue configuration
	if pollInterval := os.Getenv("COLLIGO_QUEUE_POLL_INTERVAL"); pollInterval != "" {
		config.Queue.PollInterval = pollInterval
	}
	if workers := os.Getenv("COLLIGO_QUEUE_WORKERS"); workers != "" {
		if w, err := strconv.Atoi(workers); err == nil {
			config.Queue.Workers = w
		}
	}
	if visibilityTimeout := os.Getenv("COLLIGO_QUEUE_VISIBILITY_TIMEOUT"); visibilityTimeout != "" {
		config.Queue.VisibilityTimeout = visibilityTimeout
	}
	if maxReceive := os.Getenv("COLLIGO_QUEUE_MAX_RECEIVE"); maxReceive != "" {
		if mr, err := strconv.Atoi(maxReceive); err == nil {
			config.Queue.MaxReceive = mr
		}
	}

	// Retry configuration
	if maxAttempts := os.Getenv("COLLIGO_RETRY_MAX_ATTEMPTS"); maxAttempts != "" {
		if ma, err := strconv.Atoi(maxAttempts); err == nil {
			config.Retry.MaxAttempts = ma
		}
	}
	if baseDelay := os.Getenv("COLLIGO_RETRY_BASE_DELAY"); baseDelay != "" {
		if _, err := time.ParseDuration(baseDelay); err == nil {
			config.Retry.BaseDelay = baseDelay
		}
	}
	if maxDelay := os.Getenv("COLLIGO_RETRY_MAX_DELAY"); maxDelay != "" {
		if _, err := time.ParseDuration(maxDelay); err == nil {
			config.Retry.MaxDelay = maxDelay
		}
	}

	// Scraper configuration
	if userAgent := os.Getenv("COLLIGO_SCRAPER_USER_AGENT"); userAgent != "" {
		config.Scraper.UserAgent = userAgent
	}
	if timeout := os.Getenv("COLLIGO_SCRAPER_TIMEOUT"); timeout != "" {
		if _, err := time.ParseDuration(timeout); err == nil {
			config.Scraper.Timeout = timeout
		}
	}
	if browserWait := os.Getenv("COLLIGO_SCRAPER_BROWSER_WAIT"); browserWait != "" {
		if _, err := time.ParseDuration(browserWait); err == nil {
			config.Scraper.BrowserWait = browserWait
		}
	}
	if maxBodySize := os.Getenv("COLLIGO_SCRAPER_MAX_BODY_SIZE"); maxBodySize != "" {
		if mbs, err := strconv.Atoi(maxBodySize); err == nil {
			config.Scraper.MaxBodySize = mbs
		}
	}
	if useBrowser := os.Getenv("COLLIGO_SCRAPER_USE_BROWSER"); useBrowser != "" {
		if ub, err := strconv.ParseBool(useBrowser); err == nil {
			config.Scraper.UseBrowser = ub
		}
	}

	// WebSocket configuration
	if heartbeat := os.Getenv("COLLIGO_WEBSOCKET_HEARTBEAT_INTERVAL"); heartbeat != "" {
		if _, err := time.ParseDuration(heartbeat); err == nil {
			config.WebSocket.HeartbeatInterval = heartbeat
		}
	}
	if bufferSize := os.Getenv("COLLIGO_WEBSOCKET_BUFFER_SIZE"); bufferSize != "" {
		if bs, err := strconv.Atoi(bufferSize); err == nil && bs > 0 {
			config.WebSocket.BufferSize = bs
		}
	}
	if minLevel := os.Getenv("COLLIGO_WEBSOCKET_MIN_LEVEL"); minLevel != "" {
		config.WebSocket.MinLevel = minLevel
	}
	if allowedEvents := os.Getenv("COLLIGO_WEBSOCKET_ALLOWED_EVENTS"); allowedEvents != "" {
		// Split comma-separated event types
		events := []string{}
		for _, e := range splitString(allowedEvents, ",") {
			trimmed := trimSpace(e)
			if trimmed != "" {
				events = append(events, trimmed)
			}
		}
		if len(events) > 0 {
			config.WebSocket.AllowedEvents = events
		}
	}

	// Logging configuration
	if level := os.Getenv("COLLIGO_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("COLLIGO_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
	if output := os.Getenv("COLLIGO_LOG_OUTPUT"); output != "" {
		// Split comma-separated output types
		outputs := []string{}
		for _, o := range splitString(output, ",") {
			trimmed := trimSpace(o)
			if trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Scheduler configuration
	if enabled := os.Getenv("COLLIGO_SCHEDULER_ENABLED"); enabled != "" {
		if e, err := strconv.ParseBool(enabled); err == nil {
			config.Scheduler.Enabled = e
		}
	}
	if definitionsDir := os.Getenv("COLLIGO_SCHEDULER_DEFINITIONS_DIR"); definitionsDir != "" {
		config.Scheduler.DefinitionsDir = definitionsDir
	}
	if sweepInterval := os.Getenv("COLLIGO_SCHEDULER_SWEEP_INTERVAL"); sweepInterval != "" {
		if _, err := time.ParseDuration(sweepInterval); err == nil {
			config.Scheduler.SweepInterval = sweepInterval
		}
	}
	if staleAfter := os.Getenv("COLLIGO_SCHEDULER_STALE_AFTER"); staleAfter != "" {
		if _, err := time.ParseDuration(staleAfter); err == nil {
			config.Scheduler.StaleAfter = staleAfter
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	// Command-line flags have highest priority
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// ParseDurationOr parses a duration string, falling back to def when empty or invalid.
func ParseDurationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// Helper functions for string manipulation
func splitString(s, sep string) []string {
	result := []string{}
	start := 0
	for i := 0; i < len(s); i++ {
		if i+len(sep) <= len(s) && s[i:i+len(sep)] == sep {
			result = append(result, s[start:i])
			start = i + len(sep)
			i = start - 1
		}
	}
	result = append(result, s[start:])
	return result
}

func trimSpace(s string) string {
	start := 0
	end := len(s)
	for start < end && (s[start] == ' ' || s[start] == '\t' || s[start] == '\n' || s[start] == '\r') {
		start++
	}
	for end > start && (s[end-1] == ' ' || s[end-1] == '\t' || s[end-1] == '\n' || s[end-1] == '\r') {
		end--
	}
	return s[start:end]
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}
