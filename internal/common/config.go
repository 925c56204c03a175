package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string         `toml:"environment"` // "development" or "production"
	Server      ServerConfig   `toml:"server"`
	Storage     StorageConfig  `toml:"storage"`
	Logging     LoggingConfig  `toml:"logging"`
	Analyzer    AnalyzerConfig `toml:"analyzer"`
	GitHub      GitHubConfig   `toml:"github"`
	Janitor     JanitorConfig  `toml:"janitor"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05.000")
}

// AnalyzerConfig controls analysis execution for all job kinds
type AnalyzerConfig struct {
	UserAgent      string `toml:"user_agent"`      // User agent for website fetches
	RequestTimeout string `toml:"request_timeout"` // e.g., "30s" - HTTP request timeout
	RequestDelay   string `toml:"request_delay"`   // e.g., "500ms" - minimum delay between requests to same domain
	MaxAttempts    int    `toml:"max_attempts"`    // Analysis retry bound; exhausting it fails the job
	RetryBackoff   string `toml:"retry_backoff"`   // e.g., "2s" - delay between analysis attempts
}

// GitHubConfig contains GitHub API access configuration
type GitHubConfig struct {
	Token string `toml:"token"` // Personal access token (unauthenticated if empty)
}

// JanitorConfig controls the stale-job sweep
type JanitorConfig struct {
	Enabled       bool   `toml:"enabled"`
	Schedule      string `toml:"schedule"`        // Cron schedule format (default: every minute)
	MaxInProgress string `toml:"max_in_progress"` // e.g., "30m" - in_progress jobs older than this are failed
}

// NewDefaultConfig returns a Config populated with defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8090,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path:           "./data/scrutor",
				ResetOnStartup: false,
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout"},
			TimeFormat: "15:04:05.000",
		},
		Analyzer: AnalyzerConfig{
			UserAgent:      "Scrutor/1.0 (+https://github.com/ternarybob/scrutor)",
			RequestTimeout: "30s",
			RequestDelay:   "500ms",
			MaxAttempts:    3,
			RetryBackoff:   "2s",
		},
		GitHub: GitHubConfig{},
		Janitor: JanitorConfig{
			Enabled:       true,
			Schedule:      "*/5 * * * *",
			MaxInProgress: "30m",
		},
	}
}

// LoadFromFiles loads configuration from defaults, then each file in order
// (later files override earlier ones), then environment variables.
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

// applyEnvOverrides applies SCRUTOR_* environment variables on top of file config
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("SCRUTOR_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			config.Server.Port = port
		}
	}
	if v := os.Getenv("SCRUTOR_HOST"); v != "" {
		config.Server.Host = v
	}
	if v := os.Getenv("SCRUTOR_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("SCRUTOR_BADGER_PATH"); v != "" {
		config.Storage.Badger.Path = v
	}
	if v := os.Getenv("SCRUTOR_GITHUB_TOKEN"); v != "" {
		config.GitHub.Token = v
	}
	if v := os.Getenv("SCRUTOR_ENVIRONMENT"); v != "" {
		config.Environment = v
	}
}

// ApplyFlagOverrides applies command-line flag values (highest priority)
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port != 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// IsProduction returns true when running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// GetRequestTimeout returns the parsed analyzer request timeout
func (c *AnalyzerConfig) GetRequestTimeout() time.Duration {
	return parseDurationOr(c.RequestTimeout, 30*time.Second)
}

// GetRequestDelay returns the parsed per-domain request delay
func (c *AnalyzerConfig) GetRequestDelay() time.Duration {
	return parseDurationOr(c.RequestDelay, 500*time.Millisecond)
}

// GetRetryBackoff returns the parsed delay between analysis attempts
func (c *AnalyzerConfig) GetRetryBackoff() time.Duration {
	return parseDurationOr(c.RetryBackoff, 2*time.Second)
}

// GetMaxAttempts returns the analysis attempt bound (minimum 1)
func (c *AnalyzerConfig) GetMaxAttempts() int {
	if c.MaxAttempts < 1 {
		return 1
	}
	return c.MaxAttempts
}

// GetMaxInProgress returns the parsed stale-job deadline
func (c *JanitorConfig) GetMaxInProgress() time.Duration {
	return parseDurationOr(c.MaxInProgress, 30*time.Minute)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
