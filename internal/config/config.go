// Package config loads batch runner settings from defaults, an optional YAML
// file, BATCH_RUNNER_* environment variables and command-line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Sternrassler/batch-api-runner/pkg/batch"
	"github.com/Sternrassler/batch-api-runner/pkg/client"
	"github.com/Sternrassler/batch-api-runner/pkg/export"
	"github.com/Sternrassler/batch-api-runner/pkg/input"
	"github.com/Sternrassler/batch-api-runner/pkg/logging"
	"github.com/Sternrassler/batch-api-runner/pkg/progress"
)

// EnvPrefix is prepended to every environment variable.
const EnvPrefix = "BATCH_RUNNER"

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the complete runner configuration.
type Config struct {
	Fetch    FetchConfig    `mapstructure:"fetch"`
	Input    InputConfig    `mapstructure:"input"`
	Output   OutputConfig   `mapstructure:"output"`
	Progress ProgressConfig `mapstructure:"progress"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// FetchConfig controls URL construction, concurrency and retries.
type FetchConfig struct {
	Prefix        string        `mapstructure:"prefix"`
	Suffix        string        `mapstructure:"suffix"`
	Endpoint      string        `mapstructure:"endpoint"`
	Catalog       string        `mapstructure:"catalog"`
	Workers       int           `mapstructure:"workers"`
	Timeout       time.Duration `mapstructure:"timeout"`
	Retries       int           `mapstructure:"retries"`
	Backoff       float64       `mapstructure:"backoff"`
	MaxBackoff    time.Duration `mapstructure:"max_backoff"`
	RetryStatuses []int         `mapstructure:"retry_statuses"`
	UserAgent     string        `mapstructure:"user_agent"`
}

// InputConfig controls CSV parsing.
type InputConfig struct {
	Delimiter string `mapstructure:"delimiter"`
	Encoding  string `mapstructure:"encoding"`
}

// OutputConfig controls export.
type OutputConfig struct {
	Format          string `mapstructure:"format"`
	File            string `mapstructure:"file"`
	CompletionOrder bool   `mapstructure:"completion_order"`
	Color           bool   `mapstructure:"color"`
	MaxCellWidth    int    `mapstructure:"max_cell_width"`
}

// ProgressConfig controls progress reporting.
type ProgressConfig struct {
	LogEvery     int    `mapstructure:"log_every"`
	RedisAddr    string `mapstructure:"redis_addr"`
	RedisChannel string `mapstructure:"redis_channel"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Listen          string        `mapstructure:"listen"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes"`
}

// LoggingConfig contains logger settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("fetch.prefix", "")
	v.SetDefault("fetch.suffix", "")
	v.SetDefault("fetch.endpoint", "")
	v.SetDefault("fetch.catalog", "")
	v.SetDefault("fetch.workers", 5)
	v.SetDefault("fetch.timeout", 150*time.Second)
	v.SetDefault("fetch.retries", 3)
	v.SetDefault("fetch.backoff", 0.3)
	v.SetDefault("fetch.max_backoff", 120*time.Second)
	v.SetDefault("fetch.retry_statuses", []int{500, 502, 504})
	v.SetDefault("fetch.user_agent", "batch-api-runner/0.1.0")

	v.SetDefault("input.delimiter", ",")
	v.SetDefault("input.encoding", input.EncodingUTF8)

	v.SetDefault("output.format", string(export.FormatTable))
	v.SetDefault("output.file", "")
	v.SetDefault("output.completion_order", false)
	v.SetDefault("output.color", true)
	v.SetDefault("output.max_cell_width", 60)

	v.SetDefault("progress.log_every", 50)
	v.SetDefault("progress.redis_addr", "")
	v.SetDefault("progress.redis_channel", progress.DefaultChannel)

	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 0)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.max_upload_bytes", int64(32<<20))

	v.SetDefault("logging.level", string(logging.LevelInfo))
	v.SetDefault("logging.pretty", false)
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"prefix":           "fetch.prefix",
	"suffix":           "fetch.suffix",
	"endpoint":         "fetch.endpoint",
	"catalog":          "fetch.catalog",
	"workers":          "fetch.workers",
	"timeout":          "fetch.timeout",
	"retries":          "fetch.retries",
	"backoff":          "fetch.backoff",
	"retry-statuses":   "fetch.retry_statuses",
	"user-agent":       "fetch.user_agent",
	"delimiter":        "input.delimiter",
	"encoding":         "input.encoding",
	"format":           "output.format",
	"output":           "output.file",
	"completion-order": "output.completion_order",
	"color":            "output.color",
	"redis-addr":       "progress.redis_addr",
	"redis-channel":    "progress.redis_channel",
	"listen":           "server.listen",
	"log-level":        "logging.level",
	"log-pretty":       "logging.pretty",
}

// Load builds the configuration. path may be empty; flags may be nil.
// Only flags the user actually set override file and environment values.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	var problems []string

	if c.Fetch.Workers < 1 || c.Fetch.Workers > batch.MaxConcurrency {
		problems = append(problems, fmt.Sprintf("workers must be between 1 and %d (got %d)", batch.MaxConcurrency, c.Fetch.Workers))
	}
	if c.Fetch.Timeout <= 0 {
		problems = append(problems, fmt.Sprintf("timeout must be > 0 (got %s)", c.Fetch.Timeout))
	}
	if c.Fetch.Retries < 0 {
		problems = append(problems, fmt.Sprintf("retries must be >= 0 (got %d)", c.Fetch.Retries))
	}
	if c.Fetch.Backoff < 0 {
		problems = append(problems, fmt.Sprintf("backoff must be >= 0 (got %v)", c.Fetch.Backoff))
	}
	for _, code := range c.Fetch.RetryStatuses {
		if code < 100 || code > 599 {
			problems = append(problems, fmt.Sprintf("retry status %d out of range 100..599", code))
		}
	}
	if strings.TrimSpace(c.Fetch.UserAgent) == "" {
		problems = append(problems, "user agent must not be empty")
	}
	if _, err := export.ParseFormat(c.Output.Format); err != nil {
		problems = append(problems, err.Error())
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		problems = append(problems, err.Error())
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// ClientConfig returns the fetch client configuration. A non-zero timeout
// overrides the configured one (catalog endpoints carry their own).
func (c *Config) ClientConfig(timeout time.Duration) client.Config {
	cfg := client.DefaultConfig(c.Fetch.UserAgent)
	cfg.Timeout = c.Fetch.Timeout
	if timeout > 0 {
		cfg.Timeout = timeout
	}
	cfg.Retry = client.RetryPolicy{
		MaxRetries:        c.Fetch.Retries,
		BackoffFactor:     c.Fetch.Backoff,
		MaxBackoff:        c.Fetch.MaxBackoff,
		RetryableStatuses: append([]int(nil), c.Fetch.RetryStatuses...),
	}
	cfg.MaxIdleConnsPerHost = c.Fetch.Workers
	return cfg
}

// BatchConfig returns the orchestrator configuration for prefix and suffix.
func (c *Config) BatchConfig(prefix, suffix string) batch.Config {
	cfg := batch.DefaultConfig(prefix, suffix)
	cfg.Concurrency = c.Fetch.Workers
	return cfg
}

// InputOptions returns the CSV parsing options.
func (c *Config) InputOptions() input.Options {
	return input.Options{Delimiter: c.Input.Delimiter, Encoding: c.Input.Encoding}
}

// LoggingConfig returns the logger setup.
func (c *Config) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.LogLevel(c.Logging.Level)
	cfg.Pretty = c.Logging.Pretty
	return cfg
}
