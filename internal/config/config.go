// Package config loads the mentionscan configuration: defaults, then the
// YAML file, then MENTIONSCAN_* environment overrides, then validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/sawpanic/mentionscan/internal/infrastructure/db"
	"github.com/sawpanic/mentionscan/internal/mentions"
	"github.com/sawpanic/mentionscan/internal/propagate"
	"github.com/sawpanic/mentionscan/internal/reference"
)

// EnvPrefix is the prefix of every environment override
const EnvPrefix = "MENTIONSCAN"

const (
	SourceCSV    = "csv"
	SourceNasdaq = "nasdaq"
)

// AppConfig represents the overall application configuration. Environment
// keys are derived from field names (MENTIONSCAN_SCAN_BATCH_SIZE); the
// database section also honours the bare PG_* variables.
type AppConfig struct {
	Database  db.Config        `yaml:"database"`
	Cache     CacheSection     `yaml:"cache"`
	Reference ReferenceSection `yaml:"reference"`
	Scan      ScanSection      `yaml:"scan"`
	Logging   LoggingSection   `yaml:"logging"`
	Metrics   MetricsSection   `yaml:"metrics"`
}

// CacheSection holds cache-related configuration
type CacheSection struct {
	Redis RedisSection `yaml:"redis"`
}

// RedisSection configures the reference listing cache
type RedisSection struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr" validate:"required_if=Enabled true"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db" validate:"gte=0"`
	TLS      bool          `yaml:"tls"`
	TTL      time.Duration `yaml:"ttl" validate:"gte=0"`
}

// ReferenceSection selects and configures the ticker list provider
type ReferenceSection struct {
	Source             string        `yaml:"source" validate:"oneof=csv nasdaq"`
	CSVPath            string        `yaml:"csv_path" split_words:"true" validate:"required_if=Source csv"`
	NasdaqURLs         []string      `yaml:"nasdaq_urls" envconfig:"NASDAQ_URLS" validate:"dive,url"`
	RequestTimeout     time.Duration `yaml:"request_timeout" split_words:"true" validate:"gt=0"`
	MinInterval        time.Duration `yaml:"min_interval" split_words:"true" validate:"gte=0"`
	BreakerFailures    uint32        `yaml:"breaker_failures" split_words:"true" validate:"gt=0"`
	BreakerOpenTimeout time.Duration `yaml:"breaker_open_timeout" split_words:"true"`
	CacheKey           string        `yaml:"cache_key" split_words:"true" validate:"required"`
}

// ScanSection controls a pipeline run
type ScanSection struct {
	BatchSize        int     `yaml:"batch_size" split_words:"true" validate:"gt=0"`
	Workers          int     `yaml:"workers" validate:"gte=0"` // 0 selects NumCPU-1
	Threshold        float64 `yaml:"threshold" validate:"gte=0"`
	AllowLowercase   bool    `yaml:"allow_lowercase" split_words:"true"`
	ExcludePostTitle string  `yaml:"exclude_post_title" split_words:"true"`
	StageByDepth     bool    `yaml:"stage_by_depth" split_words:"true"`
	DryRun           bool    `yaml:"dry_run" split_words:"true"`

	// Lexicon extends the built-in redlist and context words
	Lexicon     mentions.Lexicon `yaml:"lexicon" ignored:"true"`
	Weights     mentions.Weights `yaml:"weights" ignored:"true"`
	Propagation propagate.Config `yaml:"propagation" ignored:"true"`
}

// LoggingSection configures zerolog
type LoggingSection struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn error"`
	Format string `yaml:"format" validate:"oneof=auto console json"`
}

// MetricsSection configures the /metrics and /healthz listener
type MetricsSection struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr" validate:"required_if=Enabled true"`
}

// Default returns the configuration used when no file is present
func Default() *AppConfig {
	nasdaq := reference.DefaultNasdaqTraderConfig()
	return &AppConfig{
		Database: db.DefaultConfig(),
		Cache: CacheSection{
			Redis: RedisSection{
				Addr: "localhost:6379",
				TTL:  24 * time.Hour,
			},
		},
		Reference: ReferenceSection{
			Source:             SourceCSV,
			CSVPath:            "data/tickers.csv",
			NasdaqURLs:         nasdaq.URLs,
			RequestTimeout:     nasdaq.RequestTimeout,
			MinInterval:        nasdaq.MinInterval,
			BreakerFailures:    nasdaq.ConsecutiveFailures,
			BreakerOpenTimeout: nasdaq.OpenTimeout,
			CacheKey:           "mentionscan:reference:listings",
		},
		Scan: ScanSection{
			BatchSize:        100,
			Threshold:        mentions.DefaultThreshold,
			ExcludePostTitle: "The Lounge",
			StageByDepth:     true,
			Weights:          mentions.DefaultWeights(),
			Propagation:      propagate.DefaultConfig(),
		},
		Logging: LoggingSection{
			Level:  "info",
			Format: "auto",
		},
		Metrics: MetricsSection{
			Addr: ":9108",
		},
	}
}

// Load reads configPath if it exists, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(configPath string) (*AppConfig, error) {
	config := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, config); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	config.Logging.Level = strings.ToLower(config.Logging.Level)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Save writes the configuration to a YAML file
func Save(config *AppConfig, configPath string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", configPath, err)
	}
	return nil
}

var validate = validator.New()

// Validate checks field constraints and cross-section rules
func (c *AppConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("config validation failed: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("config validation failed: %w", err)
	}

	if c.Database.Enabled && c.Database.DSN == "" {
		return fmt.Errorf("config validation failed: database DSN is required when database is enabled")
	}
	if c.Scan.Propagation.Decay <= 0 || c.Scan.Propagation.Decay >= 1 {
		return fmt.Errorf("config validation failed: propagation decay must be in (0, 1)")
	}
	return nil
}

// ResolvedWorkers returns the worker pool size, NumCPU-1 with a floor of one
// when unset
func (s ScanSection) ResolvedWorkers() int {
	if s.Workers > 0 {
		return s.Workers
	}
	if n := runtime.NumCPU() - 1; n > 1 {
		return n
	}
	return 1
}

// NasdaqTrader converts the reference section into provider settings
func (r ReferenceSection) NasdaqTrader() reference.NasdaqTraderConfig {
	return reference.NasdaqTraderConfig{
		URLs:                r.NasdaqURLs,
		RequestTimeout:      r.RequestTimeout,
		MinInterval:         r.MinInterval,
		ConsecutiveFailures: r.BreakerFailures,
		OpenTimeout:         r.BreakerOpenTimeout,
	}
}

// LexiconWithDefaults merges the configured extras into the built-in lexicon
func (s ScanSection) LexiconWithDefaults() mentions.Lexicon {
	return mentions.DefaultLexicon().Merge(s.Lexicon)
}
