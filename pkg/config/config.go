package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid marks configuration validation failures.
var ErrInvalid = errors.New("config: invalid configuration")

// Config is the immutable run configuration, assembled once at process start.
type Config struct {
	Reddit    RedditConfig    `yaml:"reddit"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Dedup     DedupConfig     `yaml:"dedup"`
	Sentiment SentimentConfig `yaml:"sentiment"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Reporting ReportingConfig `yaml:"reporting"`
	Log       LogConfig       `yaml:"log"`
}

// RedditConfig contains source API credentials and pacing.
type RedditConfig struct {
	ClientID           string        `yaml:"client_id"`
	ClientSecret       string        `yaml:"client_secret"`
	UserAgent          string        `yaml:"user_agent"`
	MinRequestInterval time.Duration `yaml:"min_request_interval"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`
}

// PipelineConfig contains run-level settings.
type PipelineConfig struct {
	Communities         []string      `yaml:"communities"`
	FetchLimit          int           `yaml:"fetch_limit"`
	OutputPath          string        `yaml:"output_path"`
	RunID               string        `yaml:"run_id"`
	RunDeadline         time.Duration `yaml:"run_deadline"`
	MaxRateLimitBackoff time.Duration `yaml:"max_rate_limit_backoff"`
}

// DedupConfig contains seen-store settings.
type DedupConfig struct {
	DBPath            string  `yaml:"db_path"`
	Capacity          uint    `yaml:"capacity"`
	FalsePositiveRate float64 `yaml:"false_positive_rate"`
}

// SentimentConfig contains classifier settings.
type SentimentConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Model        string `yaml:"model"`
	Endpoint     string `yaml:"endpoint"`
	BatchSize    int    `yaml:"batch_size"`
	MaxTextChars int    `yaml:"max_text_chars"`
}

// MetricsConfig contains scrape endpoint settings.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// ReportingConfig contains run-report storage settings. An empty OutputDir
// disables report persistence.
type ReportingConfig struct {
	OutputDir string `yaml:"output_dir"`
	KeepLastN int    `yaml:"keep_last_n"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Reddit: RedditConfig{
			UserAgent:          "finbert-ci/0.1",
			MinRequestInterval: 1 * time.Second,
			RequestTimeout:     30 * time.Second,
		},
		Pipeline: PipelineConfig{
			Communities:         []string{"CryptoCurrency", "Bitcoin", "ethereum"},
			FetchLimit:          100,
			OutputPath:          "/data/reddit_sentiment.csv",
			RunDeadline:         1 * time.Hour,
			MaxRateLimitBackoff: 60 * time.Second,
		},
		Dedup: DedupConfig{
			DBPath:            "/data/dupes.db",
			Capacity:          100000,
			FalsePositiveRate: 0.001,
		},
		Sentiment: SentimentConfig{
			Enabled:      true,
			Model:        "ProsusAI/finbert",
			Endpoint:     "http://localhost:8501",
			BatchSize:    8,
			MaxTextChars: 400,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    8000,
		},
		Reporting: ReportingConfig{
			KeepLastN: 50,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load assembles the run configuration: defaults, then an optional YAML base
// file, then the process environment. Environment always wins.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: read config file: %v", ErrInvalid, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: parse config file: %v", ErrInvalid, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// FromEnv assembles the configuration from defaults and environment only.
func FromEnv() (*Config, error) {
	return Load("")
}

// applyEnv overlays recognized environment variables. Unknown keys are
// ignored.
func (c *Config) applyEnv() error {
	var err error

	setString(&c.Reddit.ClientID, "REDDIT_CLIENT_ID")
	setString(&c.Reddit.ClientSecret, "REDDIT_CLIENT_SECRET")
	setString(&c.Reddit.UserAgent, "REDDIT_USER_AGENT")
	err = firstErr(err, setDuration(&c.Reddit.MinRequestInterval, "MIN_REQUEST_INTERVAL"))
	err = firstErr(err, setDuration(&c.Reddit.RequestTimeout, "REQUEST_TIMEOUT"))

	if v, ok := os.LookupEnv("SUBREDDITS"); ok {
		c.Pipeline.Communities = splitCommunities(v)
	}
	err = firstErr(err, setInt(&c.Pipeline.FetchLimit, "FETCH_LIMIT"))
	setString(&c.Pipeline.OutputPath, "OUTPUT_PATH")
	setString(&c.Pipeline.RunID, "RUN_ID")
	err = firstErr(err, setDuration(&c.Pipeline.RunDeadline, "RUN_DEADLINE"))
	err = firstErr(err, setDuration(&c.Pipeline.MaxRateLimitBackoff, "MAX_RATE_LIMIT_BACKOFF"))

	setString(&c.Dedup.DBPath, "DEDUP_DB_PATH")
	err = firstErr(err, setUint(&c.Dedup.Capacity, "DEDUP_CAPACITY"))
	err = firstErr(err, setFloat(&c.Dedup.FalsePositiveRate, "DEDUP_FP_RATE"))

	err = firstErr(err, setBool(&c.Sentiment.Enabled, "ENABLE_SENTIMENT"))
	setString(&c.Sentiment.Model, "FINBERT_MODEL")
	setString(&c.Sentiment.Endpoint, "FINBERT_ENDPOINT")
	err = firstErr(err, setInt(&c.Sentiment.BatchSize, "SENTIMENT_BATCH_SIZE"))
	err = firstErr(err, setInt(&c.Sentiment.MaxTextChars, "SENTIMENT_MAX_CHARS"))

	err = firstErr(err, setBool(&c.Metrics.Enabled, "ENABLE_METRICS"))
	err = firstErr(err, setInt(&c.Metrics.Port, "METRICS_PORT"))

	setString(&c.Reporting.OutputDir, "REPORT_DIR")
	err = firstErr(err, setInt(&c.Reporting.KeepLastN, "REPORT_KEEP_LAST"))

	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.Format, "LOG_FORMAT")

	return err
}

// Validate enforces required fields and value ranges.
func (c *Config) Validate() error {
	if c.Reddit.ClientID == "" {
		return fmt.Errorf("%w: REDDIT_CLIENT_ID is required", ErrInvalid)
	}
	if c.Reddit.ClientSecret == "" {
		return fmt.Errorf("%w: REDDIT_CLIENT_SECRET is required", ErrInvalid)
	}
	if len(c.Pipeline.Communities) == 0 {
		return fmt.Errorf("%w: at least one community is required", ErrInvalid)
	}
	if c.Pipeline.FetchLimit < 1 {
		return fmt.Errorf("%w: fetch limit must be at least 1", ErrInvalid)
	}
	if c.Pipeline.OutputPath == "" {
		return fmt.Errorf("%w: output path is required", ErrInvalid)
	}
	if c.Dedup.DBPath == "" {
		return fmt.Errorf("%w: dedup db path is required", ErrInvalid)
	}
	if c.Dedup.Capacity < 1 {
		return fmt.Errorf("%w: dedup capacity must be at least 1", ErrInvalid)
	}
	if c.Dedup.FalsePositiveRate <= 0 || c.Dedup.FalsePositiveRate >= 1 {
		return fmt.Errorf("%w: dedup false-positive rate must be in (0,1)", ErrInvalid)
	}
	if c.Sentiment.BatchSize < 1 {
		return fmt.Errorf("%w: sentiment batch size must be at least 1", ErrInvalid)
	}
	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		return fmt.Errorf("%w: metrics port must be a valid TCP port", ErrInvalid)
	}
	return nil
}

// splitCommunities parses a comma-separated community list, dropping empties.
func splitCommunities(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("%w: %s must be an integer: %v", ErrInvalid, key, err)
	}
	*dst = n
	return nil
}

func setUint(dst *uint, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %s must be a non-negative integer: %v", ErrInvalid, key, err)
	}
	*dst = uint(n)
	return nil
}

func setFloat(dst *float64, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return fmt.Errorf("%w: %s must be a number: %v", ErrInvalid, key, err)
	}
	*dst = f
	return nil
}

func setBool(dst *bool, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes":
		*dst = true
	case "false", "0", "no":
		*dst = false
	default:
		return fmt.Errorf("%w: %s must be a boolean", ErrInvalid, key)
	}
	return nil
}

// setDuration accepts Go duration strings ("30s") or bare seconds ("30").
func setDuration(dst *time.Duration, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	v = strings.TrimSpace(v)
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
		return nil
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		*dst = time.Duration(secs * float64(time.Second))
		return nil
	}
	return fmt.Errorf("%w: %s must be a duration", ErrInvalid, key)
}

func firstErr(a, b error) error {
	if a != nil {
		return a
	}
	return b
}
