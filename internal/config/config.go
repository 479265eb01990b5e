// Package config loads the YAML configuration shared by the tuzemoon binaries.
// Secrets are read from the environment after the file so they never need to
// be committed.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"tuzemoon/internal/observability"
	"tuzemoon/internal/retry"
	"tuzemoon/internal/solana"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config holds all application settings.
type Config struct {
	App struct {
		Name string `yaml:"name"`
		Env  string `yaml:"env"`
	} `yaml:"app"`

	Backend struct {
		RealtimeURL  string `yaml:"realtime_url"`
		FunctionsURL string `yaml:"functions_url"`
		APIKey       string `yaml:"api_key"`
	} `yaml:"backend"`

	Storage struct {
		Driver        string `yaml:"driver"`
		PostgresDSN   string `yaml:"postgres_dsn"`
		ClickhouseDSN string `yaml:"clickhouse_dsn"`
		Migrate       bool   `yaml:"migrate"`
	} `yaml:"storage"`

	Solana struct {
		RPCURL     string          `yaml:"rpc_url"`
		WSURL      string          `yaml:"ws_url"`
		Recipient  string          `yaml:"recipient"`
		AmountSOL  decimal.Decimal `yaml:"amount_sol"`
		Commitment string          `yaml:"commitment"`
	} `yaml:"solana"`

	Payment struct {
		RetryAttempts   int           `yaml:"retry_attempts"`
		RetryDelay      time.Duration `yaml:"retry_delay"`
		Deadline        time.Duration `yaml:"deadline"`
		ConfirmTimeout  time.Duration `yaml:"confirm_timeout"`
		PollInterval    time.Duration `yaml:"poll_interval"`
		FeatureDuration time.Duration `yaml:"feature_duration"`
	} `yaml:"payment"`

	Cache struct {
		StaleTime    time.Duration `yaml:"stale_time"`
		FetchTimeout time.Duration `yaml:"fetch_timeout"`
	} `yaml:"cache"`

	Expiry struct {
		Enabled  bool          `yaml:"enabled"`
		Interval time.Duration `yaml:"interval"`
	} `yaml:"expiry"`

	Logging struct {
		Level      string `yaml:"level"`
		Format     string `yaml:"format"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
	} `yaml:"logging"`

	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	cfg.App.Name = "tuzemoon"
	cfg.App.Env = "development"
	cfg.Storage.Driver = DriverMemory
	cfg.Solana.RPCURL = "https://api.mainnet-beta.solana.com"
	cfg.Solana.AmountSOL = decimal.RequireFromString("0.1")
	cfg.Solana.Commitment = solana.CommitmentConfirmed
	cfg.Payment.RetryAttempts = retry.DefaultMaxAttempts
	cfg.Payment.RetryDelay = retry.DefaultDelay
	cfg.Payment.Deadline = 3 * time.Minute
	cfg.Payment.ConfirmTimeout = 90 * time.Second
	cfg.Payment.PollInterval = 2 * time.Second
	cfg.Payment.FeatureDuration = 24 * time.Hour
	cfg.Cache.StaleTime = time.Minute
	cfg.Cache.FetchTimeout = 10 * time.Second
	cfg.Expiry.Enabled = true
	cfg.Expiry.Interval = 5 * time.Minute
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.HTTP.Addr = ":8080"
	return &cfg
}

// Load reads the file at path over the defaults, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envOverrides maps environment variables onto config fields.
var envOverrides = map[string]func(c *Config, v string){
	"TUZEMOON_POSTGRES_DSN":   func(c *Config, v string) { c.Storage.PostgresDSN = v },
	"TUZEMOON_CLICKHOUSE_DSN": func(c *Config, v string) { c.Storage.ClickhouseDSN = v },
	"TUZEMOON_STORAGE_DRIVER": func(c *Config, v string) { c.Storage.Driver = v },
	"TUZEMOON_SUPABASE_KEY":   func(c *Config, v string) { c.Backend.APIKey = v },
	"TUZEMOON_REALTIME_URL":   func(c *Config, v string) { c.Backend.RealtimeURL = v },
	"TUZEMOON_FUNCTIONS_URL":  func(c *Config, v string) { c.Backend.FunctionsURL = v },
	"TUZEMOON_SOLANA_RPC_URL": func(c *Config, v string) { c.Solana.RPCURL = v },
	"TUZEMOON_SOLANA_WS_URL":  func(c *Config, v string) { c.Solana.WSURL = v },
	"TUZEMOON_RECIPIENT":      func(c *Config, v string) { c.Solana.Recipient = v },
	"TUZEMOON_LOG_LEVEL":      func(c *Config, v string) { c.Logging.Level = v },
	"TUZEMOON_HTTP_ADDR":      func(c *Config, v string) { c.HTTP.Addr = v },
}

func applyEnvOverrides(cfg *Config) {
	for name, set := range envOverrides {
		if v := os.Getenv(name); v != "" {
			set(cfg, v)
		}
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch c.Storage.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Storage.PostgresDSN == "" {
			fail("storage.postgres_dsn is required for the postgres driver")
		}
	default:
		fail("storage.driver must be %q or %q, got %q", DriverMemory, DriverPostgres, c.Storage.Driver)
	}

	if !hasScheme(c.Solana.RPCURL, "http://", "https://") {
		fail("solana.rpc_url must be an http(s) URL: %q", c.Solana.RPCURL)
	}
	if c.Solana.WSURL != "" && !hasScheme(c.Solana.WSURL, "ws://", "wss://") {
		fail("solana.ws_url must be a ws(s) URL: %q", c.Solana.WSURL)
	}
	if c.Backend.RealtimeURL != "" && !hasScheme(c.Backend.RealtimeURL, "ws://", "wss://") {
		fail("backend.realtime_url must be a ws(s) URL: %q", c.Backend.RealtimeURL)
	}
	if c.Backend.FunctionsURL != "" && !hasScheme(c.Backend.FunctionsURL, "http://", "https://") {
		fail("backend.functions_url must be an http(s) URL: %q", c.Backend.FunctionsURL)
	}
	if c.Solana.Recipient != "" {
		if err := solana.ValidatePublicKey(c.Solana.Recipient); err != nil {
			fail("solana.recipient: %v", err)
		}
	}
	if c.Solana.AmountSOL.LessThan(decimal.New(1, -9)) {
		fail("solana.amount_sol must be at least one lamport")
	}
	switch c.Solana.Commitment {
	case solana.CommitmentProcessed, solana.CommitmentConfirmed, solana.CommitmentFinalized:
	default:
		fail("solana.commitment must be processed, confirmed or finalized: %q", c.Solana.Commitment)
	}

	if c.Payment.RetryAttempts < 1 {
		fail("payment.retry_attempts must be positive")
	}
	if c.Payment.RetryDelay < 0 {
		fail("payment.retry_delay must not be negative")
	}
	for name, d := range map[string]time.Duration{
		"payment.deadline":         c.Payment.Deadline,
		"payment.confirm_timeout":  c.Payment.ConfirmTimeout,
		"payment.poll_interval":    c.Payment.PollInterval,
		"payment.feature_duration": c.Payment.FeatureDuration,
	} {
		if d <= 0 {
			fail("%s must be positive", name)
		}
	}
	if c.Cache.StaleTime < 0 {
		fail("cache.stale_time must not be negative")
	}
	if c.Expiry.Enabled && c.Expiry.Interval <= 0 {
		fail("expiry.interval must be positive")
	}

	if _, err := observability.ParseLevel(c.Logging.Level); err != nil {
		fail("logging.level: %v", err)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		fail("logging.format must be json or text: %q", c.Logging.Format)
	}
	if c.HTTP.Addr == "" {
		fail("http.addr is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// RecipientKey returns the parsed fee recipient, or false when none is set.
func (c *Config) RecipientKey() (solana.PublicKey, bool) {
	if c.Solana.Recipient == "" {
		return solana.PublicKey{}, false
	}
	key, err := solana.ParsePublicKey(c.Solana.Recipient)
	return key, err == nil
}

// RetryPolicy returns the fixed retry policy of the payment workflow.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Fixed(c.Payment.RetryAttempts, c.Payment.RetryDelay)
}

// LogConfig returns the logger settings.
func (c *Config) LogConfig() observability.LogConfig {
	return observability.LogConfig{
		Level:      c.Logging.Level,
		Format:     c.Logging.Format,
		File:       c.Logging.File,
		MaxSizeMB:  c.Logging.MaxSizeMB,
		MaxBackups: c.Logging.MaxBackups,
		MaxAgeDays: c.Logging.MaxAgeDays,
	}
}

func hasScheme(s string, schemes ...string) bool {
	for _, scheme := range schemes {
		if strings.HasPrefix(s, scheme) {
			return true
		}
	}
	return false
}

// LoadDotEnv loads KEY=VALUE lines from path into the environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)

		if _, set := os.LookupEnv(key); !set {
			os.Setenv(key, value)
		}
	}
	return nil
}
