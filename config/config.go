// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/promptforge/tokengate/domain/billing"
)

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Plans    []PlanConfig   `yaml:"plans"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DatabaseConfig configures the database.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "memory"
	DSN    string `yaml:"dsn"`
}

// GatewayConfig configures the payment gateway.
// Mode "none" disables payments; "dummy" simulates them for development.
type GatewayConfig struct {
	Mode          string        `yaml:"mode"` // "none", "razorpay", "dummy"
	KeyID         string        `yaml:"key_id,omitempty"`
	KeySecret     string        `yaml:"key_secret,omitempty"`
	WebhookSecret string        `yaml:"webhook_secret,omitempty"`
	BaseURL       string        `yaml:"base_url,omitempty"`
	Timeout       time.Duration `yaml:"timeout,omitempty"`
}

// LedgerConfig configures token accounting behavior.
type LedgerConfig struct {
	FreeTrialTokens int64 `yaml:"free_trial_tokens"`
	HistoryPageSize int   `yaml:"history_page_size"`
}

// PlanConfig configures a subscription plan.
type PlanConfig struct {
	Key             string `yaml:"key"`
	GatewayPlanID   string `yaml:"gateway_plan_id"`
	Price           int64  `yaml:"price"` // smallest currency unit per period
	Currency        string `yaml:"currency"`
	TokensPerPeriod int64  `yaml:"tokens_per_period"`
	Label           string `yaml:"label"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or console
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// BillingPlans converts the configured plan list into domain values.
func (c *Config) BillingPlans() []billing.Plan {
	plans := make([]billing.Plan, 0, len(c.Plans))
	for _, p := range c.Plans {
		plans = append(plans, billing.Plan{
			Key:             p.Key,
			GatewayPlanID:   p.GatewayPlanID,
			Price:           p.Price,
			Currency:        p.Currency,
			TokensPerPeriod: p.TokensPerPeriod,
			Label:           p.Label,
		})
	}
	return plans
}

// Load reads configuration from a YAML file with environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables so secrets stay out of the file
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadFromEnv builds a configuration from environment variables only.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{}
	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// LoadWithFallback loads from file when it exists, otherwise from env vars.
func LoadWithFallback(path string) (*Config, error) {
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}
	return LoadFromEnv()
}

// HasEnvConfig reports whether env-only configuration is present.
func HasEnvConfig() bool {
	return os.Getenv("TOKENGATE_DATABASE_DSN") != "" ||
		os.Getenv("TOKENGATE_GATEWAY_MODE") != ""
}

func applyEnvOverrides(cfg *Config) {
	// Server configuration
	if v := os.Getenv("TOKENGATE_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("TOKENGATE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("TOKENGATE_SERVER_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ReadTimeout = d
		}
	}
	if v := os.Getenv("TOKENGATE_SERVER_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.WriteTimeout = d
		}
	}

	// Database configuration
	if v := os.Getenv("TOKENGATE_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("TOKENGATE_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}

	// Gateway configuration
	if v := os.Getenv("TOKENGATE_GATEWAY_MODE"); v != "" {
		cfg.Gateway.Mode = v
	}
	if v := os.Getenv("TOKENGATE_GATEWAY_KEY_ID"); v != "" {
		cfg.Gateway.KeyID = v
	}
	if v := os.Getenv("TOKENGATE_GATEWAY_KEY_SECRET"); v != "" {
		cfg.Gateway.KeySecret = v
	}
	if v := os.Getenv("TOKENGATE_GATEWAY_WEBHOOK_SECRET"); v != "" {
		cfg.Gateway.WebhookSecret = v
	}
	if v := os.Getenv("TOKENGATE_GATEWAY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Gateway.Timeout = d
		}
	}

	// Ledger configuration
	if v := os.Getenv("TOKENGATE_FREE_TRIAL_TOKENS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Ledger.FreeTrialTokens = n
		}
	}

	// Logging configuration
	if v := os.Getenv("TOKENGATE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("TOKENGATE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	// Metrics configuration
	if v := os.Getenv("TOKENGATE_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
}

func parseBool(v string) bool {
	b, _ := strconv.ParseBool(v)
	return b
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "tokengate.db"
	}
	if cfg.Gateway.Mode == "" {
		cfg.Gateway.Mode = "none"
	}
	if cfg.Gateway.Timeout == 0 {
		cfg.Gateway.Timeout = 15 * time.Second
	}
	if cfg.Ledger.FreeTrialTokens == 0 {
		cfg.Ledger.FreeTrialTokens = 1000
	}
	if cfg.Ledger.HistoryPageSize == 0 {
		cfg.Ledger.HistoryPageSize = 20
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	for i := range cfg.Plans {
		if cfg.Plans[i].Currency == "" {
			cfg.Plans[i].Currency = "INR"
		}
	}
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server port must be 1-65535, got %d", cfg.Server.Port)
	}

	switch cfg.Database.Driver {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}

	switch cfg.Gateway.Mode {
	case "none", "dummy":
	case "razorpay":
		if cfg.Gateway.KeyID == "" || cfg.Gateway.KeySecret == "" {
			return fmt.Errorf("gateway mode %q requires key_id and key_secret", cfg.Gateway.Mode)
		}
		if cfg.Gateway.WebhookSecret == "" {
			return fmt.Errorf("gateway mode %q requires webhook_secret", cfg.Gateway.Mode)
		}
	default:
		return fmt.Errorf("unknown gateway mode %q", cfg.Gateway.Mode)
	}

	seen := make(map[string]bool, len(cfg.Plans))
	for _, p := range cfg.Plans {
		if p.Key == "" {
			return fmt.Errorf("plan with empty key")
		}
		if seen[p.Key] {
			return fmt.Errorf("duplicate plan key %q", p.Key)
		}
		seen[p.Key] = true
		if p.TokensPerPeriod <= 0 {
			return fmt.Errorf("plan %q: tokens_per_period must be positive", p.Key)
		}
		if p.Price < 0 {
			return fmt.Errorf("plan %q: price must not be negative", p.Key)
		}
	}

	if cfg.Ledger.FreeTrialTokens < 0 {
		return fmt.Errorf("free_trial_tokens must not be negative")
	}

	return nil
}
