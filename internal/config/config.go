// Package config loads service configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full configuration of the clinic API process.
type Config struct {
	Port string `mapstructure:"PORT"`
	Env  string `mapstructure:"ENV"`

	// Record store gateway.
	ERPBaseURL     string        `mapstructure:"ERP_BASE_URL"`
	ERPTimeout     time.Duration `mapstructure:"ERP_TIMEOUT"`
	SessionProfile string        `mapstructure:"SESSION_PROFILE"`

	// Session persistence.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	// Audit event stream. Empty BROKERS disables publishing.
	Brokers    []string `mapstructure:"BROKERS"`
	AuditTopic string   `mapstructure:"AUDIT_TOPIC"`

	// Observability.
	OTLPEndpoint string  `mapstructure:"OTLP_ENDPOINT"`
	TraceRatio   float64 `mapstructure:"TRACE_RATIO"`

	WorkerCount int `mapstructure:"WORKER_COUNT"`
}

// Load reads configuration from the environment and an optional .env file.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("ERP_TIMEOUT", "15s")
	v.SetDefault("SESSION_PROFILE", "default")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("AUDIT_TOPIC", "clinic.audit")
	v.SetDefault("TRACE_RATIO", 0.1)
	v.SetDefault("WORKER_COUNT", 4)

	for _, key := range []string{
		"PORT", "ENV",
		"ERP_BASE_URL", "ERP_TIMEOUT", "SESSION_PROFILE",
		"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
		"BROKERS", "AUDIT_TOPIC",
		"OTLP_ENDPOINT", "TRACE_RATIO",
		"WORKER_COUNT",
	} {
		v.BindEnv(key)
	}

	// Missing .env is fine, the environment is authoritative anyway.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.Brokers == nil {
		if brokers := v.GetString("BROKERS"); brokers != "" {
			cfg.Brokers = strings.Split(brokers, ",")
		}
	}

	if cfg.ERPBaseURL == "" {
		return nil, fmt.Errorf("ERP_BASE_URL is required")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

// IsDev reports whether the process runs in development mode.
func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// EventsEnabled reports whether audit publishing is configured.
func (c *Config) EventsEnabled() bool {
	return len(c.Brokers) > 0
}
