package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port string `mapstructure:"PORT"`
	Env  string `mapstructure:"ENV"`

	PrimaryDatabaseURL string `mapstructure:"PRIMARY_DATABASE_URL"`
	DBMaxConns         int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns         int32  `mapstructure:"DB_MIN_CONNS"`

	SecondaryDatabaseDSN string `mapstructure:"SECONDARY_DATABASE_DSN"`
	SecondaryMaxConns    int    `mapstructure:"SECONDARY_MAX_CONNS"`

	SnapshotPath string        `mapstructure:"SNAPSHOT_PATH"`
	ProbeTimeout time.Duration `mapstructure:"PROBE_TIMEOUT"`
	QueryTimeout time.Duration `mapstructure:"QUERY_TIMEOUT"`

	CROPrefix string `mapstructure:"CRO_PREFIX"`

	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`

	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int      `mapstructure:"RATE_LIMIT_BURST"`
}

var keys = []string{
	"PORT", "ENV",
	"PRIMARY_DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"SECONDARY_DATABASE_DSN", "SECONDARY_MAX_CONNS",
	"SNAPSHOT_PATH", "PROBE_TIMEOUT", "QUERY_TIMEOUT",
	"CRO_PREFIX",
	"AUTH_SIGNING_KEY", "AUTH_ISSUER",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
}

// Load reads configuration from the environment and an optional .env file in
// the working directory. Only the primary database URL is mandatory; the
// secondary store and the snapshot are enabled by setting their keys.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 0)
	v.SetDefault("SECONDARY_MAX_CONNS", 10)
	v.SetDefault("PROBE_TIMEOUT", "2s")
	v.SetDefault("QUERY_TIMEOUT", "5s")
	v.SetDefault("CRO_PREFIX", "CRO")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)

	// Unmarshal only sees env vars that are bound by name.
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))

	if cfg.PrimaryDatabaseURL == "" {
		return nil, fmt.Errorf("PRIMARY_DATABASE_URL is required")
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// SecondaryEnabled reports whether a MySQL replica is configured.
func (c *Config) SecondaryEnabled() bool { return c.SecondaryDatabaseDSN != "" }

// SnapshotEnabled reports whether a snapshot export is configured.
func (c *Config) SnapshotEnabled() bool { return c.SnapshotPath != "" }

// Validate checks that the configuration is safe to run. Outside development
// a signing key is required so bearer tokens are verified.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY must be set when ENV=%q", c.Env)
	}
	if c.AuthSigningKey != "" && len(c.AuthSigningKey) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes, got %d", len(c.AuthSigningKey))
	}
	if c.ProbeTimeout <= 0 {
		return fmt.Errorf("PROBE_TIMEOUT must be positive, got %s", c.ProbeTimeout)
	}
	if c.QueryTimeout <= 0 {
		return fmt.Errorf("QUERY_TIMEOUT must be positive, got %s", c.QueryTimeout)
	}
	if c.DBMinConns < 0 || c.DBMaxConns < 1 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) and DB_MAX_CONNS (%d) must satisfy 0 <= min <= max, max >= 1", c.DBMinConns, c.DBMaxConns)
	}
	if c.SecondaryEnabled() && c.SecondaryMaxConns < 1 {
		return fmt.Errorf("SECONDARY_MAX_CONNS must be at least 1, got %d", c.SecondaryMaxConns)
	}
	if strings.TrimSpace(c.CROPrefix) == "" {
		return fmt.Errorf("CRO_PREFIX must not be empty")
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst < 1 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	return nil
}
