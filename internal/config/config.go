package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/cdm/feasibility/internal/cdm"
	"github.com/cdm/feasibility/internal/platform/db"
)

type Config struct {
	Port           string        `mapstructure:"PORT"`
	Env            string        `mapstructure:"ENV"`
	LogLevel       string        `mapstructure:"LOG_LEVEL"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	DBDialect      string        `mapstructure:"DB_DIALECT"`
	DBMaxConns     int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32         `mapstructure:"DB_MIN_CONNS"`
	CDMSchema      string        `mapstructure:"CDM_SCHEMA"`
	CDMVersion     string        `mapstructure:"CDM_VERSION"`
	DomainWorkers  int           `mapstructure:"DOMAIN_WORKERS"`
	AuthSigningKey string        `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer     string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string        `mapstructure:"AUTH_AUDIENCE"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit      string        `mapstructure:"BODY_LIMIT"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_DIALECT", string(db.Postgres))
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CDM_SCHEMA", "main")
	v.SetDefault("CDM_VERSION", cdm.DefaultVersion)
	v.SetDefault("DOMAIN_WORKERS", 4)
	v.SetDefault("REQUEST_TIMEOUT", "60s")
	v.SetDefault("BODY_LIMIT", "1MB")
	v.SetDefault("CORS_ORIGINS", []string{"*"})

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"PORT", "ENV", "LOG_LEVEL", "DATABASE_URL", "DB_DIALECT",
		"DB_MAX_CONNS", "DB_MIN_CONNS", "CDM_SCHEMA", "CDM_VERSION",
		"DOMAIN_WORKERS", "AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE",
		"REQUEST_TIMEOUT", "BODY_LIMIT", "CORS_ORIGINS",
	} {
		v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.DBDialect = strings.ToLower(strings.TrimSpace(cfg.DBDialect))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Warn().Msg("running in development mode (ENV=development): every request is treated as admin; set ENV=production and AUTH_SIGNING_KEY before exposing the API")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Dialect returns the parsed DB_DIALECT.
func (c *Config) Dialect() (db.Dialect, error) {
	return db.ParseDialect(c.DBDialect)
}

// Validate checks that the configuration is safe to run. Outside development
// AUTH_SIGNING_KEY must be set so that bearer tokens are verified.
func (c *Config) Validate() error {
	if _, err := c.Dialect(); err != nil {
		return err
	}
	if _, err := cdm.LoadCatalog(c.CDMVersion); err != nil {
		return fmt.Errorf("CDM_VERSION: %w", err)
	}
	if !db.ValidIdentifier(c.CDMSchema) {
		return fmt.Errorf("CDM_SCHEMA %q is not a valid identifier", c.CDMSchema)
	}
	if c.DomainWorkers < 1 {
		return fmt.Errorf("DOMAIN_WORKERS must be at least 1, got %d", c.DomainWorkers)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must not be negative")
	}
	if !c.IsDev() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is required when ENV=%q", c.Env)
	}
	return nil
}
