package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ehr/consultdesk/internal/domain/consultation"
)

type Config struct {
	Port            string        `mapstructure:"PORT"`
	Env             string        `mapstructure:"ENV"`
	DatabaseURL     string        `mapstructure:"DATABASE_URL"`
	DBMaxConns      int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns      int32         `mapstructure:"DB_MIN_CONNS"`
	DefaultClinic   string        `mapstructure:"DEFAULT_CLINIC"`
	RedisURL        string        `mapstructure:"REDIS_URL"`
	CatalogCacheTTL time.Duration `mapstructure:"CATALOG_CACHE_TTL"`
	AuthIssuer      string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience    string        `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey  string        `mapstructure:"AUTH_SIGNING_KEY"`
	AuthJWKSURL     string        `mapstructure:"AUTH_JWKS_URL"`
	CORSOrigins     []string      `mapstructure:"CORS_ORIGINS"`

	NoteTagDelimiter     string        `mapstructure:"NOTE_TAG_DELIMITER"`
	FindingTagDelimiter  string        `mapstructure:"FINDING_TAG_DELIMITER"`
	ParamDelimiter       string        `mapstructure:"PARAM_DELIMITER"`
	MissingValueSentinel string        `mapstructure:"MISSING_VALUE_SENTINEL"`
	SaveTimeout          time.Duration `mapstructure:"SAVE_TIMEOUT"`
	QueueNotifyChannel   string        `mapstructure:"QUEUE_NOTIFY_CHANNEL"`
	QueueStatusFilter    string        `mapstructure:"QUEUE_STATUS_FILTER"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DEFAULT_CLINIC",
	"REDIS_URL", "CATALOG_CACHE_TTL", "AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY", "AUTH_JWKS_URL",
	"CORS_ORIGINS", "NOTE_TAG_DELIMITER", "FINDING_TAG_DELIMITER", "PARAM_DELIMITER",
	"MISSING_VALUE_SENTINEL", "SAVE_TIMEOUT", "QUEUE_NOTIFY_CHANNEL", "QUEUE_STATUS_FILTER",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	defaults := consultation.DefaultEncoding()
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("DEFAULT_CLINIC", "default")
	v.SetDefault("CATALOG_CACHE_TTL", "10m")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("NOTE_TAG_DELIMITER", defaults.NoteDelimiter)
	v.SetDefault("FINDING_TAG_DELIMITER", defaults.FindingDelimiter)
	v.SetDefault("PARAM_DELIMITER", defaults.ParamDelimiter)
	v.SetDefault("MISSING_VALUE_SENTINEL", defaults.MissingValue)
	v.SetDefault("SAVE_TIMEOUT", "30s")
	v.SetDefault("QUEUE_NOTIFY_CHANNEL", "appointment_queue")
	v.SetDefault("QUEUE_STATUS_FILTER", "pending,emergency,on_hold")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Encoding returns the delimiters and sentinel used to flatten sessions.
func (c *Config) Encoding() consultation.Encoding {
	return consultation.Encoding{
		NoteDelimiter:    c.NoteTagDelimiter,
		FindingDelimiter: c.FindingTagDelimiter,
		ParamDelimiter:   c.ParamDelimiter,
		MissingValue:     c.MissingValueSentinel,
	}
}

// QueueStatuses parses QUEUE_STATUS_FILTER. Unknown names are dropped.
func (c *Config) QueueStatuses() []consultation.QueueStatus {
	return consultation.ParseQueueStatuses(c.QueueStatusFilter)
}

// Validate checks that the configuration is safe to run. Note tags and
// findings must not share a delimiter, otherwise stored fields cannot be told
// apart. Outside development a JWT issuer or signing key is required.
func (c *Config) Validate() error {
	delims := map[string]string{
		"NOTE_TAG_DELIMITER":    c.NoteTagDelimiter,
		"FINDING_TAG_DELIMITER": c.FindingTagDelimiter,
		"PARAM_DELIMITER":       c.ParamDelimiter,
	}
	for _, k := range []string{"NOTE_TAG_DELIMITER", "FINDING_TAG_DELIMITER", "PARAM_DELIMITER"} {
		if delims[k] == "" {
			return fmt.Errorf("%s must not be empty", k)
		}
		if delims[k] == c.MissingValueSentinel {
			return fmt.Errorf("MISSING_VALUE_SENTINEL %q collides with %s", c.MissingValueSentinel, k)
		}
	}
	if c.NoteTagDelimiter == c.FindingTagDelimiter {
		return fmt.Errorf("NOTE_TAG_DELIMITER and FINDING_TAG_DELIMITER must differ, both are %q", c.NoteTagDelimiter)
	}
	if len(c.QueueStatuses()) == 0 {
		return fmt.Errorf("QUEUE_STATUS_FILTER %q names no known status", c.QueueStatusFilter)
	}
	if c.SaveTimeout <= 0 {
		return fmt.Errorf("SAVE_TIMEOUT must be positive")
	}
	if !c.IsDev() && c.AuthIssuer == "" && c.AuthSigningKey == "" {
		return fmt.Errorf(
			"AUTH_ISSUER or AUTH_SIGNING_KEY must be set when ENV=%q. "+
				"Refusing to start without authentication configuration", c.Env)
	}
	return nil
}
