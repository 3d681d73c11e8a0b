package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port                   string   `mapstructure:"PORT"`
	Env                    string   `mapstructure:"ENV"`
	DatabaseURL            string   `mapstructure:"DATABASE_URL"`
	DBMaxConns             int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns             int32    `mapstructure:"DB_MIN_CONNS"`
	MigrationsDir          string   `mapstructure:"MIGRATIONS_DIR"`
	RedisURL               string   `mapstructure:"REDIS_URL"`
	AuthIssuer             string   `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL            string   `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience           string   `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey         string   `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins            []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRequests      int      `mapstructure:"RATE_LIMIT_REQUESTS"`
	RateLimitWindowSeconds int      `mapstructure:"RATE_LIMIT_WINDOW_SECONDS"`
	KafkaBrokers           []string `mapstructure:"KAFKA_BROKERS"`
	KafkaEventsTopic       string   `mapstructure:"KAFKA_EVENTS_TOPIC"`
	S3Bucket               string   `mapstructure:"S3_BUCKET"`
	SQSTransferQueue       string   `mapstructure:"SQS_TRANSFER_QUEUE"`
	AccumulationPayers     []string `mapstructure:"ACCUMULATION_PAYERS"`
	AccumulationAlertTo    string   `mapstructure:"ACCUMULATION_ALERT_RECIPIENT"`
	JobIntervalSeconds     int      `mapstructure:"JOB_INTERVAL_SECONDS"`

	// AccumulationIntervalSeconds is the payer file cadence, daily by default.
	AccumulationIntervalSeconds int `mapstructure:"ACCUMULATION_INTERVAL_SECONDS"`
}

var envKeys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "MIGRATIONS_DIR",
	"REDIS_URL", "AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY",
	"CORS_ORIGINS", "RATE_LIMIT_REQUESTS", "RATE_LIMIT_WINDOW_SECONDS",
	"KAFKA_BROKERS", "KAFKA_EVENTS_TOPIC", "S3_BUCKET", "SQS_TRANSFER_QUEUE",
	"ACCUMULATION_PAYERS", "ACCUMULATION_ALERT_RECIPIENT", "JOB_INTERVAL_SECONDS",
	"ACCUMULATION_INTERVAL_SECONDS",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("MIGRATIONS_DIR", "./migrations")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_REQUESTS", 300)
	v.SetDefault("RATE_LIMIT_WINDOW_SECONDS", 60)
	v.SetDefault("KAFKA_EVENTS_TOPIC", "member-events")
	v.SetDefault("ACCUMULATION_PAYERS", "aetna,cigna,uhc")
	v.SetDefault("JOB_INTERVAL_SECONDS", 3600)
	v.SetDefault("ACCUMULATION_INTERVAL_SECONDS", 86400)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	cfg.KafkaBrokers = splitList(v.GetString("KAFKA_BROKERS"))
	cfg.AccumulationPayers = splitList(v.GetString("ACCUMULATION_PAYERS"))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

// splitList normalizes comma separated env values, trimming whitespace that
// viper's slice hook keeps.
func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. Outside development
// either an issuer (JWKS validation) or a shared signing key must be set.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthIssuer == "" && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_ISSUER or AUTH_SIGNING_KEY must be set when ENV=%q", c.Env)
	}
	if c.RateLimitRequests <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be positive, got %d", c.RateLimitRequests)
	}
	if c.RateLimitWindowSeconds <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW_SECONDS must be positive, got %d", c.RateLimitWindowSeconds)
	}
	if c.JobIntervalSeconds <= 0 {
		return fmt.Errorf("JOB_INTERVAL_SECONDS must be positive, got %d", c.JobIntervalSeconds)
	}
	if c.AccumulationIntervalSeconds <= 0 {
		return fmt.Errorf("ACCUMULATION_INTERVAL_SECONDS must be positive, got %d", c.AccumulationIntervalSeconds)
	}
	if c.IsProduction() && c.S3Bucket == "" {
		return fmt.Errorf("S3_BUCKET is required in production")
	}
	return nil
}
