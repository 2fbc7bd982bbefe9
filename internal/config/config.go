package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port                   string        `mapstructure:"PORT"`
	Env                    string        `mapstructure:"ENV"`
	AuthMode               string        `mapstructure:"AUTH_MODE"`
	DatabaseURL            string        `mapstructure:"DATABASE_URL"`
	DBMaxConns             int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns             int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL               string        `mapstructure:"REDIS_URL"`
	AuthIssuer             string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience           string        `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL            string        `mapstructure:"AUTH_JWKS_URL"`
	AuthSigningKey         string        `mapstructure:"AUTH_SIGNING_KEY"`
	DefaultTenant          string        `mapstructure:"DEFAULT_TENANT"`
	CORSOrigins            []string      `mapstructure:"CORS_ORIGINS"`
	RequestTimeout         time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	QueueTimezone          string        `mapstructure:"QUEUE_TIMEZONE"`
	QueueMinutesPerPatient int           `mapstructure:"QUEUE_MINUTES_PER_PATIENT"`
	QueueSweepSchedule     string        `mapstructure:"QUEUE_SWEEP_SCHEDULE"`
	DirectoryCacheTTL      time.Duration `mapstructure:"DIRECTORY_CACHE_TTL"`
	KafkaBrokers           []string      `mapstructure:"KAFKA_BROKERS"`
	KafkaQueueTopic        string        `mapstructure:"KAFKA_QUEUE_TOPIC"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("AUTH_MODE", "") // "" -> inferred from ENV
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DEFAULT_TENANT", "default")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("QUEUE_TIMEZONE", "Asia/Kolkata")
	v.SetDefault("QUEUE_MINUTES_PER_PATIENT", 10)
	v.SetDefault("QUEUE_SWEEP_SCHEDULE", "5 0 * * *") // 00:05 in QUEUE_TIMEZONE
	v.SetDefault("DIRECTORY_CACHE_TTL", "5m")
	v.SetDefault("KAFKA_QUEUE_TOPIC", "opd_queue_events")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("AUTH_MODE")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("REDIS_URL")
	v.BindEnv("AUTH_ISSUER")
	v.BindEnv("AUTH_AUDIENCE")
	v.BindEnv("AUTH_JWKS_URL")
	v.BindEnv("AUTH_SIGNING_KEY")
	v.BindEnv("DEFAULT_TENANT")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("REQUEST_TIMEOUT")
	v.BindEnv("QUEUE_TIMEZONE")
	v.BindEnv("QUEUE_MINUTES_PER_PATIENT")
	v.BindEnv("QUEUE_SWEEP_SCHEDULE")
	v.BindEnv("DIRECTORY_CACHE_TTL")
	v.BindEnv("KAFKA_BROKERS")
	v.BindEnv("KAFKA_QUEUE_TOPIC")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(cfg.CORSOrigins, v.GetString("CORS_ORIGINS"))
	cfg.KafkaBrokers = splitList(cfg.KafkaBrokers, v.GetString("KAFKA_BROKERS"))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active, unauthenticated requests get admin access.")
	}

	return cfg, nil
}

// splitList normalises a comma-separated env value. Viper hands back a single
// element slice for "a,b" when the value comes from the environment.
func splitList(parsed []string, raw string) []string {
	if raw == "" {
		raw = strings.Join(parsed, ",")
	}
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
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

// ResolvedAuthMode returns the effective auth mode. If AUTH_MODE is explicitly
// set, it is returned. Otherwise:
//   - ENV=development -> "development" (no token required, admin identity)
//   - otherwise       -> "jwt"
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return "development"
	}
	return "jwt"
}

// Location resolves QUEUE_TIMEZONE. Queue days are cut at midnight in this zone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.QueueTimezone)
	if err != nil {
		return nil, fmt.Errorf("QUEUE_TIMEZONE %q: %w", c.QueueTimezone, err)
	}
	return loc, nil
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	mode := c.ResolvedAuthMode()
	if mode != "development" && mode != "jwt" {
		return fmt.Errorf("AUTH_MODE must be \"development\" or \"jwt\", got %q", mode)
	}
	if mode == "development" && c.IsProduction() {
		return fmt.Errorf("AUTH_MODE=development is not allowed when ENV=production")
	}
	if mode == "jwt" && c.AuthSigningKey == "" && c.AuthJWKSURL == "" && c.AuthIssuer == "" {
		return fmt.Errorf("one of AUTH_SIGNING_KEY, AUTH_JWKS_URL or AUTH_ISSUER is required when AUTH_MODE is \"jwt\"")
	}

	if _, err := c.Location(); err != nil {
		return err
	}
	if c.QueueMinutesPerPatient <= 0 {
		return fmt.Errorf("QUEUE_MINUTES_PER_PATIENT must be positive, got %d", c.QueueMinutesPerPatient)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout)
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaQueueTopic == "" {
		return fmt.Errorf("KAFKA_QUEUE_TOPIC is required when KAFKA_BROKERS is set")
	}

	return nil
}
