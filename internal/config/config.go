package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Port           string        `mapstructure:"PORT"`
	Env            string        `mapstructure:"ENV"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32         `mapstructure:"DB_MIN_CONNS"`
	MigrationsDir  string        `mapstructure:"MIGRATIONS_DIR"`
	RedisURL       string        `mapstructure:"REDIS_URL"`
	RedisChannel   string        `mapstructure:"REDIS_CHANNEL"`
	AuthIssuer     string        `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL    string        `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience   string        `mapstructure:"AUTH_AUDIENCE"`
	JWTSigningKey  string        `mapstructure:"JWT_SIGNING_KEY"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	ClinicTimezone string        `mapstructure:"CLINIC_TIMEZONE"`
	SlotInterval   time.Duration `mapstructure:"SLOT_INTERVAL"`
	EnforceGrid    bool          `mapstructure:"BOOKING_ENFORCE_SLOT_GRID"`
	EnforceCap     bool          `mapstructure:"BOOKING_ENFORCE_CAPACITY"`
	BlobDir        string        `mapstructure:"BLOB_DIR"`
	UploadMaxBytes int64         `mapstructure:"UPLOAD_MAX_BYTES"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("MIGRATIONS_DIR", "migrations")
	v.SetDefault("REDIS_CHANNEL", "hms:events")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("CLINIC_TIMEZONE", "UTC")
	v.SetDefault("SLOT_INTERVAL", "15m")
	v.SetDefault("BOOKING_ENFORCE_SLOT_GRID", true)
	v.SetDefault("BOOKING_ENFORCE_CAPACITY", true)
	v.SetDefault("UPLOAD_MAX_BYTES", 10<<20)
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "MIGRATIONS_DIR",
		"REDIS_URL", "REDIS_CHANNEL", "AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE",
		"JWT_SIGNING_KEY", "CORS_ORIGINS", "CLINIC_TIMEZONE", "SLOT_INTERVAL",
		"BOOKING_ENFORCE_SLOT_GRID", "BOOKING_ENFORCE_CAPACITY", "BLOB_DIR",
		"UPLOAD_MAX_BYTES", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	} {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Warn().Msg("server is running in DEVELOPMENT mode: requests without a bearer token are accepted with X-User-ID/X-User-Role headers")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Location returns the clinic time zone used to decide what "today" is.
func (c *Config) Location() (*time.Location, error) {
	if c.ClinicTimezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.ClinicTimezone)
	if err != nil {
		return nil, fmt.Errorf("CLINIC_TIMEZONE: %w", err)
	}
	return loc, nil
}

// Validate checks that the configuration is safe to run. Outside development
// at least one token verifier (signing key, JWKS URL or issuer) must be set.
func (c *Config) Validate() error {
	if !c.IsDev() && c.JWTSigningKey == "" && c.AuthJWKSURL == "" && c.AuthIssuer == "" {
		return fmt.Errorf("one of JWT_SIGNING_KEY, AUTH_JWKS_URL or AUTH_ISSUER must be set when ENV=%q", c.Env)
	}
	if c.SlotInterval <= 0 {
		return fmt.Errorf("SLOT_INTERVAL must be positive, got %s", c.SlotInterval)
	}
	if c.SlotInterval%time.Minute != 0 {
		return fmt.Errorf("SLOT_INTERVAL must be a whole number of minutes, got %s", c.SlotInterval)
	}
	if c.UploadMaxBytes <= 0 {
		return fmt.Errorf("UPLOAD_MAX_BYTES must be positive")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}
