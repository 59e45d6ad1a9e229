package config

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port                string   `mapstructure:"PORT"`
	Env                 string   `mapstructure:"ENV"`
	DatabaseURL         string   `mapstructure:"DATABASE_URL"`
	DBMaxConns          int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns          int32    `mapstructure:"DB_MIN_CONNS"`
	DefaultClinicID     int64    `mapstructure:"DEFAULT_CLINIC_ID"`
	CORSOrigins         []string `mapstructure:"CORS_ORIGINS"`
	PHIEncryptionKey    string   `mapstructure:"PHI_ENCRYPTION_KEY"`
	StripeAPIKey        string   `mapstructure:"STRIPE_API_KEY"`
	StripeWebhookSecret string   `mapstructure:"STRIPE_WEBHOOK_SECRET"`
	StripeTimeoutSecs   int      `mapstructure:"STRIPE_TIMEOUT_SECS"`
	StripeMaxRetries    int      `mapstructure:"STRIPE_MAX_RETRIES"`
	MigrationsDir       string   `mapstructure:"MIGRATIONS_DIR"`
	InviteFromEmail     string   `mapstructure:"INVITE_FROM_EMAIL"`
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
	v.SetDefault("DEFAULT_CLINIC_ID", 0)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("STRIPE_TIMEOUT_SECS", 10)
	v.SetDefault("STRIPE_MAX_RETRIES", 2)
	v.SetDefault("MIGRATIONS_DIR", "migrations")
	v.SetDefault("INVITE_FROM_EMAIL", "no-reply@telecare.example")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("DEFAULT_CLINIC_ID")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("PHI_ENCRYPTION_KEY")
	v.BindEnv("STRIPE_API_KEY")
	v.BindEnv("STRIPE_WEBHOOK_SECRET")
	v.BindEnv("STRIPE_TIMEOUT_SECS")
	v.BindEnv("STRIPE_MAX_RETRIES")
	v.BindEnv("MIGRATIONS_DIR")
	v.BindEnv("INVITE_FROM_EMAIL")

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

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. In production the
// PHI encryption key and the Stripe webhook secret are mandatory: plaintext
// patient identity storage and unverified webhook payloads are both
// acceptable only in development.
func (c *Config) Validate() error {
	if c.IsProduction() {
		if c.PHIEncryptionKey == "" {
			return fmt.Errorf("PHI_ENCRYPTION_KEY is required in production")
		}
		if c.StripeWebhookSecret == "" {
			return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required in production")
		}
	}
	if c.PHIEncryptionKey != "" {
		keyBytes, err := hex.DecodeString(c.PHIEncryptionKey)
		if err != nil {
			return fmt.Errorf("PHI_ENCRYPTION_KEY is not valid hex: %w", err)
		}
		if len(keyBytes) != 32 {
			return fmt.Errorf("PHI_ENCRYPTION_KEY must be 32 bytes (64 hex chars), got %d bytes", len(keyBytes))
		}
	}
	if c.StripeMaxRetries < 0 {
		return fmt.Errorf("STRIPE_MAX_RETRIES must be >= 0, got %d", c.StripeMaxRetries)
	}
	return nil
}

// EncryptionKey returns the decoded 32-byte PHI key, or nil when field
// encryption is not configured.
func (c *Config) EncryptionKey() []byte {
	if c.PHIEncryptionKey == "" {
		return nil
	}
	key, err := hex.DecodeString(c.PHIEncryptionKey)
	if err != nil {
		return nil
	}
	return key
}
