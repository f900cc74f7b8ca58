// Package config provides environment-based configuration for Lumen.
//
// Configuration is loaded from environment variables using Viper, with sensible
// defaults for development. This package handles database connection settings,
// DKIM key material, session secrets, and token lifetimes.
//
// # Environment Variables
//
//   - DB_TYPE: Database type (sqlite, postgres, mysql). Default: sqlite
//   - DSN: Database connection string. Default: lumen.db
//   - SKIP_AUTO_MIGRATE: Skip automatic database migrations. Default: false
//   - LOG_LEVEL: Logging level (debug, info, warn, error). Default: info
//   - PORT: HTTP server port. Default: 8080
//   - BASE_URL: Public base URL embedded in magic links. Default: http://localhost:8080
//   - MAIL_FROM: From address for outbound mail. Default: login@localhost
//   - DKIM_KEY_PRIVATE: PEM-encoded RSA private key for DKIM signing
//   - DKIM_DOMAIN: Signing domain (d= tag)
//   - DKIM_SELECTOR: Key selector (s= tag). Default: default
//   - SESSION_SECRET: HMAC secret for session cookies
//   - TOKEN_TTL: Magic link validity window. Default: 15m
//   - SESSION_LIFETIME: Session cookie validity window. Default: 24h
//   - RESEND_WINDOW: Minimum delay between links per address. Default: 2m
//   - REDIS_ADDR: Optional Redis address for distributed rate limiting
//   - SMTP_ADDR: SMTP relay address; mail is logged instead when empty
//
// DKIM key material may carry literal "\n" sequences (common when injected
// through a single-line environment variable); they are expanded on load.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	DBType          string        `mapstructure:"DB_TYPE"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"DSN"`
	SkipAutoMigrate bool          `mapstructure:"SKIP_AUTO_MIGRATE"`
	LogLevel        string        `mapstructure:"LOG_LEVEL"`
	Port            int           `mapstructure:"PORT"`
	BaseURL         string        `mapstructure:"BASE_URL"`
	MailFrom        string        `mapstructure:"MAIL_FROM"`
	DKIMKeyPrivate  string        `mapstructure:"DKIM_KEY_PRIVATE"`
	DKIMDomain      string        `mapstructure:"DKIM_DOMAIN"`
	DKIMSelector    string        `mapstructure:"DKIM_SELECTOR"`
	SessionSecret   string        `mapstructure:"SESSION_SECRET"`
	TokenTTL        time.Duration `mapstructure:"TOKEN_TTL"`
	SessionLifetime time.Duration `mapstructure:"SESSION_LIFETIME"`
	ResendWindow    time.Duration `mapstructure:"RESEND_WINDOW"`
	RedisAddr       string        `mapstructure:"REDIS_ADDR"`
	SMTPAddr        string        `mapstructure:"SMTP_ADDR"`
}

func LoadConfig() (*Config, error) {
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("PORT", 8080)
	viper.SetDefault("DB_TYPE", "sqlite")
	viper.SetDefault("DSN", "lumen.db") // Default to sqlite if not provided
	viper.SetDefault("SKIP_AUTO_MIGRATE", false)
	viper.SetDefault("BASE_URL", "http://localhost:8080")
	viper.SetDefault("MAIL_FROM", "login@localhost")
	viper.SetDefault("DKIM_SELECTOR", "default")
	viper.SetDefault("TOKEN_TTL", 15*time.Minute)
	viper.SetDefault("SESSION_LIFETIME", 24*time.Hour)
	viper.SetDefault("RESEND_WINDOW", 2*time.Minute)

	// Keys without a meaningful default still have to be registered, or
	// AutomaticEnv never surfaces them to Unmarshal.
	viper.SetDefault("DKIM_KEY_PRIVATE", "")
	viper.SetDefault("DKIM_DOMAIN", "")
	viper.SetDefault("SESSION_SECRET", "")
	viper.SetDefault("REDIS_ADDR", "")
	viper.SetDefault("SMTP_ADDR", "")

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.SessionSecret == "" {
		return nil, fmt.Errorf("config: SESSION_SECRET must be set")
	}

	// Single-line env injection encodes newlines as "\n".
	cfg.DKIMKeyPrivate = strings.ReplaceAll(cfg.DKIMKeyPrivate, `\n`, "\n")

	return &cfg, nil
}
