// Package config provides application configuration management.
// Configuration is loaded from environment variables following 12-factor principles.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Mail drivers.
const (
	MailDriverLog  = "log"
	MailDriverSMTP = "smtp"
)

// minJWTSecretLength is the shortest accepted HMAC secret in bytes.
const minJWTSecretLength = 32

// Config holds all application configuration.
// All fields are populated from environment variables.
type Config struct {
	// Application settings
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	AppPort int    `env:"APP_PORT" envDefault:"8080"`

	// Database (PostgreSQL)
	DatabaseURL string `env:"DATABASE_URL,required"`

	// Cache (Redis)
	RedisURL string `env:"REDIS_URL,required"`

	// Public URLs. BackendURL builds the OAuth callback, FrontendURL is
	// where browsers land after Google sign-in.
	BackendURL  string `env:"BACKEND_URL" envDefault:"http://localhost:8080"`
	FrontendURL string `env:"FRONTEND_URL" envDefault:"http://localhost:5173"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Server timeouts
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Session tokens
	JWTSecret string        `env:"JWT_SECRET,required"`
	JWTTTL    time.Duration `env:"JWT_TTL" envDefault:"24h"`

	// One-time codes
	OTPTTL time.Duration `env:"OTP_TTL" envDefault:"10m"`
	// When false, requesting a login code for an unverified account gets
	// the same acknowledgment as an unknown email.
	LoginOTPRevealUnverified bool `env:"LOGIN_OTP_REVEAL_UNVERIFIED" envDefault:"true"`

	// Google OAuth. Federated login is disabled when the client ID is empty.
	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`

	// Mail delivery
	MailDriver        string        `env:"MAIL_DRIVER" envDefault:"log"`
	MailFrom          string        `env:"MAIL_FROM" envDefault:"Notes App <no-reply@localhost>"`
	MailRatePerSecond float64       `env:"MAIL_RATE_PER_SECOND" envDefault:"5"`
	MailBlockTimeout  time.Duration `env:"MAIL_BLOCK_TIMEOUT" envDefault:"5s"`
	MailRetryBackoff  time.Duration `env:"MAIL_RETRY_BACKOFF" envDefault:"1s"`
	MailClaimIdle     time.Duration `env:"MAIL_CLAIM_IDLE" envDefault:"30s"`
	SMTPHost          string        `env:"SMTP_HOST"`
	SMTPPort          int           `env:"SMTP_PORT" envDefault:"587"`
	SMTPUsername      string        `env:"SMTP_USERNAME"`
	SMTPPassword      string        `env:"SMTP_PASSWORD"`

	// Rate limiting of unauthenticated auth endpoints (per client IP)
	RateLimitAuthEnabled bool `env:"RATE_LIMIT_AUTH_ENABLED" envDefault:"true"`
	RateLimitAuthRPS     int  `env:"RATE_LIMIT_AUTH_RPS" envDefault:"5"`
	RateLimitAuthBurst   int  `env:"RATE_LIMIT_AUTH_BURST" envDefault:"10"`

	// CORS configuration
	// Comma-separated list of allowed origins (e.g., "https://notes.example.com,http://localhost:5173")
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:""`

	// Request body size limit in bytes (default 1MB)
	MaxRequestBodySize int64 `env:"MAX_REQUEST_BODY_SIZE" envDefault:"1048576"`
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// GoogleEnabled reports whether Google sign-in is configured.
func (c *Config) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

// GoogleCallbackURL is the redirect URI registered with Google.
func (c *Config) GoogleCallbackURL() string {
	return strings.TrimSuffix(c.BackendURL, "/") + "/api/auth/google/callback"
}

// GetCORSAllowedOrigins parses the comma-separated origins string into a slice.
// Trailing slashes are dropped so "https://app.example.com/" matches the
// Origin header browsers send.
func (c *Config) GetCORSAllowedOrigins() []string {
	if c.CORSAllowedOrigins == "" {
		return nil
	}

	origins := strings.Split(c.CORSAllowedOrigins, ",")
	result := make([]string, 0, len(origins))

	for _, origin := range origins {
		trimmed := strings.TrimSuffix(strings.TrimSpace(origin), "/")
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

// Validate checks cross-field constraints that env tags cannot express.
func (c *Config) Validate() error {
	if len(c.JWTSecret) < minJWTSecretLength {
		return fmt.Errorf("JWT_SECRET must be at least %d bytes", minJWTSecretLength)
	}

	switch c.MailDriver {
	case MailDriverLog:
		if c.IsProduction() {
			return errors.New("MAIL_DRIVER=log is not allowed in production")
		}
	case MailDriverSMTP:
		if c.SMTPHost == "" {
			return errors.New("SMTP_HOST is required when MAIL_DRIVER=smtp")
		}
	default:
		return fmt.Errorf("unknown MAIL_DRIVER %q", c.MailDriver)
	}

	if c.OTPTTL <= 0 {
		return errors.New("OTP_TTL must be positive")
	}

	return nil
}

// Load parses environment variables and returns a validated Config.
// Returns an error if required variables are missing.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
