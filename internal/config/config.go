package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

const defaultSessionSecret = "change-me"

type Config struct {
	Environment        string        `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel           string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat          string        `env:"LOG_FORMAT" envDefault:"console"`
	Port               string        `env:"PORT" envDefault:"8080"`
	PublicURL          string        `env:"PUBLIC_URL" envDefault:"http://localhost:8080"`
	FrontendURL        string        `env:"FRONTEND_URL" envDefault:"http://localhost:3000"`
	SessionSecret      string        `env:"SESSION_SECRET" envDefault:"change-me"`
	SessionCookieName  string        `env:"SESSION_COOKIE_NAME" envDefault:"tradeshell_session"`
	SessionTTL         time.Duration `env:"SESSION_TTL" envDefault:"720h"`
	SessionIdleTimeout time.Duration `env:"SESSION_IDLE_TIMEOUT" envDefault:"30m"`
	SweepInterval      time.Duration `env:"SESSION_SWEEP_INTERVAL" envDefault:"1m"`
	GateWaitTimeout    time.Duration `env:"GATE_WAIT_TIMEOUT" envDefault:"2s"`
	RateLimitRPS       float64       `env:"RATE_LIMIT_RPS" envDefault:"2"`
	NewSessionRPS      float64       `env:"NEW_SESSION_RPS" envDefault:"1"`
	SupabaseURL        string        `env:"SUPABASE_URL"`
	SupabaseAnonKey    string        `env:"SUPABASE_ANON_KEY"`
	SupabaseDBURL      string        `env:"SUPABASE_DB_URL"`
	RedisURL           string        `env:"REDIS_URL"`
	OAuthRedirectURL   string        `env:"OAUTH_REDIRECT_URL"`
	GoogleClientID     string        `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string        `env:"GOOGLE_CLIENT_SECRET"`
}

// Load reads the configuration from the process environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	cfg.PublicURL = strings.TrimSuffix(cfg.PublicURL, "/")
	cfg.FrontendURL = strings.TrimSuffix(cfg.FrontendURL, "/")
	return cfg, cfg.Validate()
}

// Validate rejects configurations that cannot be served safely.
func (c Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT must not be empty")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive, got %s", c.SessionTTL)
	}
	if c.IsDevelopment() {
		return nil
	}
	if c.SessionSecret == defaultSessionSecret {
		return fmt.Errorf("SESSION_SECRET must be set explicitly in %q mode", c.Environment)
	}
	if len(c.SessionSecret) < 32 {
		return fmt.Errorf("SESSION_SECRET must be at least 32 characters long, got %d", len(c.SessionSecret))
	}
	return nil
}

func (c Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IdentityConfigured reports whether the hosted identity provider can be reached.
// A missing URL or key only produces the advisory setup warning.
func (c Config) IdentityConfigured() bool {
	return c.SupabaseURL != "" && c.SupabaseAnonKey != ""
}

// GoogleConfigured reports whether Google sign-in is available.
func (c Config) GoogleConfigured() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

// SetupWarning returns the advisory banner text, or "" when nothing is missing.
func (c Config) SetupWarning() string {
	if c.IdentityConfigured() {
		return ""
	}
	var missing []string
	if c.SupabaseURL == "" {
		missing = append(missing, "SUPABASE_URL")
	}
	if c.SupabaseAnonKey == "" {
		missing = append(missing, "SUPABASE_ANON_KEY")
	}
	return "authentication is not configured: set " + strings.Join(missing, " and ")
}
