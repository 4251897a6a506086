package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
)

const (
	AuthModeLocal    = "local"
	AuthModeSupabase = "supabase"

	StoreSupabase = "supabase"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreMemory   = "memory"
)

type Config struct {
	Port string `env:"PORT,default=8080"`

	Store       string `env:"STORE,default=supabase"`
	SupabaseURL string `env:"SUPABASE_URL"`
	SupabaseKey string `env:"SUPABASE_KEY"`
	DatabaseURL string `env:"DATABASE_URL"`
	SQLitePath  string `env:"SQLITE_PATH,default=crm.db"`

	AuthMode          string `env:"AUTH_MODE,default=local"`
	LocalAuthUser     string `env:"LOCAL_AUTH_USER,default=shaluqa"`
	LocalAuthPassword string `env:"LOCAL_AUTH_PASSWORD"`
	SessionSecret     string `env:"SESSION_SECRET"`
	LoginRateLimit    int    `env:"LOGIN_RATE_LIMIT,default=10"`

	CronSecret   string `env:"CRON_SECRET"`
	CronSchedule string `env:"CRON_SCHEDULE"`
	Timezone     string `env:"TIMEZONE,default=Europe/Madrid"`

	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT,default=587"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	EmailFrom    string `env:"EMAIL_FROM,default=Shaluqa CRM <notifications@shaluqa.com>"`
	AppURL       string `env:"APP_URL,default=https://shaluqa-crm.com"`
	SupportEmail string `env:"SUPPORT_EMAIL,default=soporte@shaluqa.com"`

	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS,default=http://localhost:4321"`
	SentryDSN          string `env:"SENTRY_DSN"`
	LogLevel           string `env:"LOG_LEVEL,default=INFO"`

	location *time.Location
}

func New() (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("failed to decode environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Store {
	case StoreSupabase:
		if c.SupabaseURL == "" || c.SupabaseKey == "" {
			return errors.New("SUPABASE_URL and SUPABASE_KEY environment variables are required when STORE=supabase")
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL environment variable is required when STORE=postgres")
		}
	case StoreSQLite:
		if c.SQLitePath == "" {
			return errors.New("SQLITE_PATH environment variable is required when STORE=sqlite")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown STORE %q", c.Store)
	}

	switch c.AuthMode {
	case AuthModeLocal:
		if c.LocalAuthUser == "" || c.LocalAuthPassword == "" {
			return errors.New("LOCAL_AUTH_USER and LOCAL_AUTH_PASSWORD environment variables are required when AUTH_MODE=local")
		}
		if len(c.SessionSecret) < 32 {
			return errors.New("SESSION_SECRET environment variable must be at least 32 characters when AUTH_MODE=local")
		}
	case AuthModeSupabase:
		if c.SupabaseURL == "" || c.SupabaseKey == "" {
			return errors.New("SUPABASE_URL and SUPABASE_KEY environment variables are required when AUTH_MODE=supabase")
		}
	default:
		return fmt.Errorf("unknown AUTH_MODE %q", c.AuthMode)
	}

	if c.SMTPHost == "" || c.SMTPUsername == "" || c.SMTPPassword == "" {
		return errors.New("SMTP_HOST, SMTP_USERNAME and SMTP_PASSWORD environment variables are required")
	}

	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}
	c.location = loc

	return nil
}

// Location is the time zone that defines "today" for the expiry job.
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.Local
	}
	return c.location
}

// UsesSupabase reports whether any component needs the Supabase client.
func (c *Config) UsesSupabase() bool {
	return c.Store == StoreSupabase || c.AuthMode == AuthModeSupabase
}

func (c *Config) AllowedOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.CORSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
