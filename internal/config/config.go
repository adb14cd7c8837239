package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/text/language"
)

// Store drivers
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Session       SessionConfig
	Observability ObservabilityConfig
	RateLimit     RateLimitConfig
	Subsite       SubsiteConfig
	Store         StoreConfig
}

// SubsiteConfig controls how the current tenant is determined and enforced
type SubsiteConfig struct {
	// UseSession keeps the activated tenant in the user session
	UseSession bool
	// DisableFilter turns off tenant scoping of record queries
	DisableFilter bool
	// OverrideParam names the request parameter that forces a tenant ID
	OverrideParam string
	DefaultLocale string
}

// StoreConfig selects the persistence backend
type StoreConfig struct {
	Driver   string
	SeedFile string
	// BootstrapAdminEmail names the user granted global ADMIN at startup
	BootstrapAdminEmail string
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	URL             string
	Host            string
	Port            string
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// AutoMigrate applies the embedded migrations at startup
	AutoMigrate bool
}

// SessionConfig holds session management configuration
type SessionConfig struct {
	CookieName     string
	CookieDomain   string
	CookiePath     string
	CookieSecure   bool
	CookieHTTPOnly bool
	CookieSameSite string
	Lifetime       time.Duration
	IdleTimeout    time.Duration
}

// ObservabilityConfig holds logging and tracing configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string
	OTELEnabled    bool
	ServiceName    string
	ServiceVersion string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnv("SERVER_PORT", "8080"),
			ReadTimeout:  parseDuration("SERVER_READ_TIMEOUT", "15s"),
			WriteTimeout: parseDuration("SERVER_WRITE_TIMEOUT", "15s"),
			IdleTimeout:  parseDuration("SERVER_IDLE_TIMEOUT", "60s"),
		},
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "subsites"),
			Password:        getEnv("DB_PASSWORD", ""),
			Database:        getEnv("DB_NAME", "subsites"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    parseInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    parseInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: parseDuration("DB_CONN_MAX_LIFETIME", "5m"),
			AutoMigrate:     parseBool("DB_AUTO_MIGRATE", false),
		},
		Session: SessionConfig{
			CookieName:     getEnv("SESSION_COOKIE_NAME", "subsites_session"),
			CookieDomain:   getEnv("SESSION_COOKIE_DOMAIN", ""),
			CookiePath:     getEnv("SESSION_COOKIE_PATH", "/"),
			CookieSecure:   parseBool("SESSION_COOKIE_SECURE", false),
			CookieHTTPOnly: parseBool("SESSION_COOKIE_HTTP_ONLY", true),
			CookieSameSite: getEnv("SESSION_COOKIE_SAME_SITE", "Lax"),
			Lifetime:       parseDuration("SESSION_LIFETIME", "24h"),
			IdleTimeout:    parseDuration("SESSION_IDLE_TIMEOUT", "30m"),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			OTELEnabled:    parseBool("OTEL_ENABLED", false),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "subsites"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "0.1.0"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: float64(parseInt("RATELIMIT_RPS", 10)),
			Burst:             parseInt("RATELIMIT_BURST", 20),
		},
		Subsite: SubsiteConfig{
			UseSession:    parseBool("SUBSITE_USE_SESSION", true),
			DisableFilter: parseBool("SUBSITE_DISABLE_FILTER", false),
			OverrideParam: getEnv("SUBSITE_OVERRIDE_PARAM", "SubsiteID"),
			DefaultLocale: getEnv("SUBSITE_DEFAULT_LOCALE", "en"),
		},
		Store: StoreConfig{
			Driver:              getEnv("STORE_DRIVER", DriverPostgres),
			SeedFile:            getEnv("STORE_SEED_FILE", ""),
			BootstrapAdminEmail: getEnv("BOOTSTRAP_ADMIN_EMAIL", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration and reports every problem found
func (c *Config) Validate() error {
	var errs *multierror.Error

	switch c.Store.Driver {
	case DriverPostgres:
		if c.Database.URL == "" && c.Database.Password == "" {
			errs = multierror.Append(errs, errors.New("DB_PASSWORD or DATABASE_URL is required"))
		}
	case DriverMemory:
	default:
		errs = multierror.Append(errs, fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", DriverPostgres, DriverMemory, c.Store.Driver))
	}

	if c.Subsite.OverrideParam == "" {
		errs = multierror.Append(errs, errors.New("SUBSITE_OVERRIDE_PARAM must not be empty"))
	}
	if _, err := language.Parse(c.Subsite.DefaultLocale); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("SUBSITE_DEFAULT_LOCALE: %w", err))
	}
	if c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0 {
		errs = multierror.Append(errs, errors.New("RATELIMIT_RPS and RATELIMIT_BURST must be positive"))
	}

	return errs.ErrorOrNil()
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func parseBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func parseDuration(key string, defaultValue string) time.Duration {
	value := getEnv(key, defaultValue)
	d, err := time.ParseDuration(value)
	if err != nil {
		// Fallback to default
		d, _ = time.ParseDuration(defaultValue)
	}
	return d
}
