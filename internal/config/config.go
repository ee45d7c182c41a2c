// Package config loads application configuration. Environment variables
// provide defaults, an optional YAML file overrides them, and command-line
// flags override both. All settings have sensible defaults for local development.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/songify/partyqueue/internal/party"
)

// Party backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// Config holds all application settings.
type Config struct {
	Port                 string        `yaml:"port"`
	FrontendURL          string        `yaml:"frontend_url"`
	JWTSecret            string        `yaml:"jwt_secret"`
	HostPortalPassword   string        `yaml:"host_portal_password"`
	SpotifyClientID      string        `yaml:"spotify_client_id"`
	SpotifyClientSecret  string        `yaml:"spotify_client_secret"`
	SpotifyRedirectURI   string        `yaml:"spotify_redirect_uri"`
	HostTokenDuration    time.Duration `yaml:"host_token_duration"`
	SessionTokenDuration time.Duration `yaml:"session_token_duration"`
	UpstreamTimeout      time.Duration `yaml:"upstream_timeout"`
	SearchCacheTTL       time.Duration `yaml:"search_cache_ttl"`
	PartyBackend         string        `yaml:"party_backend"`
	DatabasePath         string        `yaml:"database_path"`
	IdleTimeout          time.Duration `yaml:"idle_timeout"`
	ReapInterval         time.Duration `yaml:"reap_interval"`
	VotePolicy           string        `yaml:"vote_policy"`
	ClientBuffer         int           `yaml:"client_buffer"`
	QRSize               int           `yaml:"qr_size"`
	CORSAllowedOrigins   []string      `yaml:"cors_allowed_origins"`
	TrustedProxies       []string      `yaml:"trusted_proxies"`
	SentryDSN            string        `yaml:"sentry_dsn"`
	SentryEnvironment    string        `yaml:"sentry_environment"`
}

// FromEnv reads configuration from environment variables, using defaults where not set.
func FromEnv() *Config {
	frontendURL := getEnv("FRONTEND_URL", "http://localhost:3000")
	origins := getStringSliceEnv("CORS_ALLOWED_ORIGINS")
	if origins == nil {
		origins = []string{frontendURL, "http://localhost:5173"}
	}

	return &Config{
		Port:                 getEnv("PORT", "5000"),
		FrontendURL:          frontendURL,
		JWTSecret:            getEnv("JWT_SECRET", "change-me-in-production"), // #nosec G101 -- intentional dev default
		HostPortalPassword:   getEnv("HOST_PORTAL_PASSWORD", ""),
		SpotifyClientID:      getEnv("SPOTIFY_CLIENT_ID", ""),
		SpotifyClientSecret:  getEnv("SPOTIFY_CLIENT_SECRET", ""),
		SpotifyRedirectURI:   getEnv("SPOTIFY_REDIRECT_URI", "http://localhost:5000/callback"),
		HostTokenDuration:    getDurationEnv("HOST_TOKEN_DURATION", 24*time.Hour),
		SessionTokenDuration: getDurationEnv("SESSION_TOKEN_DURATION", 12*time.Hour),
		UpstreamTimeout:      getDurationEnv("UPSTREAM_TIMEOUT", 10*time.Second),
		SearchCacheTTL:       getDurationEnv("SEARCH_CACHE_TTL", time.Minute),
		PartyBackend:         getEnv("PARTY_BACKEND", BackendMemory),
		DatabasePath:         getEnv("DATABASE_PATH", "./partyqueue.db"),
		IdleTimeout:          getDurationEnv("IDLE_TIMEOUT", 6*time.Hour),
		ReapInterval:         getDurationEnv("REAP_INTERVAL", time.Minute),
		VotePolicy:           getEnv("VOTE_POLICY", party.PolicyCompat.String()),
		ClientBuffer:         getIntEnv("CLIENT_BUFFER", 32),
		QRSize:               getIntEnv("QR_SIZE", 256),
		CORSAllowedOrigins:   origins,
		TrustedProxies:       getStringSliceEnv("TRUSTED_PROXIES"),
		SentryDSN:            getEnv("SENTRY_DSN", ""),
		SentryEnvironment:    getEnv("SENTRY_ENVIRONMENT", "production"),
	}
}

// Load builds the configuration from the environment, the YAML file named by
// --config or CONFIG_FILE, and the flags in args, in increasing precedence.
func Load(args []string) (*Config, error) {
	cfg := FromEnv()

	fs := pflag.NewFlagSet("partyqueue", pflag.ContinueOnError)
	configFile := fs.String("config", os.Getenv("CONFIG_FILE"), "path to a YAML config file")
	fs.StringVar(&cfg.Port, "port", cfg.Port, "HTTP listen port")
	fs.StringVar(&cfg.FrontendURL, "frontend-url", cfg.FrontendURL, "base URL used in join links")
	fs.StringVar(&cfg.PartyBackend, "party-backend", cfg.PartyBackend, "party storage: memory or sqlite")
	fs.StringVar(&cfg.DatabasePath, "database-path", cfg.DatabasePath, "SQLite database path")
	fs.StringVar(&cfg.VotePolicy, "vote-policy", cfg.VotePolicy, "vote policy: compat or tracked")
	fs.DurationVar(&cfg.IdleTimeout, "idle-timeout", cfg.IdleTimeout, "remove parties idle this long (0 disables)")
	fs.DurationVar(&cfg.ReapInterval, "reap-interval", cfg.ReapInterval, "how often idle parties are checked")
	fs.DurationVar(&cfg.UpstreamTimeout, "upstream-timeout", cfg.UpstreamTimeout, "timeout for catalog calls")
	fs.IntVar(&cfg.ClientBuffer, "client-buffer", cfg.ClientBuffer, "realtime mailbox size per connection")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *configFile != "" {
		// Flags given explicitly must win over the file.
		explicit := map[string]string{}
		fs.Visit(func(f *pflag.Flag) {
			if f.Name != "config" {
				explicit[f.Name] = f.Value.String()
			}
		})

		if err := cfg.loadFile(*configFile); err != nil {
			return nil, err
		}
		for name, value := range explicit {
			if err := fs.Set(name, value); err != nil {
				return nil, fmt.Errorf("reapply flag --%s: %w", name, err)
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.PartyBackend != BackendMemory && c.PartyBackend != BackendSQLite {
		errs = append(errs, fmt.Errorf("unknown party backend %q", c.PartyBackend))
	}
	if c.PartyBackend == BackendSQLite && c.DatabasePath == "" {
		errs = append(errs, errors.New("database path required for sqlite backend"))
	}
	if _, err := party.ParseVotePolicy(c.VotePolicy); err != nil {
		errs = append(errs, err)
	}
	if c.IdleTimeout < 0 {
		errs = append(errs, errors.New("idle timeout must not be negative"))
	}
	if c.IdleTimeout > 0 && c.ReapInterval <= 0 {
		errs = append(errs, errors.New("reap interval must be positive when idle timeout is set"))
	}
	if c.UpstreamTimeout <= 0 {
		errs = append(errs, errors.New("upstream timeout must be positive"))
	}
	return errors.Join(errs...)
}

// Policy returns the configured vote policy. Call Validate first.
func (c *Config) Policy() party.VotePolicy {
	p, _ := party.ParseVotePolicy(c.VotePolicy)
	return p
}

func getStringSliceEnv(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var result []string
	for _, s := range strings.Split(value, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			result = append(result, s)
		}
	}
	return result
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
