// ABOUTME: Configuration loading and parsing for notegate
// ABOUTME: Supports YAML files with environment variable expansion

package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Env identifies the execution environment. It is threaded into the
// allowlist resolver and rate limiter so production/non-production
// branching lives in one injected value instead of scattered conditionals.
type Env string

const (
	EnvProduction  Env = "production"
	EnvDevelopment Env = "development"
	EnvTest        Env = "test"
)

// Production reports whether this is a strict production context.
func (e Env) Production() bool { return e == EnvProduction }

// Config represents the complete notegate configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds server address configuration.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration.
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
	HTTPS     bool   `yaml:"https"`  // serve TLS with Tailscale certs
	Funnel    bool   `yaml:"funnel"` // enable public Funnel (implies HTTPS)
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds access-control configuration.
type AuthConfig struct {
	// Environment selects strict vs. permissive behavior in the
	// allowlist resolver and rate limiter.
	Environment Env `yaml:"environment"`

	// BaseURL is the external origin of the app. Used for WebAuthn
	// relying-party derivation and the validate-email origin check.
	BaseURL string `yaml:"base_url"`

	// AllowedEmails is the comma-separated fallback allowlist, consulted
	// when the store is unavailable or in fast-path (non-production) mode.
	AllowedEmails string `yaml:"allowed_emails"`
}

// RateLimitConfig holds counter-service connection configuration.
// An empty Addr disables rate limiting entirely (fail open).
type RateLimitConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// AllowedEmailList splits the comma-separated fallback allowlist into
// individual entries. Whitespace-only entries are dropped.
func (a AuthConfig) AllowedEmailList() []string {
	if strings.TrimSpace(a.AllowedEmails) == "" {
		return nil
	}
	parts := strings.Split(a.AllowedEmails, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables expand to an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in defaults for optional fields.
func (c *Config) applyDefaults() {
	if c.Auth.Environment == "" {
		c.Auth.Environment = EnvDevelopment
	}
}

// Validate checks that all required configuration fields are present and
// valid. Returns an error describing the first validation failure.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	switch c.Auth.Environment {
	case EnvProduction, EnvDevelopment, EnvTest:
	default:
		return fmt.Errorf("auth.environment must be production, development, or test (got %q)", c.Auth.Environment)
	}

	if c.Auth.Environment.Production() && c.Auth.BaseURL == "" {
		return fmt.Errorf("auth.base_url is required in production")
	}

	return nil
}
