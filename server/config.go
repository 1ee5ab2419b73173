package server

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"ordersguard/resource"
)

// ErrConfigurationMissing is returned when a required setting has no value.
var ErrConfigurationMissing = errors.New("configuration missing")

// Hardcoded CORS defaults
var (
	DefaultCORSAllowedOrigins = []string{"http://localhost:4200"}
	DefaultCORSAllowedHeaders = []string{"Authorization", "Content-Type"}
	DefaultCORSAllowedMethods = []string{"GET", "POST", "OPTIONS"}
)

// Config captures the full application configuration loaded from YAML and environment variables.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Auth          AuthConfig          `yaml:"auth"`
	Authorization AuthorizationConfig `yaml:"authorization"`
}

// ServerConfig controls listener, TLS, and HTTP concerns.
type ServerConfig struct {
	DevListenAddr     string     `yaml:"dev_listen_addr"`
	HTTPListenAddr    string     `yaml:"http_listen_addr"`
	HTTPSListenAddr   string     `yaml:"https_listen_addr"`
	MetricsListenAddr string     `yaml:"metrics_listen_addr"`
	DevMode           bool       `yaml:"dev_mode"`
	DebugEndpoints    *bool      `yaml:"debug_endpoints"`
	SecretsPath       string     `yaml:"secrets_path"`
	TLS               TLSConfig  `yaml:"tls"`
	CORS              CORSConfig `yaml:"cors"`
}

// TLSConfig defines autocert behaviour and TLS constraints.
type TLSConfig struct {
	Domains    []string `yaml:"domains"`
	Email      string   `yaml:"email"`
	MinVersion string   `yaml:"min_version"`
	HSTSMaxAge int      `yaml:"hsts_max_age"`
}

// CORSConfig lists the browser origins allowed to call the API.
type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowed_origins"`
	AllowedMethods   []string `yaml:"allowed_methods"`
	AllowedHeaders   []string `yaml:"allowed_headers"`
	AllowCredentials bool     `yaml:"allow_credentials"`
}

// AuthConfig identifies the trusted token issuer.
type AuthConfig struct {
	Issuer       string        `yaml:"issuer"`
	Audience     string        `yaml:"audience"`
	JWKSURL      string        `yaml:"jwks_url"`
	JWKSCacheTTL time.Duration `yaml:"jwks_cache_ttl"`
	Algorithms   []string      `yaml:"algorithms"`
	Leeway       time.Duration `yaml:"leeway"`
}

// AuthorizationConfig holds the route protection table.
type AuthorizationConfig struct {
	Rules []resource.Rule `yaml:"rules"`
}

// Policy returns the configured rule table.
func (c AuthorizationConfig) Policy() resource.Policy {
	return resource.Policy{Rules: c.Rules}
}

// DebugEnabled reports whether diagnostic endpoints are mounted.
func (s ServerConfig) DebugEnabled() bool {
	if s.DebugEndpoints != nil {
		return *s.DebugEndpoints
	}
	return s.DevMode
}

// LoadConfig reads the optional YAML config file and merges environment overrides.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}

		decoder := yaml.NewDecoder(bytes.NewReader(b))
		decoder.KnownFields(true)

		if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
				slog.Error("Configuration contains unknown keys", "error", err, "file", path)
				return Config{}, fmt.Errorf("invalid config: %w (check for typos or deprecated fields)", err)
			}
			slog.Error("Failed to parse configuration", "error", err, "file", path)
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		slog.Error("Configuration validation failed", "error", err)
		return Config{}, err
	}

	return cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			DevListenAddr:   "127.0.0.1:8080",
			HTTPListenAddr:  ":80",
			HTTPSListenAddr: ":443",
			DevMode:         true,
			SecretsPath:     ".secrets",
			TLS: TLSConfig{
				MinVersion: "1.2",
				HSTSMaxAge: 31536000,
			},
			CORS: CORSConfig{
				AllowedOrigins:   DefaultCORSAllowedOrigins,
				AllowedMethods:   DefaultCORSAllowedMethods,
				AllowedHeaders:   DefaultCORSAllowedHeaders,
				AllowCredentials: true,
			},
		},
		Auth: AuthConfig{
			JWKSCacheTTL: 10 * time.Minute,
			Algorithms:   []string{"RS256"},
		},
		Authorization: AuthorizationConfig{
			Rules: resource.DefaultPolicy().Rules,
		},
	}
}

// DefaultConfig returns the default configuration template.
func DefaultConfig() Config {
	return defaultConfig()
}

func applyEnvOverrides(cfg *Config) {
	overrides := map[string]func(string){
		"ORDERS_SERVER_DEV_LISTEN_ADDR":     func(v string) { cfg.Server.DevListenAddr = v },
		"ORDERS_SERVER_HTTP_LISTEN_ADDR":    func(v string) { cfg.Server.HTTPListenAddr = v },
		"ORDERS_SERVER_HTTPS_LISTEN_ADDR":   func(v string) { cfg.Server.HTTPSListenAddr = v },
		"ORDERS_SERVER_METRICS_LISTEN_ADDR": func(v string) { cfg.Server.MetricsListenAddr = v },
		"ORDERS_SERVER_DEV_MODE":            func(v string) { cfg.Server.DevMode = parseBool(v, cfg.Server.DevMode) },
		"ORDERS_SERVER_DEBUG_ENDPOINTS": func(v string) {
			b := parseBool(v, cfg.Server.DebugEnabled())
			cfg.Server.DebugEndpoints = &b
		},
		"ORDERS_SERVER_TLS_DOMAINS":  func(v string) { cfg.Server.TLS.Domains = splitAndTrim(v) },
		"ORDERS_SERVER_TLS_EMAIL":    func(v string) { cfg.Server.TLS.Email = v },
		"ORDERS_SERVER_SECRETS_PATH": func(v string) { cfg.Server.SecretsPath = v },
		"ORDERS_SERVER_CORS_ORIGINS": func(v string) { cfg.Server.CORS.AllowedOrigins = splitAndTrim(v) },
		"ORDERS_AUTH_ISSUER":         func(v string) { cfg.Auth.Issuer = strings.TrimSpace(v) },
		"ORDERS_AUTH_AUDIENCE":       func(v string) { cfg.Auth.Audience = strings.TrimSpace(v) },
		"ORDERS_AUTH_JWKS_URL":       func(v string) { cfg.Auth.JWKSURL = strings.TrimSpace(v) },
		"ORDERS_AUTH_LEEWAY":         func(v string) { cfg.Auth.Leeway = parseDuration(v, cfg.Auth.Leeway) },
	}

	// Blank values count as unset.
	for key, fn := range overrides {
		if val, ok := os.LookupEnv(key); ok && strings.TrimSpace(val) != "" {
			fn(val)
		}
	}

	// The tenant-style variables shared with the clients fill whatever is still unset.
	if cfg.Auth.Issuer == "" {
		if domain := strings.TrimSpace(os.Getenv("AUTH0_DOMAIN")); domain != "" {
			cfg.Auth.Issuer = IssuerFromDomain(domain)
		}
	}
	if cfg.Auth.Audience == "" {
		cfg.Auth.Audience = strings.TrimSpace(os.Getenv("API_AUDIENCE"))
	}
}

// IssuerFromDomain turns a tenant domain into its issuer URL. Values that
// already carry a scheme are kept as-is apart from the trailing slash.
func IssuerFromDomain(domain string) string {
	domain = strings.TrimSpace(domain)
	if !strings.HasPrefix(domain, "http://") && !strings.HasPrefix(domain, "https://") {
		domain = "https://" + domain
	}
	return strings.TrimSuffix(domain, "/") + "/"
}

func parseDuration(val string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return d
}

func parseBool(val string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate performs sanity checks on the config. Missing issuer or audience
// wraps ErrConfigurationMissing.
func (c Config) Validate() error {
	if c.Auth.Issuer == "" {
		slog.Error("Missing required configuration", "field", "auth.issuer", "env", "ORDERS_AUTH_ISSUER or AUTH0_DOMAIN")
		return fmt.Errorf("%w: auth.issuer is required", ErrConfigurationMissing)
	}
	if c.Auth.Audience == "" {
		slog.Error("Missing required configuration", "field", "auth.audience", "env", "ORDERS_AUTH_AUDIENCE or API_AUDIENCE")
		return fmt.Errorf("%w: auth.audience is required", ErrConfigurationMissing)
	}

	if !strings.HasPrefix(c.Auth.Issuer, "http://") && !strings.HasPrefix(c.Auth.Issuer, "https://") {
		slog.Error("Invalid configuration value", "field", "auth.issuer", "value", c.Auth.Issuer, "reason", "must start with http:// or https://")
		return fmt.Errorf("auth.issuer must start with http:// or https://, got: %s", c.Auth.Issuer)
	}
	if c.Auth.JWKSURL != "" && !strings.HasPrefix(c.Auth.JWKSURL, "http://") && !strings.HasPrefix(c.Auth.JWKSURL, "https://") {
		slog.Error("Invalid configuration value", "field", "auth.jwks_url", "value", c.Auth.JWKSURL)
		return fmt.Errorf("auth.jwks_url must start with http:// or https://, got: %s", c.Auth.JWKSURL)
	}
	if c.Auth.Leeway < 0 {
		return fmt.Errorf("auth.leeway must not be negative, got: %s", c.Auth.Leeway)
	}

	if !c.Server.DevMode && len(c.Server.TLS.Domains) == 0 {
		slog.Error("Missing required configuration for production mode", "field", "server.tls.domains")
		return errors.New("server.tls.domains must be provided in production")
	}

	if c.Server.TLS.MinVersion != "" {
		validVersions := map[string]bool{"1.2": true, "1.3": true}
		if !validVersions[c.Server.TLS.MinVersion] {
			slog.Error("Invalid TLS minimum version", "field", "server.tls.min_version", "value", c.Server.TLS.MinVersion, "valid_values", []string{"1.2", "1.3"})
			return fmt.Errorf("server.tls.min_version must be '1.2' or '1.3', got: %s", c.Server.TLS.MinVersion)
		}
	}

	// Browsers refuse credentialed responses for a wildcard origin.
	if c.Server.CORS.AllowCredentials {
		for _, o := range c.Server.CORS.AllowedOrigins {
			if o == "*" {
				slog.Error("Invalid CORS configuration", "field", "server.cors.allowed_origins", "reason", "wildcard origin with credentials")
				return errors.New("server.cors.allowed_origins cannot contain '*' when allow_credentials is true")
			}
		}
	}

	if err := c.Authorization.Policy().Validate(); err != nil {
		slog.Error("Invalid authorization rules", "error", err)
		return fmt.Errorf("authorization.%w", err)
	}

	return nil
}
