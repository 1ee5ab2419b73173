// Package client implements the two OAuth 2.0 clients of the orders API:
// the interactive device-authorization flow and the machine-to-machine
// client-credentials flow, plus the caller that uses the acquired token.
package client

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joeshaw/envdecode"
)

// CLIConfig is the environment of the interactive device-flow client.
type CLIConfig struct {
	Domain   string `env:"AUTH0_DOMAIN"`
	ClientID string `env:"AUTH0_CLI_CLIENT_ID"`
	Audience string `env:"API_AUDIENCE"`
	APIBase  string `env:"API_BASE"`
}

// WorkerConfig is the environment of the client-credentials worker.
type WorkerConfig struct {
	Domain       string `env:"AUTH0_DOMAIN"`
	ClientID     string `env:"AUTH0_CLIENT_ID"`
	ClientSecret string `env:"AUTH0_CLIENT_SECRET"`
	Audience     string `env:"API_AUDIENCE"`
	APIBase      string `env:"API_BASE"`
}

type envVar struct {
	name  string
	value *string
}

// LoadCLIConfig reads CLIConfig from the environment.
func LoadCLIConfig() (CLIConfig, error) {
	var cfg CLIConfig
	err := decodeEnv(&cfg, []envVar{
		{"AUTH0_DOMAIN", &cfg.Domain},
		{"AUTH0_CLI_CLIENT_ID", &cfg.ClientID},
		{"API_AUDIENCE", &cfg.Audience},
		{"API_BASE", &cfg.APIBase},
	})
	return cfg, err
}

// LoadWorkerConfig reads WorkerConfig from the environment.
func LoadWorkerConfig() (WorkerConfig, error) {
	var cfg WorkerConfig
	err := decodeEnv(&cfg, []envVar{
		{"AUTH0_DOMAIN", &cfg.Domain},
		{"AUTH0_CLIENT_ID", &cfg.ClientID},
		{"AUTH0_CLIENT_SECRET", &cfg.ClientSecret},
		{"API_AUDIENCE", &cfg.Audience},
		{"API_BASE", &cfg.APIBase},
	})
	return cfg, err
}

// decodeEnv populates target and then requires every listed variable.
// Whitespace-only values count as missing.
func decodeEnv(target any, required []envVar) error {
	if err := envdecode.Decode(target); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return fmt.Errorf("decode environment: %w", err)
	}
	var missing []string
	for _, v := range required {
		*v.value = strings.TrimSpace(*v.value)
		if *v.value == "" {
			missing = append(missing, v.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing env: %s", ErrConfigurationMissing, strings.Join(missing, ", "))
	}
	return nil
}

// IssuerURL returns the authorization server base URL for a tenant domain,
// without a trailing slash. Domains given with a scheme keep it.
func IssuerURL(domain string) string {
	domain = strings.TrimSpace(domain)
	if !strings.HasPrefix(domain, "http://") && !strings.HasPrefix(domain, "https://") {
		domain = "https://" + domain
	}
	return strings.TrimSuffix(domain, "/")
}
