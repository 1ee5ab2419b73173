package client

import (
	"errors"
	"strings"
	"testing"
)

func setWorkerEnv(t *testing.T) {
	t.Helper()
	t.Setenv("AUTH0_DOMAIN", "tenant.example.com")
	t.Setenv("AUTH0_CLIENT_ID", "worker")
	t.Setenv("AUTH0_CLIENT_SECRET", "secret")
	t.Setenv("API_AUDIENCE", "https://orders.example.com/api")
	t.Setenv("API_BASE", "http://localhost:8080")
}

func TestLoadWorkerConfig(t *testing.T) {
	setWorkerEnv(t)
	cfg, err := LoadWorkerConfig()
	if err != nil {
		t.Fatalf("LoadWorkerConfig returned error: %v", err)
	}
	if cfg.Domain != "tenant.example.com" || cfg.ClientSecret != "secret" || cfg.APIBase != "http://localhost:8080" {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestLoadWorkerConfigBlankIsMissing(t *testing.T) {
	setWorkerEnv(t)
	t.Setenv("AUTH0_CLIENT_SECRET", "   ")
	t.Setenv("API_BASE", "")

	_, err := LoadWorkerConfig()
	if !errors.Is(err, ErrConfigurationMissing) {
		t.Fatalf("expected ErrConfigurationMissing, got %v", err)
	}
	if !strings.Contains(err.Error(), "AUTH0_CLIENT_SECRET") || !strings.Contains(err.Error(), "API_BASE") {
		t.Fatalf("error should name every missing variable: %v", err)
	}
	if ExitCode(err) != ExitConfigMissing {
		t.Fatalf("expected exit %d, got %d", ExitConfigMissing, ExitCode(err))
	}
}

func TestLoadCLIConfigNothingSet(t *testing.T) {
	for _, k := range []string{"AUTH0_DOMAIN", "AUTH0_CLI_CLIENT_ID", "API_AUDIENCE", "API_BASE"} {
		t.Setenv(k, "")
	}
	_, err := LoadCLIConfig()
	if !errors.Is(err, ErrConfigurationMissing) {
		t.Fatalf("expected ErrConfigurationMissing, got %v", err)
	}
}

func TestLoadCLIConfig(t *testing.T) {
	t.Setenv("AUTH0_DOMAIN", " tenant.example.com ")
	t.Setenv("AUTH0_CLI_CLIENT_ID", "cli")
	t.Setenv("API_AUDIENCE", "https://orders.example.com/api")
	t.Setenv("API_BASE", "http://localhost:8080")

	cfg, err := LoadCLIConfig()
	if err != nil {
		t.Fatalf("LoadCLIConfig returned error: %v", err)
	}
	if cfg.Domain != "tenant.example.com" || cfg.ClientID != "cli" {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestIssuerURL(t *testing.T) {
	cases := map[string]string{
		"tenant.example.com":     "https://tenant.example.com",
		"tenant.example.com/":    "https://tenant.example.com",
		"http://127.0.0.1:9999/": "http://127.0.0.1:9999",
	}
	for in, want := range cases {
		if got := IssuerURL(in); got != want {
			t.Errorf("IssuerURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestAcquiredTokenTruncated(t *testing.T) {
	tok := AcquiredToken{AccessToken: "eyJhbGciOiJSUzI1NiIsInR5cCI6IkpXVCJ9"}
	if got := tok.Truncated(18); got != "eyJhbGciOiJSUzI1Ni..." {
		t.Fatalf("unexpected truncation %q", got)
	}
	if got := (AcquiredToken{AccessToken: "short"}).Truncated(18); got != "short" {
		t.Fatalf("short tokens must not be truncated, got %q", got)
	}
}
