package server

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v3"
	"github.com/golang-jwt/jwt/v5"
)

const testAudience = "https://orders.example.com/api"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockIssuer serves OIDC discovery and a JWKS for a single RSA key.
type mockIssuer struct {
	srv    *httptest.Server
	issuer string
	key    *rsa.PrivateKey
}

func newMockIssuer(t *testing.T) *mockIssuer {
	t.Helper()
	pk, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	mi := &mockIssuer{key: pk}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                 mi.issuer,
			"jwks_uri":               mi.issuer + ".well-known/jwks.json",
			"authorization_endpoint": mi.issuer + "authorize",
			"token_endpoint":         mi.issuer + "oauth/token",
		})
	})
	mux.HandleFunc("/.well-known/jwks.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
			Key: &pk.PublicKey, KeyID: "k1", Algorithm: string(jose.RS256), Use: "sig",
		}}})
	})
	mi.srv = httptest.NewServer(mux)
	mi.issuer = mi.srv.URL + "/"
	t.Cleanup(mi.srv.Close)
	return mi
}

// token signs an access token for testAudience carrying permissions.
func (mi *mockIssuer) token(t *testing.T, permissions ...string) string {
	t.Helper()
	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":         mi.issuer,
		"sub":         "auth0|tester",
		"aud":         []string{testAudience},
		"iat":         now.Unix(),
		"exp":         now.Add(time.Hour).Unix(),
		"azp":         "spa-client",
		"scope":       "openid profile",
		"permissions": permissions,
	})
	tok.Header["kid"] = "k1"
	s, err := tok.SignedString(mi.key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func (mi *mockIssuer) config() Config {
	cfg := DefaultConfig()
	cfg.Auth.Issuer = mi.issuer
	cfg.Auth.Audience = testAudience
	return cfg
}

func newTestApp(t *testing.T, mi *mockIssuer, cfg Config) *App {
	t.Helper()
	app, err := NewApp(context.Background(), cfg, discardLogger(), Options{HTTPClient: mi.srv.Client()})
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	return app
}
