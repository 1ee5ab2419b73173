package resource

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v3"
	"github.com/golang-jwt/jwt/v5"
)

const testAudience = "https://orders.example.com/api"

type testIssuer struct {
	srv      *httptest.Server
	issuer   string
	key      *rsa.PrivateKey
	kid      string
	jwksHits atomic.Int32

	mu sync.Mutex
}

func newTestIssuer(t *testing.T) *testIssuer {
	t.Helper()
	pk, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	ti := &testIssuer{key: pk, kid: "test-key"}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                 ti.issuer,
			"jwks_uri":               ti.issuer + ".well-known/jwks.json",
			"authorization_endpoint": ti.issuer + "authorize",
			"token_endpoint":         ti.issuer + "oauth/token",
		})
	})
	mux.HandleFunc("/.well-known/jwks.json", func(w http.ResponseWriter, r *http.Request) {
		ti.jwksHits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "public, max-age=600")
		_ = json.NewEncoder(w).Encode(ti.publicSet())
	})
	ti.srv = httptest.NewServer(mux)
	ti.issuer = ti.srv.URL + "/"
	t.Cleanup(ti.srv.Close)
	return ti
}

func (ti *testIssuer) publicSet() jose.JSONWebKeySet {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	return jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
		Key:       &ti.key.PublicKey,
		KeyID:     ti.kid,
		Algorithm: string(jose.RS256),
		Use:       "sig",
	}}}
}

func (ti *testIssuer) sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	ti.mu.Lock()
	key, kid := ti.key, ti.kid
	ti.mu.Unlock()
	return signWith(t, key, kid, claims)
}

func (ti *testIssuer) rotate(key *rsa.PrivateKey, kid string) {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	ti.key, ti.kid = key, kid
}

func (ti *testIssuer) claims(extra jwt.MapClaims) jwt.MapClaims {
	now := time.Now()
	mc := jwt.MapClaims{
		"iss": ti.issuer,
		"sub": "auth0|user-1",
		"aud": []string{testAudience, ti.issuer + "userinfo"},
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}
	for k, v := range extra {
		mc[k] = v
	}
	return mc
}

func signWith(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	s, err := tok.SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func (ti *testIssuer) validator(now func() time.Time) *TokenValidator {
	keys := NewRemoteKeySet(ti.issuer+".well-known/jwks.json", time.Minute, ti.srv.Client())
	return NewValidator(ValidatorConfig{Issuer: ti.issuer, Audience: testAudience, Now: now}, keys)
}
