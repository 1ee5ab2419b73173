package resource

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestValidatorAcceptsValidToken(t *testing.T) {
	ti := newTestIssuer(t)
	v := ti.validator(nil)

	raw := ti.sign(t, ti.claims(jwt.MapClaims{
		"scope":       "openid read:orders",
		"permissions": []string{"read:orders", "write:orders"},
		"azp":         "cli-client",
		"gty":         "client-credentials",
	}))

	tok, err := v.Validate(context.Background(), raw)
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if tok.Claims.Subject != "auth0|user-1" {
		t.Fatalf("unexpected subject %q", tok.Claims.Subject)
	}
	if tok.Claims.Issuer != ti.issuer {
		t.Fatalf("unexpected issuer %q", tok.Claims.Issuer)
	}
	if len(tok.Claims.Permissions) != 2 || tok.Claims.Permissions[1] != "write:orders" {
		t.Fatalf("unexpected permissions %v", tok.Claims.Permissions)
	}
	if tok.Claims.AuthorizedParty != "cli-client" || tok.Claims.GrantType != "client-credentials" {
		t.Fatalf("unexpected azp/gty: %q %q", tok.Claims.AuthorizedParty, tok.Claims.GrantType)
	}
	if tok.Claims.ExpiresAt.IsZero() {
		t.Fatalf("expected expiry to be extracted")
	}
	if tok.Raw != raw {
		t.Fatalf("raw token not preserved")
	}
}

func TestValidatorFailureReasons(t *testing.T) {
	ti := newTestIssuer(t)
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	tests := []struct {
		name  string
		token func() string
		want  Reason
	}{
		{
			name:  "wrong_signing_key",
			token: func() string { return signWith(t, other, ti.kid, ti.claims(nil)) },
			want:  ReasonSignatureInvalid,
		},
		{
			name:  "unknown_kid",
			token: func() string { return signWith(t, ti.key, "rotated-away", ti.claims(nil)) },
			want:  ReasonSignatureInvalid,
		},
		{
			name:  "garbage",
			token: func() string { return "not.a.jwt" },
			want:  ReasonSignatureInvalid,
		},
		{
			name:  "empty",
			token: func() string { return "" },
			want:  ReasonSignatureInvalid,
		},
		{
			name:  "issuer_mismatch",
			token: func() string { return ti.sign(t, ti.claims(jwt.MapClaims{"iss": "https://evil.example.com/"})) },
			want:  ReasonIssuerMismatch,
		},
		{
			name: "issuer_missing",
			token: func() string {
				mc := ti.claims(nil)
				delete(mc, "iss")
				return ti.sign(t, mc)
			},
			want: ReasonIssuerMismatch,
		},
		{
			name: "expired",
			token: func() string {
				return ti.sign(t, ti.claims(jwt.MapClaims{"exp": time.Now().Add(-time.Minute).Unix()}))
			},
			want: ReasonExpired,
		},
		{
			name: "expiry_missing",
			token: func() string {
				mc := ti.claims(nil)
				delete(mc, "exp")
				return ti.sign(t, mc)
			},
			want: ReasonExpired,
		},
		{
			name:  "audience_missing",
			token: func() string { return ti.sign(t, ti.claims(jwt.MapClaims{"aud": "https://other.example.com"})) },
			want:  ReasonAudienceMissing,
		},
	}

	v := ti.validator(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Validate(context.Background(), tt.token())
			if err == nil {
				t.Fatalf("expected validation error")
			}
			reason, ok := ReasonOf(err)
			if !ok {
				t.Fatalf("error is not a ValidationError: %v", err)
			}
			if reason != tt.want {
				t.Fatalf("reason mismatch: got %s want %s (%v)", reason, tt.want, err)
			}
		})
	}
}

func TestValidatorExpiryBoundary(t *testing.T) {
	ti := newTestIssuer(t)
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	raw := ti.sign(t, ti.claims(jwt.MapClaims{"exp": exp.Unix()}))

	atExpiry := ti.validator(func() time.Time { return exp })
	if _, err := atExpiry.Validate(context.Background(), raw); err == nil {
		t.Fatalf("token must be rejected at its expiry instant")
	} else if reason, _ := ReasonOf(err); reason != ReasonExpired {
		t.Fatalf("expected expired reason, got %s", reason)
	}

	justBefore := ti.validator(func() time.Time { return exp.Add(-time.Second) })
	if _, err := justBefore.Validate(context.Background(), raw); err != nil {
		t.Fatalf("token should be valid one second before expiry: %v", err)
	}
}

func TestValidatorRejectsDisallowedAlgorithm(t *testing.T) {
	ti := newTestIssuer(t)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, ti.claims(nil))
	tok.Header["kid"] = ti.kid
	raw, err := tok.SignedString([]byte("shared-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	_, err = ti.validator(nil).Validate(context.Background(), raw)
	if reason, _ := ReasonOf(err); reason != ReasonSignatureInvalid {
		t.Fatalf("expected signature_invalid for HS256 token, got %v", err)
	}
}

func TestValidatorEmptyTokenWrapsErrNoToken(t *testing.T) {
	ti := newTestIssuer(t)
	_, err := ti.validator(nil).Validate(context.Background(), "")
	if !errors.Is(err, ErrNoToken) {
		t.Fatalf("expected ErrNoToken, got %v", err)
	}
}

func TestRemoteKeySetCachesJWKS(t *testing.T) {
	ti := newTestIssuer(t)
	v := ti.validator(nil)
	raw := ti.sign(t, ti.claims(nil))

	for i := 0; i < 3; i++ {
		if _, err := v.Validate(context.Background(), raw); err != nil {
			t.Fatalf("Validate #%d: %v", i, err)
		}
	}
	if hits := ti.jwksHits.Load(); hits != 1 {
		t.Fatalf("expected a single JWKS fetch, got %d", hits)
	}
}

func TestRemoteKeySetRefreshesOnUnknownKid(t *testing.T) {
	ti := newTestIssuer(t)
	v := ti.validator(nil)
	if _, err := v.Validate(context.Background(), ti.sign(t, ti.claims(nil))); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	rotated, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	ti.rotate(rotated, "rotated")

	if _, err := v.Validate(context.Background(), ti.sign(t, ti.claims(nil))); err != nil {
		t.Fatalf("Validate after rotation: %v", err)
	}
	if hits := ti.jwksHits.Load(); hits != 2 {
		t.Fatalf("expected JWKS refetch on kid miss, got %d fetches", hits)
	}
}

func TestDiscoverJWKSURL(t *testing.T) {
	ti := newTestIssuer(t)
	got, err := DiscoverJWKSURL(context.Background(), ti.issuer, ti.srv.Client())
	if err != nil {
		t.Fatalf("DiscoverJWKSURL: %v", err)
	}
	if want := ti.issuer + ".well-known/jwks.json"; got != want {
		t.Fatalf("jwks url mismatch: got %q want %q", got, want)
	}
}

func TestDiscoverJWKSURLRejectsIssuerMismatch(t *testing.T) {
	ti := newTestIssuer(t)
	if _, err := DiscoverJWKSURL(context.Background(), ti.srv.URL+"/other/", ti.srv.Client()); err == nil {
		t.Fatalf("expected discovery to fail for a different issuer")
	}
}

func TestStaticKeys(t *testing.T) {
	ti := newTestIssuer(t)
	v := NewValidator(ValidatorConfig{Issuer: ti.issuer, Audience: testAudience}, StaticKeys{Set: ti.publicSet()})
	if _, err := v.Validate(context.Background(), ti.sign(t, ti.claims(nil))); err != nil {
		t.Fatalf("Validate with static keys: %v", err)
	}
}

func TestRemoteKeySetBoundsUnknownKidRefreshes(t *testing.T) {
	ti := newTestIssuer(t)
	attacker, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	var mu sync.Mutex
	clock := time.Now()
	keys := NewRemoteKeySet(ti.issuer+".well-known/jwks.json", time.Hour, ti.srv.Client())
	keys.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}
	v := NewValidator(ValidatorConfig{Issuer: ti.issuer, Audience: testAudience}, keys)

	for i := 0; i < 50; i++ {
		raw := signWith(t, attacker, fmt.Sprintf("bogus-%d", i), ti.claims(nil))
		if reason, _ := ReasonOf(mustFail(t, v, raw)); reason != ReasonSignatureInvalid {
			t.Fatalf("expected signature_invalid, got %s", reason)
		}
	}
	if hits := ti.jwksHits.Load(); hits != 2 {
		t.Fatalf("expected initial fetch plus one forced refresh, got %d fetches", hits)
	}

	mu.Lock()
	clock = clock.Add(minForcedRefresh + time.Second)
	mu.Unlock()
	mustFail(t, v, signWith(t, attacker, "bogus-late", ti.claims(nil)))
	if hits := ti.jwksHits.Load(); hits != 3 {
		t.Fatalf("expected one more refresh after the gap, got %d fetches", hits)
	}
}

func TestRemoteKeySetConcurrentUnknownKids(t *testing.T) {
	ti := newTestIssuer(t)
	attacker, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	v := ti.validator(nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		raw := signWith(t, attacker, fmt.Sprintf("bogus-%d", i), ti.claims(nil))
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = v.Validate(context.Background(), raw)
		}()
	}
	wg.Wait()

	if hits := ti.jwksHits.Load(); hits > 2 {
		t.Fatalf("concurrent kid misses must share fetches, got %d", hits)
	}
}

func mustFail(t *testing.T, v *TokenValidator, raw string) error {
	t.Helper()
	_, err := v.Validate(context.Background(), raw)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	return err
}
