package resource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-jose/go-jose/v3"
	"github.com/golang-jwt/jwt/v5"
)

// KeySource resolves verification keys for incoming tokens.
type KeySource interface {
	Keyfunc(ctx context.Context) jwt.Keyfunc
}

// minForcedRefresh bounds how often an unknown kid may trigger a fetch.
const minForcedRefresh = time.Minute

// RemoteKeySet fetches and caches the issuer's published JSON Web Key Set.
// Fetches are serialized and forced refreshes happen at most once per
// refreshGap; misses inside the gap are answered from the cache.
type RemoteKeySet struct {
	url        string
	ttl        time.Duration
	refreshGap time.Duration
	client     *http.Client
	now        func() time.Time

	fetchMu    sync.Mutex
	lastForced time.Time

	mu    sync.RWMutex
	cache jwksCache
}

type jwksCache struct {
	set     jose.JSONWebKeySet
	fetched time.Time
	expires time.Time
	etag    string
}

// NewRemoteKeySet creates a key set backed by jwksURL.
func NewRemoteKeySet(jwksURL string, ttl time.Duration, client *http.Client) *RemoteKeySet {
	if client == nil {
		client = http.DefaultClient
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RemoteKeySet{url: jwksURL, ttl: ttl, refreshGap: minForcedRefresh, client: client, now: time.Now}
}

// DiscoverJWKSURL reads jwks_uri from the issuer's discovery document.
// go-oidc rejects documents whose issuer differs from the configured one.
func DiscoverJWKSURL(ctx context.Context, issuer string, client *http.Client) (string, error) {
	if client != nil {
		ctx = oidc.ClientContext(ctx, client)
	}
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return "", fmt.Errorf("oidc discovery: %w", err)
	}
	var meta struct {
		JWKSURI string `json:"jwks_uri"`
	}
	if err := provider.Claims(&meta); err != nil {
		return "", fmt.Errorf("decode discovery metadata: %w", err)
	}
	if meta.JWKSURI == "" {
		return "", errors.New("discovery metadata missing jwks_uri")
	}
	return meta.JWKSURI, nil
}

// Keyfunc returns a jwt.Keyfunc that looks keys up by kid, refreshing the
// cached set once when the kid is unknown.
func (s *RemoteKeySet) Keyfunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		set, err := s.ensure(ctx, false)
		if err != nil {
			return nil, err
		}
		kid, _ := token.Header["kid"].(string)
		key := findKey(set, kid)
		if key == nil {
			if set, err = s.ensure(ctx, true); err == nil {
				key = findKey(set, kid)
			}
		}
		if key == nil {
			return nil, fmt.Errorf("signing key %q not found", kid)
		}
		return key.Key, nil
	}
}

func (s *RemoteKeySet) snapshot() jwksCache {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache
}

func (s *RemoteKeySet) ensure(ctx context.Context, force bool) (jose.JSONWebKeySet, error) {
	requested := s.now()
	if cache := s.snapshot(); !force && cache.set.Keys != nil && requested.Before(cache.expires) {
		return cache.set, nil
	}

	s.fetchMu.Lock()
	defer s.fetchMu.Unlock()

	cache := s.snapshot()
	now := s.now()
	if cache.set.Keys != nil {
		switch {
		case !force && now.Before(cache.expires):
			return cache.set, nil
		case force && cache.fetched.After(requested):
			// Another caller refreshed while this one waited.
			return cache.set, nil
		case force && !s.lastForced.IsZero() && now.Sub(s.lastForced) < s.refreshGap:
			return cache.set, nil
		}
	}
	if force {
		s.lastForced = now
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return jose.JSONWebKeySet{}, err
	}
	req.Header.Set("Accept", "application/json")
	if cache.etag != "" {
		req.Header.Set("If-None-Match", cache.etag)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return jose.JSONWebKeySet{}, fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified && cache.set.Keys != nil {
		cache.fetched = s.now()
		cache.expires = cache.fetched.Add(s.ttl)
		s.mu.Lock()
		s.cache = cache
		s.mu.Unlock()
		return cache.set, nil
	}
	if resp.StatusCode != http.StatusOK {
		return jose.JSONWebKeySet{}, fmt.Errorf("jwks fetch failed: %s", resp.Status)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return jose.JSONWebKeySet{}, fmt.Errorf("decode jwks: %w", err)
	}

	cache = jwksCache{set: set, fetched: s.now(), etag: resp.Header.Get("ETag")}
	cache.expires = cache.fetched.Add(maxAge(resp.Header.Get("Cache-Control"), s.ttl))

	s.mu.Lock()
	s.cache = cache
	s.mu.Unlock()
	return set, nil
}

func findKey(set jose.JSONWebKeySet, kid string) *jose.JSONWebKey {
	for _, k := range set.Keys {
		if k.Use != "" && k.Use != "sig" {
			continue
		}
		if kid == "" || k.KeyID == kid {
			key := k
			return &key
		}
	}
	return nil
}

func maxAge(header string, fallback time.Duration) time.Duration {
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) == 2 && strings.EqualFold(kv[0], "max-age") {
			if secs, err := strconv.Atoi(kv[1]); err == nil && secs > 0 {
				return time.Duration(secs) * time.Second
			}
		}
	}
	return fallback
}

// StaticKeys serves a fixed key set; useful for tests and offline setups.
type StaticKeys struct {
	Set jose.JSONWebKeySet
}

// Keyfunc implements KeySource.
func (s StaticKeys) Keyfunc(context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		key := findKey(s.Set, kid)
		if key == nil {
			return nil, fmt.Errorf("signing key %q not found", kid)
		}
		return key.Key, nil
	}
}
