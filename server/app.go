package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"ordersguard/resource"
)

// App bundles runtime dependencies for the HTTP service.
type App struct {
	Config  Config
	Logger  *slog.Logger
	Orders  OrderStore
	Guard   *resource.Guard
	Metrics *Metrics
}

// Options overrides collaborators that NewApp otherwise builds itself.
type Options struct {
	// HTTPClient is used for discovery and JWKS fetches.
	HTTPClient *http.Client
	// Keys replaces the remote JWKS key source.
	Keys resource.KeySource
	// Orders replaces the in-memory order store.
	Orders OrderStore
	// Now overrides the validator clock.
	Now func() time.Time
}

// NewApp wires together the application state from configuration. When no
// JWKS URL is configured it is discovered from the issuer metadata.
func NewApp(ctx context.Context, cfg Config, logger *slog.Logger, opts Options) (*App, error) {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	keys := opts.Keys
	if keys == nil {
		jwksURL := cfg.Auth.JWKSURL
		if jwksURL == "" {
			discovered, err := resource.DiscoverJWKSURL(ctx, cfg.Auth.Issuer, client)
			if err != nil {
				return nil, fmt.Errorf("discover issuer %s: %w", cfg.Auth.Issuer, err)
			}
			jwksURL = discovered
		}
		logger.Info("token keys configured", "issuer", cfg.Auth.Issuer, "jwks_url", jwksURL)
		keys = resource.NewRemoteKeySet(jwksURL, cfg.Auth.JWKSCacheTTL, client)
	}

	orders := opts.Orders
	if orders == nil {
		orders = NewMemoryOrderStore()
	}

	metrics := NewMetrics()
	validator := resource.NewValidator(resource.ValidatorConfig{
		Issuer:      cfg.Auth.Issuer,
		Audience:    cfg.Auth.Audience,
		AllowedAlgs: cfg.Auth.Algorithms,
		Leeway:      cfg.Auth.Leeway,
		Now:         opts.Now,
	}, keys)

	guard := &resource.Guard{
		Validator:           validator,
		Mapper:              resource.ScopeAuthorityMapper{},
		Engine:              resource.NewEngine(cfg.Authorization.Policy()),
		Logger:              logger,
		OnValidationFailure: metrics.ObserveValidationFailure,
		OnDecision:          metrics.ObserveDecision,
	}

	return &App{
		Config:  cfg,
		Logger:  logger,
		Orders:  orders,
		Guard:   guard,
		Metrics: metrics,
	}, nil
}
