package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"
)

const (
	connectTimeout = 10 * time.Second
	requestTimeout = 15 * time.Second
)

// NewHTTPClient returns a client with a 10s connect timeout and a 15s
// overall request timeout.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Timeout: requestTimeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         (&net.Dialer{Timeout: connectTimeout}).DialContext,
			TLSHandshakeTimeout: connectTimeout,
			ForceAttemptHTTP2:   true,
		},
	}
}

// ClientCredentialsFlow exchanges a client id and secret for an access
// token in a single request. It never retries.
type ClientCredentialsFlow struct {
	// Issuer is the authorization server base URL, see IssuerURL.
	Issuer       string
	ClientID     string
	ClientSecret string
	Audience     string
	HTTPClient   *http.Client
	Logger       *slog.Logger
}

type clientCredentialsRequest struct {
	GrantType    string `json:"grant_type"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Audience     string `json:"audience"`
}

// Exchange performs the token request. Non-2xx answers are *ExchangeError,
// transport failures wrap ErrNetwork and a 2xx body without access_token
// wraps ErrMalformedResponse.
func (f *ClientCredentialsFlow) Exchange(ctx context.Context) (AcquiredToken, error) {
	payload, err := json.Marshal(clientCredentialsRequest{
		GrantType:    "client_credentials",
		ClientID:     f.ClientID,
		ClientSecret: f.ClientSecret,
		Audience:     f.Audience,
	})
	if err != nil {
		return AcquiredToken{}, fmt.Errorf("encode token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.Issuer+"/oauth/token", bytes.NewReader(payload))
	if err != nil {
		return AcquiredToken{}, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	client := f.HTTPClient
	if client == nil {
		client = NewHTTPClient()
	}
	resp, err := client.Do(req)
	if err != nil {
		return AcquiredToken{}, fmt.Errorf("%w: token request: %w", ErrNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return AcquiredToken{}, fmt.Errorf("%w: read token response: %w", ErrNetwork, err)
	}
	if resp.StatusCode/100 != 2 {
		return AcquiredToken{}, &ExchangeError{Status: resp.StatusCode, Body: string(body)}
	}

	tok, err := parseToken(body, -1, time.Now())
	if err != nil {
		return AcquiredToken{}, err
	}
	if f.Logger != nil {
		f.Logger.Debug("client credentials token acquired", "client_id", f.ClientID, "scope", tok.Scope, "expires_in", tok.ExpiresIn)
	}
	return tok, nil
}

func isNetworkError(err error) bool {
	var urlErr *url.Error
	var netErr net.Error
	return errors.As(err, &urlErr) || errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded)
}
