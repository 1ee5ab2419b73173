package client

import (
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

// AcquiredToken is a successful token endpoint response.
type AcquiredToken struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	Scope        string
	// ExpiresIn is in seconds; negative when the server did not say.
	ExpiresIn int
	// ReceivedAt anchors ExpiresIn.
	ReceivedAt time.Time
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
	ExpiresIn    *int   `json:"expires_in"`
}

// parseToken decodes a 2xx token response. An absent expires_in becomes
// defaultExpiresIn.
func parseToken(body []byte, defaultExpiresIn int, now time.Time) (AcquiredToken, error) {
	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return AcquiredToken{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if tr.AccessToken == "" {
		return AcquiredToken{}, fmt.Errorf("%w: no access_token in response: %s", ErrMalformedResponse, body)
	}
	tok := AcquiredToken{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		TokenType:    tr.TokenType,
		Scope:        tr.Scope,
		ExpiresIn:    defaultExpiresIn,
		ReceivedAt:   now,
	}
	if tr.ExpiresIn != nil {
		tok.ExpiresIn = *tr.ExpiresIn
	}
	return tok, nil
}

// OAuth2 converts the token for use with an oauth2.TokenSource. The API
// only accepts the Bearer scheme, whatever token_type the server reported.
func (t AcquiredToken) OAuth2() *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  t.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: t.RefreshToken,
	}
	if t.ExpiresIn > 0 && !t.ReceivedAt.IsZero() {
		tok.Expiry = t.ReceivedAt.Add(time.Duration(t.ExpiresIn) * time.Second)
	}
	return tok
}

// Truncated returns the first n characters of the access token for display.
func (t AcquiredToken) Truncated(n int) string {
	if len(t.AccessToken) <= n {
		return t.AccessToken
	}
	return t.AccessToken[:n] + "..."
}
