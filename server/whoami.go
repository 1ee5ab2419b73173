package server

import (
	"net/http"
	"time"

	"ordersguard/resource"
)

type whoAmIResponse struct {
	Authenticated   bool              `json:"authenticated"`
	Subject         string            `json:"subject,omitempty"`
	Issuer          string            `json:"issuer,omitempty"`
	Audience        []string          `json:"audience,omitempty"`
	ExpiresAt       *time.Time        `json:"expiresAt,omitempty"`
	Scope           string            `json:"scope,omitempty"`
	Permissions     []string          `json:"permissions,omitempty"`
	Authorities     []string          `json:"authorities,omitempty"`
	RawClaimsSample map[string]string `json:"rawClaimsSample,omitempty"`
}

// handleWhoAmI reports how the presented token was interpreted. Mounted only
// when debug endpoints are enabled.
func (a *App) handleWhoAmI(w http.ResponseWriter, r *http.Request) {
	id, ok := resource.IdentityFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusOK, whoAmIResponse{})
		return
	}
	c := id.Token.Claims
	out := whoAmIResponse{
		Authenticated: true,
		Subject:       c.Subject,
		Issuer:        c.Issuer,
		Audience:      c.Audience,
		Scope:         c.Scope,
		Permissions:   c.Permissions,
		Authorities:   id.Authorities.Sorted(),
		RawClaimsSample: map[string]string{
			"azp": c.AuthorizedParty,
			"gty": c.GrantType,
		},
	}
	if !c.ExpiresAt.IsZero() {
		exp := c.ExpiresAt.UTC()
		out.ExpiresAt = &exp
	}
	writeJSON(w, http.StatusOK, out)
}
