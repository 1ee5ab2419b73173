// Package resource implements the resource-server side of the orders API:
// bearer token validation, claims-to-authority mapping and per-route
// authorization decisions.
package resource

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the typed view of a verified access token.
type Claims struct {
	Subject         string
	Issuer          string
	Audience        []string
	ExpiresAt       time.Time
	IssuedAt        time.Time
	Scope           string
	Permissions     []string
	AuthorizedParty string
	GrantType       string
	Raw             map[string]any
}

// VerifiedToken is a bearer token that passed every validation check.
type VerifiedToken struct {
	Raw    string
	Claims Claims
}

// ExtractClaims converts verified registered and custom claims into Claims.
func ExtractClaims(mc jwt.MapClaims) (Claims, error) {
	raw := make(map[string]any, len(mc))
	for k, v := range mc {
		raw[k] = v
	}

	sub, err := mc.GetSubject()
	if err != nil {
		return Claims{}, fmt.Errorf("sub: %w", err)
	}
	iss, err := mc.GetIssuer()
	if err != nil {
		return Claims{}, fmt.Errorf("iss: %w", err)
	}
	aud, err := mc.GetAudience()
	if err != nil {
		return Claims{}, fmt.Errorf("aud: %w", err)
	}

	claims := Claims{
		Subject:     sub,
		Issuer:      iss,
		Audience:    []string(aud),
		Scope:       stringClaim(mc, "scope"),
		Permissions: stringListClaim(mc, "permissions"),
		Raw:         raw,
	}
	claims.AuthorizedParty = stringClaim(mc, "azp")
	claims.GrantType = stringClaim(mc, "gty")

	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		claims.ExpiresAt = exp.Time
	}
	if iat, err := mc.GetIssuedAt(); err == nil && iat != nil {
		claims.IssuedAt = iat.Time
	}
	return claims, nil
}

func stringClaim(mc jwt.MapClaims, key string) string {
	s, _ := mc[key].(string)
	return s
}

// stringListClaim accepts either a JSON array of strings or a single string.
func stringListClaim(mc jwt.MapClaims, key string) []string {
	switch v := mc[key].(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return append([]string(nil), v...)
	default:
		return nil
	}
}
