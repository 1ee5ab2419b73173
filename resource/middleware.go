package resource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// Guard authenticates bearer tokens and enforces the authorization policy.
type Guard struct {
	Validator *TokenValidator
	Mapper    AuthorityMapper
	Engine    *Engine
	Logger    *slog.Logger

	// Optional observers, used for metrics.
	OnValidationFailure func(Reason)
	OnDecision          func(Decision)
}

// Authenticate validates a presented bearer token and attaches the caller's
// Identity to the request context. Requests without a token pass through
// unauthenticated so that Authorize can decide.
func (g *Guard) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}

		raw, ok := bearerToken(header)
		if !ok {
			writeBearerError(w, http.StatusUnauthorized, "invalid_request", "malformed authorization header", "")
			return
		}

		verified, err := g.Validator.Validate(r.Context(), raw)
		if err != nil {
			reason, _ := ReasonOf(err)
			if g.OnValidationFailure != nil {
				g.OnValidationFailure(reason)
			}
			g.logger().Info("token rejected", "reason", reason, "path", r.URL.Path, "error", err)
			desc := "invalid token"
			var ve *ValidationError
			if errors.As(err, &ve) {
				desc = ve.Description
			}
			writeBearerError(w, http.StatusUnauthorized, "invalid_token", desc, "")
			return
		}

		id := &Identity{Token: *verified, Authorities: g.Mapper.Authorities(verified.Claims)}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// Authorize applies the policy decision for the request.
func (g *Guard) Authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := IdentityFromContext(r.Context())
		decision := g.Engine.Decide(r.Method, r.URL.Path, id)
		if g.OnDecision != nil {
			g.OnDecision(decision)
		}
		if decision.Allowed {
			next.ServeHTTP(w, r)
			return
		}

		switch decision.Reason {
		case ReasonInsufficientScope:
			g.logger().Info("access denied", "reason", decision.Reason, "required", decision.Required,
				"sub", id.Token.Claims.Subject, "method", r.Method, "path", r.URL.Path)
			scope := strings.TrimPrefix(decision.Required, AuthorityPrefix)
			writeBearerError(w, http.StatusForbidden, "insufficient_scope",
				"the request requires higher privileges than provided by the access token", scope)
		default:
			writeBearerError(w, http.StatusUnauthorized, "", "authentication required", "")
		}
	})
}

func (g *Guard) logger() *slog.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return slog.Default()
}

// Handler chains Authenticate and Authorize in front of next.
func (g *Guard) Handler(next http.Handler) http.Handler {
	return g.Authenticate(g.Authorize(next))
}

type identityKey struct{}

// WithIdentity stores id on ctx.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext retrieves the caller attached by Authenticate.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(*Identity)
	return id, ok && id != nil
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	tok := strings.TrimSpace(parts[1])
	return tok, tok != ""
}

// writeBearerError emits an RFC 6750 challenge and a JSON error body.
func writeBearerError(w http.ResponseWriter, status int, code, desc, scope string) {
	challenge := "Bearer"
	var params []string
	if code != "" {
		params = append(params, fmt.Sprintf("error=%q", code))
	}
	if desc != "" && code != "" {
		params = append(params, fmt.Sprintf("error_description=%q", desc))
	}
	if scope != "" {
		params = append(params, fmt.Sprintf("scope=%q", scope))
	}
	if len(params) > 0 {
		challenge += " " + strings.Join(params, ", ")
	}
	w.Header().Set("WWW-Authenticate", challenge)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	body := map[string]string{"error": code, "error_description": desc}
	if code == "" {
		body["error"] = "unauthorized"
	}
	_ = json.NewEncoder(w).Encode(body)
}
