package resource

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ValidatorConfig configures the token validator.
type ValidatorConfig struct {
	Issuer      string
	Audience    string
	AllowedAlgs []string
	Leeway      time.Duration
	// Now overrides the clock used for exp/nbf/iat checks.
	Now func() time.Time
}

// TokenValidator verifies bearer tokens issued for the orders API.
type TokenValidator struct {
	cfg      ValidatorConfig
	keys     KeySource
	audience AudienceValidator
}

// NewValidator builds a validator that checks signature, issuer and expiry
// first and then applies the audience rule.
func NewValidator(cfg ValidatorConfig, keys KeySource) *TokenValidator {
	if len(cfg.AllowedAlgs) == 0 {
		cfg.AllowedAlgs = []string{jwt.SigningMethodRS256.Alg()}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &TokenValidator{
		cfg:      cfg,
		keys:     keys,
		audience: AudienceValidator{Required: cfg.Audience},
	}
}

// Validate returns the verified token or a *ValidationError.
func (v *TokenValidator) Validate(ctx context.Context, rawToken string) (*VerifiedToken, error) {
	if rawToken == "" {
		return nil, &ValidationError{Reason: ReasonSignatureInvalid, Description: "bearer token is empty", Err: ErrNoToken}
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods(v.cfg.AllowedAlgs),
		jwt.WithIssuer(v.cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.cfg.Leeway),
		jwt.WithTimeFunc(v.cfg.Now),
	)

	mc := jwt.MapClaims{}
	if _, err := parser.ParseWithClaims(rawToken, mc, v.keys.Keyfunc(ctx)); err != nil {
		return nil, classify(err, mc)
	}

	claims, err := ExtractClaims(mc)
	if err != nil {
		return nil, &ValidationError{Reason: ReasonSignatureInvalid, Description: "malformed claims", Err: err}
	}
	if err := v.audience.Validate(claims); err != nil {
		return nil, err
	}

	return &VerifiedToken{Raw: rawToken, Claims: claims}, nil
}

func classify(err error, mc jwt.MapClaims) *ValidationError {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed), errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable):
		return &ValidationError{Reason: ReasonSignatureInvalid, Description: "token could not be verified", Err: err}
	case errors.Is(err, jwt.ErrTokenExpired):
		return &ValidationError{Reason: ReasonExpired, Description: "token has expired", Err: err}
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return &ValidationError{Reason: ReasonExpired, Description: "token is not valid yet", Err: err}
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return &ValidationError{Reason: ReasonIssuerMismatch, Description: "issuer does not match", Err: err}
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		if iss, _ := mc.GetIssuer(); iss == "" {
			return &ValidationError{Reason: ReasonIssuerMismatch, Description: "issuer claim is missing", Err: err}
		}
		return &ValidationError{Reason: ReasonExpired, Description: "expiry claim is missing", Err: err}
	default:
		return &ValidationError{Reason: ReasonSignatureInvalid, Description: "token could not be verified", Err: err}
	}
}
