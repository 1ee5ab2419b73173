package resource

import (
	"errors"
	"fmt"
)

// Reason classifies why a request was not admitted.
type Reason string

// Validation and authorization failure reasons.
const (
	ReasonSignatureInvalid  Reason = "signature_invalid"
	ReasonIssuerMismatch    Reason = "issuer_mismatch"
	ReasonExpired           Reason = "expired"
	ReasonAudienceMissing   Reason = "audience_missing"
	ReasonUnauthenticated   Reason = "unauthenticated"
	ReasonInsufficientScope Reason = "insufficient_scope"
)

// ErrNoToken is wrapped when an empty bearer token is presented.
var ErrNoToken = errors.New("token required")

// ValidationError reports a failed token validation with a stable reason.
type ValidationError struct {
	Reason      Reason
	Description string
	Err         error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Reason, e.Description, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Description)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Code returns the OAuth 2.0 bearer error code (RFC 6750) for the failure.
func (e *ValidationError) Code() string { return "invalid_token" }

// ReasonOf extracts the validation reason from err, if any.
func ReasonOf(err error) (Reason, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Reason, true
	}
	return "", false
}
