package resource

import "slices"

// AudienceValidator requires a specific value in the token's aud claim.
type AudienceValidator struct {
	Required string
}

// Validate returns nil when claims carry the required audience.
func (v AudienceValidator) Validate(claims Claims) error {
	if v.Required != "" && slices.Contains(claims.Audience, v.Required) {
		return nil
	}
	return &ValidationError{
		Reason:      ReasonAudienceMissing,
		Description: "Required audience " + v.Required + " is missing",
	}
}
