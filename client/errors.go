package client

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the client flows.
var (
	ErrConfigurationMissing = errors.New("configuration missing")
	ErrNetwork              = errors.New("network error")
	ErrMalformedResponse    = errors.New("malformed token response")
	ErrDeviceCodeExpired    = errors.New("device code expired, start again")
	ErrAccessDenied         = errors.New("user denied the request")
	ErrTimeout              = errors.New("timed out waiting for user authorization")
)

// Device-flow poll errors that keep the loop running.
const (
	errAuthorizationPending = "authorization_pending"
	errSlowDown             = "slow_down"
	errExpiredToken         = "expired_token"
	errAccessDenied         = "access_denied"
)

// ExchangeError is a non-2xx answer from the token endpoint.
type ExchangeError struct {
	Status int
	Body   string
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("token request failed: HTTP %d: %s", e.Status, e.Body)
}

// DeviceFlowError is an unexpected answer while requesting a device code or
// polling for the token.
type DeviceFlowError struct {
	Status int
	Body   string
}

func (e *DeviceFlowError) Error() string {
	return fmt.Sprintf("device flow failed: HTTP %d: %s", e.Status, e.Body)
}

// Process exit statuses.
const (
	ExitOK             = 0
	ExitFailure        = 1
	ExitConfigMissing  = 2
	ExitExchangeFailed = 3
	ExitDeviceFlow     = 4
	ExitNetwork        = 5
)

// ExitCode maps an error from a client flow to the process exit status.
func ExitCode(err error) int {
	var exchange *ExchangeError
	var device *DeviceFlowError
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrConfigurationMissing):
		return ExitConfigMissing
	case errors.Is(err, ErrNetwork):
		return ExitNetwork
	case errors.As(err, &exchange), errors.Is(err, ErrMalformedResponse):
		return ExitExchangeFailed
	case errors.As(err, &device),
		errors.Is(err, ErrDeviceCodeExpired),
		errors.Is(err, ErrAccessDenied),
		errors.Is(err, ErrTimeout):
		return ExitDeviceFlow
	default:
		return ExitFailure
	}
}
