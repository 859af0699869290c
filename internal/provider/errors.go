package provider

import (
	"errors"
	"fmt"
	"net/http"
)

// AuthErrorKind classifies token-fetch failures.
type AuthErrorKind string

const (
	// AuthProviderRejected: the OAuth endpoint answered non-2xx. Not retryable
	// without operator intervention.
	AuthProviderRejected AuthErrorKind = "provider_rejected"
	// AuthMalformedResponse: 2xx without a usable access_token.
	AuthMalformedResponse AuthErrorKind = "malformed_response"
	// AuthTimeout: the call exceeded its deadline. Safe to retry.
	AuthTimeout AuthErrorKind = "timeout"
	// AuthTransport: the call failed before any response arrived.
	AuthTransport AuthErrorKind = "transport"
)

// AuthError is returned by the access-token provider.
type AuthError struct {
	Kind            AuthErrorKind
	StatusCode      int
	ProviderCode    string
	ProviderMessage string
	Err             error
}

func (e *AuthError) Error() string {
	switch e.Kind {
	case AuthProviderRejected:
		return fmt.Sprintf("access token rejected (status %d, %s): %s", e.StatusCode, e.ProviderCode, e.ProviderMessage)
	case AuthMalformedResponse:
		if e.Err != nil {
			return "access token response malformed: " + e.Err.Error()
		}
		return "access token not found in response"
	case AuthTimeout:
		return "timeout while generating access token"
	default:
		if e.Err != nil {
			return "access token request failed: " + e.Err.Error()
		}
		return "access token request failed"
	}
}

func (e *AuthError) Unwrap() error { return e.Err }

// Retryable reports whether retrying could help.
func (e *AuthError) Retryable() bool { return e.Kind == AuthTimeout }

// UpstreamError is a failed payment submission.
type UpstreamError struct {
	StatusCode int
	Code       string
	Message    string
	RequestID  string
	Timeout    bool
	Transport  bool
	Err        error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.Timeout:
		return "provider request timed out"
	case e.Transport && e.Err != nil:
		return "provider request failed: " + e.Err.Error()
	case e.StatusCode != 0:
		return fmt.Sprintf("provider returned status %d (%s): %s", e.StatusCode, e.Code, e.Message)
	default:
		return fmt.Sprintf("provider error (%s): %s", e.Code, e.Message)
	}
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// ValidationError is an outbound request field that Daraja would refuse.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// Error codes surfaced to API callers.
const (
	ErrCodeAuth           = "AUTH_ERROR"
	ErrCodeUnknown        = "UNKNOWN"
	ErrCodeTimeout        = "PROVIDER_TIMEOUT"
	ErrCodeProviderDown   = "PROVIDER_UNREACHABLE"
	ErrCodeMalformed      = "MALFORMED_RESPONSE"
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeSecurityCred   = "SECURITY_CREDENTIAL"
	ErrCodeInternal       = "INTERNAL_ERROR"
)

// HTTPStatus derives the status an inbound request should answer with when
// the provider call failed: 504 on timeouts, 502 on transport or malformed
// responses, the provider's own status when it rejected the call.
func HTTPStatus(err error) int {
	var authErr *AuthError
	var upErr *UpstreamError
	var valErr *ValidationError
	switch {
	case errors.As(err, &authErr):
		switch authErr.Kind {
		case AuthTimeout:
			return http.StatusGatewayTimeout
		case AuthProviderRejected:
			return mirror(authErr.StatusCode)
		default:
			return http.StatusBadGateway
		}
	case errors.As(err, &upErr):
		switch {
		case upErr.Timeout:
			return http.StatusGatewayTimeout
		case upErr.Transport:
			return http.StatusBadGateway
		default:
			return mirror(upErr.StatusCode)
		}
	case errors.As(err, &valErr):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func mirror(status int) int {
	if status >= 400 && status <= 599 {
		return status
	}
	return http.StatusBadGateway
}
