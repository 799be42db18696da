package entity

import (
	"errors"
	"fmt"
)

// Standard domain errors
var (
	ErrUnauthorized         = errors.New("unauthorized access")
	ErrInvalidRequest       = errors.New("invalid request parameters")
	ErrCreditsExhausted     = errors.New("ran out of credits")
	ErrSignatureInvalid     = errors.New("invalid event signature")
	ErrMalformedPayload     = errors.New("malformed event payload")
	ErrUpstream             = errors.New("upstream service failure")
	ErrUpstreamAuth         = errors.New("upstream service rejected credentials")
	ErrAccountNotFound      = errors.New("account not found")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrReportNotFound       = errors.New("report not found")
	ErrDimensionMismatch    = errors.New("embedding dimension mismatch")
	ErrInternalServer       = errors.New("an internal error occurred")
)

// UpstreamError wraps a failed call to an external service (embedding,
// generation, vector index, search). StatusCode is zero for transport
// failures that never produced an HTTP response.
type UpstreamError struct {
	Service    string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Service, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Service, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func (e *UpstreamError) Is(target error) bool {
	switch target {
	case ErrUpstream:
		return true
	case ErrUpstreamAuth:
		return e.IsAuth()
	}
	return false
}

// IsAuth reports whether the upstream refused our credentials.
func (e *UpstreamError) IsAuth() bool {
	return e.StatusCode == 401 || e.StatusCode == 403
}

// Retryable reports whether another attempt could succeed: transport
// failures and timeouts, rate limiting, and server-side errors.
func (e *UpstreamError) Retryable() bool {
	switch {
	case e.StatusCode == 0:
		return true
	case e.StatusCode == 429:
		return true
	case e.StatusCode >= 500:
		return true
	}
	return false
}

// NewUpstreamError builds an UpstreamError, leaving an existing one intact.
func NewUpstreamError(service string, status int, err error) error {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return err
	}
	return &UpstreamError{Service: service, StatusCode: status, Err: err}
}
