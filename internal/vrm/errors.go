package vrm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for VRM API calls.
//
//	if errors.Is(err, vrm.ErrUnauthorized) {
//	    // Credential rejected
//	}
var (
	// ErrUnauthorized indicates HTTP 401.
	ErrUnauthorized = errors.New("vrm: unauthorized")

	// ErrForbidden indicates HTTP 403.
	ErrForbidden = errors.New("vrm: forbidden")

	// ErrNotFound indicates HTTP 404.
	ErrNotFound = errors.New("vrm: not found")

	// ErrRateLimited indicates HTTP 429.
	ErrRateLimited = errors.New("vrm: rate limited")

	// ErrUnavailable indicates HTTP 408 or any 5xx status.
	ErrUnavailable = errors.New("vrm: service unavailable")

	// ErrClient indicates any other 4xx status.
	ErrClient = errors.New("vrm: request rejected")

	// ErrRequest indicates the request never produced a response.
	ErrRequest = errors.New("vrm: request failed")

	// ErrBadResponse indicates a response body that could not be decoded.
	ErrBadResponse = errors.New("vrm: bad response")

	// ErrUnsuccessful indicates a 2xx response carrying success=false.
	ErrUnsuccessful = errors.New("vrm: unsuccessful response")
)

// APIError describes a failed VRM call.
type APIError struct {
	Method     string
	Path       string
	StatusCode int    // zero when no response was received
	Message    string // "errors" field of the response body, if any
	Kind       error  // one of the sentinels above
	Err        error  // underlying cause, may be nil
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("%s %s", e.Method, e.Path)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": status %d", e.StatusCode)
	}
	msg = e.Kind.Error() + ": " + msg
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the sentinel and the cause to errors.Is/As.
func (e *APIError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// statusKind maps a non-2xx HTTP status to its sentinel.
func statusKind(code int) error {
	switch {
	case code == http.StatusUnauthorized:
		return ErrUnauthorized
	case code == http.StatusForbidden:
		return ErrForbidden
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusTooManyRequests:
		return ErrRateLimited
	case code == http.StatusRequestTimeout, code >= 500:
		return ErrUnavailable
	case code >= 400:
		return ErrClient
	default:
		return ErrBadResponse
	}
}

// IsTransient reports whether err is worth retrying later unchanged.
func IsTransient(err error) bool {
	for _, kind := range []error{
		ErrRateLimited, ErrUnavailable, ErrRequest, ErrBadResponse, ErrUnsuccessful,
		context.DeadlineExceeded,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

// IsAuth reports whether err is a 401 or 403.
func IsAuth(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrForbidden)
}
