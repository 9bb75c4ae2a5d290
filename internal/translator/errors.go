package translator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Classification is the failure class an endpoint call ended with.
type Classification string

const (
	RateLimited Classification = "rate_limited"
	Overloaded  Classification = "overloaded"
	Unavailable Classification = "unavailable"
	Malformed   Classification = "malformed"
	Unknown     Classification = "unknown"
)

// Transient reports whether retrying the same endpoint may succeed.
func (c Classification) Transient() bool {
	return c != Malformed
}

// EndpointError is returned by every backend call that fails.
type EndpointError struct {
	Endpoint       string
	Classification Classification
	StatusCode     int
	Err            error
}

func (e *EndpointError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Endpoint, e.Classification, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Endpoint, e.Classification, e.Err)
}

func (e *EndpointError) Unwrap() error {
	return e.Err
}

func (e *EndpointError) Transient() bool {
	return e.Classification.Transient()
}

func newEndpointError(endpoint string, class Classification, err error) *EndpointError {
	return &EndpointError{Endpoint: endpoint, Classification: class, Err: err}
}

func malformed(endpoint, format string, args ...any) *EndpointError {
	return newEndpointError(endpoint, Malformed, fmt.Errorf(format, args...))
}

// ClassifyStatus maps an HTTP status code to a failure class.
func ClassifyStatus(code int) Classification {
	switch code {
	case http.StatusTooManyRequests:
		return RateLimited
	case http.StatusServiceUnavailable, 529:
		return Overloaded
	case http.StatusRequestTimeout, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusGatewayTimeout:
		return Unavailable
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden,
		http.StatusNotFound, http.StatusRequestEntityTooLarge, http.StatusUnprocessableEntity:
		return Malformed
	default:
		return Unknown
	}
}

func statusError(endpoint string, code int, body string) *EndpointError {
	e := newEndpointError(endpoint, ClassifyStatus(code), fmt.Errorf("API returned status %d: %s", code, body))
	e.StatusCode = code
	return e
}

// transportError classifies an error from http.Client.Do. Cancellation of the
// caller's context is passed through untouched.
func transportError(endpoint string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return newEndpointError(endpoint, Unavailable, fmt.Errorf("request failed: %w", err))
}

// AsEndpointError normalises any error from a backend into an EndpointError.
// Errors that carry no classification are Unknown, which is transient.
func AsEndpointError(endpoint string, err error) *EndpointError {
	var epErr *EndpointError
	if errors.As(err, &epErr) {
		return epErr
	}
	return newEndpointError(endpoint, Unknown, err)
}
