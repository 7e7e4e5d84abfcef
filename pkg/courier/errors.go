package courier

import (
	"errors"
	"fmt"
)

// APIError represents a business-level rejection from a courier API:
// the courier answered, but refused the request or returned malformed data.
// It is terminal for the current attempt and is never retried.
type APIError struct {
	Courier    string
	StatusCode int
	Message    string
	Cause      error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s API error (%d): %s: %v", e.Courier, e.StatusCode, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s API error (%d): %s", e.Courier, e.StatusCode, e.Message)
}

// Unwrap returns the underlying cause.
func (e *APIError) Unwrap() error {
	return e.Cause
}

// NewAPIError creates a new APIError.
func NewAPIError(courier string, statusCode int, message string) *APIError {
	return &APIError{Courier: courier, StatusCode: statusCode, Message: message}
}

// WithCause adds a cause to the error.
func (e *APIError) WithCause(err error) *APIError {
	e.Cause = err
	return e
}

// TransportError represents a network-level failure (timeout, refused
// connection, DNS, 5xx) that persisted after retry exhaustion.
type TransportError struct {
	URL      string
	Attempts int
	Cause    error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error after %d attempts to %s: %v", e.Attempts, e.URL, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *TransportError) Unwrap() error {
	return e.Cause
}

// Sentinel errors for common courier scenarios.
var (
	// ErrCourierNotFound indicates the courier code is not registered or is disabled.
	ErrCourierNotFound = errors.New("courier not found")

	// ErrCourierUnavailable indicates the circuit breaker for the courier is
	// open and calls are rejected without attempting the network.
	ErrCourierUnavailable = errors.New("courier unavailable")

	// ErrCancellationUnsupported indicates the courier does not support cancellation.
	ErrCancellationUnsupported = errors.New("cancellation not supported")

	// ErrCancellationNotAllowed indicates the shipment is no longer in a
	// cancellable state.
	ErrCancellationNotAllowed = errors.New("cancellation not allowed")
)

// Stable machine-readable error codes surfaced to API callers.
const (
	CodeCourierNotFound         = "courier_not_found"
	CodeCourierUnavailable      = "courier_unavailable"
	CodeCourierAPIError         = "courier_api_error"
	CodeTransportError          = "transport_error"
	CodeCancellationUnsupported = "cancellation_unsupported"
	CodeCancellationNotAllowed  = "cancellation_not_allowed"
	CodeInternalError           = "internal_error"
)

// ErrorCode maps an error from the courier layer to its stable machine-readable code.
func ErrorCode(err error) string {
	var apiErr *APIError
	var transportErr *TransportError

	switch {
	case errors.Is(err, ErrCourierNotFound):
		return CodeCourierNotFound
	case errors.Is(err, ErrCourierUnavailable):
		return CodeCourierUnavailable
	case errors.Is(err, ErrCancellationUnsupported):
		return CodeCancellationUnsupported
	case errors.Is(err, ErrCancellationNotAllowed):
		return CodeCancellationNotAllowed
	case errors.As(err, &apiErr):
		return CodeCourierAPIError
	case errors.As(err, &transportErr):
		return CodeTransportError
	default:
		return CodeInternalError
	}
}

// IsRetryable reports whether the error may succeed on a later attempt.
// Transport errors are retryable once the breaker recovers; business
// rejections are not.
func IsRetryable(err error) bool {
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return true
	}
	return errors.Is(err, ErrCourierUnavailable)
}
