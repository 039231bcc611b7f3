package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorKind classifies failures on the upstream path.
type ErrorKind string

const (
	// KindNetwork covers timeouts, refused connections and DNS failures
	KindNetwork ErrorKind = "NETWORK_FAILURE"

	// KindAuth covers rejected credentials and missing credentials
	KindAuth ErrorKind = "AUTH_FAILURE"

	// KindUpstream means every credential strategy was exhausted
	KindUpstream ErrorKind = "UPSTREAM_FAILURE"

	// KindNormalization means the upstream payload lacked the expected fields
	KindNormalization ErrorKind = "NORMALIZATION_FAILURE"

	// CodeInvalidCoordinates is a request-level error, never produced upstream
	CodeInvalidCoordinates = "INVALID_COORDINATES"
)

// Attempt records the outcome of one credential attempt against the upstream.
type Attempt struct {
	Credential string `json:"credential"`
	StatusCode int    `json:"statusCode,omitempty"`
	Error      string `json:"error,omitempty"`
}

// String renders the attempt for log lines and error messages.
func (a Attempt) String() string {
	if a.Error != "" {
		return fmt.Sprintf("%s: %s", a.Credential, a.Error)
	}

	return fmt.Sprintf("%s: status %d", a.Credential, a.StatusCode)
}

// WeatherError represents domain-specific errors with a machine-readable code.
type WeatherError struct {
	// Code identifies the type of error for programmatic handling
	Code string

	// Message provides a human-readable error description
	Message string

	// StatusCode is the upstream HTTP status, when one was received
	StatusCode int

	// Body is a truncated copy of the upstream response body
	Body string

	// Attempts lists each credential attempt made for the failing request
	Attempts []Attempt

	// Cause wraps an underlying error if applicable
	Cause error
}

// Error implements the error interface.
func (e *WeatherError) Error() string {
	var b strings.Builder

	b.WriteString(e.Code)
	b.WriteString(": ")
	b.WriteString(e.Message)

	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}

	if len(e.Attempts) > 0 {
		parts := make([]string, len(e.Attempts))
		for i, a := range e.Attempts {
			parts[i] = a.String()
		}

		fmt.Fprintf(&b, " [%s]", strings.Join(parts, "; "))
	}

	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}

	return b.String()
}

// Unwrap exposes the underlying cause to errors.Is and errors.As.
func (e *WeatherError) Unwrap() error {
	return e.Cause
}

// Kind returns the error code as an ErrorKind.
func (e *WeatherError) Kind() ErrorKind {
	return ErrorKind(e.Code)
}

// NewNetworkFailure wraps a transport-level error.
func NewNetworkFailure(cause error) *WeatherError {
	return &WeatherError{
		Code:    string(KindNetwork),
		Message: "upstream request failed",
		Cause:   cause,
	}
}

// NewAuthFailure reports a rejected or missing credential.
func NewAuthFailure(message string, statusCode int, body string) *WeatherError {
	return &WeatherError{
		Code:       string(KindAuth),
		Message:    message,
		StatusCode: statusCode,
		Body:       body,
	}
}

// NewUpstreamFailure reports that all credential attempts were exhausted.
// The status of the last attempt is promoted to StatusCode.
func NewUpstreamFailure(message string, attempts ...Attempt) *WeatherError {
	e := &WeatherError{
		Code:     string(KindUpstream),
		Message:  message,
		Attempts: attempts,
	}

	if len(attempts) > 0 {
		e.StatusCode = attempts[len(attempts)-1].StatusCode
	}

	return e
}

// NewNormalizationFailure reports an unusable upstream payload.
func NewNormalizationFailure(message string, cause error) *WeatherError {
	return &WeatherError{
		Code:    string(KindNormalization),
		Message: message,
		Cause:   cause,
	}
}

// ErrorKindOf classifies any error into the upstream failure taxonomy.
// Context deadlines and net errors are network failures; anything that is
// not a WeatherError is treated as an upstream failure.
func ErrorKindOf(err error) ErrorKind {
	var we *WeatherError
	if errors.As(err, &we) {
		return we.Kind()
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.As(err, &netErr) {
		return KindNetwork
	}

	return KindUpstream
}

// StatusCodeOf returns the upstream HTTP status carried by err, or 0.
func StatusCodeOf(err error) int {
	var we *WeatherError
	if errors.As(err, &we) {
		return we.StatusCode
	}

	return 0
}

// NewDegradation builds the informational error attached to simulated readings.
func NewDegradation(err error) *Degradation {
	return &Degradation{
		Kind:           ErrorKindOf(err),
		Message:        err.Error(),
		UpstreamStatus: StatusCodeOf(err),
	}
}
