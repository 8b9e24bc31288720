// Package errs defines the error kinds used throughout the mirror.
// Errors are built from sentinel kinds so callers can branch with
// errors.Is without depending on error strings.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthentication when a challenge or token exchange failed
	ErrAuthentication = errors.New("authentication failed")
	// ErrDataFormat when content could not be decoded or failed verification
	ErrDataFormat = errors.New("data format error")
	// ErrExternalDependency when an upstream call failed or returned non-success
	ErrExternalDependency = errors.New("external dependency error")
	// ErrSystemEnvironment when a local file or IO operation failed
	ErrSystemEnvironment = errors.New("system environment error")
	// ErrInvalidOperation when the caller violated a precondition
	ErrInvalidOperation = errors.New("invalid operation")
	// ErrRecoverable for conditions the caller is expected to retry or skip
	ErrRecoverable = errors.New("recoverable error")
	// ErrCodeDefect when an upstream violated a protocol invariant
	ErrCodeDefect = errors.New("code defect")

	// ErrDigestMismatch when the computed digest differs from the declared
	// digest, always a data format error
	ErrDigestMismatch = fmt.Errorf("%w: digest mismatch", ErrDataFormat)
	// ErrNoChallenge when the probed endpoint did not require authentication
	ErrNoChallenge = errors.New("endpoint did not issue a challenge")
	// ErrParsingFailed when a string cannot be parsed
	ErrParsingFailed = fmt.Errorf("%w: parsing failed", ErrDataFormat)
	// ErrMissingCredentials when an exchange was attempted without credentials
	ErrMissingCredentials = fmt.Errorf("%w: tried to authenticate without credentials", ErrInvalidOperation)
	// ErrNotFound when a requested value is not available
	ErrNotFound = errors.New("not found")
)

// InvalidOperation wraps ErrInvalidOperation with the violated precondition.
func InvalidOperation(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidOperation, reason)
}

// Recoverable wraps ErrRecoverable with the condition encountered.
func Recoverable(reason string) error {
	return fmt.Errorf("%w: %s", ErrRecoverable, reason)
}

// StatusError records the HTTP status from a failed upstream call.
type StatusError struct {
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("external dependency returned status %d", e.Status)
}

func (e *StatusError) Unwrap() error {
	return ErrExternalDependency
}

// ExternalStatus returns an ErrExternalDependency carrying the upstream status.
func ExternalStatus(status int) error {
	return &StatusError{Status: status}
}

// Status extracts the upstream status code from an error chain, 0 if absent.
func Status(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return 0
}
