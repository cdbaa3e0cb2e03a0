// Package apperr defines the error kinds shared by the portal's domain
// services. Handlers match them with errors.Is to pick HTTP status codes;
// services wrap them with fmt.Errorf("...: %w", ...) so the kind survives
// propagation.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed input. Not retryable without changing
	// the input.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidStateTransition marks a business-rule violation, e.g.
	// responding to a consent request that is no longer pending.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrConcurrentModification marks a lost conditional write. The caller
	// should re-fetch and decide whether to retry.
	ErrConcurrentModification = errors.New("concurrent modification")

	// ErrAccessDenied marks an authorization failure. It must surface as a
	// 403, never as an empty result.
	ErrAccessDenied = errors.New("access denied")

	// ErrNotFound marks an absent record.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable marks a transient store or transport failure,
	// retryable with backoff.
	ErrUnavailable = errors.New("service unavailable")
)

// Validationf wraps ErrValidation with a formatted detail message.
func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrValidation)...)
}

// NotFoundf wraps ErrNotFound with a formatted detail message.
func NotFoundf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
}
