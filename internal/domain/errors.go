package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the core. Callers branch with errors.Is.
var (
	// ErrInvalidTransition rejects a status change the state machine does
	// not allow. The entity is left untouched.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrProvidersUnavailable means every carrier breaker is open. The
	// message fails immediately without retry.
	ErrProvidersUnavailable = errors.New("all carrier providers unavailable")

	// ErrOptimisticConflict means a write raced against a stale read. The
	// caller must re-fetch and retry.
	ErrOptimisticConflict = errors.New("optimistic concurrency conflict")

	// ErrInvalidSignature rejects a webhook whose signature does not
	// verify. Logged as a security event.
	ErrInvalidSignature = errors.New("invalid webhook signature")

	ErrNotFound    = errors.New("not found")
	ErrRateLimited = errors.New("rate limited")
)

// ValidationError rejects input before it causes any side effect.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// TransientProviderError is a carrier failure worth retrying, including
// per-attempt timeouts.
type TransientProviderError struct {
	Provider string
	Code     string
	Err      error
}

func (e *TransientProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Code, e.Err)
	}
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *TransientProviderError) Unwrap() error { return e.Err }
