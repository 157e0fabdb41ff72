package models

import (
	"fmt"
	"strings"
)

// ProviderError describes a single adapter call failure: network error,
// non-2xx HTTP status, or malformed payload.
type ProviderError struct {
	Provider string
	Op       string
	Status   int // HTTP status when applicable, 0 otherwise
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: %s failed: %s (status %d)", e.Provider, e.Op, e.Message, e.Status)
	}
	return fmt.Sprintf("%s: %s failed: %s", e.Provider, e.Op, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// AllProvidersFailedError is raised when every adapter in the fallback chain
// failed or was skipped by an open circuit. It carries one entry per adapter
// in priority order.
type AllProvidersFailedError struct {
	Op     string
	Errors []*ProviderError
}

func (e *AllProvidersFailedError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, pe := range e.Errors {
		parts[i] = fmt.Sprintf("%s: %s", pe.Provider, pe.Message)
	}
	return fmt.Sprintf("all providers failed for %s: %s", e.Op, strings.Join(parts, "; "))
}

// StoreUnavailableError indicates the persistent price store could not be
// opened or accessed. Callers fall back to direct remote fetch.
type StoreUnavailableError struct {
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("price store unavailable: %v", e.Err)
}

func (e *StoreUnavailableError) Unwrap() error {
	return e.Err
}

// ValidationError indicates malformed caller input, such as a too-short
// search query or an unknown period code.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// NotSupportedError marks an operation an adapter does not implement. The
// fallback chain records it and moves to the next adapter.
type NotSupportedError struct {
	Provider string
	Op       string
}

func (e *NotSupportedError) Error() string {
	return fmt.Sprintf("%s does not support %s", e.Provider, e.Op)
}
