package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderError_Message(t *testing.T) {
	err := &ProviderError{Provider: "brapi", Op: "GetQuote", Status: 429, Message: "rate limited"}
	assert.Contains(t, err.Error(), "brapi")
	assert.Contains(t, err.Error(), "GetQuote")
	assert.Contains(t, err.Error(), "429")
}

func TestProviderError_Unwrap(t *testing.T) {
	inner := errors.New("connection refused")
	err := &ProviderError{Provider: "quantumapi", Op: "GetHistory", Message: inner.Error(), Err: inner}
	assert.ErrorIs(t, err, inner)
}

func TestAllProvidersFailedError_ListsEveryAdapter(t *testing.T) {
	err := &AllProvidersFailedError{
		Op: "GetQuote",
		Errors: []*ProviderError{
			{Provider: "brapi", Message: "timeout"},
			{Provider: "quantumapi", Message: "503"},
			{Provider: "mock", Message: "disabled"},
		},
	}

	msg := err.Error()
	assert.Contains(t, msg, "brapi: timeout")
	assert.Contains(t, msg, "quantumapi: 503")
	assert.Contains(t, msg, "mock: disabled")
}

func TestErrorsAs_Taxonomy(t *testing.T) {
	var wrapped error = &StoreUnavailableError{Err: errors.New("corrupt manifest")}

	var storeErr *StoreUnavailableError
	require.True(t, errors.As(wrapped, &storeErr))
	assert.Contains(t, storeErr.Error(), "corrupt manifest")

	var valErr *ValidationError
	assert.False(t, errors.As(wrapped, &valErr))
}

func TestValidationError_Message(t *testing.T) {
	err := &ValidationError{Field: "query", Message: "must be at least 2 characters"}
	assert.Equal(t, "invalid query: must be at least 2 characters", err.Error())
}
