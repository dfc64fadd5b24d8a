package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeNotFound, CodeOf(New(CodeNotFound, "missing")))
	assert.Equal(t, CodeInternal, CodeOf(stdErrors.New("plain error")))

	wrapped := fmt.Errorf("outer: %w", New(CodeRateLimited, "slow down"))
	assert.Equal(t, CodeRateLimited, CodeOf(wrapped))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(New(CodeRateLimited, "x")))
	assert.True(t, IsRetryable(New(CodeTransientNetwork, "x")))
	assert.True(t, IsRetryable(New(CodeTimeout, "x")))
	assert.True(t, IsRetryable(New(CodeDependency, "x")))

	assert.False(t, IsRetryable(New(CodeRejected, "x")))
	assert.False(t, IsRetryable(New(CodeAuthRequired, "x")))
	assert.False(t, IsRetryable(New(CodeUnrecoverable, "x")))
	assert.False(t, IsRetryable(New(CodeValidation, "x")))
	assert.False(t, IsRetryable(New(CodeRetriesExhausted, "x")))
	assert.False(t, IsRetryable(nil))
}

func TestMetadataFor(t *testing.T) {
	assert.Equal(t, http.StatusTooManyRequests, MetadataFor(CodeRateLimited).HTTPStatus)
	assert.Equal(t, http.StatusUnprocessableEntity, MetadataFor(CodeStateConflict).HTTPStatus)
	assert.Equal(t, http.StatusConflict, MetadataFor(CodeLedgerConflict).HTTPStatus)

	// Unknown codes fall back to internal.
	assert.Equal(t, http.StatusInternalServerError, MetadataFor(Code("MYSTERY")).HTTPStatus)
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stdErrors.New("connection refused")
	err := Wrap(CodeDependency, cause, "pinging database")

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "DEPENDENCY_ERROR: pinging database", err.Error())

	typed := As(err)
	require.NotNil(t, typed)
	assert.Equal(t, CodeDependency, typed.Code())
}

func TestWithDetails(t *testing.T) {
	err := New(CodeValidation, "validation failed").WithDetails(map[string]string{"body": "is required"})
	typed := As(err)
	require.NotNil(t, typed)
	assert.Equal(t, map[string]string{"body": "is required"}, typed.Details())
}
