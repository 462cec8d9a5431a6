package errors

import (
	stderrors "errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewValidationError(t *testing.T) {
	err := NewValidationError("destination", "12ab", "destination must be an E.164 phone number")

	assert.Equal(t, ErrCodeValidationFailed, err.Code)
	assert.Equal(t, "destination", err.Context["field"])
	assert.Equal(t, "Invalid destination: destination must be an E.164 phone number", err.UserMessage)
	assert.False(t, err.Retryable)
}

func TestNewStoreBusyError(t *testing.T) {
	cause := stderrors.New("database is locked")
	err := NewStoreBusyError("create message", cause)

	assert.Equal(t, ErrCodeDatabaseBusy, err.Code)
	assert.True(t, err.Retryable)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "create message", err.Context["operation"])
}

func TestHTTPStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", NewValidationError("content", "", "required"), http.StatusBadRequest},
		{"invalid input", New(ErrCodeInvalidInput, "bad json"), http.StatusBadRequest},
		{"auth", NewAuthError("signature mismatch"), http.StatusUnauthorized},
		{"not found", NewNotFoundError("message", "m1"), http.StatusNotFound},
		{"database", NewDatabaseError("claim", nil), http.StatusServiceUnavailable},
		{"busy", NewStoreBusyError("claim", nil), http.StatusServiceUnavailable},
		{"plain error", stderrors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatusCode(tt.err))
		})
	}
}

func TestToHTTPResponse(t *testing.T) {
	t.Run("hides sensitive context", func(t *testing.T) {
		err := NewValidationError("destination", "+14155550123", "bad").WithContext("token", "EAAG...")
		resp := ToHTTPResponse(err, "req-1")

		assert.Equal(t, "req-1", resp.RequestID)
		assert.Equal(t, ErrCodeValidationFailed, resp.Error.Code)
		assert.Equal(t, map[string]interface{}{"field": "destination"}, resp.Error.Context)
		assert.False(t, resp.Error.Retryable)
	})

	t.Run("retryable store error", func(t *testing.T) {
		resp := ToHTTPResponse(NewStoreBusyError("create message", stderrors.New("SQLITE_BUSY")), "")

		assert.Equal(t, ErrCodeDatabaseBusy, resp.Error.Code)
		assert.True(t, resp.Error.Retryable)
		assert.NotContains(t, resp.Error.Message, "SQLITE_BUSY")
	})

	t.Run("plain error", func(t *testing.T) {
		resp := ToHTTPResponse(stderrors.New("pq: password authentication failed"), "req-2")

		assert.Equal(t, ErrCodeInternalError, resp.Error.Code)
		assert.Equal(t, "An internal error occurred", resp.Error.Message)
		assert.Nil(t, resp.Error.Context)
	})
}
