package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyHTTP(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		apiCode    int
		expected   FailureKind
	}{
		{"server error", 500, 0, Transient},
		{"bad gateway", 502, 0, Transient},
		{"request timeout", 408, 0, Transient},
		{"too many requests", 429, 0, Transient},
		{"application throttle", 400, 4, Transient},
		{"pair rate limit", 400, 131056, Transient},
		{"spam rate limit", 400, 131048, Transient},
		{"invalid recipient", 400, 131026, Permanent},
		{"expired token", 401, 190, Permanent},
		{"not found", 404, 0, Permanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ClassifyHTTP(tt.statusCode, tt.apiCode))
		})
	}
}

func TestDeliveryError(t *testing.T) {
	cause := errors.New("connection reset")
	de := NewTransient("gateway unreachable", cause)

	assert.False(t, de.Permanent())
	assert.ErrorIs(t, de, cause)
	assert.Equal(t, "transient delivery failure: gateway unreachable", de.Error())

	full := &DeliveryError{Kind: Permanent, StatusCode: 400, Code: 131026, Reason: "Message undeliverable"}
	assert.Equal(t, "permanent delivery failure: status 400, code 131026: Message undeliverable", full.Error())
	assert.True(t, full.Permanent())
}

func TestAsDeliveryError(t *testing.T) {
	assert.Nil(t, AsDeliveryError(nil))

	perm := NewPermanent("bad number", nil)
	assert.Same(t, perm, AsDeliveryError(fmt.Errorf("wrapped: %w", perm)))

	plain := AsDeliveryError(errors.New("unexpected"))
	assert.Equal(t, Transient, plain.Kind)
	assert.Equal(t, "unexpected", plain.Reason)
}
