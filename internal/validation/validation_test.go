package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"wadispatch/internal/constants"
	"wadispatch/internal/errors"
	"wadispatch/internal/models"
)

func TestValidateDestination(t *testing.T) {
	tests := []struct {
		name        string
		destination string
		expectError bool
	}{
		{"valid e164", "+14155550123", false},
		{"valid without plus", "447700900123", false},
		{"valid with separators", "+1 (415) 555-0123", false},
		{"seven digits", "1234567", false},
		{"fifteen digits", "123456789012345", false},
		{"empty", "", true},
		{"whitespace", "   ", true},
		{"too short", "123456", true},
		{"too long", "1234567890123456", true},
		{"letters", "+1415abc0123", true},
		{"leading zero", "0415555012", true},
		{"whatsapp chat suffix", "14155550123@c.us", true},
		{"arabic-indic digits", "+١٤١٥٥٥٥", true},
		{"fullwidth digits", "１４１５５５５０１２３", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDestination(tt.destination)
			if tt.expectError {
				assert.Error(t, err)
				assert.True(t, errors.IsValidation(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNormalizeDestination(t *testing.T) {
	assert.Equal(t, "14155550123", NormalizeDestination(" +1 (415) 555-0123 "))
	assert.Equal(t, "4477009", NormalizeDestination("44.77.009"))
}

func TestValidateContent(t *testing.T) {
	assert.NoError(t, ValidateContent("Your shift starts at 9am"))
	assert.NoError(t, ValidateContent(strings.Repeat("é", constants.MaxContentLength)))

	assert.Error(t, ValidateContent(""))
	assert.Error(t, ValidateContent(" \n\t "))
	assert.Error(t, ValidateContent(strings.Repeat("a", constants.MaxContentLength+1)))
	assert.Error(t, ValidateContent("bad\x00byte"))
}

func TestValidateMessageTypeAndPriority(t *testing.T) {
	for _, mt := range []models.MessageType{models.MessageTypeText, models.MessageTypeImage,
		models.MessageTypeDocument, models.MessageTypeAudio} {
		assert.NoError(t, ValidateMessageType(mt))
	}
	assert.Error(t, ValidateMessageType("video"))

	for p := models.PriorityUrgent; p <= models.PriorityLow; p++ {
		assert.NoError(t, ValidatePriority(p))
	}
	assert.Error(t, ValidatePriority(-1))
	assert.Error(t, ValidatePriority(4))
}

func TestValidateConversationLimit(t *testing.T) {
	assert.Equal(t, constants.DefaultConversationLimit, ValidateConversationLimit(0))
	assert.Equal(t, constants.DefaultConversationLimit, ValidateConversationLimit(-3))
	assert.Equal(t, 10, ValidateConversationLimit(10))
	assert.Equal(t, constants.MaxConversationLimit, ValidateConversationLimit(10_000))
}

func TestValidateNumericRange(t *testing.T) {
	assert.NoError(t, ValidateNumericRange(5, "batch", 1, 10))
	assert.Error(t, ValidateNumericRange(0, "batch", 1, 10))
	assert.Error(t, ValidateNumericRange(11, "batch", 1, 10))
}

func TestValidateTimeout(t *testing.T) {
	assert.NoError(t, ValidateTimeout(30, "gateway timeout"))
	assert.Error(t, ValidateTimeout(0, "gateway timeout"))
	assert.Error(t, ValidateTimeout(3601, "gateway timeout"))
}

func TestValidateConnectionPool(t *testing.T) {
	assert.NoError(t, ValidateConnectionPool(1, 10))
	assert.Error(t, ValidateConnectionPool(0, 0))
	assert.Error(t, ValidateConnectionPool(-1, 5))
	assert.Error(t, ValidateConnectionPool(6, 5))
	assert.Error(t, ValidateConnectionPool(1, 1001))
}

func TestValidateRetentionDays(t *testing.T) {
	assert.NoError(t, ValidateRetentionDays(0))
	assert.NoError(t, ValidateRetentionDays(30))
	assert.Error(t, ValidateRetentionDays(-1))
	assert.Error(t, ValidateRetentionDays(3651))
}
