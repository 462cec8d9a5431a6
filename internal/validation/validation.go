package validation

import (
	"fmt"
	"strings"

	"unicode/utf8"

	"wadispatch/internal/constants"
	"wadispatch/internal/errors"
	"wadispatch/internal/models"
)

// NormalizeDestination trims whitespace and a leading "+" and drops the
// common separators users paste in (spaces, dashes, dots, parentheses).
func NormalizeDestination(destination string) string {
	cleaned := strings.TrimSpace(destination)
	cleaned = strings.TrimPrefix(cleaned, "+")
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '.', '(', ')':
			return -1
		}
		return r
	}, cleaned)
}

// ValidateDestination checks an E.164 style phone number: digits only once
// normalized, between 7 and 15 of them, and no leading zero.
func ValidateDestination(destination string) error {
	if strings.TrimSpace(destination) == "" {
		return errors.NewValidationError("destination", "", "destination cannot be empty")
	}

	cleaned := NormalizeDestination(destination)
	for _, char := range cleaned {
		if char < '0' || char > '9' {
			return errors.NewValidationError("destination", destination, "destination must contain only digits")
		}
	}

	if len(cleaned) < constants.MinDestinationDigits || len(cleaned) > constants.MaxDestinationDigits {
		return errors.NewValidationError("destination", destination,
			fmt.Sprintf("destination must have between %d and %d digits",
				constants.MinDestinationDigits, constants.MaxDestinationDigits))
	}

	if cleaned[0] == '0' {
		return errors.NewValidationError("destination", destination, "destination must include a country code")
	}

	return nil
}

// ValidateContent rejects blank content and content longer than the
// gateway's text limit, counted in characters.
func ValidateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return errors.NewValidationError("content", "", "content cannot be empty")
	}

	if utf8.RuneCountInString(content) > constants.MaxContentLength {
		return errors.NewValidationError("content", "",
			fmt.Sprintf("content too long (max %d characters)", constants.MaxContentLength))
	}

	if strings.ContainsRune(content, '\x00') {
		return errors.NewValidationError("content", "", "content contains invalid characters")
	}

	return nil
}

func ValidateMessageType(t models.MessageType) error {
	if !t.Valid() {
		return errors.NewValidationError("messageType", string(t),
			fmt.Sprintf("unsupported message type: %s", t))
	}
	return nil
}

func ValidatePriority(p models.Priority) error {
	if !p.Valid() {
		return errors.NewValidationError("priority", fmt.Sprint(int(p)), "priority must be between 0 and 3")
	}
	return nil
}

// ValidateConversationLimit clamps a listing limit. Zero or negative
// selects the default; values above the maximum are capped.
func ValidateConversationLimit(limit int) int {
	if limit <= 0 {
		return constants.DefaultConversationLimit
	}
	if limit > constants.MaxConversationLimit {
		return constants.MaxConversationLimit
	}
	return limit
}

// ValidateNumericRange validates numeric values against bounds
func ValidateNumericRange(value int, fieldName string, min, max int) error {
	if value < min {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too small (min %d)", fieldName, min))
	}

	if value > max {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too large (max %d)", fieldName, max))
	}

	return nil
}

// ValidateTimeout validates timeout values
func ValidateTimeout(timeoutSec int, fieldName string) error {
	if timeoutSec < 1 {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s must be at least 1 second", fieldName))
	}

	if timeoutSec > 3600 {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too large (max 3600 seconds)", fieldName))
	}

	return nil
}

// ValidateConnectionPool validates database connection pool settings
func ValidateConnectionPool(minConns, maxConns int) error {
	if maxConns < 1 {
		return errors.New(errors.ErrCodeInvalidInput, "max connections must be at least 1")
	}

	if maxConns > 1000 {
		return errors.New(errors.ErrCodeInvalidInput, "max connections too large (max 1000)")
	}

	if minConns < 0 {
		return errors.New(errors.ErrCodeInvalidInput, "min connections cannot be negative")
	}

	if minConns > maxConns {
		return errors.New(errors.ErrCodeInvalidInput, "min connections cannot exceed max connections")
	}

	return nil
}

// ValidateRetentionDays validates data retention period. Zero disables
// retention cleanup.
func ValidateRetentionDays(days int) error {
	if days < 0 {
		return errors.New(errors.ErrCodeInvalidInput, "retention days cannot be negative")
	}

	if days > 3650 {
		return errors.New(errors.ErrCodeInvalidInput, "retention days too large (max 3650)")
	}

	return nil
}
