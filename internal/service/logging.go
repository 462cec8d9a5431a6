package service

import (
	"context"

	"github.com/sirupsen/logrus"

	"wadispatch/internal/models"
	"wadispatch/internal/privacy"
)

// ContextKey is a package-local type to prevent context key collisions
type ContextKey string

// VerboseContextKey marks a context as allowed to log unmasked destinations.
const VerboseContextKey ContextKey = "verbose"

func IsVerboseLogging(ctx context.Context) bool {
	if verbose, ok := ctx.Value(VerboseContextKey).(bool); ok {
		return verbose
	}
	return false
}

// SanitizeDestination masks a destination unless verbose logging is on.
func SanitizeDestination(ctx context.Context, destination string) string {
	if IsVerboseLogging(ctx) {
		return destination
	}
	return privacy.MaskPhoneNumber(destination)
}

// entryFields returns the standard fields describing a claimed entry.
func entryFields(ctx context.Context, c models.ClaimedEntry) logrus.Fields {
	return logrus.Fields{
		LogFieldQueueID:     c.Entry.ID,
		LogFieldMessageID:   c.Entry.MessageID,
		LogFieldPriority:    c.Entry.Priority.String(),
		LogFieldRetryCount:  c.Entry.RetryCount,
		LogFieldMaxRetries:  c.Entry.MaxRetries,
		LogFieldMessageType: c.Message.MessageType,
		LogFieldDestination: SanitizeDestination(ctx, c.Message.Destination),
	}
}

func componentLogger(logger *logrus.Logger, component string) *logrus.Entry {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return logger.WithField(LogFieldComponent, component)
}
