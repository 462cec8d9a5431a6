package errors

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"wadispatch/internal/privacy"
)

// Logger attaches an AppError's code and context to log entries.
type Logger struct {
	*logrus.Logger
}

func NewLogger(logger *logrus.Logger) *Logger {
	return &Logger{Logger: logger}
}

func (l *Logger) entryFor(err error, fields []logrus.Fields) *logrus.Entry {
	entry := l.Logger.WithError(err)

	if appErr, ok := As(err); ok {
		entry = entry.WithFields(logrus.Fields{
			"error_code": appErr.Code,
			"retryable":  appErr.Retryable,
		})
		for k, v := range appErr.Context {
			switch {
			case k == "value":
				// Validation values may be destinations or message content.
				entry = entry.WithField(k, privacy.MaskID(fmt.Sprint(v)))
			case !sensitiveContextKeys[k]:
				entry = entry.WithField(k, v)
			}
		}
	}

	for _, field := range fields {
		entry = entry.WithFields(field)
	}
	return entry
}

func (l *Logger) LogError(err error, message string, fields ...logrus.Fields) {
	l.entryFor(err, fields).Error(message)
}

func (l *Logger) LogWarn(err error, message string, fields ...logrus.Fields) {
	l.entryFor(err, fields).Warn(message)
}

func (l *Logger) WithError(err error) *logrus.Entry {
	return l.entryFor(err, nil)
}
