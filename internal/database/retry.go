package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"wadispatch/internal/constants"
	apperrors "wadispatch/internal/errors"
	"wadispatch/internal/retry"
)

var dbBackoff = retry.BackoffConfig{
	InitialDelay: 50 * time.Millisecond,
	MaxDelay:     time.Second,
	Multiplier:   2.0,
	MaxAttempts:  constants.DefaultDatabaseRetryAttempts,
	Jitter:       true,
}

// retryableDBOperation retries operation while it fails with a transient
// SQLite error such as a busy lock.
func retryableDBOperation(ctx context.Context, operationName string, operation func() error) error {
	err := retry.NewBackoff(dbBackoff).RetryWithPredicate(ctx, operation, isRetryableDBError)
	if err == nil {
		return nil
	}
	if !isRetryableDBError(err) {
		return fmt.Errorf("%s failed (non-retryable): %w", operationName, err)
	}
	return fmt.Errorf("%s failed after %d attempts: %w", operationName, dbBackoff.MaxAttempts, err)
}

// isRetryableDBError determines if a database error is worth retrying
func isRetryableDBError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "database is locked"),
		strings.Contains(errStr, "database table is locked"),
		strings.Contains(errStr, "SQLITE_BUSY"),
		strings.Contains(errStr, "disk I/O error"):
		return true
	}

	// constraint, schema and everything else
	return false
}

// storeError classifies a failed operation for the API: lock contention that
// outlasted the retries is reported as busy, everything else as a failed
// query.
func storeError(operation string, err error) error {
	if isRetryableDBError(err) {
		return apperrors.NewStoreBusyError(operation, err)
	}
	return apperrors.NewDatabaseError(operation, err)
}
