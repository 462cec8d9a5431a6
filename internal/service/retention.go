package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"wadispatch/internal/constants"
)

// RetentionScheduler deletes terminal messages older than the retention
// window. A window of zero days disables it.
type RetentionScheduler struct {
	store         RetentionStore
	retentionDays int
	interval      time.Duration
	logger        *logrus.Entry
	now           func() time.Time
}

func NewRetentionScheduler(store RetentionStore, retentionDays int, interval time.Duration, logger *logrus.Logger) *RetentionScheduler {
	if interval <= 0 {
		interval = constants.DefaultRetentionIntervalHours * time.Hour
	}
	return &RetentionScheduler{
		store:         store,
		retentionDays: retentionDays,
		interval:      interval,
		logger:        componentLogger(logger, "retention"),
		now:           time.Now,
	}
}

func (s *RetentionScheduler) Start(ctx context.Context) error {
	if s.retentionDays <= 0 {
		s.logger.Info("Retention cleanup disabled")
		return nil
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.WithField("retention_days", s.retentionDays).Info("Starting retention scheduler")
	s.RunCleanup(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Retention scheduler stopped")
			return nil
		case <-ticker.C:
			s.RunCleanup(ctx)
		}
	}
}

// RunCleanup performs one cleanup pass and returns the rows removed.
func (s *RetentionScheduler) RunCleanup(ctx context.Context) int64 {
	cutoff := s.now().Add(-time.Duration(s.retentionDays) * 24 * time.Hour)

	deleted, err := s.store.CleanupOldRecords(ctx, cutoff)
	if err != nil {
		s.logger.WithError(err).Error("Failed to cleanup old records")
		return 0
	}

	s.logger.WithFields(logrus.Fields{
		LogFieldCount: deleted,
		"cutoff":      cutoff.UTC().Format(time.RFC3339),
	}).Info("Completed retention cleanup")
	return deleted
}
