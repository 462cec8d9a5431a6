package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"wadispatch/internal/constants"
	"wadispatch/internal/metrics"
	"wadispatch/internal/models"
	"wadispatch/pkg/whatsapp/types"
)

// FailureHandler applies the retry policy to a failed attempt.
type FailureHandler interface {
	HandleFailure(ctx context.Context, entry models.QueueEntry, failure error) (Outcome, error)
}

// StaleSweeper reclaims entries left in processing by a crashed or stalled
// worker. A reclaimed entry counts as one transient failure, so delivery
// stays at-least-once.
type StaleSweeper struct {
	store          StaleLister
	handler        FailureHandler
	checkInterval  time.Duration
	staleThreshold time.Duration
	batchSize      int
	registry       *metrics.Registry
	logger         *logrus.Entry
	now            func() time.Time
}

func NewStaleSweeper(store StaleLister, handler FailureHandler, checkInterval, staleThreshold time.Duration, registry *metrics.Registry, logger *logrus.Logger) *StaleSweeper {
	if checkInterval <= 0 {
		checkInterval = constants.DefaultSweepIntervalSec * time.Second
	}
	if staleThreshold <= 0 {
		staleThreshold = constants.DefaultStaleProcessingSec * time.Second
	}
	if registry == nil {
		registry = metrics.NewRegistry()
	}
	return &StaleSweeper{
		store:          store,
		handler:        handler,
		checkInterval:  checkInterval,
		staleThreshold: staleThreshold,
		batchSize:      constants.DefaultSweepBatchSize,
		registry:       registry,
		logger:         componentLogger(logger, "stale_sweeper"),
		now:            time.Now,
	}
}

func (s *StaleSweeper) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	s.logger.WithFields(logrus.Fields{
		"check_interval":  s.checkInterval.String(),
		"stale_threshold": s.staleThreshold.String(),
	}).Info("Starting stale processing sweeper")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.WithError(err).Error("Failed to sweep stale processing entries")
			}
		}
	}
}

// Sweep reclaims entries processing since before now minus the threshold
// and returns how many it found.
func (s *StaleSweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.staleThreshold)
	stale, err := s.store.ListStaleProcessing(ctx, cutoff, s.batchSize)
	if err != nil {
		return 0, err
	}

	s.registry.SetGauge("queue_stale_processing", float64(len(stale)), nil, "Entries stuck in processing")
	if len(stale) == 0 {
		return 0, nil
	}

	s.logger.WithFields(logrus.Fields{
		LogFieldCount:     len(stale),
		"stale_threshold": s.staleThreshold.String(),
	}).Warn("Entries stuck in processing; reclaiming")

	for _, c := range stale {
		outcome, err := s.handler.HandleFailure(ctx, c.Entry, types.NewTransient("processing timed out", nil))
		if err != nil {
			s.logger.WithFields(entryFields(ctx, c)).WithError(err).Error("Failed to reclaim stale entry")
			continue
		}
		s.logger.WithFields(entryFields(ctx, c)).WithField(LogFieldOutcome, outcome.String()).Debug("Reclaimed stale entry")
	}
	return len(stale), nil
}
