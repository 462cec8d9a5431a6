package service

import (
	"context"
	"time"

	"wadispatch/internal/models"
)

// MessageWriter persists a new message with its queue entry atomically.
type MessageWriter interface {
	CreateMessage(ctx context.Context, msg *models.Message, entry *models.QueueEntry) error
}

// QueueStore is the repository surface the processor needs. Every
// transition is conditional on the entry still being processing and
// reports whether it applied.
type QueueStore interface {
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]models.ClaimedEntry, error)
	CompleteEntry(ctx context.Context, queueID, messageID, providerMessageID string, now time.Time) (bool, error)
	RescheduleEntry(ctx context.Context, queueID string, retryCount int, nextRetryAt time.Time, reason string, now time.Time) (bool, error)
	FailEntry(ctx context.Context, queueID, messageID string, retryCount int, reason string, now time.Time) (bool, error)
}

type StaleLister interface {
	ListStaleProcessing(ctx context.Context, cutoff time.Time, limit int) ([]models.ClaimedEntry, error)
}

type RetentionStore interface {
	CleanupOldRecords(ctx context.Context, cutoff time.Time) (int64, error)
}

// MessageReader serves the read-side HTTP endpoints.
type MessageReader interface {
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	ListConversation(ctx context.Context, conversationID string, limit int) ([]models.Message, error)
	QueueDepth(ctx context.Context) (map[models.QueueStatus]int64, error)
}

// Store is everything a repository backend provides.
type Store interface {
	MessageWriter
	QueueStore
	StaleLister
	RetentionStore
	MessageReader
	GetQueueEntry(ctx context.Context, id string) (*models.QueueEntry, error)
	Ping(ctx context.Context) error
	Close() error
}
