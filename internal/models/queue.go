package models

import "time"

// Priority orders queue entries; lower values are sent first.
type Priority int

const (
	PriorityUrgent Priority = 0
	PriorityHigh   Priority = 1
	PriorityNormal Priority = 2
	PriorityLow    Priority = 3
)

func (p Priority) Valid() bool {
	return p >= PriorityUrgent && p <= PriorityLow
}

func (p Priority) String() string {
	switch p {
	case PriorityUrgent:
		return "urgent"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	}
	return "unknown"
}

type QueueStatus string

const (
	QueueStatusPending    QueueStatus = "pending"
	QueueStatusProcessing QueueStatus = "processing"
	QueueStatusCompleted  QueueStatus = "completed"
	QueueStatusFailed     QueueStatus = "failed"
)

// Terminal reports whether the entry reached completed or failed.
func (s QueueStatus) Terminal() bool {
	return s == QueueStatusCompleted || s == QueueStatusFailed
}

// QueueEntry holds the retry and scheduling state of exactly one Message.
type QueueEntry struct {
	ID           string      `json:"id"`
	MessageID    string      `json:"messageId"`
	Priority     Priority    `json:"priority"`
	RetryCount   int         `json:"retryCount"`
	MaxRetries   int         `json:"maxRetries"`
	NextRetryAt  time.Time   `json:"nextRetryAt"`
	Status       QueueStatus `json:"status"`
	ErrorDetails *string     `json:"errorDetails,omitempty"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

// ClaimedEntry is a queue entry claimed for processing together with the
// message it delivers.
type ClaimedEntry struct {
	Entry   QueueEntry
	Message Message
}

// Less orders claimed entries by priority, then by creation time.
func (c ClaimedEntry) Less(other ClaimedEntry) bool {
	if c.Entry.Priority != other.Entry.Priority {
		return c.Entry.Priority < other.Entry.Priority
	}
	return c.Entry.CreatedAt.Before(other.Entry.CreatedAt)
}
