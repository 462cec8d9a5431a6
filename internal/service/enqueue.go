package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"wadispatch/internal/constants"
	"wadispatch/internal/models"
	"wadispatch/internal/tracing"
	"wadispatch/internal/validation"
)

// EnqueueRequest describes one outbound message. Priority defaults to
// normal and MessageType to text when omitted.
type EnqueueRequest struct {
	Destination    string             `json:"destination"`
	Content        string             `json:"content"`
	MessageType    models.MessageType `json:"messageType,omitempty"`
	Priority       *models.Priority   `json:"priority,omitempty"`
	ScheduledAt    *time.Time         `json:"scheduledAt,omitempty"`
	ConversationID string             `json:"conversationId,omitempty"`
}

type EnqueueResult struct {
	MessageID string `json:"messageId"`
	QueueID   string `json:"queueId"`
}

// Waker is notified after an immediately due message is stored.
type Waker interface {
	Trigger()
}

// Enqueuer validates and stores outbound messages.
type Enqueuer struct {
	store      MessageWriter
	waker      Waker
	maxRetries int
	logger     *logrus.Entry
	now        func() time.Time
}

func NewEnqueuer(store MessageWriter, waker Waker, maxRetries int, logger *logrus.Logger) *Enqueuer {
	if maxRetries < 0 {
		maxRetries = constants.DefaultMaxRetries
	}
	return &Enqueuer{
		store:      store,
		waker:      waker,
		maxRetries: maxRetries,
		logger:     componentLogger(logger, "enqueuer"),
		now:        time.Now,
	}
}

func (e *Enqueuer) validate(req *EnqueueRequest) error {
	if err := validation.ValidateDestination(req.Destination); err != nil {
		return err
	}
	if err := validation.ValidateContent(req.Content); err != nil {
		return err
	}
	if req.MessageType == "" {
		req.MessageType = models.MessageTypeText
	}
	if err := validation.ValidateMessageType(req.MessageType); err != nil {
		return err
	}
	if req.Priority != nil {
		if err := validation.ValidatePriority(*req.Priority); err != nil {
			return err
		}
	}
	return nil
}

// Enqueue stores a Message and its QueueEntry in one transaction. Invalid
// input returns a validation error and nothing is written.
func (e *Enqueuer) Enqueue(ctx context.Context, req EnqueueRequest) (*EnqueueResult, error) {
	ctx, span := tracing.StartSpan(ctx, "queue.enqueue")
	defer span.End()

	if err := e.validate(&req); err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}

	priority := models.PriorityNormal
	if req.Priority != nil {
		priority = *req.Priority
	}

	now := e.now().UTC()
	destination := "+" + validation.NormalizeDestination(req.Destination)
	conversationID := strings.TrimSpace(req.ConversationID)
	if conversationID == "" {
		conversationID = destination
	}

	status := models.MessageStatusQueued
	dueAt := now
	if req.ScheduledAt != nil && req.ScheduledAt.After(now) {
		status = models.MessageStatusScheduled
		dueAt = req.ScheduledAt.UTC()
	}

	msg := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Destination:    destination,
		Content:        req.Content,
		MessageType:    req.MessageType,
		Direction:      models.DirectionOutgoing,
		Status:         status,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	entry := &models.QueueEntry{
		ID:          uuid.NewString(),
		MessageID:   msg.ID,
		Priority:    priority,
		RetryCount:  0,
		MaxRetries:  e.maxRetries,
		NextRetryAt: dueAt,
		Status:      models.QueueStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := e.store.CreateMessage(ctx, msg, entry); err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}

	tracing.AddSpanAttributes(ctx,
		attribute.String("message.id", msg.ID),
		attribute.Int("queue.priority", int(priority)),
		attribute.Bool("message.scheduled", status == models.MessageStatusScheduled),
	)

	e.logger.WithFields(logrus.Fields{
		LogFieldMessageID:   msg.ID,
		LogFieldQueueID:     entry.ID,
		LogFieldPriority:    priority.String(),
		LogFieldStatus:      status,
		LogFieldDestination: SanitizeDestination(ctx, destination),
	}).Info("Message enqueued")

	if status == models.MessageStatusQueued && e.waker != nil {
		e.waker.Trigger()
	}

	return &EnqueueResult{MessageID: msg.ID, QueueID: entry.ID}, nil
}
