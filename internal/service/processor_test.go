package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"wadispatch/internal/database"
	"wadispatch/internal/events"
	"wadispatch/internal/metrics"
	"wadispatch/internal/models"
	"wadispatch/internal/retry"
	"wadispatch/pkg/whatsapp/types"
)

type harness struct {
	store     *database.Database
	gateway   *mockGateway
	enqueuer  *Enqueuer
	processor *QueueProcessor
	stats     *DeliveryStats
	events    *recordingPublisher
	registry  *metrics.Registry
	clock     *testClock
}

func newHarness(t *testing.T, maxRetries, batchSize int) *harness {
	t.Helper()
	h := &harness{
		store:    newTestStore(t),
		gateway:  &mockGateway{},
		stats:    NewDeliveryStats(),
		events:   &recordingPublisher{},
		registry: metrics.NewRegistry(),
		clock:    newTestClock(),
	}

	h.processor = NewQueueProcessor(h.store, h.gateway, h.stats, ProcessorConfig{
		BatchSize:   batchSize,
		Interval:    time.Hour,
		SendTimeout: time.Second,
		Policy:      retry.DefaultPolicy(),
	}, quietLogger(),
		WithEventPublisher(h.events),
		WithRegistry(h.registry),
		WithClock(h.clock.Now),
	)

	h.enqueuer = NewEnqueuer(h.store, nil, maxRetries, quietLogger())
	h.enqueuer.now = h.clock.Now
	return h
}

func (h *harness) enqueue(t *testing.T, content string, priority models.Priority) *EnqueueResult {
	t.Helper()
	res, err := h.enqueuer.Enqueue(context.Background(), EnqueueRequest{
		Destination: "+14155550123",
		Content:     content,
		Priority:    &priority,
	})
	require.NoError(t, err)
	return res
}

func (h *harness) state(t *testing.T, res *EnqueueResult) (*models.QueueEntry, *models.Message) {
	t.Helper()
	entry, err := h.store.GetQueueEntry(context.Background(), res.QueueID)
	require.NoError(t, err)
	msg, err := h.store.GetMessage(context.Background(), res.MessageID)
	require.NoError(t, err)
	return entry, msg
}

func TestProcessBatch_SuccessMarksSent(t *testing.T) {
	h := newHarness(t, 3, 10)
	res := h.enqueue(t, "Your shift starts at 9am", models.PriorityNormal)

	h.gateway.On("Send", mock.Anything, mock.MatchedBy(func(m types.OutboundMessage) bool {
		return m.To == "+14155550123" && m.Kind == types.KindText && m.Content == "Your shift starts at 9am"
	})).Return(sendOK("wamid.1"), nil).Once()

	result, err := h.processor.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Claimed)
	assert.Equal(t, 1, result.Sent)

	entry, msg := h.state(t, res)
	assert.Equal(t, models.QueueStatusCompleted, entry.Status)
	assert.Equal(t, models.MessageStatusSent, msg.Status)
	require.NotNil(t, msg.ProviderMessageID)
	assert.Equal(t, "wamid.1", *msg.ProviderMessageID)
	require.NotNil(t, msg.SentAt)
	assert.Nil(t, msg.FailedAt)

	assert.Equal(t, models.DeliveryStatistics{Sent: 1}, h.stats.GetStatistics())
	assert.Equal(t, []string{"completed"}, h.events.statuses())
	h.gateway.AssertExpectations(t)

	// A second batch finds nothing to do.
	result, err = h.processor.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Claimed)
}

func TestProcessBatch_TransientFailuresExhaustRetries(t *testing.T) {
	h := newHarness(t, 3, 10)
	res := h.enqueue(t, "Shift swap approved", models.PriorityNormal)

	h.gateway.On("Send", mock.Anything, mock.Anything).
		Return(nil, &types.DeliveryError{Kind: types.Transient, StatusCode: 503, Reason: "Service Unavailable"})

	ctx := context.Background()

	// Attempt 1: rescheduled 5s out.
	_, err := h.processor.ProcessBatch(ctx)
	require.NoError(t, err)
	entry, msg := h.state(t, res)
	assert.Equal(t, models.QueueStatusPending, entry.Status)
	assert.Equal(t, 1, entry.RetryCount)
	assert.True(t, entry.NextRetryAt.Equal(baseTime.Add(5*time.Second)), "next retry %v", entry.NextRetryAt)
	assert.Equal(t, models.MessageStatusQueued, msg.Status)
	require.NotNil(t, entry.ErrorDetails)
	assert.Contains(t, *entry.ErrorDetails, "Service Unavailable")

	// Not yet due.
	h.clock.Advance(4 * time.Second)
	result, err := h.processor.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Claimed)

	// Attempt 2: rescheduled 10s out.
	h.clock.Advance(time.Second)
	_, err = h.processor.ProcessBatch(ctx)
	require.NoError(t, err)
	entry, _ = h.state(t, res)
	assert.Equal(t, 2, entry.RetryCount)
	assert.True(t, entry.NextRetryAt.Equal(h.clock.Now().Add(10*time.Second)))

	// Attempt 3: budget exhausted.
	h.clock.Advance(10 * time.Second)
	result, err = h.processor.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)

	entry, msg = h.state(t, res)
	assert.Equal(t, models.QueueStatusFailed, entry.Status)
	assert.Equal(t, 3, entry.RetryCount)
	assert.LessOrEqual(t, entry.RetryCount, entry.MaxRetries)
	assert.Equal(t, models.MessageStatusFailed, msg.Status)
	require.NotNil(t, msg.FailedAt)
	assert.Nil(t, msg.SentAt)

	assert.Equal(t, models.DeliveryStatistics{Failed: 1}, h.stats.GetStatistics())
	assert.Equal(t, []string{"pending", "pending", "failed"}, h.events.statuses())
	h.gateway.AssertNumberOfCalls(t, "Send", 3)

	// Terminal entries are never claimed again.
	h.clock.Advance(time.Hour)
	result, err = h.processor.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Claimed)
}

func TestProcessBatch_PermanentFailureIsTerminal(t *testing.T) {
	h := newHarness(t, 3, 10)
	res := h.enqueue(t, "Welcome aboard", models.PriorityHigh)

	h.gateway.On("Send", mock.Anything, mock.Anything).
		Return(nil, &types.DeliveryError{Kind: types.Permanent, StatusCode: 400, Code: 131026, Reason: "Message undeliverable"}).Once()

	result, err := h.processor.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)

	entry, msg := h.state(t, res)
	assert.Equal(t, models.QueueStatusFailed, entry.Status)
	assert.Equal(t, 1, entry.RetryCount)
	assert.Equal(t, models.MessageStatusFailed, msg.Status)
	require.NotNil(t, msg.ErrorDetails)
	assert.Contains(t, *msg.ErrorDetails, "131026")
	assert.Equal(t, int64(1), h.stats.GetStatistics().Failed)
}

func TestProcessBatch_PriorityOrdering(t *testing.T) {
	h := newHarness(t, 3, 2)

	for i, p := range []models.Priority{3, 0, 1, 0} {
		h.clock.Advance(time.Second)
		h.enqueue(t, fmt.Sprintf("t%d-p%d", i+1, p), p)
	}

	h.gateway.On("Send", mock.Anything, mock.Anything).Return(sendOK("wamid.x"), nil)

	result, err := h.processor.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Claimed)
	assert.Equal(t, []string{"t2-p0", "t4-p0"}, h.gateway.sentContents())

	_, err = h.processor.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"t2-p0", "t4-p0", "t3-p1", "t1-p3"}, h.gateway.sentContents())
}

func TestProcessBatch_ScheduledMessageWaitsUntilDue(t *testing.T) {
	h := newHarness(t, 3, 10)
	at := baseTime.Add(time.Hour)
	res, err := h.enqueuer.Enqueue(context.Background(), EnqueueRequest{
		Destination: "+14155550123",
		Content:     "Reminder",
		ScheduledAt: &at,
	})
	require.NoError(t, err)

	result, err := h.processor.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Claimed)

	h.gateway.On("Send", mock.Anything, mock.Anything).Return(sendOK("wamid.s"), nil).Once()
	h.clock.Advance(time.Hour)
	result, err = h.processor.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Sent)

	_, msg := h.state(t, res)
	assert.Equal(t, models.MessageStatusSent, msg.Status)
}

func TestProcessBatch_GatewayPanicIsTransient(t *testing.T) {
	h := newHarness(t, 3, 10)
	res := h.enqueue(t, "first", models.PriorityNormal)
	h.clock.Advance(time.Second)
	other := h.enqueue(t, "second", models.PriorityNormal)

	h.gateway.On("Send", mock.Anything, mock.MatchedBy(func(m types.OutboundMessage) bool { return m.Content == "first" })).
		Run(func(mock.Arguments) { panic("driver exploded") })
	h.gateway.On("Send", mock.Anything, mock.MatchedBy(func(m types.OutboundMessage) bool { return m.Content == "second" })).
		Return(sendOK("wamid.2"), nil)

	result, err := h.processor.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Retried)
	assert.Equal(t, 1, result.Sent)

	entry, _ := h.state(t, res)
	assert.Equal(t, models.QueueStatusPending, entry.Status)
	assert.Equal(t, 1, entry.RetryCount)
	require.NotNil(t, entry.ErrorDetails)
	assert.Contains(t, *entry.ErrorDetails, "driver exploded")

	entry, _ = h.state(t, other)
	assert.Equal(t, models.QueueStatusCompleted, entry.Status)
}

func TestProcessBatch_SendTimeoutIsTransient(t *testing.T) {
	h := newHarness(t, 3, 10)
	h.processor.cfg.SendTimeout = 50 * time.Millisecond
	res := h.enqueue(t, "slow", models.PriorityNormal)

	h.gateway.On("Send", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { time.Sleep(300 * time.Millisecond) }).
		Return(sendOK("wamid.late"), nil)

	start := time.Now()
	result, err := h.processor.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 250*time.Millisecond)
	assert.Equal(t, 1, result.Retried)

	entry, msg := h.state(t, res)
	assert.Equal(t, models.QueueStatusPending, entry.Status)
	require.NotNil(t, entry.ErrorDetails)
	assert.Contains(t, *entry.ErrorDetails, "timed out")
	assert.Equal(t, models.MessageStatusQueued, msg.Status)
}

func TestProcessBatch_CancelledContextReleasesUnattempted(t *testing.T) {
	h := newHarness(t, 3, 10)
	h.enqueue(t, "first", models.PriorityUrgent)
	h.clock.Advance(time.Second)
	second := h.enqueue(t, "second", models.PriorityNormal)

	ctx, cancel := context.WithCancel(context.Background())
	h.gateway.On("Send", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(sendOK("wamid.1"), nil).Once()

	result, err := h.processor.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Claimed)
	assert.Equal(t, 1, result.Released)

	entry, msg := h.state(t, second)
	assert.Equal(t, models.QueueStatusPending, entry.Status)
	assert.Equal(t, 0, entry.RetryCount)
	assert.Equal(t, models.MessageStatusQueued, msg.Status)
	h.gateway.AssertNumberOfCalls(t, "Send", 1)
}

func TestHandleFailure_TerminalEntryIsNoop(t *testing.T) {
	h := newHarness(t, 3, 10)
	res := h.enqueue(t, "bye", models.PriorityNormal)

	h.gateway.On("Send", mock.Anything, mock.Anything).
		Return(nil, types.NewPermanent("invalid recipient", nil)).Once()
	_, err := h.processor.ProcessBatch(context.Background())
	require.NoError(t, err)

	failedEntry, _ := h.state(t, res)
	require.Equal(t, models.QueueStatusFailed, failedEntry.Status)

	outcome, err := h.processor.HandleFailure(context.Background(), *failedEntry, types.NewTransient("again", nil))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, outcome)

	// A stale in-memory copy that still says processing is rejected by the
	// conditional write.
	stale := *failedEntry
	stale.Status = models.QueueStatusProcessing
	stale.RetryCount = 0
	outcome, err = h.processor.HandleFailure(context.Background(), stale, types.NewTransient("again", nil))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, outcome)

	after, msg := h.state(t, res)
	assert.Equal(t, failedEntry.RetryCount, after.RetryCount)
	assert.Equal(t, failedEntry.ErrorDetails, after.ErrorDetails)
	assert.Equal(t, models.MessageStatusFailed, msg.Status)
	assert.Equal(t, int64(1), h.stats.GetStatistics().Failed)
}

func TestHandleFailure_ZeroRetryBudget(t *testing.T) {
	h := newHarness(t, 0, 10)
	res := h.enqueue(t, "once", models.PriorityNormal)

	h.gateway.On("Send", mock.Anything, mock.Anything).Return(nil, types.NewTransient("flaky", nil)).Once()
	result, err := h.processor.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)

	entry, _ := h.state(t, res)
	assert.Equal(t, models.QueueStatusFailed, entry.Status)
	assert.Equal(t, 0, entry.RetryCount)
}

type failingQueueStore struct {
	claimed  []models.ClaimedEntry
	claimErr error
	failErr  error
}

func (s *failingQueueStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]models.ClaimedEntry, error) {
	return s.claimed, s.claimErr
}

func (s *failingQueueStore) CompleteEntry(ctx context.Context, queueID, messageID, providerMessageID string, now time.Time) (bool, error) {
	return false, errors.New("disk I/O error")
}

func (s *failingQueueStore) RescheduleEntry(ctx context.Context, queueID string, retryCount int, nextRetryAt time.Time, reason string, now time.Time) (bool, error) {
	return false, s.failErr
}

func (s *failingQueueStore) FailEntry(ctx context.Context, queueID, messageID string, retryCount int, reason string, now time.Time) (bool, error) {
	return false, s.failErr
}

func TestProcessBatch_RepositoryErrorsDoNotAbortBatch(t *testing.T) {
	entry := func(id string) models.ClaimedEntry {
		return models.ClaimedEntry{
			Entry:   models.QueueEntry{ID: id, MessageID: "m-" + id, MaxRetries: 3, Status: models.QueueStatusProcessing},
			Message: models.Message{ID: "m-" + id, Destination: "+14155550123", Content: "x", MessageType: models.MessageTypeText},
		}
	}
	store := &failingQueueStore{
		claimed: []models.ClaimedEntry{entry("a"), entry("b")},
		failErr: errors.New("database is locked"),
	}
	gw := &mockGateway{}
	gw.On("Send", mock.Anything, mock.Anything).Return(sendOK("wamid.ok"), nil)
	stats := NewDeliveryStats()

	p := NewQueueProcessor(store, gw, stats, ProcessorConfig{}, quietLogger())
	result, err := p.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Claimed)
	assert.Equal(t, 2, result.Skipped)
	gw.AssertNumberOfCalls(t, "Send", 2)
	assert.Equal(t, models.DeliveryStatistics{}, stats.GetStatistics())
}

func TestProcessBatch_ClaimErrorIsReturned(t *testing.T) {
	store := &failingQueueStore{claimErr: errors.New("no such table")}
	p := NewQueueProcessor(store, &mockGateway{}, nil, ProcessorConfig{}, quietLogger())

	_, err := p.ProcessBatch(context.Background())
	assert.Error(t, err)
}

func TestQueueProcessor_StartAndTrigger(t *testing.T) {
	h := newHarness(t, 3, 10)
	h.enqueue(t, "async", models.PriorityNormal)

	sent := make(chan struct{}, 1)
	h.gateway.On("Send", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { sent <- struct{}{} }).
		Return(sendOK("wamid.t"), nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.processor.Start(ctx) }()

	h.processor.Trigger()
	h.processor.Trigger()

	select {
	case <-sent:
	case <-time.After(2 * time.Second):
		t.Fatal("trigger did not start a batch")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("processor did not stop")
	}
}

func TestProcessBatch_PublishesToHub(t *testing.T) {
	h := newHarness(t, 3, 10)
	hub := events.NewHub(4)
	h.processor.events = hub
	ch, cancel := hub.Subscribe()
	defer cancel()

	res := h.enqueue(t, "hello", models.PriorityNormal)
	h.gateway.On("Send", mock.Anything, mock.Anything).Return(sendOK("wamid.h"), nil).Once()

	_, err := h.processor.ProcessBatch(context.Background())
	require.NoError(t, err)

	select {
	case ev := <-ch:
		assert.Equal(t, res.MessageID, ev.MessageID)
		assert.Equal(t, res.QueueID, ev.QueueID)
		assert.Equal(t, "completed", ev.Status)
	case <-time.After(time.Second):
		t.Fatal("expected status event")
	}
}

func TestProcessBatch_RecordsMetrics(t *testing.T) {
	h := newHarness(t, 3, 10)
	h.enqueue(t, "m", models.PriorityNormal)
	h.gateway.On("Send", mock.Anything, mock.Anything).Return(sendOK("wamid.m"), nil).Once()

	_, err := h.processor.ProcessBatch(context.Background())
	require.NoError(t, err)

	snap := h.registry.Snapshot()
	assert.Equal(t, 1.0, snap.Counters["queue_entries_processed_total_outcome:sent"].Value)
	assert.Equal(t, int64(1), snap.Timers["queue_batch_duration"].Count)
	assert.Equal(t, int64(1), snap.Timers["gateway_send_duration"].Count)
}
