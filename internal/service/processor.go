package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"wadispatch/internal/constants"
	"wadispatch/internal/events"
	"wadispatch/internal/metrics"
	"wadispatch/internal/models"
	"wadispatch/internal/retry"
	"wadispatch/internal/tracing"
	"wadispatch/pkg/whatsapp/types"
)

// Outcome is the result of one delivery attempt on a claimed entry.
type Outcome int

const (
	// OutcomeNoop means nothing was written: the entry was already terminal
	// or no longer processing.
	OutcomeNoop Outcome = iota
	OutcomeSent
	OutcomeRetried
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSent:
		return "sent"
	case OutcomeRetried:
		return "retried"
	case OutcomeFailed:
		return "failed"
	default:
		return "noop"
	}
}

// BatchResult summarizes one ProcessBatch run.
type BatchResult struct {
	Claimed  int           `json:"claimed"`
	Sent     int           `json:"sent"`
	Retried  int           `json:"retried"`
	Failed   int           `json:"failed"`
	Skipped  int           `json:"skipped"`
	Released int           `json:"released"`
	Duration time.Duration `json:"duration"`
}

// EventPublisher receives queue status transitions.
type EventPublisher interface {
	Publish(ev events.StatusEvent)
}

// BatchObserver records batch timings.
type BatchObserver interface {
	ObserveBatch(d time.Duration, claimed int)
}

type ProcessorConfig struct {
	BatchSize   int
	Interval    time.Duration
	SendTimeout time.Duration
	Policy      retry.Policy
}

func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		BatchSize:   constants.DefaultQueueBatchSize,
		Interval:    constants.DefaultQueueProcessIntervalSec * time.Second,
		SendTimeout: constants.DefaultGatewayTimeoutSec * time.Second,
		Policy:      retry.DefaultPolicy(),
	}
}

type ProcessorOption func(*QueueProcessor)

func WithEventPublisher(pub EventPublisher) ProcessorOption {
	return func(p *QueueProcessor) { p.events = pub }
}

func WithBatchObserver(obs BatchObserver) ProcessorOption {
	return func(p *QueueProcessor) { p.observer = obs }
}

func WithRegistry(reg *metrics.Registry) ProcessorOption {
	return func(p *QueueProcessor) {
		if reg != nil {
			p.registry = reg
		}
	}
}

func WithClock(now func() time.Time) ProcessorOption {
	return func(p *QueueProcessor) { p.now = now }
}

// QueueProcessor claims due queue entries, sends them through the gateway
// and records each outcome. Batches never overlap within one process;
// across processes the atomic claim keeps entries disjoint.
type QueueProcessor struct {
	store    QueueStore
	gateway  types.Gateway
	sink     StatsSink
	events   EventPublisher
	observer BatchObserver
	registry *metrics.Registry
	cfg      ProcessorConfig
	logger   *logrus.Entry
	now      func() time.Time

	mu      sync.Mutex
	trigger chan struct{}
}

func NewQueueProcessor(store QueueStore, gateway types.Gateway, sink StatsSink, cfg ProcessorConfig, logger *logrus.Logger, opts ...ProcessorOption) *QueueProcessor {
	defaults := DefaultProcessorConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaults.SendTimeout
	}
	if cfg.Policy.Base <= 0 {
		cfg.Policy = defaults.Policy
	}
	if sink == nil {
		sink = nopSink{}
	}

	p := &QueueProcessor{
		store:    store,
		gateway:  gateway,
		sink:     sink,
		registry: metrics.NewRegistry(),
		cfg:      cfg,
		logger:   componentLogger(logger, "queue_processor"),
		now:      time.Now,
		trigger:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Trigger requests an early batch. It never blocks; repeated triggers
// before the loop wakes collapse into one.
func (p *QueueProcessor) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// Start runs ProcessBatch on every interval tick and on Trigger until ctx
// is cancelled.
func (p *QueueProcessor) Start(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.logger.WithFields(logrus.Fields{
		"interval":   p.cfg.Interval.String(),
		"batch_size": p.cfg.BatchSize,
	}).Info("Starting queue processor")

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Queue processor stopped")
			return nil
		case <-ticker.C:
		case <-p.trigger:
		}

		if _, err := p.ProcessBatch(ctx); err != nil {
			p.logger.WithError(err).Error("Failed to process queue batch")
		}
	}
}

// ProcessBatch claims up to BatchSize due entries and attempts each once,
// in (priority, createdAt) order. Per-entry failures are recorded on the
// entry; only a failed claim is returned as an error.
func (p *QueueProcessor) ProcessBatch(ctx context.Context) (BatchResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ctx, span := tracing.StartSpan(ctx, "queue.process_batch")
	defer span.End()

	start := p.now()
	var result BatchResult

	claimed, err := p.store.ClaimDue(ctx, start, p.cfg.BatchSize)
	if err != nil {
		tracing.RecordError(ctx, err)
		return result, fmt.Errorf("claim due entries: %w", err)
	}
	sort.SliceStable(claimed, func(i, j int) bool { return claimed[i].Less(claimed[j]) })
	result.Claimed = len(claimed)

	for i, c := range claimed {
		if ctx.Err() != nil {
			result.Released += p.release(claimed[i:])
			break
		}

		switch p.processOne(ctx, c) {
		case OutcomeSent:
			result.Sent++
		case OutcomeRetried:
			result.Retried++
		case OutcomeFailed:
			result.Failed++
		default:
			result.Skipped++
		}
	}

	result.Duration = time.Since(start)
	if p.observer != nil {
		p.observer.ObserveBatch(result.Duration, result.Claimed)
	}
	p.registry.RecordTimer("queue_batch_duration", result.Duration, nil, "Queue batch processing time")
	tracing.AddSpanAttributes(ctx,
		attribute.Int("batch.claimed", result.Claimed),
		attribute.Int("batch.sent", result.Sent),
		attribute.Int("batch.retried", result.Retried),
		attribute.Int("batch.failed", result.Failed),
	)

	if result.Claimed > 0 {
		p.logger.WithFields(logrus.Fields{
			LogFieldClaimed:  result.Claimed,
			"sent":           result.Sent,
			"retried":        result.Retried,
			"failed":         result.Failed,
			"skipped":        result.Skipped,
			"released":       result.Released,
			LogFieldDuration: result.Duration.Milliseconds(),
		}).Info("Completed queue batch")
	}
	return result, nil
}

// processOne sends one claimed entry and applies the outcome. A panic or
// repository error is treated as a transient failure of this attempt.
func (p *QueueProcessor) processOne(ctx context.Context, c models.ClaimedEntry) (outcome Outcome) {
	fields := entryFields(ctx, c)
	// Outcome writes must land even if ctx is cancelled mid-send.
	wctx := context.WithoutCancel(ctx)
	defer func() {
		if r := recover(); r != nil {
			p.logger.WithFields(fields).WithField("panic", fmt.Sprint(r)).Error("Recovered panic while processing queue entry")
			outcome = p.failSafely(wctx, c, types.NewTransient(fmt.Sprintf("internal error: %v", r), nil))
		}
		p.registry.IncrementCounter("queue_entries_processed_total",
			map[string]string{LogFieldOutcome: outcome.String()}, "Queue entries processed by outcome")
	}()

	result, err := p.send(ctx, c)
	if err != nil {
		de := types.AsDeliveryError(err)
		p.logger.WithFields(fields).WithFields(logrus.Fields{
			LogFieldFailureKind: de.Kind.String(),
			LogFieldStatusCode:  de.StatusCode,
		}).WithError(err).Warn("Delivery attempt failed")
		return p.failSafely(wctx, c, de)
	}

	applied, err := p.store.CompleteEntry(wctx, c.Entry.ID, c.Entry.MessageID, result.ProviderMessageID, p.now())
	if err != nil {
		p.logger.WithFields(fields).WithError(err).Error("Failed to record successful send")
		return p.failSafely(wctx, c, types.NewTransient("failed to record send", err))
	}
	if !applied {
		p.logger.WithFields(fields).Warn("Skipping completion: entry is no longer processing")
		return OutcomeNoop
	}

	p.sink.RecordSent()
	p.publish(c.Entry, models.QueueStatusCompleted, c.Entry.RetryCount, "")
	p.logger.WithFields(fields).WithField(LogFieldProviderMessageID, result.ProviderMessageID).Info("Message sent")
	return OutcomeSent
}

// send calls the gateway under the configured timeout. The call runs on its
// own goroutine so a gateway that ignores ctx cannot stall the batch.
func (p *QueueProcessor) send(ctx context.Context, c models.ClaimedEntry) (*types.SendResult, error) {
	sendCtx, cancel := context.WithTimeout(ctx, p.cfg.SendTimeout)
	defer cancel()

	sendCtx, span := tracing.StartSpan(sendCtx, "gateway.send", tracing.ClaimAttributes(c)...)
	defer span.End()

	type sendReturn struct {
		result *types.SendResult
		err    error
	}
	done := make(chan sendReturn, 1)
	start := time.Now()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- sendReturn{err: types.NewTransient(fmt.Sprintf("gateway panic: %v", r), nil)}
			}
		}()
		res, err := p.gateway.Send(sendCtx, types.OutboundMessage{
			To:      c.Message.Destination,
			Kind:    types.MessageKind(c.Message.MessageType),
			Content: c.Message.Content,
		})
		done <- sendReturn{result: res, err: err}
	}()

	var out sendReturn
	select {
	case out = <-done:
	case <-sendCtx.Done():
		select {
		case out = <-done:
		default:
			out = sendReturn{err: types.NewTransient("gateway request timed out", sendCtx.Err())}
		}
	}
	p.registry.RecordTimer("gateway_send_duration", time.Since(start), nil, "Gateway send latency")

	if out.err == nil && (out.result == nil || out.result.ProviderMessageID == "") {
		out.err = types.NewTransient("gateway returned no message id", nil)
	}
	if out.err != nil {
		tracing.RecordError(sendCtx, out.err)
		return nil, out.err
	}
	return out.result, nil
}

func (p *QueueProcessor) failSafely(ctx context.Context, c models.ClaimedEntry, failure error) Outcome {
	outcome, err := p.HandleFailure(ctx, c.Entry, failure)
	if err != nil {
		p.logger.WithFields(entryFields(ctx, c)).WithError(err).Error("Failed to record delivery failure; entry left for the stale sweeper")
		return OutcomeNoop
	}
	return outcome
}

// HandleFailure applies the retry policy to a failed attempt. Transient
// failures are rescheduled while retryCount+1 < maxRetries; permanent
// failures and exhausted budgets end in failed. Calling it on a terminal
// entry, or on one that is no longer processing, changes nothing.
func (p *QueueProcessor) HandleFailure(ctx context.Context, entry models.QueueEntry, failure error) (Outcome, error) {
	if entry.Status.Terminal() {
		return OutcomeNoop, nil
	}

	de := types.AsDeliveryError(failure)
	if de == nil {
		de = types.NewTransient("unknown failure", nil)
	}
	reason := de.Error()
	newRetryCount := entry.RetryCount + 1
	now := p.now()

	if !de.Permanent() && newRetryCount < entry.MaxRetries {
		nextRetryAt := now.Add(p.cfg.Policy.Delay(newRetryCount))
		applied, err := p.store.RescheduleEntry(ctx, entry.ID, newRetryCount, nextRetryAt, reason, now)
		if err != nil {
			return OutcomeNoop, err
		}
		if !applied {
			return OutcomeNoop, nil
		}
		p.publish(entry, models.QueueStatusPending, newRetryCount, reason)
		p.logger.WithFields(logrus.Fields{
			LogFieldQueueID:     entry.ID,
			LogFieldMessageID:   entry.MessageID,
			LogFieldRetryCount:  newRetryCount,
			LogFieldNextRetryAt: nextRetryAt.UTC().Format(time.RFC3339),
		}).Warn("Delivery rescheduled")
		return OutcomeRetried, nil
	}

	finalCount := newRetryCount
	if finalCount > entry.MaxRetries {
		finalCount = entry.MaxRetries
	}
	applied, err := p.store.FailEntry(ctx, entry.ID, entry.MessageID, finalCount, reason, now)
	if err != nil {
		return OutcomeNoop, err
	}
	if !applied {
		return OutcomeNoop, nil
	}

	p.sink.RecordFailed()
	p.publish(entry, models.QueueStatusFailed, finalCount, reason)
	p.logger.WithFields(logrus.Fields{
		LogFieldQueueID:     entry.ID,
		LogFieldMessageID:   entry.MessageID,
		LogFieldRetryCount:  finalCount,
		LogFieldFailureKind: de.Kind.String(),
	}).Error("Delivery failed permanently")
	return OutcomeFailed, nil
}

// release hands claimed but unattempted entries back to pending without
// consuming a retry. It runs on a detached context so shutdown does not
// strand them in processing.
func (p *QueueProcessor) release(entries []models.ClaimedEntry) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	released := 0
	now := p.now()
	for _, c := range entries {
		reason := ""
		if c.Entry.ErrorDetails != nil {
			reason = *c.Entry.ErrorDetails
		}
		applied, err := p.store.RescheduleEntry(ctx, c.Entry.ID, c.Entry.RetryCount, now, reason, now)
		if err != nil {
			p.logger.WithFields(entryFields(ctx, c)).WithError(err).Warn("Failed to release claimed entry")
			continue
		}
		if applied {
			released++
		}
	}
	return released
}

func (p *QueueProcessor) publish(entry models.QueueEntry, status models.QueueStatus, retryCount int, reason string) {
	if p.events == nil {
		return
	}
	p.events.Publish(events.StatusEvent{
		MessageID:  entry.MessageID,
		QueueID:    entry.ID,
		Status:     string(status),
		RetryCount: retryCount,
		Error:      reason,
		At:         p.now().UTC(),
	})
}
