package quota

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	keyPrefix = "wadispatch:quota:sent:"
	// Counters outlive their day so a replica with a skewed clock still
	// reads the right bucket.
	keyTTL        = 48 * time.Hour
	flushTimeout  = 2 * time.Second
	flushInterval = time.Second
)

// counterStore is a per-day counter backend.
type counterStore interface {
	incrBy(ctx context.Context, day string, n int64) error
	get(ctx context.Context, day string) (int64, error)
}

// Tracker counts messages sent per UTC day. With Redis the count is
// shared by every replica; the in-memory store is per process.
//
// RecordSent only bumps a local per-day buffer. Run drains the buffer into
// the store in the background.
type Tracker struct {
	store  counterStore
	logger *logrus.Logger
	now    func() time.Time

	mu      sync.Mutex
	pending map[string]int64
	wake    chan struct{}
}

func NewRedisTracker(client redis.UniversalClient, logger *logrus.Logger) *Tracker {
	return newTracker(&redisStore{client: client}, logger)
}

func NewMemoryTracker(logger *logrus.Logger) *Tracker {
	return newTracker(&memoryStore{counts: make(map[string]int64)}, logger)
}

func newTracker(store counterStore, logger *logrus.Logger) *Tracker {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Tracker{
		store:   store,
		logger:  logger,
		now:     time.Now,
		pending: make(map[string]int64),
		wake:    make(chan struct{}, 1),
	}
}

func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Increment adds one send to today's bucket in the store.
func (t *Tracker) Increment(ctx context.Context) error {
	if err := t.store.incrBy(ctx, dayKey(t.now()), 1); err != nil {
		return fmt.Errorf("increment quota counter: %w", err)
	}
	return nil
}

// Used returns the number of sends recorded today, including sends not yet
// flushed to the store.
func (t *Tracker) Used(ctx context.Context) (int64, error) {
	day := dayKey(t.now())
	n, err := t.store.get(ctx, day)
	if err != nil {
		return 0, fmt.Errorf("read quota counter: %w", err)
	}
	t.mu.Lock()
	n += t.pending[day]
	t.mu.Unlock()
	return n, nil
}

// RecordSent implements the delivery stats sink. It never touches the store.
func (t *Tracker) RecordSent() {
	t.mu.Lock()
	t.pending[dayKey(t.now())]++
	t.mu.Unlock()

	select {
	case t.wake <- struct{}{}:
	default:
	}
}

func (t *Tracker) RecordFailed()    {}
func (t *Tracker) RecordDelivered() {}
func (t *Tracker) RecordRead()      {}

// Flush writes buffered sends to the store. Buckets that fail to write stay
// buffered for the next flush.
func (t *Tracker) Flush(ctx context.Context) error {
	t.mu.Lock()
	batch := t.pending
	t.pending = make(map[string]int64, len(batch))
	t.mu.Unlock()

	var firstErr error
	for day, n := range batch {
		if err := t.store.incrBy(ctx, day, n); err != nil {
			t.mu.Lock()
			t.pending[day] += n
			t.mu.Unlock()
			if firstErr == nil {
				firstErr = fmt.Errorf("flush quota counter for %s: %w", day, err)
			}
		}
	}
	return firstErr
}

// Run flushes buffered sends whenever RecordSent signals and on a fixed
// interval. It makes a last flush when ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) error {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), flushTimeout)
			err := t.Flush(flushCtx)
			cancel()
			if err != nil {
				t.logger.WithError(err).Warn("Failed to flush daily quota on shutdown")
			}
			return nil
		case <-t.wake:
		case <-ticker.C:
		}
		t.flushWithTimeout(ctx)
	}
}

func (t *Tracker) flushWithTimeout(ctx context.Context) {
	flushCtx, cancel := context.WithTimeout(ctx, flushTimeout)
	defer cancel()
	if err := t.Flush(flushCtx); err != nil {
		t.logger.WithError(err).Warn("Failed to record sends against daily quota")
	}
}

type redisStore struct {
	client redis.UniversalClient
}

func (s *redisStore) incrBy(ctx context.Context, day string, n int64) error {
	key := keyPrefix + day
	pipe := s.client.TxPipeline()
	pipe.IncrBy(ctx, key, n)
	pipe.Expire(ctx, key, keyTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *redisStore) get(ctx context.Context, day string) (int64, error) {
	n, err := s.client.Get(ctx, keyPrefix+day).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

type memoryStore struct {
	mu     sync.Mutex
	counts map[string]int64
}

func (s *memoryStore) incrBy(_ context.Context, day string, n int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.counts {
		if k != day {
			delete(s.counts, k)
		}
	}
	s.counts[day] += n
	return nil
}

func (s *memoryStore) get(_ context.Context, day string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[day], nil
}
