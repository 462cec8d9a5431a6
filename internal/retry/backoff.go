package retry

import (
	"context"
	"math/rand"
	"time"
)

// BackoffConfig tunes in-process retries such as opening the queue store or
// riding out SQLite lock contention.
type BackoffConfig struct {
	InitialDelay time.Duration `json:"initial_delay"`
	MaxDelay     time.Duration `json:"max_delay"`
	Multiplier   float64       `json:"multiplier"`
	MaxAttempts  int           `json:"max_attempts"`
	// Jitter spreads each delay by up to 25% either way.
	Jitter bool `json:"jitter"`
}

// Backoff sleeps between attempts of an in-process operation. It shares the
// delay curve of Policy; queue redelivery persists its waits instead.
type Backoff struct {
	config BackoffConfig
	policy Policy
	jitter func() float64
}

func NewBackoff(config BackoffConfig) *Backoff {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	return &Backoff{
		config: config,
		policy: Policy{
			Base:       config.InitialDelay,
			Multiplier: config.Multiplier,
			MaxDelay:   config.MaxDelay,
		},
		jitter: rand.Float64,
	}
}

func (b *Backoff) Retry(ctx context.Context, operation func() error) error {
	return b.RetryWithPredicate(ctx, operation, func(error) bool { return true })
}

// RetryWithPredicate stops at the first error isRetryable rejects and
// returns it. Otherwise the last error is returned once attempts run out.
func (b *Backoff) RetryWithPredicate(ctx context.Context, operation func() error, isRetryable func(error) bool) error {
	var lastErr error

	for attempt := 1; attempt <= b.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = operation()
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) || attempt == b.config.MaxAttempts {
			break
		}

		timer := time.NewTimer(b.delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return lastErr
}

func (b *Backoff) delay(attempt int) time.Duration {
	d := b.policy.Delay(attempt)
	if !b.config.Jitter || d <= 0 {
		return d
	}

	spread := float64(d) * 0.25
	d = time.Duration(float64(d) + (b.jitter()*2-1)*spread)
	if b.config.MaxDelay > 0 && d > b.config.MaxDelay {
		d = b.config.MaxDelay
	}
	return d
}
