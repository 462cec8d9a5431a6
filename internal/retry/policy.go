package retry

import (
	"math"
	"time"
)

// NextDelay returns base * multiplier^(attempt-1), saturating at the largest
// representable duration. Attempts below 1 are treated as the first attempt.
func NextDelay(attempt int, base time.Duration, multiplier float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(base) * math.Pow(multiplier, float64(attempt-1))
	if math.IsNaN(d) || d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Policy schedules redelivery of a failed queue entry.
type Policy struct {
	Base       time.Duration
	Multiplier float64
	// MaxDelay caps the delay; zero means uncapped.
	MaxDelay time.Duration
}

// DefaultPolicy yields 5s, 10s, 20s, ...
func DefaultPolicy() Policy {
	return Policy{
		Base:       5 * time.Second,
		Multiplier: 2,
	}
}

// Delay returns the wait before the given retry attempt.
func (p Policy) Delay(attempt int) time.Duration {
	d := NextDelay(attempt, p.Base, p.Multiplier)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}
