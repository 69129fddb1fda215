package advise

import (
	"math"
	"time"
)

// BackoffStrategy computes the wait before a retried attempt.
type BackoffStrategy interface {
	// WaitDuration returns how long to wait before the next attempt.
	// The attempt index starts at 0, incrementing after each failure.
	WaitDuration(attempt int) time.Duration
}

// NoDelayStrategy retries immediately without waiting.
type NoDelayStrategy struct{}

// WaitDuration always returns zero.
func (n NoDelayStrategy) WaitDuration(_ int) time.Duration {
	return 0
}

// ExponentialBackoffStrategy implements a capped exponential backoff.
// Usage example:
//
//	RetryAdviser{Backoff: ExponentialBackoffStrategy{
//	    Base:   100 * time.Millisecond,
//	    Factor: 2,
//	    Max:    5 * time.Second,
//	}}
type ExponentialBackoffStrategy struct {
	// Base is the starting delay (e.g., 100ms)
	Base time.Duration
	// Factor is multiplied each iteration (e.g., 2 => 100ms, 200ms, 400ms, ...)
	Factor float64
	// Max is the maximum delay allowed (caps the exponential growth)
	Max time.Duration
}

// WaitDuration implements an exponential backoff with a cap at Max.
func (e ExponentialBackoffStrategy) WaitDuration(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(e.Base) * math.Pow(e.Factor, float64(attempt))
	if time.Duration(delay) > e.Max && e.Max > 0 {
		return e.Max
	}
	return time.Duration(delay)
}

// FixedIntervalStrategy waits the same duration between every attempt.
type FixedIntervalStrategy struct {
	Interval time.Duration
}

// WaitDuration returns the configured interval.
func (f FixedIntervalStrategy) WaitDuration(_ int) time.Duration {
	return f.Interval
}
