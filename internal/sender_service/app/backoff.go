package app

import (
	"math/rand"
	"time"

	"github.com/profiqo/golang_services/internal/core_domain"
)

// maxBackoffExponent caps the doubling so the multiplication cannot overflow.
const maxBackoffExponent = 10

// Backoff computes retry times for failed deliveries.
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int

	jitter func(base time.Duration) time.Duration
}

func NewBackoff(base, maxDelay time.Duration, maxAttempts int) Backoff {
	if base <= 0 {
		base = time.Second
	}
	if maxDelay < base {
		maxDelay = base
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return Backoff{Base: base, Max: maxDelay, MaxAttempts: maxAttempts, jitter: uniformJitter}
}

func uniformJitter(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(base)))
}

// Ceiling is the delay before jitter for an entry that has already failed attemptCount times.
func (b Backoff) Ceiling(attemptCount int) time.Duration {
	exp := min(max(attemptCount, 0), maxBackoffExponent)
	return min(b.Max, b.Base*time.Duration(1<<exp))
}

// Exhausted reports whether one more failure makes the entry permanent.
func (b Backoff) Exhausted(attemptCount int) bool {
	return attemptCount+1 >= b.MaxAttempts
}

// RetryDecision is what MarkFailed should record.
type RetryDecision struct {
	Permanent        bool
	NextAttemptAtUTC time.Time
	Message          string
}

// Decide classifies a delivery failure for an entry with attemptCount prior failures.
func (b Backoff) Decide(attemptCount int, cause error, now time.Time) RetryDecision {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	if core_domain.IsPermanent(cause) || b.Exhausted(attemptCount) {
		return RetryDecision{
			Permanent:        true,
			NextAttemptAtUTC: now.Add(core_domain.PermanentFailureHorizon),
			Message:          core_domain.TruncateError(core_domain.PermanentFailurePrefix + msg),
		}
	}
	jitter := b.jitter
	if jitter == nil {
		jitter = uniformJitter
	}
	return RetryDecision{
		NextAttemptAtUTC: now.Add(b.Ceiling(attemptCount) + jitter(b.Base)),
		Message:          core_domain.TruncateError(msg),
	}
}
