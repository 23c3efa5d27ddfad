package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter is a token bucket with continuous refill. Capacity equals
// maxCalls and the bucket refills at maxCalls/period.
type Limiter struct {
	maxCalls float64
	period   time.Duration

	mu     sync.Mutex
	tokens float64
	last   time.Time
	now    func() time.Time
}

// New builds a full bucket allowing maxCalls per period.
func New(maxCalls int, period time.Duration) *Limiter {
	if maxCalls < 1 {
		maxCalls = 1
	}
	if period <= 0 {
		period = time.Minute
	}
	return &Limiter{
		maxCalls: float64(maxCalls),
		period:   period,
		tokens:   float64(maxCalls),
		last:     time.Now(),
		now:      time.Now,
	}
}

// Acquire blocks until one token is available or ctx is done. On
// insufficient tokens it sleeps just long enough for one token to
// accrue, then re-evaluates, so concurrent acquirers contend fairly
// on the re-check rather than on a queue.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		wait, ok := l.take()
		if ok {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (l *Limiter) take() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	elapsed := now.Sub(l.last).Seconds()
	l.last = now

	refillPerSec := l.maxCalls / l.period.Seconds()
	l.tokens += elapsed * refillPerSec
	if l.tokens > l.maxCalls {
		l.tokens = l.maxCalls
	}

	if l.tokens >= 1 {
		l.tokens--
		return 0, true
	}

	need := (1 - l.tokens) / refillPerSec
	return time.Duration(need * float64(time.Second)), false
}
