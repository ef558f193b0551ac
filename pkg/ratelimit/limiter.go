package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
)

// Limiter is a token-bucket throttle for outbound API calls. Each vendor
// client owns its own Limiter so throttling one vendor never blocks another.
type Limiter struct {
	rate       float64
	capacity   float64
	tokens     float64
	lastRefill time.Time
	pollEvery  time.Duration
	now        func() time.Time
	mu         sync.Mutex
}

// Option configures a Limiter
type Option func(*Limiter)

// WithClock replaces the wall clock, used by tests to advance time
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// New creates a limiter refilling requestsPerSecond tokens per second with a
// bucket of burstSize tokens. burstSize <= 0 defaults to the rate. A rate
// <= 0 disables limiting.
func New(requestsPerSecond float64, burstSize int, opts ...Option) *Limiter {
	capacity := float64(burstSize)
	if burstSize <= 0 {
		capacity = math.Ceil(requestsPerSecond)
	}
	if capacity < 1 {
		capacity = 1
	}

	l := &Limiter{
		rate:     requestsPerSecond,
		capacity: capacity,
		tokens:   capacity,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.lastRefill = l.now()

	if requestsPerSecond > 0 {
		l.pollEvery = time.Duration(math.Ceil(1000/requestsPerSecond)) * time.Millisecond
	}
	return l
}

// refill adds tokens for the time elapsed since the last refill; mu must be held
func (l *Limiter) refill() {
	now := l.now()
	elapsed := now.Sub(l.lastRefill).Seconds()
	if elapsed > 0 {
		l.tokens = math.Min(l.capacity, l.tokens+elapsed*l.rate)
	}
	l.lastRefill = now
}

// TryAcquire takes one token if available
func (l *Limiter) TryAcquire() bool {
	if l.rate <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill()
	if l.tokens >= 1 {
		l.tokens--
		return true
	}
	return false
}

// Acquire waits until a token is available or ctx is done
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		if l.TryAcquire() {
			return nil
		}

		timer := time.NewTimer(l.pollEvery)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Execute acquires a token and runs fn, returning its error unchanged
func (l *Limiter) Execute(ctx context.Context, fn func() error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	return fn()
}

// Reset refills the bucket to capacity
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.tokens = l.capacity
	l.lastRefill = l.now()
}

// Tokens returns the currently available tokens after refilling
func (l *Limiter) Tokens() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill()
	return l.tokens
}

// Capacity returns the bucket size
func (l *Limiter) Capacity() float64 {
	return l.capacity
}
