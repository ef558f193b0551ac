package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

const (
	defaultMaxDelay   = 30 * time.Second
	defaultMultiplier = 2.0
)

// Options controls the exponential-backoff retry loop
type Options struct {
	MaxRetries        int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64

	// RetryableErrors restricts retries to errors whose message or code name
	// contains one of these substrings. Nil retries every error.
	RetryableErrors []string

	// OnRetry is called before sleeping ahead of a retry
	OnRetry func(attempt int, err error, delay time.Duration)
}

// ExhaustedError is returned after every attempt has failed
type ExhaustedError struct {
	Attempts  int
	LastError error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts: %v", e.Attempts, e.LastError)
}

func (e *ExhaustedError) Unwrap() error {
	return e.LastError
}

type coded interface {
	ErrorCode() string
}

// Delay returns the wait before retry number attempt (1-based)
func (o Options) Delay(attempt int) time.Duration {
	maxDelay := o.MaxDelay
	if maxDelay <= 0 {
		maxDelay = defaultMaxDelay
	}
	mult := o.BackoffMultiplier
	if mult <= 0 {
		mult = defaultMultiplier
	}
	if attempt < 1 {
		attempt = 1
	}

	d := float64(o.InitialDelay) * math.Pow(mult, float64(attempt-1))
	if d > float64(maxDelay) || math.IsInf(d, 0) {
		return maxDelay
	}
	return time.Duration(d)
}

// IsRetryable reports whether err should be retried under these options
func (o Options) IsRetryable(err error) bool {
	if o.RetryableErrors == nil {
		return true
	}

	msg := err.Error()
	var code string
	var c coded
	if errors.As(err, &c) {
		code = c.ErrorCode()
	}

	for _, s := range o.RetryableErrors {
		if strings.Contains(msg, s) || (code != "" && strings.Contains(code, s)) {
			return true
		}
	}
	return false
}

// Do runs fn until it succeeds, a non-retryable error occurs, or the
// attempts are exhausted
func Do(ctx context.Context, opts Options, fn func(ctx context.Context) error) error {
	_, err := DoValue(ctx, opts, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoValue is Do for functions producing a value
func DoValue[T any](ctx context.Context, opts Options, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	maxAttempts := opts.MaxRetries + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if !opts.IsRetryable(err) {
			return zero, err
		}
		if attempt == maxAttempts {
			break
		}

		delay := opts.Delay(attempt)
		if opts.OnRetry != nil {
			opts.OnRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}

	return zero, &ExhaustedError{Attempts: maxAttempts, LastError: lastErr}
}
