// Package retry implements a reusable exponential-backoff retry policy shared
// by every network and automation call site.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"net"
	"time"

	"go.uber.org/zap"
)

// Policy retries an operation with jittered exponential backoff. Retryable
// decides which errors are worth another attempt; a nil predicate retries
// everything except context cancellation.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Retryable   func(error) bool
}

// NewPolicy builds a policy with sane fallbacks for zero values.
func NewPolicy(maxAttempts int, baseDelay, maxDelay time.Duration, retryable func(error) bool) Policy {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if baseDelay <= 0 {
		baseDelay = 250 * time.Millisecond
	}
	if maxDelay <= 0 {
		maxDelay = 10 * time.Second
	}
	return Policy{
		MaxAttempts: maxAttempts,
		BaseDelay:   baseDelay,
		MaxDelay:    maxDelay,
		Retryable:   retryable,
	}
}

// Do runs fn until it succeeds, the policy is exhausted, or the context ends.
// The error of the last attempt is returned unwrapped so callers can inspect
// its type.
func (p Policy) Do(ctx context.Context, logger *zap.Logger, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !p.shouldRetry(ctx, err, attempt+1) {
			return err
		}
		delay := p.Backoff(attempt)
		if logger != nil {
			logger.Warn("retrying after failure",
				zap.String("op", op),
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
				zap.Error(err))
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (p Policy) shouldRetry(ctx context.Context, err error, attempts int) bool {
	if err == nil || attempts >= p.MaxAttempts {
		return false
	}
	if ctx.Err() != nil {
		return false
	}
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Backoff returns the wait duration before the next attempt.
func (p Policy) Backoff(attempt int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	jitter := randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

// Transient reports whether err looks like a recoverable network failure:
// a timeout or a broken/refused connection. Non-2xx responses and decode
// errors are deliberately not transient.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
