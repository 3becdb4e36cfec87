// Package resilience retries and guards calls to the external data APIs.
package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// Backoff describes exponential retry spacing.
type Backoff struct {
	// Attempts is the total number of tries, first one included.
	Attempts int
	Initial  time.Duration
	Max      time.Duration
	Factor   float64
	// Jitter spreads each delay by up to this fraction in either direction.
	Jitter float64
}

// DefaultBackoff suits the census and Overpass endpoints: three tries starting at 500ms.
func DefaultBackoff() Backoff {
	return Backoff{
		Attempts: 3,
		Initial:  500 * time.Millisecond,
		Max:      30 * time.Second,
		Factor:   2,
		Jitter:   0.25,
	}
}

func (b Backoff) normalize() Backoff {
	d := DefaultBackoff()
	if b.Attempts <= 0 {
		b.Attempts = d.Attempts
	}
	if b.Initial <= 0 {
		b.Initial = d.Initial
	}
	if b.Max <= 0 {
		b.Max = d.Max
	}
	if b.Factor <= 0 {
		b.Factor = d.Factor
	}
	if b.Jitter < 0 {
		b.Jitter = 0
	}
	return b
}

// Delay returns the pause before retry number attempt (0-based).
func (b Backoff) Delay(attempt int) time.Duration {
	b = b.normalize()
	d := math.Min(float64(b.Initial)*math.Pow(b.Factor, float64(attempt)), float64(b.Max))
	if b.Jitter > 0 {
		d += (rand.Float64()*2 - 1) * d * b.Jitter
	}
	return time.Duration(max(d, 0))
}

// Policy is a Backoff plus the decision of what to retry.
type Policy struct {
	Backoff
	// Retryable defaults to IsTransient.
	Retryable func(error) bool
	// OnRetry runs before each pause with the 1-based attempt that failed.
	OnRetry func(attempt int, err error)
}

// DefaultPolicy retries transient errors with DefaultBackoff.
func DefaultPolicy() Policy {
	return Policy{Backoff: DefaultBackoff()}
}

// Do runs fn until it succeeds, fails permanently, runs out of attempts or ctx ends.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	_, err := DoVal(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoVal is Do for functions that return a value.
func DoVal[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	b := p.Backoff.normalize()
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsTransient
	}

	var zero T
	var err error
	for attempt := range b.Attempts {
		var v T
		v, err = fn(ctx)
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil || !retryable(err) || attempt == b.Attempts-1 {
			return zero, err
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, err)
		}

		t := time.NewTimer(b.Delay(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return zero, err
		case <-t.C:
		}
	}
	return zero, err
}

// LogRetries returns an OnRetry hook that logs through the global zap logger.
func LogRetries(service, operation string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("retrying call",
			zap.String("service", service),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}
