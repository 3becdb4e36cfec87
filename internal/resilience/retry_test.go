package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastPolicy(attempts int) Policy {
	return Policy{Backoff: Backoff{Attempts: attempts, Initial: time.Millisecond, Max: 2 * time.Millisecond, Factor: 2}}
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(3), func(context.Context) error {
		calls++
		if calls < 3 {
			return Transient(errors.New("503"), 503)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDo_PermanentErrorStopsImmediately(t *testing.T) {
	calls := 0
	perm := errors.New("bad request")
	err := Do(context.Background(), fastPolicy(5), func(context.Context) error {
		calls++
		return perm
	})
	if !errors.Is(err, perm) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDoVal_ExhaustsAttempts(t *testing.T) {
	calls := 0
	retried := 0
	p := fastPolicy(4)
	p.OnRetry = func(int, error) { retried++ }

	v, err := DoVal(context.Background(), p, func(context.Context) (int, error) {
		calls++
		return 42, Transient(errors.New("429"), 429)
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if v != 0 {
		t.Fatalf("expected zero value on failure, got %d", v)
	}
	if calls != 4 || retried != 3 {
		t.Fatalf("expected 4 calls and 3 retries, got %d and %d", calls, retried)
	}
}

func TestDoVal_ReturnsValue(t *testing.T) {
	v, err := DoVal(context.Background(), fastPolicy(2), func(context.Context) (string, error) {
		return "ok", nil
	})
	if err != nil || v != "ok" {
		t.Fatalf("got %q, %v", v, err)
	}
}

func TestDo_ContextCancelledStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, fastPolicy(10), func(context.Context) error {
		calls++
		cancel()
		return Transient(errors.New("timeout"), 0)
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDo_CustomRetryable(t *testing.T) {
	calls := 0
	p := fastPolicy(3)
	p.Retryable = func(error) bool { return true }
	_ = Do(context.Background(), p, func(context.Context) error {
		calls++
		return errors.New("anything")
	})
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestBackoff_DelayIsCapped(t *testing.T) {
	b := Backoff{Attempts: 10, Initial: time.Second, Max: 4 * time.Second, Factor: 2}
	if d := b.Delay(0); d != time.Second {
		t.Fatalf("attempt 0: got %v", d)
	}
	if d := b.Delay(1); d != 2*time.Second {
		t.Fatalf("attempt 1: got %v", d)
	}
	if d := b.Delay(8); d != 4*time.Second {
		t.Fatalf("attempt 8: got %v", d)
	}
}

func TestBackoff_JitterStaysInRange(t *testing.T) {
	b := Backoff{Attempts: 3, Initial: 100 * time.Millisecond, Max: time.Second, Factor: 2, Jitter: 0.5}
	for range 100 {
		d := b.Delay(0)
		if d < 50*time.Millisecond || d > 150*time.Millisecond {
			t.Fatalf("delay %v outside jitter range", d)
		}
	}
}
