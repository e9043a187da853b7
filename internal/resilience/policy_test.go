package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoRetriesAtMostMaxPlusOne(t *testing.T) {
	cfg := PolicyConfig{
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
		Backoff:    BackoffConstant,
		Timeout:    50 * time.Millisecond,
	}
	p := New(cfg)

	calls := 0
	err := p.Do(context.Background(), "test", func(ctx context.Context) error {
		calls++
		return errors.New("boom")
	})

	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 3 {
		t.Fatalf("got %d calls, want 3 (max_retries+1)", calls)
	}
}

func TestDoSucceedsWithoutExhaustingRetries(t *testing.T) {
	cfg := PolicyConfig{
		MaxRetries: 5,
		RetryDelay: time.Millisecond,
		Backoff:    BackoffExponential,
		Timeout:    50 * time.Millisecond,
	}
	p := New(cfg)

	calls := 0
	err := p.Do(context.Background(), "test", func(ctx context.Context) error {
		calls++
		if calls == 2 {
			return nil
		}
		return errors.New("transient")
	})

	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("got %d calls, want 2", calls)
	}
}

func TestDelayForAttemptNeverNegative(t *testing.T) {
	cfg := PolicyConfig{
		RetryDelay:       time.Millisecond,
		Backoff:          BackoffExponential,
		UseJitter:        true,
		JitterPercentage: 100,
	}
	p := New(cfg)
	for attempt := 0; attempt < 10; attempt++ {
		if d := p.delayForAttempt(attempt); d < 0 {
			t.Fatalf("negative delay at attempt %d: %v", attempt, d)
		}
	}
}

func TestBoundedQueueBackpressure(t *testing.T) {
	q := NewBoundedQueue[int](1)
	if err := q.Enqueue(context.Background(), 1); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Enqueue(ctx, 2)
	if err == nil {
		t.Fatal("expected enqueue on a full queue to block until cancellation")
	}
}
