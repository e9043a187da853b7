package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/snapdog/snapdog/internal/command"
)

type countingAdapter struct {
	mu    sync.Mutex
	fail  int32 // number of remaining calls to fail
	calls int32
}

func (a *countingAdapter) Publish(ctx context.Context, ev command.StatusEvent) error {
	atomic.AddInt32(&a.calls, 1)
	if atomic.LoadInt32(&a.fail) > 0 {
		atomic.AddInt32(&a.fail, -1)
		return errors.New("boom")
	}
	return nil
}

func TestNotificationQueueDeliversToAllAdapters(t *testing.T) {
	qc := DefaultQueueConfig()
	qc.MaxQueueCapacity = 8
	q := NewNotificationQueue(qc, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	a1 := &countingAdapter{}
	a2 := &countingAdapter{}
	q.AddAdapter(a1)
	q.AddAdapter(a2)

	if err := q.Enqueue(ctx, command.Notification{Event: command.StatusEvent{Kind: command.EvtVolumeChanged, ZoneIndex: 1}}); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(&a1.calls) == 1 && atomic.LoadInt32(&a2.calls) == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected both adapters to be called once, got a1=%d a2=%d", a1.calls, a2.calls)
}

func TestNotificationQueueRetriesThenSucceeds(t *testing.T) {
	qc := DefaultQueueConfig()
	qc.BackoffBaseMs = 1
	qc.BackoffMaxMs = 5
	q := NewNotificationQueue(qc, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	a := &countingAdapter{fail: 2}
	q.AddAdapter(a)

	if err := q.Enqueue(ctx, command.Notification{Event: command.StatusEvent{Kind: command.EvtVolumeChanged, ZoneIndex: 2}}); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(&a.calls) == 3 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected 3 calls (2 failures + 1 success), got %d", a.calls)
}

func TestNotificationQueueDeadLettersAfterExhaustingRetries(t *testing.T) {
	qc := DefaultQueueConfig()
	qc.MaxRetryAttempts = 2
	qc.BackoffBaseMs = 1
	qc.BackoffMaxMs = 2
	q := NewNotificationQueue(qc, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	a := &countingAdapter{fail: 100}
	q.AddAdapter(a)

	if err := q.Enqueue(ctx, command.Notification{Event: command.StatusEvent{Kind: command.EvtError, ZoneIndex: 3}}); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(&a.calls) == int32(qc.MaxRetryAttempts+1) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected exactly %d attempts before dead-lettering, got %d", qc.MaxRetryAttempts+1, a.calls)
}

func TestNotificationQueueBackpressureBlocksWhenFull(t *testing.T) {
	qc := DefaultQueueConfig()
	qc.MaxQueueCapacity = 1
	q := NewNotificationQueue(qc, zerolog.Nop())
	// Deliberately not running q.Run, so the single slot fills and stays full.

	ctx := context.Background()
	if err := q.Enqueue(ctx, command.Notification{Event: command.StatusEvent{ZoneIndex: 1}}); err != nil {
		t.Fatal(err)
	}

	blockedCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err := q.Enqueue(blockedCtx, command.Notification{Event: command.StatusEvent{ZoneIndex: 2}})
	if err == nil {
		t.Fatal("expected Enqueue to block until context deadline when queue is full")
	}
}
