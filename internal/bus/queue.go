package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/snapdog/snapdog/internal/command"
	"github.com/snapdog/snapdog/internal/resilience"
)

// QueueConfig is the tunable shape of the notification queue, per
// spec.md §4.3.
type QueueConfig struct {
	MaxQueueCapacity      int
	MaxConcurrency        int
	MaxRetryAttempts      int
	BackoffBaseMs         int
	BackoffMaxMs          int
	ShutdownTimeoutSeconds int
}

// DefaultQueueConfig matches spec.md's stated defaults.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		MaxQueueCapacity:       1024,
		MaxConcurrency:         8,
		MaxRetryAttempts:       5,
		BackoffBaseMs:          100,
		BackoffMaxMs:           5000,
		ShutdownTimeoutSeconds: 10,
	}
}

// NotificationQueue is the bounded, back-pressured fan-out described in
// spec.md §4.3: producers block on Enqueue when full (drop is
// forbidden), a bounded pool of workers delivers each event to every
// adapter in parallel, failed deliveries retry with exponential backoff,
// and an item that exhausts its retries is dead-lettered to a structured
// log record exactly once.
//
// Ordering is preserved per originating zone/client by sharding: events
// are routed to a per-routing-key goroutine that processes its own
// events strictly in arrival order, while different keys proceed
// concurrently up to MaxConcurrency in-flight deliveries at a time.
type NotificationQueue struct {
	qc  QueueConfig
	log zerolog.Logger

	in  *resilience.BoundedQueue[command.Notification]
	sem chan struct{}

	adaptersMu sync.RWMutex
	adapters   []Adapter

	shardsMu sync.Mutex
	shards   map[string]chan command.Notification
	wg       sync.WaitGroup
}

// NewNotificationQueue builds a queue; it must be started with Run before
// any Enqueue call, normally from its own goroutine at process startup.
func NewNotificationQueue(qc QueueConfig, log zerolog.Logger) *NotificationQueue {
	return &NotificationQueue{
		qc:     qc,
		log:    log,
		in:     resilience.NewBoundedQueue[command.Notification](qc.MaxQueueCapacity),
		sem:    make(chan struct{}, qc.MaxConcurrency),
		shards: make(map[string]chan command.Notification),
	}
}

// AddAdapter registers an adapter to receive every future delivery.
func (q *NotificationQueue) AddAdapter(a Adapter) {
	q.adaptersMu.Lock()
	defer q.adaptersMu.Unlock()
	q.adapters = append(q.adapters, a)
}

// Enqueue blocks until there is room in the bounded queue or ctx is done.
func (q *NotificationQueue) Enqueue(ctx context.Context, n command.Notification) error {
	return q.in.Enqueue(ctx, n)
}

// Run pumps items off the bounded queue and routes each to its shard
// goroutine, creating shards lazily. It returns when ctx is cancelled.
func (q *NotificationQueue) Run(ctx context.Context) {
	for {
		n, ok := q.in.Dequeue(ctx)
		if !ok {
			return
		}
		q.routeToShard(n)
	}
}

func routingKey(ev command.StatusEvent) string {
	if ev.ClientMac != "" {
		return "client:" + string(ev.ClientMac)
	}
	return fmt.Sprintf("zone:%d", ev.ZoneIndex)
}

func (q *NotificationQueue) routeToShard(n command.Notification) {
	key := routingKey(n.Event)

	q.shardsMu.Lock()
	ch, ok := q.shards[key]
	if !ok {
		ch = make(chan command.Notification, q.qc.MaxQueueCapacity)
		q.shards[key] = ch
		q.wg.Add(1)
		go q.runShard(ch)
	}
	q.shardsMu.Unlock()

	ch <- n
}

func (q *NotificationQueue) runShard(ch chan command.Notification) {
	defer q.wg.Done()
	for n := range ch {
		q.deliver(n)
	}
}

// deliver publishes n to every adapter, retrying the whole notification
// under exponential backoff on any adapter failure, until MaxRetryAttempts
// is exhausted, at which point it is dead-lettered.
func (q *NotificationQueue) deliver(n command.Notification) {
	q.sem <- struct{}{}
	defer func() { <-q.sem }()

	for {
		err := q.publishAll(n.Event)
		if err == nil {
			return
		}
		n.Attempt++
		if int(n.Attempt) > q.qc.MaxRetryAttempts {
			q.deadLetter(n, err)
			return
		}
		time.Sleep(q.backoffDelay(int(n.Attempt)))
	}
}

func (q *NotificationQueue) backoffDelay(attempt int) time.Duration {
	ms := q.qc.BackoffBaseMs << uint(attempt-1)
	if ms > q.qc.BackoffMaxMs {
		ms = q.qc.BackoffMaxMs
	}
	return time.Duration(ms) * time.Millisecond
}

func (q *NotificationQueue) publishAll(ev command.StatusEvent) error {
	q.adaptersMu.RLock()
	adapters := append([]Adapter(nil), q.adapters...)
	q.adaptersMu.RUnlock()

	if len(adapters) == 0 {
		return nil
	}

	var g errgroup.Group
	for _, a := range adapters {
		a := a
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return a.Publish(ctx, ev)
		})
	}
	return g.Wait()
}

func (q *NotificationQueue) deadLetter(n command.Notification, cause error) {
	q.log.Warn().
		Int("kind", int(n.Event.Kind)).
		Uint32("zone", n.Event.ZoneIndex).
		Str("client", string(n.Event.ClientMac)).
		Uint16("attempts", n.Attempt).
		Err(cause).
		Msg("notification dead-lettered after exhausting retries")
}

// Shutdown closes the input queue and waits up to
// ShutdownTimeoutSeconds for shard goroutines to drain. If the deadline
// passes first it logs one warning and returns: items still queued are
// not dead-lettered, and the shard goroutines keep working through them.
func (q *NotificationQueue) Shutdown() {
	q.in.Close()

	done := make(chan struct{})
	go func() {
		q.shardsMu.Lock()
		for _, ch := range q.shards {
			close(ch)
		}
		q.shardsMu.Unlock()
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Duration(q.qc.ShutdownTimeoutSeconds) * time.Second):
		q.log.Warn().Msg("notification queue shutdown timed out with items still queued")
	}
}
