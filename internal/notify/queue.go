package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rfblock/hackagotchi/internal/metrics"
)

// Sink delivers entries to one external channel.
type Sink interface {
	Name() string
	Send(ctx context.Context, e Entry) error
}

// Queue is a bounded outbound queue drained by a single worker that hands
// every entry to every sink.
type Queue struct {
	entries chan Entry
	sinks   []Sink
	timeout time.Duration
	log     *zap.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
	start  sync.Once
}

// QueueOptions configures NewQueue.
type QueueOptions struct {
	Size    int
	Timeout time.Duration
	Metrics *metrics.Metrics
}

// NewQueue creates a queue. Call Start to begin delivery and Close to drain it.
func NewQueue(opts QueueOptions, log *zap.Logger, sinks ...Sink) *Queue {
	if opts.Size <= 0 {
		opts.Size = 256
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Queue{
		entries: make(chan Entry, opts.Size),
		sinks:   sinks,
		timeout: opts.Timeout,
		log:     log,
		metrics: opts.Metrics,
		done:    make(chan struct{}),
	}
}

// Start launches the delivery worker. Repeated calls are no-ops.
func (q *Queue) Start() {
	q.start.Do(func() {
		go q.run()
	})
}

// Notify enqueues an entry without blocking. Entries are dropped, with a
// warning, when the queue is full or closed.
func (q *Queue) Notify(e Entry) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.drop(e, "queue closed")
		return
	}
	select {
	case q.entries <- e:
	default:
		q.drop(e, "queue full")
	}
}

func (q *Queue) drop(e Entry, reason string) {
	q.metrics.NotificationDropped()
	q.log.Warn("Dropping notification",
		zap.String("reason", reason),
		zap.String("kind", string(e.Kind)),
		zap.String("item_id", e.ItemID),
	)
}

// Close stops accepting entries and waits until the queued ones are
// delivered or ctx expires.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.entries)
	}
	q.mu.Unlock()

	q.Start()
	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) run() {
	defer close(q.done)
	for e := range q.entries {
		q.deliver(e)
	}
}

func (q *Queue) deliver(e Entry) {
	for _, sink := range q.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
		err := sink.Send(ctx, e)
		cancel()

		if err != nil {
			q.metrics.NotificationFailed(sink.Name())
			q.log.Error("Failed to deliver notification",
				zap.String("sink", sink.Name()),
				zap.String("kind", string(e.Kind)),
				zap.String("item_id", e.ItemID),
				zap.Error(err),
			)
			continue
		}
		q.metrics.NotificationSent(sink.Name())
	}
}
