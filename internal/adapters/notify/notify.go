// Package notify implements ports.Notifier as an in-memory bounded bus with
// a worker pool fanning notifications out to registered listeners.
//
// Delivery is best effort. A full queue drops the notification rather than
// block the engine pipeline, and a panicking listener only loses its own
// delivery.
package notify

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tributolabs/tributo/internal/domain/model"
	"github.com/tributolabs/tributo/pkg/logger"
	"github.com/tributolabs/tributo/pkg/metrics"
)

const defaultQueueSize = 10000

// Listener consumes one notification. Listeners run on bus workers and must
// not block indefinitely.
type Listener func(ctx context.Context, n model.Notification)

// Bus is the in-memory notification dispatcher.
type Bus struct {
	queue   chan model.Notification
	workers int
	log     logger.Logger

	mu        sync.RWMutex
	listeners []Listener
	closed    bool

	wg sync.WaitGroup
}

// Option applies a configuration option to the Bus.
type Option func(*Bus)

// WithQueueSize bounds the number of undelivered notifications.
func WithQueueSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.queue = make(chan model.Notification, n)
		}
	}
}

// WithWorkers sets the dispatcher pool size.
func WithWorkers(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.workers = n
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(log logger.Logger) Option {
	return func(b *Bus) {
		if log != nil {
			b.log = log
		}
	}
}

// NewBus creates a stopped bus; call Start before publishing.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		queue:   make(chan model.Notification, defaultQueueSize),
		workers: runtime.NumCPU(),
		log:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a listener for every subsequent notification.
func (b *Bus) Subscribe(l Listener) {
	if l == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, l)
}

// Start launches the dispatcher pool. The pool drains until Stop is called
// and the queue is empty.
func (b *Bus) Start(ctx context.Context) {
	for i := 0; i < b.workers; i++ {
		b.wg.Add(1)
		go b.dispatch(ctx)
	}
}

// Publish implements ports.Notifier. It never blocks; a full or closed queue
// drops the notification and records the drop.
func (b *Bus) Publish(ctx context.Context, n model.Notification) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.At.IsZero() {
		n.At = time.Now()
	}

	// The read lock is held across the send: Stop takes the write lock
	// before closing the queue, so the send can never hit a closed channel.
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		metrics.RecordNotificationDropped()
		return
	}

	select {
	case b.queue <- n:
		metrics.RecordNotificationPublished()
		metrics.UpdateNotificationQueueSize(len(b.queue))
	default:
		metrics.RecordNotificationDropped()
		b.log.Warn(ctx, "notification queue full, dropping",
			logger.String("kind", string(n.Kind)),
			logger.String("session_id", n.SessionID))
	}
}

// Stop closes the queue and waits for the workers to drain it.
func (b *Bus) Stop() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.queue)
	b.mu.Unlock()

	b.wg.Wait()
}

func (b *Bus) dispatch(ctx context.Context) {
	defer b.wg.Done()
	for n := range b.queue {
		metrics.UpdateNotificationQueueSize(len(b.queue))
		b.mu.RLock()
		listeners := b.listeners
		b.mu.RUnlock()
		for _, l := range listeners {
			b.deliver(ctx, l, n)
		}
	}
}

// deliver isolates listener panics so one bad listener cannot take the
// worker down.
func (b *Bus) deliver(ctx context.Context, l Listener, n model.Notification) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error(ctx, "notification listener panicked",
				logger.String("kind", string(n.Kind)),
				logger.Any("panic", r))
		}
	}()
	l(ctx, n)
}
