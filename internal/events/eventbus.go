package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultSubscriberBuffer is the per-subscriber queue depth used when the
// caller does not specify one.
const DefaultSubscriberBuffer = 64

// subscriber holds one consumer's bounded delivery queue. The per-subscriber
// mutex serializes sends against close so an unsubscribe racing a publish
// can never trigger a send on a closed channel.
type subscriber struct {
	mu      sync.Mutex
	ch      chan Event
	ctx     context.Context
	cancel  context.CancelFunc
	closed  bool
	dropped atomic.Uint64
}

// send attempts a non-blocking delivery. Returns whether the event was
// delivered and whether it was dropped; both false means the subscription
// is already closed.
func (s *subscriber) send(event Event) (delivered, dropped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, false
	}
	select {
	case s.ch <- event:
		return true, false
	default:
		return false, true
	}
}

// close cancels the subscription context and closes the channel exactly
// once, after any in-flight send has finished.
func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.cancel()
	close(s.ch)
}

// Bus fans pipeline events out to subscribers. Publish never blocks: when a
// subscriber's queue is full the event is dropped for that subscriber and
// counted, keeping backpressure handling deterministic.
type Bus struct {
	mu          sync.RWMutex
	subscribers []*subscriber
	closed      bool

	published atomic.Uint64
	dropped   atomic.Uint64

	logger *slog.Logger
}

// NewBus creates a new event bus.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{logger: logger}
}

// Subscribe registers a consumer with the given queue depth and returns its
// event channel together with a context that is cancelled when the
// subscription ends. Call Unsubscribe with the returned channel when done.
func (b *Bus) Subscribe(buffer int) (<-chan Event, context.Context) {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}

	ctx, cancel := context.WithCancel(context.Background())
	sub := &subscriber{
		ch:     make(chan Event, buffer),
		ctx:    ctx,
		cancel: cancel,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.close()
		return sub.ch, ctx
	}
	b.subscribers = append(b.subscribers, sub)
	return sub.ch, ctx
}

// Unsubscribe removes a consumer and closes its channel. Safe to call while
// publishers are running: the channel is only closed once any in-flight
// send to it has completed.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	var removed *subscriber
	for i, sub := range b.subscribers {
		if sub.ch == ch {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			removed = sub
			break
		}
	}
	b.mu.Unlock()

	if removed != nil {
		removed.close()
	}
}

// Publish delivers an event to every subscriber without blocking. Returns
// the number of subscribers that received the event.
func (b *Bus) Publish(event Event) int {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	subs := make([]*subscriber, len(b.subscribers))
	copy(subs, b.subscribers)
	b.mu.RUnlock()

	b.published.Add(1)

	delivered := 0
	for _, sub := range subs {
		ok, dropped := sub.send(event)
		if ok {
			delivered++
			continue
		}
		if dropped {
			// Queue full, drop for this subscriber only.
			sub.dropped.Add(1)
			b.dropped.Add(1)
			if b.logger != nil {
				b.logger.Debug("event dropped for slow subscriber",
					"kind", event.Kind,
					"camera_id", event.CameraID,
				)
			}
		}
	}
	return delivered
}

// Stats returns a snapshot of bus metrics.
func (b *Bus) Stats() BusStats {
	b.mu.RLock()
	subscribers := len(b.subscribers)
	b.mu.RUnlock()

	return BusStats{
		EventsPublished: b.published.Load(),
		EventsDropped:   b.dropped.Load(),
		Subscribers:     subscribers,
	}
}

// Shutdown cancels and closes all subscriptions.
func (b *Bus) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	subs := b.subscribers
	b.subscribers = nil
	for _, sub := range subs {
		sub.close()
	}

	if b.logger != nil {
		b.logger.Info("event bus shut down",
			"published", b.published.Load(),
			"dropped", b.dropped.Load(),
		)
	}
}
