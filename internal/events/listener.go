package events

import (
	"sync"

	"github.com/majiajue/longbridge-sub000/internal/metrics"
)

// Listener is a bounded message sink handed to one external consumer.
// Delivery is best-effort at-most-capacity: when the queue is full the
// oldest pending message is dropped so the newest always lands. A full
// listener is never unregistered for being full.
type Listener struct {
	ch chan Message

	mu     sync.Mutex
	closed bool

	dropped uint64
}

// NewListener creates a listener with the given queue capacity.
// Capacity must be at least 1.
func NewListener(capacity int) *Listener {
	if capacity < 1 {
		capacity = 1
	}
	return &Listener{ch: make(chan Message, capacity)}
}

// C returns the receive side of the listener queue. The channel is closed
// when the listener is closed.
func (l *Listener) C() <-chan Message {
	return l.ch
}

// Send enqueues without blocking. On a full queue it evicts the oldest
// pending message first. Returns false only when the listener is closed.
func (l *Listener) Send(msg Message) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return false
	}

	for {
		select {
		case l.ch <- msg:
			return true
		default:
		}
		// Queue full: evict the oldest and retry. The lock excludes
		// concurrent senders, so the retry cannot starve.
		select {
		case <-l.ch:
			l.dropped++
			metrics.ListenerDrops.Inc()
		default:
		}
	}
}

// Dropped returns how many messages this listener has lost to eviction.
func (l *Listener) Dropped() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

// Close closes the queue. Safe to call more than once.
func (l *Listener) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	close(l.ch)
}
