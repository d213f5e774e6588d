package events

import (
	"sync"

	"github.com/majiajue/longbridge-sub000/pkg/logger"
)

// Broadcaster fans messages out to a dynamic set of listeners. All sends
// are non-blocking; a slow listener loses its oldest messages, never the
// newest, and is never removed merely for being full.
type Broadcaster struct {
	mu        sync.RWMutex
	listeners map[*Listener]struct{}
	capacity  int
	closed    bool

	log *logger.Logger
}

// NewBroadcaster creates a broadcaster whose listeners get queues of the
// given capacity.
func NewBroadcaster(capacity int) *Broadcaster {
	return &Broadcaster{
		listeners: make(map[*Listener]struct{}),
		capacity:  capacity,
		log:       logger.Get().With("component", "broadcaster"),
	}
}

// Add registers and returns a new listener. Returns nil after Close.
func (b *Broadcaster) Add() *Listener {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	l := NewListener(b.capacity)
	b.listeners[l] = struct{}{}
	return l
}

// Remove unregisters and closes the listener. Safe to call twice.
func (b *Broadcaster) Remove(l *Listener) {
	if l == nil {
		return
	}
	b.mu.Lock()
	_, ok := b.listeners[l]
	delete(b.listeners, l)
	b.mu.Unlock()
	if ok {
		l.Close()
	}
}

// Broadcast delivers the message to every registered listener.
func (b *Broadcaster) Broadcast(msg Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for l := range b.listeners {
		l.Send(msg)
	}
}

// Count returns the number of registered listeners.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Close removes and closes every listener. Further Add calls return nil.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	listeners := make([]*Listener, 0, len(b.listeners))
	for l := range b.listeners {
		listeners = append(listeners, l)
	}
	b.listeners = make(map[*Listener]struct{})
	b.mu.Unlock()

	for _, l := range listeners {
		l.Close()
	}
	b.log.Debugw("Broadcaster closed", "listeners_closed", len(listeners))
}
