package events

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListener_DeliversInOrder(t *testing.T) {
	l := NewListener(10)
	defer l.Close()

	for i := 0; i < 5; i++ {
		ok := l.Send(NewMessage(TypeLog, LogPayload{Message: fmt.Sprintf("msg-%d", i)}))
		require.True(t, ok)
	}

	for i := 0; i < 5; i++ {
		msg := <-l.C()
		assert.Equal(t, fmt.Sprintf("msg-%d", i), msg.Payload.(LogPayload).Message)
	}
}

func TestListener_FullQueueDropsOldestNeverNewest(t *testing.T) {
	const capacity = 100
	const total = 1500

	l := NewListener(capacity)
	defer l.Close()

	for i := 0; i < total; i++ {
		ok := l.Send(NewMessage(TypeLog, LogPayload{Message: fmt.Sprintf("msg-%d", i)}))
		require.True(t, ok, "send must never fail on an open listener")
	}

	assert.Equal(t, uint64(total-capacity), l.Dropped())

	// The queue holds exactly the newest `capacity` messages, in order.
	received := make([]Message, 0, capacity)
	for i := 0; i < capacity; i++ {
		received = append(received, <-l.C())
	}
	assert.Equal(t, fmt.Sprintf("msg-%d", total-capacity), received[0].Payload.(LogPayload).Message)
	assert.Equal(t, fmt.Sprintf("msg-%d", total-1), received[capacity-1].Payload.(LogPayload).Message)

	select {
	case msg := <-l.C():
		t.Fatalf("unexpected extra message: %v", msg)
	default:
	}
}

func TestListener_SendAfterCloseReturnsFalse(t *testing.T) {
	l := NewListener(2)
	l.Close()
	l.Close() // idempotent

	assert.False(t, l.Send(NewMessage(TypeLog, LogPayload{Message: "late"})))

	// Channel is closed and drained.
	_, open := <-l.C()
	assert.False(t, open)
}

func TestBroadcaster_FanOut(t *testing.T) {
	b := NewBroadcaster(10)
	defer b.Close()

	l1 := b.Add()
	l2 := b.Add()
	require.NotNil(t, l1)
	require.NotNil(t, l2)
	assert.Equal(t, 2, b.Count())

	b.Broadcast(NewMessage(TypeLog, LogPayload{Message: "hello"}))

	for _, l := range []*Listener{l1, l2} {
		msg := <-l.C()
		assert.Equal(t, "hello", msg.Payload.(LogPayload).Message)
	}
}

func TestBroadcaster_FullListenerStaysRegistered(t *testing.T) {
	b := NewBroadcaster(2)
	defer b.Close()

	slow := b.Add()
	require.NotNil(t, slow)

	// Flood far beyond capacity; the listener must stay registered and
	// keep only the newest messages.
	for i := 0; i < 50; i++ {
		b.Broadcast(NewMessage(TypeLog, LogPayload{Message: fmt.Sprintf("msg-%d", i)}))
	}
	assert.Equal(t, 1, b.Count())

	msg := <-slow.C()
	assert.Equal(t, "msg-48", msg.Payload.(LogPayload).Message)
	msg = <-slow.C()
	assert.Equal(t, "msg-49", msg.Payload.(LogPayload).Message)
}

func TestBroadcaster_RemoveClosesListener(t *testing.T) {
	b := NewBroadcaster(4)
	defer b.Close()

	l := b.Add()
	b.Remove(l)
	b.Remove(l) // safe to call twice
	b.Remove(nil)

	assert.Equal(t, 0, b.Count())
	_, open := <-l.C()
	assert.False(t, open)
}

func TestBroadcaster_AddAfterCloseReturnsNil(t *testing.T) {
	b := NewBroadcaster(4)
	l := b.Add()
	require.NotNil(t, l)

	b.Close()
	assert.Nil(t, b.Add())

	_, open := <-l.C()
	assert.False(t, open, "close must release every listener")
}
