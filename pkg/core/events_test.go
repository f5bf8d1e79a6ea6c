package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEmitterDeliversToAllSubscribers(t *testing.T) {
	e := NewEmitter()
	ch1, cancel1 := e.Subscribe(4)
	defer cancel1()
	ch2, cancel2 := e.Subscribe(4)
	defer cancel2()

	e.Emit(EventPeerConnecting, map[string]any{"peerId": "p1"})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case ev := <-ch:
			require.Equal(t, EventPeerConnecting, ev.Name)
			require.Equal(t, "p1", ev.Data["peerId"])
			require.NotZero(t, ev.Timestamp)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive the event")
		}
	}
}

func TestEmitterCancelStopsDelivery(t *testing.T) {
	e := NewEmitter()
	ch, cancel := e.Subscribe(4)
	cancel()
	cancel() // idempotent

	e.Emit(EventError, map[string]any{"error": "boom"})

	// The channel is closed and drained of nothing.
	ev, open := <-ch
	require.False(t, open, "expected closed channel, got %v", ev)
}

func TestEmitterDoesNotBlockOnFullSubscriber(t *testing.T) {
	e := NewEmitter()
	_, cancel := e.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			e.Emit(EventMessageReceived, nil)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("emit blocked on a stalled subscriber")
	}
}
