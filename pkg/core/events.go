package core

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event names pushed toward the host UI.
const (
	EventPeerConnecting   = "peer_connecting"
	EventPeerConnected    = "peer_connected"
	EventPeerDisconnected = "peer_disconnected"
	EventMessageReceived  = "message_received"
	EventError            = "error"
)

// Event is one push notification. Every event carries a unix-ms timestamp.
type Event struct {
	Name      string         `json:"event"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp int64          `json:"timestamp"`
}

// Emitter fans events out to every subscriber. Delivery is per-subscriber
// buffered and non-blocking: a subscriber that stops draining loses events
// rather than stalling the core.
type Emitter struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
}

// NewEmitter builds an emitter with no subscribers.
func NewEmitter() *Emitter {
	return &Emitter{subs: make(map[int]chan Event)}
}

// Subscribe registers a new subscriber and returns its channel plus a cancel
// function. buffer <= 0 gets a sane default.
func (e *Emitter) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.subs[id] = ch
	e.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.subs, id)
			e.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Emit stamps the event and delivers it to every current subscriber.
func (e *Emitter) Emit(name string, data map[string]any) {
	ev := Event{Name: name, Data: data, Timestamp: time.Now().UnixMilli()}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- ev:
		default:
			zap.L().Warn("event dropped, subscriber not draining", zap.String("event", name))
		}
	}
}
