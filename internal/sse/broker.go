// Package sse implements a Server-Sent Events broker for operation, tool
// and inbox updates.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	TypeOperationCompleted = "operation.completed"
	TypeOperationFailed    = "operation.failed"
	TypeToolConfirmed      = "tool.confirmed"
	TypeInboxSuggestion    = "inbox.suggestion"
	TypeInboxFailed        = "inbox.failed"
	TypeInboxChanged       = "inbox.changed"
)

// Event represents an SSE event to broadcast. An empty ID is filled with a
// fresh UUID when the event is published.
type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data any    `json:"data"`
}

// OperationEvent describes one finished router call.
type OperationEvent struct {
	Operation  string `json:"operation"`
	Remote     bool   `json:"remote"`
	DurationMS int64  `json:"durationMs"`
	Error      string `json:"error,omitempty"`
}

type inboxEventReq struct {
	kind string
	data any
}

// Broker manages SSE client connections and broadcasts events.
//
// Concurrency model: a single internal event loop (goroutine) owns mutable state
// (clients + inbox throttle timestamp). Public methods communicate with this loop
// through channels, so no mutexes are required.
type Broker struct {
	inboxMin time.Duration

	subscribeCh   chan chan []byte
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	inboxEventCh  chan inboxEventReq
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a new SSE broker. inboxThrottle bounds how often the
// aggregate inbox.changed event is emitted.
func NewBroker(inboxThrottle time.Duration) *Broker {
	if inboxThrottle <= 0 {
		inboxThrottle = 2 * time.Second
	}

	b := &Broker{
		inboxMin:      inboxThrottle,
		subscribeCh:   make(chan chan []byte),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		inboxEventCh:  make(chan inboxEventReq, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

// Format renders event in the text/event-stream wire format.
func Format(event Event) ([]byte, error) {
	payload, err := json.Marshal(event.Data)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("id: %s\nevent: %s\ndata: %s\n\n", event.ID, event.Type, payload)), nil
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]struct{})
	var lastInbox time.Time

	broadcast := func(event Event) {
		if event.ID == "" {
			event.ID = uuid.NewString()
		}
		raw, err := Format(event)
		if err != nil {
			return
		}

		for ch := range clients {
			select {
			case ch <- raw:
			default:
				// Client buffer full; skip to avoid blocking broker loop.
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case ch := <-b.subscribeCh:
			clients[ch] = struct{}{}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			broadcast(event)

		case req := <-b.inboxEventCh:
			switch req.kind {
			case TypeInboxSuggestion, TypeInboxFailed:
				broadcast(Event{Type: req.kind, Data: req.data})
			default:
				continue
			}

			now := time.Now()
			if now.Sub(lastInbox) >= b.inboxMin {
				lastInbox = now
				broadcast(Event{Type: TypeInboxChanged, Data: map[string]string{}})
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close gracefully stops broker loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a new client and returns its channel.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- ch:
	case <-b.stopped:
		close(ch)
	}

	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to all connected clients.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// PublishOperation publishes the outcome of one router call.
func (b *Broker) PublishOperation(ev OperationEvent) {
	typ := TypeOperationCompleted
	if ev.Error != "" {
		typ = TypeOperationFailed
	}
	b.Publish(Event{Type: typ, Data: ev})
}

// PublishInboxEvent publishes an inbox result (kind is TypeInboxSuggestion
// or TypeInboxFailed) and a throttled inbox.changed event.
func (b *Broker) PublishInboxEvent(kind string, data any) {
	if b.closed.Load() {
		return
	}
	select {
	case b.inboxEventCh <- inboxEventReq{kind: kind, data: data}:
	case <-b.stopped:
	}
}

// ServeHTTP is the SSE endpoint handler (GET /api/events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
