package broadcast

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// EventKind is the SSE `event:` field value (spec.md §6.3).
type EventKind string

const (
	EventMarketData  EventKind = "market-data"
	EventOrderUpdate EventKind = "order-update"
	EventAccount     EventKind = "account"
	EventSystem      EventKind = "system"
	EventError       EventKind = "error"
	EventKeepAlive   EventKind = "keepalive"
	EventPerformance EventKind = "performance"
)

// Event is one ring-buffer entry. ID is assigned by the broadcaster in
// publish order.
type Event struct {
	ID    uint64
	Kind  EventKind
	Data  any
	RetryMs int
}

// Format renders e in the wire shape spec.md §6.3 specifies.
func (e Event) Format() (string, error) {
	body, err := json.Marshal(e.Data)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "id: %d\n", e.ID)
	fmt.Fprintf(&b, "event: %s\n", e.Kind)
	fmt.Fprintf(&b, "data: %s\n", body)
	if e.RetryMs > 0 {
		fmt.Fprintf(&b, "retry: %d\n", e.RetryMs)
	}
	b.WriteString("\n")
	return b.String(), nil
}

// subscriber holds one SSE client's delivery channel.
type subscriber struct {
	ch     chan Event
	closed bool
}

// EventBroadcaster is an SSE-shaped fan-out independent of EngineBridge's
// callback subscriptions (spec.md §4.12): a ring buffer of the last N
// events plus per-subscription replay-by-last_id, grounded on the
// fan-out-to-subscribers shape in
// tytsxai-exchange-platform's market-data broadcaster (other_examples)
// generalized onto a ring buffer with ids instead of an unbounded slice.
type EventBroadcaster struct {
	mu         sync.Mutex
	ring       []Event
	capacity   int
	nextID     uint64
	keepAlive  time.Duration
	subs       map[string]*subscriber

	nc      *nats.Conn
	subject string
}

// NewEventBroadcaster builds a broadcaster retaining the last capacity
// events, synthesizing KeepAlive events at keepAlive intervals when > 0.
func NewEventBroadcaster(capacity int, keepAlive time.Duration) *EventBroadcaster {
	if capacity <= 0 {
		capacity = 256
	}
	return &EventBroadcaster{
		capacity:  capacity,
		keepAlive: keepAlive,
		subs:      make(map[string]*subscriber),
	}
}

// SetExternalPublisher configures an optional NATS sink: every Publish
// after this call also republishes the event's JSON payload to subject,
// mirroring the teacher's publish-to-subject pattern for MarketData and
// ExecutionReport (execution_service.go, feed_handler.go). A nil nc
// disables external publish again.
func (b *EventBroadcaster) SetExternalPublisher(nc *nats.Conn, subject string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nc = nc
	b.subject = subject
}

// publishExternal best-effort republishes evt to the configured NATS
// subject. Failures are swallowed: the SSE ring buffer and in-process
// subscribers remain the source of truth, NATS is a secondary sink.
func (b *EventBroadcaster) publishExternal(evt Event) {
	b.mu.Lock()
	nc, subject := b.nc, b.subject
	b.mu.Unlock()
	if nc == nil || subject == "" {
		return
	}
	data, err := json.Marshal(evt.Data)
	if err != nil {
		return
	}
	_ = nc.Publish(subject+"."+string(evt.Kind), data)
}

// Publish assigns the next id to data/kind, stores it in the ring, and
// delivers it to every live subscriber (non-blocking; a full
// subscriber channel drops the event for that subscriber only, mirroring
// spec.md §5's "slow callbacks are isolated by the queue").
func (b *EventBroadcaster) Publish(kind EventKind, data any) Event {
	b.mu.Lock()
	b.nextID++
	evt := Event{ID: b.nextID, Kind: kind, Data: data}
	b.ring = append(b.ring, evt)
	if len(b.ring) > b.capacity {
		b.ring = b.ring[len(b.ring)-b.capacity:]
	}
	subs := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- evt:
		default:
		}
	}
	b.publishExternal(evt)
	return evt
}

// Subscribe registers a new SSE client, optionally replaying every
// buffered event with id > lastID before live events arrive. Returns the
// subscription id (a uuid, per SPEC_FULL.md) and its delivery channel.
func (b *EventBroadcaster) Subscribe(lastID uint64, bufSize int) (string, <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if bufSize <= 0 {
		bufSize = 64
	}
	id := uuid.NewString()
	sub := &subscriber{ch: make(chan Event, bufSize)}
	b.subs[id] = sub

	for _, evt := range b.ring {
		if evt.ID > lastID {
			select {
			case sub.ch <- evt:
			default:
			}
		}
	}
	return id, sub.ch
}

// Unsubscribe removes a subscription and closes its channel.
func (b *EventBroadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.subs[id]
	if !ok {
		return
	}
	if !sub.closed {
		close(sub.ch)
		sub.closed = true
	}
	delete(b.subs, id)
}

// RunKeepAlive publishes a KeepAlive event every configured interval
// until stop is closed. No-op if keepAlive <= 0.
func (b *EventBroadcaster) RunKeepAlive(stop <-chan struct{}) {
	if b.keepAlive <= 0 {
		return
	}
	ticker := time.NewTicker(b.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			b.Publish(EventKeepAlive, struct{}{})
		}
	}
}
