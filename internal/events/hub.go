package events

import (
	"context"
	"sync"
	"time"
)

type Kind string

const (
	KindLine          Kind = "line"
	KindFix           Kind = "fix"
	KindDop           Kind = "dop"
	KindTelemetry     Kind = "telemetry"
	KindSatellites    Kind = "satellites"
	KindCommandSent   Kind = "command_sent"
	KindCommandResent Kind = "command_resent"
	KindCommandAcked  Kind = "command_acked"
)

// Event is a notification for consumers outside the ingestion core (web UI,
// MQTT, recorders). Payload is a value copy owned by the receiver.
type Event struct {
	Kind    Kind      `json:"kind"`
	Time    time.Time `json:"time"`
	Line    string    `json:"line,omitempty"`
	Payload any       `json:"payload,omitempty"`
}

// Hub fans events out to subscribers. Publish never blocks: a subscriber whose
// buffer is full misses the event.
//
// The last telemetry and satellites events are replayed to new subscribers so
// they have something to render immediately.
type Hub struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	last   map[Kind]Event

	dropped uint64
}

func NewHub() *Hub {
	return &Hub{
		subs: make(map[int]chan Event),
		last: make(map[Kind]Event),
	}
}

func (h *Hub) Subscribe(buffer int) (int, <-chan Event) {
	if h == nil {
		return 0, nil
	}
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	replay := make([]Event, 0, 2)
	for _, k := range []Kind{KindTelemetry, KindSatellites} {
		if ev, ok := h.last[k]; ok {
			replay = append(replay, ev)
		}
	}
	h.mu.Unlock()
	for _, ev := range replay {
		select {
		case ch <- ev:
		default:
		}
	}
	return id, ch
}

func (h *Hub) Unsubscribe(id int) {
	if h == nil {
		return
	}
	h.mu.Lock()
	ch, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
		close(ch)
	}
	h.mu.Unlock()
}

func (h *Hub) Publish(ev Event) {
	if h == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	h.mu.Lock()
	if ev.Kind == KindTelemetry || ev.Kind == KindSatellites {
		h.last[ev.Kind] = ev
	}
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.dropped++
		}
	}
	h.mu.Unlock()
}

// Dropped counts events lost to full subscriber buffers.
func (h *Hub) Dropped() uint64 {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dropped
}

// Subscriber is the consumer side of a Hub.
type Subscriber interface {
	Subscribe(buffer int) (int, <-chan Event)
	Unsubscribe(id int)
}

// Consume calls fn for every event until ctx is done or the subscription is
// closed. fn runs on the calling goroutine.
func Consume(ctx context.Context, sub Subscriber, buffer int, fn func(Event)) error {
	id, ch := sub.Subscribe(buffer)
	defer sub.Unsubscribe(id)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			fn(ev)
		}
	}
}
