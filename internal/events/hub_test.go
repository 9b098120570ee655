package events

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestHub_PublishFansOut(t *testing.T) {
	h := NewHub()
	_, a := h.Subscribe(4)
	_, b := h.Subscribe(4)

	h.Publish(Event{Kind: KindLine, Line: "$GPGGA"})
	for _, ch := range []<-chan Event{a, b} {
		select {
		case ev := <-ch:
			if ev.Kind != KindLine || ev.Line != "$GPGGA" || ev.Time.IsZero() {
				t.Fatalf("unexpected event %+v", ev)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber missed event")
		}
	}
}

func TestHub_SlowSubscriberDrops(t *testing.T) {
	h := NewHub()
	_, ch := h.Subscribe(1)
	for i := 0; i < 5; i++ {
		h.Publish(Event{Kind: KindLine})
	}
	if got := h.Dropped(); got != 4 {
		t.Fatalf("dropped=%d want 4", got)
	}
	if len(ch) != 1 {
		t.Fatalf("buffer len=%d", len(ch))
	}
}

func TestHub_ReplaysLatestSnapshotOnSubscribe(t *testing.T) {
	h := NewHub()
	h.Publish(Event{Kind: KindTelemetry, Payload: 1})
	h.Publish(Event{Kind: KindTelemetry, Payload: 2})
	h.Publish(Event{Kind: KindSatellites, Payload: "sats"})
	h.Publish(Event{Kind: KindLine, Line: "not replayed"})

	_, ch := h.Subscribe(4)
	first := <-ch
	second := <-ch
	if first.Kind != KindTelemetry || first.Payload != 2 {
		t.Fatalf("first replay=%+v", first)
	}
	if second.Kind != KindSatellites {
		t.Fatalf("second replay=%+v", second)
	}
	select {
	case ev := <-ch:
		t.Fatalf("unexpected extra event %+v", ev)
	default:
	}
}

func TestHub_UnsubscribeClosesChannel(t *testing.T) {
	h := NewHub()
	id, ch := h.Subscribe(1)
	h.Unsubscribe(id)
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel")
	}
	// Publishing after unsubscribe must not panic.
	h.Publish(Event{Kind: KindLine})
	h.Unsubscribe(id)
}

func TestHub_NilSafe(t *testing.T) {
	var h *Hub
	h.Publish(Event{Kind: KindLine})
	if h.Dropped() != 0 {
		t.Fatalf("nil hub dropped")
	}
}

func TestConsume(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan Event, 4)
	done := make(chan error, 1)
	go func() {
		done <- Consume(ctx, h, 4, func(ev Event) {
			select {
			case got <- ev:
			default:
			}
		})
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		h.Publish(Event{Kind: KindLine, Line: "$GPGGA"})
		select {
		case ev := <-got:
			if ev.Line != "$GPGGA" {
				t.Fatalf("event=%+v", ev)
			}
		case <-time.After(5 * time.Millisecond):
			if time.Now().After(deadline) {
				t.Fatalf("Consume never delivered")
			}
			continue
		}
		break
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v", err)
	}
}
