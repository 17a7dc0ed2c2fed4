package realtime

import (
	"log/slog"
	"testing"
	"time"
)

func TestHub_ShouldSend_AllEvents(t *testing.T) {
	h := NewHub(slog.Default())
	c := &Client{sub: Subscription{AllEvents: true}}
	if !h.shouldSend(c, &Event{Type: EventConfirmed}) {
		t.Fatal("expected AllEvents client to receive every event")
	}
}

func TestHub_ShouldSend_FiltersByType(t *testing.T) {
	h := NewHub(slog.Default())
	c := &Client{sub: Subscription{EventTypes: []EventType{EventConfirmed}}}
	if !h.shouldSend(c, &Event{Type: EventConfirmed}) {
		t.Fatal("expected matching type to pass filter")
	}
	if h.shouldSend(c, &Event{Type: EventReverted}) {
		t.Fatal("expected non-matching type to be filtered")
	}
}

func TestHub_ShouldSend_FiltersByServiceID(t *testing.T) {
	h := NewHub(slog.Default())
	c := &Client{sub: Subscription{ServiceIDs: []string{"svc_1"}}}
	if !h.shouldSend(c, &Event{Type: EventConfirmed, ServiceID: "svc_1"}) {
		t.Fatal("expected matching service id to pass filter")
	}
	if h.shouldSend(c, &Event{Type: EventConfirmed, ServiceID: "svc_2"}) {
		t.Fatal("expected non-matching service id to be filtered")
	}
}

func TestHub_Broadcast_DropsWhenSaturated(t *testing.T) {
	h := NewHub(slog.Default())
	h.broadcast = make(chan *Event) // unbuffered, nobody reading
	done := make(chan struct{})
	go func() {
		h.Broadcast(&Event{Type: EventConfirmed})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Broadcast should not block when the channel is saturated")
	}
}
