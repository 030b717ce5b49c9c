package bus

import (
	"context"
	"testing"
	"time"
)

func TestInboundRoundTrip(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()

	mb.PublishInbound(InboundMessage{SenderID: "33600000000@s.whatsapp.net", Content: "bonjour"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := mb.ConsumeInbound(ctx)
	if !ok || msg.Content != "bonjour" {
		t.Fatalf("unexpected consume result: %+v %v", msg, ok)
	}
	if msg.ReplyTo() != "33600000000@s.whatsapp.net" {
		t.Fatalf("ReplyTo should fall back to sender, got %q", msg.ReplyTo())
	}
}

func TestEventsFanOut(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()

	a, cancelA := mb.SubscribeEvents()
	b, cancelB := mb.SubscribeEvents()
	defer cancelB()

	mb.PublishEvent(Event{Type: EventStatus, Data: "CONNECTING"})

	for name, ch := range map[string]<-chan Event{"a": a, "b": b} {
		select {
		case ev := <-ch:
			if ev.Type != EventStatus || ev.Data != "CONNECTING" || ev.At.IsZero() {
				t.Fatalf("subscriber %s got %+v", name, ev)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %s got nothing", name)
		}
	}

	cancelA()
	cancelA()
	if _, ok := <-a; ok {
		t.Fatalf("cancelled subscriber channel should be closed")
	}

	last, ok := mb.LastEvent(EventStatus)
	if !ok || last.Data != "CONNECTING" {
		t.Fatalf("LastEvent = %+v %v", last, ok)
	}
}

func TestPublishAfterCloseIsNoop(t *testing.T) {
	mb := NewMessageBus()
	mb.Close()
	mb.PublishInbound(InboundMessage{Content: "late"})
	mb.PublishEvent(Event{Type: EventReady})
	if _, ok := mb.ConsumeInbound(context.Background()); ok {
		t.Fatalf("closed bus must not deliver")
	}
}
