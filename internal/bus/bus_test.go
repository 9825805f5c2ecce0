package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("engine.", 10)
	defer unsub()

	b.Publish(Event{Kind: "engine.state_changed", Timestamp: time.Now(), Payload: "test"})

	select {
	case evt := <-ch:
		if evt.Kind != "engine.state_changed" {
			t.Errorf("got kind %q, want engine.state_changed", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("sync.", 10)
	defer unsub()

	b.Publish(Event{Kind: "engine.state_changed"})
	b.Publish(Event{Kind: "sync.completed"})

	select {
	case evt := <-ch:
		if evt.Kind != "sync.completed" {
			t.Errorf("got kind %q, want sync.completed", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// Ensure engine event was not delivered.
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected: no more events.
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("engine.", 10)
	unsub()

	b.Publish(Event{Kind: "engine.state_changed"})

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected.
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("test.", 1)
	defer unsub()

	// Fill buffer.
	b.Publish(Event{Kind: "test.one"})
	// This should be dropped (non-blocking).
	b.Publish(Event{Kind: "test.two"})

	evt := <-ch
	if evt.Kind != "test.one" {
		t.Errorf("got %q, want test.one", evt.Kind)
	}
	if b.Dropped() != 1 {
		t.Errorf("dropped = %d, want 1", b.Dropped())
	}
}

func TestPublishStampsEvent(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("conversation.", 1)
	defer unsub()

	b.Publish(Event{Kind: ConversationDiscovered, AppID: "whatsapp"})

	evt := <-ch
	if evt.ID == "" {
		t.Error("event id not set")
	}
	if evt.Timestamp.IsZero() {
		t.Error("event timestamp not set")
	}
	if evt.AppID != "whatsapp" {
		t.Errorf("app = %q, want whatsapp", evt.AppID)
	}
}

func TestMultipleSubscribersFanOut(t *testing.T) {
	b := New()
	slow, unsubSlow := b.Subscribe("message.", 1)
	defer unsubSlow()
	fast, unsubFast := b.Subscribe("message.", 10)
	defer unsubFast()

	for i := 0; i < 5; i++ {
		b.Publish(NewEvent(MessageReceived, "telegram", i))
	}

	if len(fast) != 5 {
		t.Errorf("fast subscriber got %d events, want 5", len(fast))
	}
	if len(slow) != 1 {
		t.Errorf("slow subscriber got %d events, want 1", len(slow))
	}
}

func TestUnsubscribeTwice(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe("x.", 1)
	unsub()
	unsub()
}

func TestSubscribeQueueKeepsEveryEventInOrder(t *testing.T) {
	b := New()
	ch, unsub := b.SubscribeQueue("conversation.", "message.")

	const n = 5000
	for i := range n {
		kind := "message.received"
		if i%10 == 0 {
			kind = "conversation.updated"
		}
		b.Publish(Event{Kind: kind, Payload: i})
	}
	b.Publish(Event{Kind: "engine.state_changed"})
	unsub()

	got := 0
	for evt := range ch {
		if evt.Payload.(int) != got {
			t.Fatalf("event %d has payload %v, order lost", got, evt.Payload)
		}
		got++
	}
	if got != n {
		t.Errorf("received %d events, want %d", got, n)
	}
	if b.Dropped() != 0 {
		t.Errorf("dropped = %d, want 0", b.Dropped())
	}
}

func TestSubscribeQueueStopsAfterUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.SubscribeQueue("")
	unsub()
	unsub()
	b.Publish(Event{Kind: "late"})

	select {
	case evt, ok := <-ch:
		if ok {
			t.Errorf("received %+v after unsubscribe", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after unsubscribe")
	}
}
