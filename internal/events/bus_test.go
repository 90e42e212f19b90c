package events

import (
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestNewEvent(t *testing.T) {
	e := New(TypeAgentRegistered, map[string]any{"agent_id": "agent_1"})

	if !strings.HasPrefix(e.ID, "evt_") {
		t.Errorf("expected evt_ id prefix, got %s", e.ID)
	}
	if e.Type != TypeAgentRegistered {
		t.Errorf("expected type %s, got %s", TypeAgentRegistered, e.Type)
	}
	if e.Time.IsZero() {
		t.Error("expected timestamp to be set")
	}
	if e.Payload["agent_id"] != "agent_1" {
		t.Errorf("expected payload to carry agent_id, got %v", e.Payload)
	}
}

func TestPublishReachesAllSubscribers(t *testing.T) {
	b := NewBus(testLogger())

	ch1, cancel1 := b.Subscribe(4)
	defer cancel1()
	ch2, cancel2 := b.Subscribe(4)
	defer cancel2()

	b.Publish(New(TypeTaskCoordinated, nil))

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case e := <-ch:
			if e.Type != TypeTaskCoordinated {
				t.Errorf("subscriber %d: expected %s, got %s", i, TypeTaskCoordinated, e.Type)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d: event never arrived", i)
		}
	}
}

func TestPublishDropsWhenBufferFull(t *testing.T) {
	b := NewBus(testLogger())

	ch, cancel := b.Subscribe(1)
	defer cancel()

	b.Publish(New(TypeAgentRegistered, nil))
	b.Publish(New(TypeAgentUnregistered, nil))

	if got := b.Dropped(); got != 1 {
		t.Errorf("expected 1 dropped delivery, got %d", got)
	}

	e := <-ch
	if e.Type != TypeAgentRegistered {
		t.Errorf("expected first event retained, got %s", e.Type)
	}
}

func TestCancelRemovesSubscriber(t *testing.T) {
	b := NewBus(testLogger())

	ch, cancel := b.Subscribe(1)
	if b.SubscriberCount() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", b.SubscriberCount())
	}

	cancel()
	cancel() // second call is safe

	if b.SubscriberCount() != 0 {
		t.Errorf("expected 0 subscribers after cancel, got %d", b.SubscriberCount())
	}

	if _, open := <-ch; open {
		t.Error("expected channel closed after cancel")
	}

	// Publishing with no subscribers is a no-op
	b.Publish(New(TypeEnvironmentUpdated, nil))
}

func TestBusConcurrentPublishAndSubscribe(t *testing.T) {
	b := NewBus(testLogger())
	done := make(chan bool, 20)

	for i := 0; i < 10; i++ {
		go func() {
			_, cancel := b.Subscribe(2)
			cancel()
			done <- true
		}()
	}
	for i := 0; i < 10; i++ {
		go func() {
			b.Publish(New(TypeGenerationCompleted, nil))
			done <- true
		}()
	}

	for i := 0; i < 20; i++ {
		<-done
	}
}
