package notify

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNotifier_PublishReachesAllSubscribers(t *testing.T) {
	n := New(8)
	defer n.Close()

	a := n.Subscribe()
	b := n.Subscribe()

	n.Publish(EventNodeAdded, map[string]string{"uri": "concept://ws/x"})

	for _, sub := range []*Subscription{a, b} {
		select {
		case event := <-sub.Events():
			if event.Type != EventNodeAdded {
				t.Errorf("event type = %s, want node_added", event.Type)
			}
			var payload map[string]string
			if err := json.Unmarshal(event.Payload, &payload); err != nil {
				t.Fatalf("payload not decodable: %v", err)
			}
			if payload["uri"] != "concept://ws/x" {
				t.Errorf("payload uri = %s", payload["uri"])
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive the event")
		}
	}
}

func TestNotifier_SlowSubscriberDropsNotBlocks(t *testing.T) {
	n := New(1)
	defer n.Close()

	slow := n.Subscribe()

	done := make(chan struct{})
	go func() {
		// second publish overflows the buffer of 1; it must not block
		n.Publish(EventNodeAdded, "first")
		n.Publish(EventNodeUpdated, "second")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber buffer")
	}

	event := <-slow.Events()
	if event.Type != EventNodeAdded {
		t.Errorf("surviving event = %s, want the first one", event.Type)
	}
	if n.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", n.Dropped())
	}
}

func TestNotifier_CancelDetaches(t *testing.T) {
	n := New(8)
	defer n.Close()

	sub := n.Subscribe()
	if n.SubscriberCount() != 1 {
		t.Fatalf("SubscriberCount() = %d, want 1", n.SubscriberCount())
	}

	sub.Cancel()
	sub.Cancel() // idempotent

	if n.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount() after cancel = %d, want 0", n.SubscriberCount())
	}
	if _, ok := <-sub.Events(); ok {
		t.Error("events channel should be closed after cancel")
	}
}

func TestNotifier_CloseClosesFeeds(t *testing.T) {
	n := New(8)
	sub := n.Subscribe()

	n.Close()

	if _, ok := <-sub.Events(); ok {
		t.Error("events channel should be closed after notifier shutdown")
	}

	// publishing and subscribing after close must not panic
	n.Publish(EventNodeAdded, "late")
	late := n.Subscribe()
	if _, ok := <-late.Events(); ok {
		t.Error("post-close subscription should be born closed")
	}
}
