// Package notify fans graph mutations out to observers (the visualization
// websocket, a future audit log). Delivery is fire-and-forget: a slow or
// disconnected observer loses events rather than stalling the mutation path.
package notify

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"knowledge-engine/backend/pkg/logger"
)

// EventType enumerates the committed mutations observers can see
type EventType string

const (
	EventNodeAdded       EventType = "node_added"
	EventNodeUpdated     EventType = "node_updated"
	EventNodeRemoved     EventType = "node_removed"
	EventRelationAdded   EventType = "relation_added"
	EventRelationRemoved EventType = "relation_removed"
	EventContextChanged  EventType = "context_changed"
)

// Event is one committed mutation
type Event struct {
	Type      EventType       `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// Subscription is one observer's event feed. Events() is closed on Cancel or
// notifier shutdown.
type Subscription struct {
	ID     string
	events chan Event
	cancel func()
	once   sync.Once
}

// Events returns the receive side of the feed
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Cancel detaches the subscription and closes its feed
func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
}

// Notifier is the fan-out hub. Publish never blocks: each subscriber has a
// buffered channel and events are dropped per-subscriber when the buffer is
// full.
type Notifier struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscription
	buffer      int
	closed      bool
	logger      *zap.Logger

	dropped atomic.Uint64 // total events dropped across subscribers
}

// New creates a notifier whose subscribers each buffer up to buffer events
// (<= 0 means 256).
func New(buffer int) *Notifier {
	if buffer <= 0 {
		buffer = 256
	}
	return &Notifier{
		subscribers: make(map[string]*Subscription),
		buffer:      buffer,
		logger:      logger.Get(),
	}
}

// Subscribe registers a new observer
func (n *Notifier) Subscribe() *Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := uuid.New().String()
	sub := &Subscription{
		ID:     id,
		events: make(chan Event, n.buffer),
	}
	sub.cancel = func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if _, ok := n.subscribers[id]; ok {
			delete(n.subscribers, id)
			close(sub.events)
		}
	}

	if n.closed {
		close(sub.events)
		return sub
	}
	n.subscribers[id] = sub
	n.logger.Debug("observer subscribed", zap.String("id", id))
	return sub
}

// Publish marshals payload and delivers one event to every subscriber without
// blocking. Marshal failures are logged and the event is dropped entirely;
// full subscriber buffers drop the event for that subscriber only.
func (n *Notifier) Publish(eventType EventType, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		n.logger.Warn("event payload not serializable",
			zap.String("type", string(eventType)), zap.Error(err))
		return
	}
	event := Event{Type: eventType, Payload: data, Timestamp: time.Now().UTC()}

	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return
	}
	for id, sub := range n.subscribers {
		select {
		case sub.events <- event:
		default:
			n.dropped.Add(1)
			n.logger.Warn("observer buffer full, event dropped",
				zap.String("subscriber", id), zap.String("type", string(eventType)))
		}
	}
}

// Dropped returns the total number of events dropped on full buffers
func (n *Notifier) Dropped() uint64 {
	return n.dropped.Load()
}

// SubscriberCount returns the number of attached observers
func (n *Notifier) SubscriberCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subscribers)
}

// Close detaches every subscriber and closes their feeds
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	for id, sub := range n.subscribers {
		close(sub.events)
		delete(n.subscribers, id)
	}
}
