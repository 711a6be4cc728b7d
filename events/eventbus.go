package events

import (
	"sync"

	"github.com/google/uuid"
	"github.com/mezonai/mmnchain/logx"
)

// SubscriberBuffer is the channel capacity of each subscription.
const SubscriberBuffer = 50

type SubscriberID string

// EventBus fans chain events out to subscribers. Publishing never blocks:
// a subscriber with a full channel misses the event. A nil *EventBus is a
// valid no-op bus.
type EventBus struct {
	mu   sync.RWMutex
	subs map[SubscriberID]chan ChainEvent
}

func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[SubscriberID]chan ChainEvent)}
}

// Subscribe registers a new buffered channel. The caller must Unsubscribe
// to release it. A nil bus hands back an already closed channel.
func (eb *EventBus) Subscribe() (SubscriberID, chan ChainEvent) {
	if eb == nil {
		ch := make(chan ChainEvent)
		close(ch)
		return "", ch
	}
	id := SubscriberID(uuid.Must(uuid.NewV7()).String())
	ch := make(chan ChainEvent, SubscriberBuffer)

	eb.mu.Lock()
	eb.subs[id] = ch
	n := len(eb.subs)
	eb.mu.Unlock()

	logx.Info("EVENTBUS", "subscribed id=", id, " subscribers=", n)
	return id, ch
}

// Unsubscribe closes the subscription's channel. It reports false for an
// unknown id.
func (eb *EventBus) Unsubscribe(id SubscriberID) bool {
	if eb == nil {
		return false
	}
	eb.mu.Lock()
	ch, ok := eb.subs[id]
	if ok {
		delete(eb.subs, id)
		close(ch)
	}
	eb.mu.Unlock()

	if !ok {
		logx.Warn("EVENTBUS", "unsubscribe of unknown id=", id)
	}
	return ok
}

func (eb *EventBus) Publish(event ChainEvent) {
	if eb == nil {
		return
	}
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	for id, ch := range eb.subs {
		select {
		case ch <- event:
		default:
			logx.Warn("EVENTBUS", "dropped ", event.Type(), " for full subscriber id=", id)
		}
	}
	logx.Debug("EVENTBUS", event.Type(), " block=", event.BlockHash().Short(), " subscribers=", len(eb.subs))
}

// SubscriberCount returns the number of active subscriptions.
func (eb *EventBus) SubscriberCount() int {
	if eb == nil {
		return 0
	}
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subs)
}
