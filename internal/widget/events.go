package widget

import (
	"sync"
	"time"
)

const (
	SyncStatusSaved  = "saved"
	SyncStatusFailed = "failed"

	syncEventDefaultBuffer = 8
)

// SyncEvent reports the outcome of one background configuration save.
type SyncEvent struct {
	OwnerID    string    `json:"-"`
	WidgetID   string    `json:"widgetId"`
	Status     string    `json:"status"`
	OccurredAt time.Time `json:"occurredAt"`
	Error      string    `json:"error,omitempty"`
}

type syncSubscriber struct {
	ownerID string
	events  chan SyncEvent
}

// SyncEventBroadcaster fans out sync events to the subscribers of the affected owner.
type SyncEventBroadcaster struct {
	mutex        sync.Mutex
	nextID       int64
	subscribers  map[int64]syncSubscriber
	closed       bool
	bufferLength int
}

func NewSyncEventBroadcaster() *SyncEventBroadcaster {
	return &SyncEventBroadcaster{
		subscribers:  make(map[int64]syncSubscriber),
		bufferLength: syncEventDefaultBuffer,
	}
}

// Subscribe returns a subscription receiving the events of ownerID, or nil once the broadcaster is closed.
func (broadcaster *SyncEventBroadcaster) Subscribe(ownerID string) *SyncEventSubscription {
	if broadcaster == nil {
		return nil
	}
	broadcaster.mutex.Lock()
	defer broadcaster.mutex.Unlock()
	if broadcaster.closed {
		return nil
	}
	subscriptionID := broadcaster.nextID
	broadcaster.nextID++
	eventChannel := make(chan SyncEvent, broadcaster.bufferLength)
	broadcaster.subscribers[subscriptionID] = syncSubscriber{ownerID: ownerID, events: eventChannel}
	return &SyncEventSubscription{
		broadcaster: broadcaster,
		identifier:  subscriptionID,
		events:      eventChannel,
	}
}

// Broadcast delivers the event without blocking; slow subscribers miss it.
func (broadcaster *SyncEventBroadcaster) Broadcast(event SyncEvent) {
	if broadcaster == nil {
		return
	}
	broadcaster.mutex.Lock()
	defer broadcaster.mutex.Unlock()
	if broadcaster.closed {
		return
	}
	for _, subscriber := range broadcaster.subscribers {
		if subscriber.ownerID != event.OwnerID {
			continue
		}
		select {
		case subscriber.events <- event:
		default:
		}
	}
}

// Close closes every subscriber channel and rejects new subscriptions.
func (broadcaster *SyncEventBroadcaster) Close() {
	if broadcaster == nil {
		return
	}
	broadcaster.mutex.Lock()
	defer broadcaster.mutex.Unlock()
	if broadcaster.closed {
		return
	}
	broadcaster.closed = true
	for identifier, subscriber := range broadcaster.subscribers {
		close(subscriber.events)
		delete(broadcaster.subscribers, identifier)
	}
}

func (broadcaster *SyncEventBroadcaster) remove(identifier int64) {
	broadcaster.mutex.Lock()
	defer broadcaster.mutex.Unlock()
	subscriber, exists := broadcaster.subscribers[identifier]
	if exists {
		delete(broadcaster.subscribers, identifier)
		close(subscriber.events)
	}
}

// SyncEventSubscription is a single subscriber to sync events.
type SyncEventSubscription struct {
	broadcaster *SyncEventBroadcaster
	identifier  int64
	events      chan SyncEvent
	once        sync.Once
}

func (subscription *SyncEventSubscription) Events() <-chan SyncEvent {
	if subscription == nil {
		return nil
	}
	return subscription.events
}

func (subscription *SyncEventSubscription) Close() {
	if subscription == nil {
		return
	}
	subscription.once.Do(func() {
		if subscription.broadcaster != nil {
			subscription.broadcaster.remove(subscription.identifier)
		}
	})
}
