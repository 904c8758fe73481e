// Package notification provides the event broadcaster for live subscribers.
package notification

import (
	"sync"
	"time"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"
)

// Event types.
const (
	EventState         = "state"
	EventVoiceActive   = "voice_active"
	EventHistoryUpdate = "history_update"
	EventPauseState    = "pause_state"
)

// DefaultBufferSize is the per-subscriber channel capacity.
const DefaultBufferSize = 256

// Event is a single notification delivered to subscribers.
type Event struct {
	SequenceNo uint64    `json:"seq"`
	Type       string    `json:"type"`
	Data       any       `json:"data"`
	Time       time.Time `json:"time"`
}

// Subscription is a subscriber's handle. Events arrive on C until the
// subscription is removed, at which point C is closed.
type Subscription struct {
	ID string
	C  <-chan Event
}

// subscription represents a subscriber's subscription.
type subscription struct {
	id string
	ch chan Event
}

// Broadcaster fans events out to subscribers without ever blocking the
// publisher. A subscriber whose buffer is full is dropped.
type Broadcaster struct {
	mu            sync.Mutex
	subscriptions map[string]*subscription
	sequenceNo    uint64
	bufferSize    int
	closed        bool
}

// NewBroadcaster creates a new broadcaster.
func NewBroadcaster(bufferSize int) *Broadcaster {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Broadcaster{
		subscriptions: make(map[string]*subscription),
		bufferSize:    bufferSize,
	}
}

// Subscribe registers a subscriber. The first event on the returned channel
// is a state event carrying the result of snapshot, which runs under the
// broadcaster lock so no event published after it can be missed.
// Publishers must not hold locks that snapshot acquires.
func (b *Broadcaster) Subscribe(snapshot func() any) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscription{
		id: uuid.New().String(),
		ch: make(chan Event, b.bufferSize),
	}
	if b.closed {
		close(sub.ch)
		return &Subscription{ID: sub.id, C: sub.ch}
	}

	var data any
	if snapshot != nil {
		data = snapshot()
	}
	sub.ch <- b.nextLocked(EventState, data)
	b.subscriptions[sub.id] = sub

	zlog.Debug().Msgf("notification: subscriber added: id=%s total=%d", sub.id, len(b.subscriptions))
	return &Subscription{ID: sub.id, C: sub.ch}
}

// Publish sends an event to every subscriber.
func (b *Broadcaster) Publish(eventType string, data any) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	ev := b.nextLocked(eventType, data)
	for id, sub := range b.subscriptions {
		select {
		case sub.ch <- ev:
		default:
			delete(b.subscriptions, id)
			close(sub.ch)
			zlog.Warn().Msgf("notification: slow subscriber dropped: id=%s", id)
		}
	}
}

// Unsubscribe removes a subscription. Unknown ids are ignored.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subscriptions[id]; ok {
		delete(b.subscriptions, id)
		close(sub.ch)
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscriptions)
}

// Close removes all subscriptions. Later publishes are discarded.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, sub := range b.subscriptions {
		delete(b.subscriptions, id)
		close(sub.ch)
	}
	b.closed = true
}

func (b *Broadcaster) nextLocked(eventType string, data any) Event {
	b.sequenceNo++
	return Event{
		SequenceNo: b.sequenceNo,
		Type:       eventType,
		Data:       data,
		Time:       time.Now(),
	}
}
