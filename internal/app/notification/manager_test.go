package notification

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(ch <-chan Event) []Event {
	var out []Event
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestBroadcaster_SnapshotFirstThenLiveInOrder(t *testing.T) {
	b := NewBroadcaster(8)

	sub := b.Subscribe(func() any { return map[string]any{"queued": 0} })
	b.Publish(EventVoiceActive, "a")
	b.Publish(EventHistoryUpdate, "b")
	b.Publish(EventPauseState, "c")

	events := drain(sub.C)
	require.Len(t, events, 4)
	assert.Equal(t, EventState, events[0].Type)
	assert.Equal(t, EventVoiceActive, events[1].Type)
	assert.Equal(t, EventHistoryUpdate, events[2].Type)
	assert.Equal(t, EventPauseState, events[3].Type)

	for i := 1; i < len(events); i++ {
		assert.Greater(t, events[i].SequenceNo, events[i-1].SequenceNo)
	}
}

func TestBroadcaster_DropsFullSubscriber(t *testing.T) {
	b := NewBroadcaster(2)

	slow := b.Subscribe(nil) // snapshot occupies one slot
	fast := b.Subscribe(nil)

	b.Publish(EventVoiceActive, 1)
	drain(fast.C)

	// slow is now full; this publish must not block and must drop it.
	b.Publish(EventVoiceActive, 2)
	assert.Equal(t, 1, b.SubscriberCount())

	events := drain(slow.C)
	assert.Len(t, events, 2)
	_, ok := <-slow.C
	assert.False(t, ok, "dropped subscriber channel must be closed")

	got := drain(fast.C)
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].Data)
}

func TestBroadcaster_UnsubscribeIsIdempotent(t *testing.T) {
	b := NewBroadcaster(0)
	sub := b.Subscribe(nil)
	assert.Equal(t, 1, b.SubscriberCount())

	b.Unsubscribe(sub.ID)
	b.Unsubscribe(sub.ID)
	b.Unsubscribe("unknown")
	assert.Equal(t, 0, b.SubscriberCount())

	drain(sub.C)
	_, ok := <-sub.C
	assert.False(t, ok)
}

func TestBroadcaster_Close(t *testing.T) {
	b := NewBroadcaster(4)
	sub := b.Subscribe(nil)

	b.Close()
	assert.Equal(t, 0, b.SubscriberCount())
	b.Publish(EventVoiceActive, nil)

	events := drain(sub.C)
	assert.Len(t, events, 1)

	late := b.Subscribe(nil)
	_, ok := <-late.C
	assert.False(t, ok)
}

func TestBroadcaster_SubscribeDuringPublishMissesNothing(t *testing.T) {
	const (
		publishes   = 1000
		subscribers = 100
	)
	b := NewBroadcaster(publishes + 1)

	// counter stands in for state that publishers commit before announcing.
	var (
		mu      sync.Mutex
		counter int
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < publishes; i++ {
			mu.Lock()
			counter++
			v := counter
			mu.Unlock()
			b.Publish(EventHistoryUpdate, v)
		}
	}()

	var subs []*Subscription
	for i := 0; i < subscribers; i++ {
		subs = append(subs, b.Subscribe(func() any {
			mu.Lock()
			defer mu.Unlock()
			return counter
		}))
	}
	<-done

	for _, sub := range subs {
		events := drain(sub.C)
		require.NotEmpty(t, events)
		require.Equal(t, EventState, events[0].Type)

		want := events[0].Data.(int) + 1
		for _, ev := range events[1:] {
			got := ev.Data.(int)
			// A value committed before the snapshot may still be announced after it.
			if got < want {
				continue
			}
			require.Equal(t, want, got, "subscriber %s missed an event", sub.ID)
			want++
		}
		assert.Equal(t, publishes+1, want, "subscriber %s missed trailing events", sub.ID)
	}
}

func TestBroadcaster_NilSnapshot(t *testing.T) {
	b := NewBroadcaster(1)
	sub := b.Subscribe(nil)

	events := drain(sub.C)
	require.Len(t, events, 1)
	assert.Equal(t, EventState, events[0].Type)
	assert.Nil(t, events[0].Data)
}
