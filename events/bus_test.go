package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
	return Event{}
}

func TestBus_FanOut(t *testing.T) {
	bus := NewBus()
	a, cancelA := bus.Subscribe(4)
	defer cancelA()
	b, cancelB := bus.Subscribe(4)
	defer cancelB()

	bus.Publish(Event{Topic: LoggedIn})

	assert.Equal(t, LoggedIn, recv(t, a).Topic)
	ev := recv(t, b)
	assert.Equal(t, LoggedIn, ev.Topic)
	assert.False(t, ev.At.IsZero())
}

func TestBus_PublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		bus.Publish(Event{Topic: FocusGained})
		bus.Publish(Event{Topic: FocusGained})
		bus.Publish(Event{Topic: FocusGained})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked")
	}
	assert.Len(t, ch, 1)
}

func TestBus_SessionTransitionsAreNeverDropped(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(2)
	defer cancel()

	bus.Publish(Event{Topic: CartUpdated})
	bus.Publish(Event{Topic: FocusGained})
	bus.Publish(Event{Topic: LoggedOut})
	bus.Publish(Event{Topic: CartUpdated})

	require.Len(t, ch, 2)
	assert.Equal(t, FocusGained, recv(t, ch).Topic)
	assert.Equal(t, LoggedOut, recv(t, ch).Topic)
}

func TestTopicTransition(t *testing.T) {
	for _, topic := range []Topic{LoggedIn, LoggedOut, SessionExpired} {
		assert.True(t, topic.Transition(), topic)
	}
	for _, topic := range []Topic{CartUpdated, VisibilityChanged, FocusGained, ProfileUpdated} {
		assert.False(t, topic.Transition(), topic)
	}
}

func TestBus_UnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(1)
	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)

	bus.Publish(Event{Topic: CartUpdated})
}

func TestBus_Close(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(1)
	bus.Close()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)

	late, _ := bus.Subscribe(1)
	_, ok = <-late
	assert.False(t, ok)
}
