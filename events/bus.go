// Package events is the in-process signal bus between the presentation layer,
// the token store and the cart synchronizer.
package events

import (
	"sync"
	"time"
)

type Topic string

const (
	LoggedIn          Topic = "userLoggedIn"
	LoggedOut         Topic = "userLoggedOut"
	SessionExpired    Topic = "sessionExpired"
	CartUpdated       Topic = "cartUpdated"
	VisibilityChanged Topic = "visibilityChanged"
	FocusGained       Topic = "focusGained"
	ProfileUpdated    Topic = "profileUpdated"
)

// Transition reports whether t changes who is signed in. Those events are
// never dropped by the bus.
func (t Topic) Transition() bool {
	return t == LoggedIn || t == LoggedOut || t == SessionExpired
}

// Event is one signal. Visible is only meaningful for VisibilityChanged.
// Source names the publisher so a component can skip its own echoes.
type Event struct {
	Topic   Topic
	Visible bool
	Source  string
	At      time.Time
}

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the event, unless it is a session transition,
// which takes the place of the oldest queued event instead.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe returns a channel of events and a func that detaches it.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Publish delivers ev to every subscriber that has room.
func (b *Bus) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
			continue
		default:
		}
		if !ev.Topic.Transition() {
			continue
		}
		for sent := false; !sent; {
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
				sent = true
			default:
			}
		}
	}
}

// Close detaches every subscriber.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
