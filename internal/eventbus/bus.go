// Package eventbus fans lifecycle events out to in-process subscribers.
package eventbus

import (
	"sync"
	"time"
)

// Event is one lifecycle signal: a commitment was created, a reminder went
// out, a job failed. The app logs them and tests assert on them.
type Event struct {
	Kind Kind
	Time time.Time
	Data any
}

// Bus delivers events without ever blocking the publisher. A subscriber whose
// buffer is full misses the event.
type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// Publish sends on b when it is non-nil. Components take the bus as optional.
func Publish(b Bus, kind Kind, data any) {
	if b != nil {
		b.Publish(Event{Kind: kind, Data: data})
	}
}

const defaultBuffer = 8

func New() Bus { return &memBus{subs: map[*chan Event]struct{}{}} }

// memBus sends while holding the read lock; unsubscribing takes the write lock
// before closing, so a send never races a close.
type memBus struct {
	mu   sync.RWMutex
	subs map[*chan Event]struct{}
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case *ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	ch := make(chan Event, buffer)
	key := &ch

	b.mu.Lock()
	b.subs[key] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, key)
			close(ch)
			b.mu.Unlock()
		})
	}
}
