package auth

import (
	"sync"

	"welfare/internal/domain/session"
)

// Broker fans auth events out to subscribers.
type Broker struct {
	mu   sync.RWMutex
	next int
	subs map[int]func(session.Event)
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[int]func(session.Event))}
}

// Subscribe registers fn and returns its unsubscribe function.
// Calling the returned function more than once is safe.
func (b *Broker) Subscribe(fn func(session.Event)) func() {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Publish delivers ev to every current subscriber on the caller's goroutine.
// Subscribers run outside the lock so they may publish or unsubscribe.
func (b *Broker) Publish(ev session.Event) {
	b.mu.RLock()
	fns := make([]func(session.Event), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Len returns the number of subscribers.
func (b *Broker) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
