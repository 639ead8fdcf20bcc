// Package notify delivers values to an ordered list of subscribers.
package notify

import (
	"sync"

	"github.com/google/uuid"
)

type subscriber[T any] struct {
	id uuid.UUID
	fn func(T)
}

// A one-to-many broadcast of values of type T.
//
// Subscribers are invoked synchronously, in subscription order, on the publishing goroutine. The
// subscriber list is copied before delivery, so handlers may subscribe or unsubscribe without
// deadlocking; such changes take effect from the next Publish.
//
// The zero value is ready to use.
type Feed[T any] struct {
	mu   sync.Mutex
	subs []subscriber[T]
}

// Registers fn and returns the subscription's identifier.
func (f *Feed[T]) Subscribe(fn func(T)) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := uuid.New()
	f.subs = append(f.subs, subscriber[T]{id: id, fn: fn})
	return id
}

// Removes a subscription. Reports whether it was still registered, so unsubscribing twice is
// harmless.
func (f *Feed[T]) Unsubscribe(id uuid.UUID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i, s := range f.subs {
		if s.id == id {
			f.subs = append(f.subs[:i:i], f.subs[i+1:]...)
			return true
		}
	}
	return false
}

// Delivers v to every current subscriber and returns how many received it.
func (f *Feed[T]) Publish(v T) int {
	f.mu.Lock()
	subs := append([]subscriber[T](nil), f.subs...)
	f.mu.Unlock()

	for _, s := range subs {
		s.fn(v)
	}
	return len(subs)
}

// Returns the number of current subscribers.
func (f *Feed[T]) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.subs)
}
