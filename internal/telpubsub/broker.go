// Package telpubsub fans published values out to live subscribers.
package telpubsub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrAlreadySubscribed is returned by Subscribe when the channel is already
// registered with the broker.
var ErrAlreadySubscribed = errors.New("already subscribed")

// Broker delivers published values to every subscriber whose allow func
// accepts them. Sends never block: if a subscriber's channel is full, the
// value is dropped for that subscriber and counted in its stats.
type Broker[T any] struct {
	mtx         sync.Mutex
	subscribers map[chan<- T]*subscriber[T]
	active      atomic.Bool
}

type subscriber[T any] struct {
	allow func(T) bool
	ch    chan<- T
	stats Stats
}

// NewBroker returns an empty broker.
func NewBroker[T any]() *Broker[T] {
	return &Broker[T]{
		subscribers: map[chan<- T]*subscriber[T]{},
	}
}

// Publish the value to all current subscribers.
func (b *Broker[T]) Publish(val T) {
	if !b.active.Load() { // optimization
		return
	}

	b.mtx.Lock()
	defer b.mtx.Unlock()

	for _, sub := range b.subscribers {
		if sub.allow != nil && !sub.allow(val) {
			sub.stats.Skips++
			continue
		}
		select {
		case sub.ch <- val:
			sub.stats.Sends++
		default:
			sub.stats.Drops++
		}
	}
}

// Subscribe registers ch to receive published values which pass allow. A nil
// allow func accepts every value. Subscribe blocks until the context is
// canceled, then unregisters ch and returns its final stats along with the
// context error. The channel is never closed by the broker.
func (b *Broker[T]) Subscribe(ctx context.Context, allow func(T) bool, ch chan<- T) (Stats, error) {
	if err := func() error {
		b.mtx.Lock()
		defer b.mtx.Unlock()

		if _, ok := b.subscribers[ch]; ok {
			return ErrAlreadySubscribed
		}

		b.subscribers[ch] = &subscriber[T]{allow: allow, ch: ch}
		b.active.Store(true)
		return nil
	}(); err != nil {
		return Stats{}, err
	}

	<-ctx.Done()

	b.mtx.Lock()
	defer b.mtx.Unlock()

	sub, ok := b.subscribers[ch]
	if !ok {
		return Stats{}, fmt.Errorf("not subscribed (programmer error)")
	}
	delete(b.subscribers, ch)
	b.active.Store(len(b.subscribers) > 0)

	return sub.stats, ctx.Err()
}

// Subscribers returns the number of currently registered subscribers.
func (b *Broker[T]) Subscribers() int {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return len(b.subscribers)
}

// Stats counts the outcome of publishes for a single subscriber.
type Stats struct {
	Skips uint64 `json:"skips"`
	Sends uint64 `json:"sends"`
	Drops uint64 `json:"drops"`
}

func (s Stats) String() string {
	return fmt.Sprintf("skips=%d sends=%d drops=%d", s.Skips, s.Sends, s.Drops)
}
