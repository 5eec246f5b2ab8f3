package stream

import (
	"sync"
	"sync/atomic"
)

// Stream is a source of events that observers can subscribe to.
type Stream[T any] interface {
	// Subscribe registers fn to receive every subsequent event.
	Subscribe(fn func(T)) Subscription
}

// Subscription is a handle to a registered observer.
type Subscription interface {
	// Cancel stops delivery. Calling it more than once is a no-op.
	Cancel()
}

// SubscriptionFunc adapts a function to the Subscription interface.
// The function is invoked at most once.
func SubscriptionFunc(fn func()) Subscription {
	return &funcSubscription{fn: fn}
}

type funcSubscription struct {
	once sync.Once
	fn   func()
}

func (s *funcSubscription) Cancel() {
	s.once.Do(s.fn)
}

// Bag holds subscriptions that share a lifetime.
type Bag struct {
	mu   sync.Mutex
	subs []Subscription
}

// Add stores sub so that it is cancelled together with the rest of the bag.
func (b *Bag) Add(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, sub)
}

// Cancel cancels every stored subscription and empties the bag.
func (b *Bag) Cancel() {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, sub := range subs {
		sub.Cancel()
	}
}

// Signal is a passthrough stream: events sent to it are delivered synchronously
// to the observers registered at the time of sending. The zero value is ready to use.
type Signal[T any] struct {
	mu        sync.Mutex
	observers []*observer[T]
}

type observer[T any] struct {
	fn     func(T)
	active atomic.Bool
}

// NewSignal returns an empty signal.
func NewSignal[T any]() *Signal[T] {
	return &Signal[T]{}
}

// Send delivers v to every current observer on the calling goroutine.
func (s *Signal[T]) Send(v T) {
	s.mu.Lock()
	observers := s.observers
	s.mu.Unlock()

	for _, o := range observers {
		if o.active.Load() {
			o.fn(v)
		}
	}
}

// Subscribe implements Stream.
func (s *Signal[T]) Subscribe(fn func(T)) Subscription {
	o := &observer[T]{fn: fn}
	o.active.Store(true)

	s.mu.Lock()
	// Copy on write so Send can iterate without holding the lock.
	observers := make([]*observer[T], len(s.observers), len(s.observers)+1)
	copy(observers, s.observers)
	s.observers = append(observers, o)
	s.mu.Unlock()

	return SubscriptionFunc(func() {
		o.active.Store(false)
		s.remove(o)
	})
}

func (s *Signal[T]) remove(target *observer[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()

	observers := make([]*observer[T], 0, len(s.observers))
	for _, o := range s.observers {
		if o != target {
			observers = append(observers, o)
		}
	}
	s.observers = observers
}

// Empty returns a stream that never emits.
func Empty[T any]() Stream[T] {
	return emptyStream[T]{}
}

type emptyStream[T any] struct{}

func (emptyStream[T]) Subscribe(func(T)) Subscription {
	return SubscriptionFunc(func() {})
}
