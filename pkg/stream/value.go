package stream

import "sync/atomic"

// Value is a last-value-cached observable bound to a Serial executor.
//
// Get may be called from any goroutine. Set must only be called from a
// function running on the executor. Subscribers receive the current value
// first and then every change, all on the executor.
type Value[T any] struct {
	exec      *Serial
	current   atomic.Pointer[T]
	equal     func(a, b T) bool
	observers []*observer[T]
}

// NewValue returns a Value holding initial. Every Set is published.
func NewValue[T any](exec *Serial, initial T) *Value[T] {
	v := &Value[T]{exec: exec}
	v.current.Store(&initial)
	return v
}

// NewValueFunc returns a Value that suppresses a Set when equal reports the
// new value as unchanged.
func NewValueFunc[T any](exec *Serial, initial T, equal func(a, b T) bool) *Value[T] {
	v := NewValue(exec, initial)
	v.equal = equal
	return v
}

// NewComparableValue returns a Value that only publishes actual changes.
func NewComparableValue[T comparable](exec *Serial, initial T) *Value[T] {
	return NewValueFunc(exec, initial, func(a, b T) bool { return a == b })
}

// Get returns the latest value.
func (v *Value[T]) Get() T {
	return *v.current.Load()
}

// Set stores x and notifies observers. It reports whether x was published.
func (v *Value[T]) Set(x T) bool {
	if v.equal != nil && v.equal(v.Get(), x) {
		return false
	}
	v.current.Store(&x)

	observers := v.observers
	for _, o := range observers {
		if o.active.Load() {
			o.fn(x)
		}
	}
	return true
}

// Subscribe implements Stream. Registration and the delivery of the current
// value happen on the executor, so no change can slip between them.
func (v *Value[T]) Subscribe(fn func(T)) Subscription {
	o := &observer[T]{fn: fn}
	o.active.Store(true)

	v.exec.Do(func() {
		if !o.active.Load() {
			return
		}
		observers := make([]*observer[T], len(v.observers), len(v.observers)+1)
		copy(observers, v.observers)
		v.observers = append(observers, o)
		fn(v.Get())
	})

	return SubscriptionFunc(func() {
		o.active.Store(false)
		v.exec.Do(func() {
			observers := make([]*observer[T], 0, len(v.observers))
			for _, existing := range v.observers {
				if existing != o {
					observers = append(observers, existing)
				}
			}
			v.observers = observers
		})
	})
}
