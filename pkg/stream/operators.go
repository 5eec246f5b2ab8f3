package stream

// StreamFunc adapts a subscribe function to the Stream interface.
type StreamFunc[T any] func(fn func(T)) Subscription

// Subscribe implements Stream.
func (f StreamFunc[T]) Subscribe(fn func(T)) Subscription {
	return f(fn)
}

// Map returns a stream emitting fn(v) for every v emitted by src.
func Map[T, U any](src Stream[T], fn func(T) U) Stream[U] {
	return StreamFunc[U](func(observer func(U)) Subscription {
		return src.Subscribe(func(v T) {
			observer(fn(v))
		})
	})
}

// Filter returns a stream emitting only the events of src for which keep returns true.
func Filter[T any](src Stream[T], keep func(T) bool) Stream[T] {
	return StreamFunc[T](func(observer func(T)) Subscription {
		return src.Subscribe(func(v T) {
			if keep(v) {
				observer(v)
			}
		})
	})
}

// Merge returns a stream emitting the events of every source as they arrive.
// Nil sources are skipped.
func Merge[T any](sources ...Stream[T]) Stream[T] {
	return StreamFunc[T](func(observer func(T)) Subscription {
		var bag Bag
		for _, src := range sources {
			if src == nil {
				continue
			}
			bag.Add(src.Subscribe(observer))
		}
		return SubscriptionFunc(bag.Cancel)
	})
}

// Prepend returns a stream that emits v to each new subscriber before
// forwarding the events of src.
func Prepend[T any](src Stream[T], v T) Stream[T] {
	return StreamFunc[T](func(observer func(T)) Subscription {
		observer(v)
		return src.Subscribe(observer)
	})
}
