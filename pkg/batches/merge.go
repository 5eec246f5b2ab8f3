package batches

import "slices"

// MergeFunc combines the accumulated items with a freshly fetched batch.
// It must not mutate either argument and must not perform I/O.
type MergeFunc[T any] func(current, incoming []T) []T

// Append places incoming after current. It is the default strategy.
func Append[T any]() MergeFunc[T] {
	return func(current, incoming []T) []T {
		out := make([]T, 0, len(current)+len(incoming))
		out = append(out, current...)
		return append(out, incoming...)
	}
}

// Prepend places incoming before current.
func Prepend[T any]() MergeFunc[T] {
	return func(current, incoming []T) []T {
		out := make([]T, 0, len(current)+len(incoming))
		out = append(out, incoming...)
		return append(out, current...)
	}
}

// Reduce delegates to f. Both slices are clipped to their length, so an
// append inside f allocates instead of writing into shared backing arrays.
func Reduce[T any](f func(current, incoming []T) []T) MergeFunc[T] {
	return func(current, incoming []T) []T {
		return f(slices.Clip(current), slices.Clip(incoming))
	}
}
