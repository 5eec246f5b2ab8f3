package batches

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/go-batches/pkg/logging"
	"github.com/Sternrassler/go-batches/pkg/stream"
)

// Input carries the external control streams of a Source.
type Input struct {
	// Reload resets the list and loads the first batch again. Optional.
	Reload stream.Stream[struct{}]

	// LoadNext requests the batch following the current cursor. Required;
	// use stream.Empty when the source is only driven through Source.LoadNext.
	LoadNext stream.Stream[struct{}]
}

// Config holds the source configuration.
type Config[T any] struct {
	// Name labels logs and metrics (default: "default").
	Name string

	// Items is the seed list shown before the first batch and after every reload.
	Items []T

	// Input holds the external control streams.
	Input Input

	// Merge combines accumulated and fetched items (default: Append).
	Merge MergeFunc[T]

	// Logger overrides the component logger.
	Logger *zerolog.Logger

	// spawn launches fetch goroutines (default: go fn()).
	spawn func(fn func())
}

// DefaultConfig returns a configuration with no seed items, no external
// control streams and the append strategy.
func DefaultConfig[T any](name string) Config[T] {
	return Config[T]{
		Name:  name,
		Input: Input{LoadNext: stream.Empty[struct{}]()},
		Merge: Append[T](),
	}
}

func (c *Config[T]) applyDefaults() {
	if c.Name == "" {
		c.Name = "default"
	}
	if c.Merge == nil {
		c.Merge = Append[T]()
	}
	if c.Logger == nil {
		logger := logging.NewLogger("batches")
		c.Logger = &logger
	}
	if c.spawn == nil {
		c.spawn = func(fn func()) { go fn() }
	}
}

// Fetcher loads the batch addressed by a cursor. Implementations must
// eventually return for every call and report failures through the error.
type Fetcher[T any] interface {
	Fetch(ctx context.Context, cursor Cursor) (Batch[T], error)
}

// FetchFunc adapts a function to the Fetcher interface.
type FetchFunc[T any] func(ctx context.Context, cursor Cursor) (Batch[T], error)

// Fetch implements Fetcher.
func (f FetchFunc[T]) Fetch(ctx context.Context, cursor Cursor) (Batch[T], error) {
	return f(ctx, cursor)
}

// PageFunc loads a numbered page.
type PageFunc[T any] func(ctx context.Context, page int) (Batch[T], error)

// Fetch implements Fetcher. It panics with *CursorMismatchError for non-page cursors.
func (f PageFunc[T]) Fetch(ctx context.Context, cursor Cursor) (Batch[T], error) {
	page, ok := cursor.(Page)
	if !ok {
		panic(&CursorMismatchError{Want: KindPage, Got: cursor})
	}
	return f(ctx, int(page))
}

// TokenFunc loads the batch addressed by an opaque token (nil for the first batch).
type TokenFunc[T any] func(ctx context.Context, token []byte) (Batch[T], error)

// Fetch implements Fetcher. It panics with *CursorMismatchError for non-token cursors.
func (f TokenFunc[T]) Fetch(ctx context.Context, cursor Cursor) (Batch[T], error) {
	token, ok := cursor.(Token)
	if !ok {
		panic(&CursorMismatchError{Want: KindToken, Got: cursor})
	}
	return f(ctx, []byte(token))
}
