package batches

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/go-batches/pkg/stream"
)

// trigger names what caused a request.
type trigger string

const (
	triggerInitial  trigger = "initial"
	triggerReload   trigger = "reload"
	triggerLoadNext trigger = "load_next"
)

type request struct {
	id         ulid.ULID
	trigger    trigger
	generation uint64
}

// flight is the single fetch currently outstanding.
type flight struct {
	request
	cursor  Cursor
	cancel  context.CancelFunc
	started time.Time
}

// Source manages a list of items loaded in batches.
//
// All state transitions and observer callbacks run serialized on the source's
// executor; see package stream for the delivery model.
type Source[T any] struct {
	name    string
	seed    []T
	initial Cursor
	fetcher Fetcher[T]
	merge   MergeFunc[T]
	logger  zerolog.Logger
	spawn   func(fn func())

	exec        stream.Serial
	items       *stream.Value[[]T]
	isLoading   *stream.Value[bool]
	isCompleted *stream.Value[bool]
	err         *stream.Value[error]

	reload   *stream.Signal[struct{}]
	loadNext *stream.Signal[struct{}]
	subs     stream.Bag

	ctx    context.Context
	cancel context.CancelFunc

	// Owned by the executor.
	cursor     Cursor
	generation uint64
	queue      []request
	inFlight   *flight
	closed     bool
}

// New creates a source that starts at initial and loads batches with fetcher.
// The first batch is requested before New returns.
func New[T any](cfg Config[T], initial Cursor, fetcher Fetcher[T]) (*Source[T], error) {
	if fetcher == nil {
		return nil, ErrNilFetch
	}
	if initial == nil {
		return nil, ErrNilCursor
	}
	if cfg.Input.LoadNext == nil {
		return nil, ErrNilLoadNext
	}
	cfg.applyDefaults()

	seed := slices.Clone(cfg.Items)

	s := &Source[T]{
		name:     cfg.Name,
		seed:     seed,
		initial:  initial,
		fetcher:  fetcher,
		merge:    cfg.Merge,
		spawn:    cfg.spawn,
		logger:   cfg.Logger.With().Str("source", cfg.Name).Str("cursor_kind", string(KindOf(initial))).Logger(),
		reload:   stream.NewSignal[struct{}](),
		loadNext: stream.NewSignal[struct{}](),
		cursor:   initial,
	}
	s.items = stream.NewValue(&s.exec, seed)
	s.isLoading = stream.NewComparableValue(&s.exec, false)
	s.isCompleted = stream.NewComparableValue(&s.exec, false)
	s.err = stream.NewValueFunc(&s.exec, error(nil), func(a, b error) bool {
		return a == nil && b == nil
	})
	s.ctx, s.cancel = context.WithCancel(context.Background())
	itemsGauge.WithLabelValues(s.name).Set(float64(len(seed)))

	loadNexts := stream.Map(stream.Merge(cfg.Input.LoadNext, s.loadNext), func(struct{}) trigger {
		return triggerLoadNext
	})
	reloads := stream.Map(stream.Merge(cfg.Input.Reload, s.reload), func(struct{}) trigger {
		return triggerReload
	})
	requests := stream.Prepend(stream.Merge(loadNexts, reloads), triggerInitial)

	s.subs.Add(requests.Subscribe(func(t trigger) {
		s.exec.Do(func() { s.handle(t) })
	}))

	return s, nil
}

// NewPaged creates a page-numbered source starting at initialPage.
func NewPaged[T any](cfg Config[T], initialPage int, loadPage PageFunc[T]) (*Source[T], error) {
	if loadPage == nil {
		return nil, ErrNilFetch
	}
	return New[T](cfg, Page(initialPage), loadPage)
}

// NewTokened creates a token-continued source. initialToken is usually nil.
func NewTokened[T any](cfg Config[T], initialToken []byte, loadToken TokenFunc[T]) (*Source[T], error) {
	if loadToken == nil {
		return nil, ErrNilFetch
	}
	return New[T](cfg, Token(initialToken), loadToken)
}

// Reload resets the items to the seed list and requests the first batch again.
func (s *Source[T]) Reload() {
	s.reload.Send(struct{}{})
}

// LoadNext requests the next batch. It is ignored once the source is completed.
func (s *Source[T]) LoadNext() {
	s.loadNext.Send(struct{}{})
}

// SubscribeItems delivers the current items and then every change.
// Observers must not modify the slices they receive.
func (s *Source[T]) SubscribeItems(fn func([]T)) stream.Subscription {
	return s.items.Subscribe(fn)
}

// SubscribeIsLoading delivers the current loading flag and then every change.
func (s *Source[T]) SubscribeIsLoading(fn func(bool)) stream.Subscription {
	return s.isLoading.Subscribe(fn)
}

// SubscribeIsCompleted delivers the current completion flag and then every change.
func (s *Source[T]) SubscribeIsCompleted(fn func(bool)) stream.Subscription {
	return s.isCompleted.Subscribe(fn)
}

// SubscribeError delivers the last fetch error (or nil) and then every change.
func (s *Source[T]) SubscribeError(fn func(error)) stream.Subscription {
	return s.err.Subscribe(fn)
}

// Items returns a copy of the items loaded so far.
func (s *Source[T]) Items() []T {
	return slices.Clone(s.items.Get())
}

// IsLoading reports whether a fetch is outstanding or queued.
func (s *Source[T]) IsLoading() bool {
	return s.isLoading.Get()
}

// IsCompleted reports whether the fetcher signalled the end of the data.
func (s *Source[T]) IsCompleted() bool {
	return s.isCompleted.Get()
}

// Err returns the error of the most recent fetch, or nil if it succeeded.
func (s *Source[T]) Err() error {
	return s.err.Get()
}

// Name returns the configured source name.
func (s *Source[T]) Name() string {
	return s.name
}

// Close releases the input subscriptions, cancels any outstanding fetch and
// clears the loading flag. Results arriving after Close are dropped.
func (s *Source[T]) Close() {
	s.subs.Cancel()
	s.exec.Do(func() {
		if s.closed {
			return
		}
		s.closed = true
		s.queue = nil
		if s.inFlight != nil {
			s.inFlight.cancel()
			s.inFlight = nil
		}
		s.cancel()
		s.isLoading.Set(false)
		s.logger.Debug().Msg("Source closed")
	})
}

// handle accepts a request on the executor.
func (s *Source[T]) handle(t trigger) {
	if s.closed {
		return
	}

	switch t {
	case triggerInitial, triggerReload:
		s.generation++
		// Requests queued behind the superseded generation are dropped and
		// the outstanding fetch, if any, is cancelled. Its result is
		// discarded when it arrives.
		s.queue = s.queue[:0]
		if s.inFlight != nil {
			s.inFlight.cancel()
		}
		if t == triggerReload {
			s.reset()
		}
	case triggerLoadNext:
		if s.isCompleted.Get() {
			requestsIgnoredTotal.WithLabelValues(s.name).Inc()
			s.logger.Debug().Msg("Load next ignored, source completed")
			return
		}
	}

	req := request{
		id:         ulid.Make(),
		trigger:    t,
		generation: s.generation,
	}
	s.queue = append(s.queue, req)
	requestsTotal.WithLabelValues(s.name, string(t)).Inc()

	s.isLoading.Set(true)
	s.dispatch()
}

// reset restores the seed list and the initial cursor. The reset is published
// before the reload's loading flag.
func (s *Source[T]) reset() {
	s.cursor = s.initial
	s.items.Set(s.seed)
	s.isCompleted.Set(false)
	itemsGauge.WithLabelValues(s.name).Set(float64(len(s.seed)))
}

// dispatch starts the next queued request unless a fetch is outstanding, and
// clears the loading flag once nothing is left to do.
func (s *Source[T]) dispatch() {
	for s.inFlight == nil && len(s.queue) > 0 {
		req := s.queue[0]
		s.queue = s.queue[1:]

		if req.trigger == triggerLoadNext && s.isCompleted.Get() {
			requestsIgnoredTotal.WithLabelValues(s.name).Inc()
			s.logger.Debug().Str("request_id", req.id.String()).Msg("Queued load next dropped, source completed")
			continue
		}
		s.start(req)
	}

	if s.inFlight == nil {
		s.isLoading.Set(false)
	}
}

func (s *Source[T]) start(req request) {
	ctx, cancel := context.WithCancel(s.ctx)
	fl := &flight{
		request: req,
		cursor:  s.cursor,
		cancel:  cancel,
		started: time.Now(),
	}
	s.inFlight = fl

	s.logger.Debug().
		Str("request_id", req.id.String()).
		Str("trigger", string(req.trigger)).
		Str("cursor", fl.cursor.String()).
		Msg("Fetching batch")

	s.spawn(func() {
		batch, err := s.fetcher.Fetch(ctx, fl.cursor)
		cancel()
		s.exec.Do(func() { s.settle(fl, batch, err) })
	})
}

// settle applies a fetch result on the executor.
func (s *Source[T]) settle(fl *flight, batch Batch[T], err error) {
	duration := time.Since(fl.started)
	fetchDuration.WithLabelValues(s.name).Observe(duration.Seconds())

	if s.inFlight == fl {
		s.inFlight = nil
	}
	if s.closed {
		return
	}

	if fl.generation != s.generation {
		staleResultsTotal.WithLabelValues(s.name).Inc()
		s.logger.Debug().
			Str("request_id", fl.id.String()).
			Str("cursor", fl.cursor.String()).
			Msg("Discarding result superseded by reload")
		s.dispatch()
		return
	}

	if err != nil {
		fetchErrorsTotal.WithLabelValues(s.name).Inc()
		s.logger.Warn().
			Err(err).
			Str("request_id", fl.id.String()).
			Str("cursor", fl.cursor.String()).
			Dur("duration", duration).
			Msg("Batch fetch failed")
		s.err.Set(err)
		s.dispatch()
		return
	}

	switch batch.Kind {
	case BatchCompleted:
		s.isCompleted.Set(true)
	case BatchItems, BatchItemsWithToken:
		nextCursor := next(fl.cursor, batch)
		merged := s.merge(s.items.Get(), batch.Elements)
		s.cursor = nextCursor
		s.items.Set(merged)
		itemsGauge.WithLabelValues(s.name).Set(float64(len(merged)))
	default:
		panic(fmt.Sprintf("batches: unknown batch kind %q", batch.Kind))
	}
	s.err.Set(nil)

	s.logger.Debug().
		Str("request_id", fl.id.String()).
		Str("kind", string(batch.Kind)).
		Int("fetched", len(batch.Elements)).
		Dur("duration", duration).
		Msg("Batch applied")

	s.dispatch()
}
