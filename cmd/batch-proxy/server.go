package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/go-batches/pkg/batches"
	"github.com/Sternrassler/go-batches/pkg/cache"
	"github.com/Sternrassler/go-batches/pkg/fetch"
	"github.com/Sternrassler/go-batches/pkg/metrics"
	"github.com/Sternrassler/go-batches/pkg/stream"
)

// server exposes one batch source over HTTP.
type server struct {
	source *batches.Source[json.RawMessage]
	cached *fetch.Cached[json.RawMessage]
	redis  *cache.Manager
	logger zerolog.Logger
}

// snapshot is the JSON body of GET /items.
type snapshot struct {
	Source    string            `json:"source"`
	Items     []json.RawMessage `json:"items"`
	Count     int               `json:"count"`
	Loading   bool              `json:"loading"`
	Completed bool              `json:"completed"`
	Error     *string           `json:"error"`
}

// newServer builds the upstream fetcher, the cache tiers and the source.
// The source starts its initial load immediately.
func newServer(cfg proxyConfig, manager *cache.Manager, logger zerolog.Logger) (*server, error) {
	upstream := cfg.Upstream
	upstream.Logger = &logger

	var (
		fetcher batches.Fetcher[json.RawMessage]
		initial batches.Cursor
		err     error
	)
	switch cfg.Mode {
	case modeToken:
		fetcher, err = fetch.NewHTTPTokens[json.RawMessage](upstream)
		initial = batches.Token(nil)
	default:
		fetcher, err = fetch.NewHTTPPager[json.RawMessage](upstream)
		initial = batches.Page(cfg.First)
	}
	if err != nil {
		return nil, fmt.Errorf("create upstream fetcher: %w", err)
	}

	cacheCfg := cfg.Cache
	cacheCfg.Redis = manager
	cacheCfg.Logger = &logger
	cached, err := fetch.NewCached[json.RawMessage](fetcher, cacheCfg)
	if err != nil {
		return nil, fmt.Errorf("create batch cache: %w", err)
	}

	sourceCfg := batches.DefaultConfig[json.RawMessage](cacheCfg.Source)
	sourceCfg.Logger = &logger
	if cfg.Merge == "prepend" {
		sourceCfg.Merge = batches.Prepend[json.RawMessage]()
	}

	source, err := batches.New(sourceCfg, initial, batches.Fetcher[json.RawMessage](cached))
	if err != nil {
		return nil, fmt.Errorf("create source: %w", err)
	}

	return &server{
		source: source,
		cached: cached,
		redis:  manager,
		logger: logger,
	}, nil
}

// Close stops the source.
func (s *server) Close() {
	s.source.Close()
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)
	mux.HandleFunc("GET /ready", s.readyHandler)
	mux.HandleFunc("GET /items", s.itemsHandler)
	mux.HandleFunc("POST /reload", s.reloadHandler)
	mux.HandleFunc("POST /next", s.nextHandler)
	mux.HandleFunc("GET /events", s.eventsHandler)
	mux.Handle("GET /metrics", metrics.Handler())
	return s.withRequestID(mux)
}

// withRequestID tags every request with a ULID and logs it once served.
func (s *server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := ulid.Make().String()
		w.Header().Set("X-Request-ID", id)

		start := time.Now()
		next.ServeHTTP(w, r)

		s.logger.Debug().
			Str("request_id", id).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("Request served")
	})
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

func (s *server) readyHandler(w http.ResponseWriter, r *http.Request) {
	if s.redis != nil {
		if err := s.redis.Ping(r.Context()); err != nil {
			s.logger.Warn().Err(err).Msg("Readiness check failed")
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

func (s *server) snapshot() snapshot {
	items := s.source.Items()
	snap := snapshot{
		Source:    s.source.Name(),
		Items:     items,
		Count:     len(items),
		Loading:   s.source.IsLoading(),
		Completed: s.source.IsCompleted(),
		Error:     errorString(s.source.Err()),
	}
	if snap.Items == nil {
		snap.Items = []json.RawMessage{}
	}
	return snap
}

func (s *server) itemsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.snapshot())
}

func (s *server) reloadHandler(w http.ResponseWriter, r *http.Request) {
	// Purge first so the reload's first batch is not served from the old cache.
	if err := s.cached.Purge(r.Context()); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to purge batch cache before reload")
	}
	s.source.Reload()
	w.WriteHeader(http.StatusAccepted)
}

func (s *server) nextHandler(w http.ResponseWriter, r *http.Request) {
	s.source.LoadNext()
	w.WriteHeader(http.StatusAccepted)
}

// event is one server-sent event.
type event struct {
	name string
	data any
}

// eventQueue keeps the latest pending value of each event name without
// blocking the source. A slow client skips intermediate values; names are
// delivered in the order of their most recent change.
type eventQueue struct {
	mu     sync.Mutex
	order  []string
	latest map[string]any
	notify chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		latest: make(map[string]any),
		notify: make(chan struct{}, 1),
	}
}

func (q *eventQueue) push(e event) {
	q.mu.Lock()
	if _, pending := q.latest[e.name]; pending {
		q.order = slices.DeleteFunc(q.order, func(name string) bool { return name == e.name })
	}
	q.order = append(q.order, e.name)
	q.latest[e.name] = e.data
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *eventQueue) drain() []event {
	q.mu.Lock()
	defer q.mu.Unlock()
	events := make([]event, 0, len(q.order))
	for _, name := range q.order {
		events = append(events, event{name: name, data: q.latest[name]})
	}
	q.order = q.order[:0]
	clear(q.latest)
	return events
}

// eventsHandler streams changes of the four source fields as server-sent
// events named items, loading, completed and error. Changes that pile up
// between two writes collapse to the latest value per name.
func (s *server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	queue := newEventQueue()

	var subs stream.Bag
	defer subs.Cancel()
	subs.Add(s.source.SubscribeItems(func(items []json.RawMessage) {
		if items == nil {
			items = []json.RawMessage{}
		}
		queue.push(event{name: "items", data: items})
	}))
	subs.Add(s.source.SubscribeIsLoading(func(v bool) {
		queue.push(event{name: "loading", data: v})
	}))
	subs.Add(s.source.SubscribeIsCompleted(func(v bool) {
		queue.push(event{name: "completed", data: v})
	}))
	subs.Add(s.source.SubscribeError(func(err error) {
		queue.push(event{name: "error", data: errorString(err)})
	}))

	for {
		select {
		case <-r.Context().Done():
			return
		case <-queue.notify:
			for _, e := range queue.drain() {
				data, err := json.Marshal(e.data)
				if err != nil {
					s.logger.Warn().Err(err).Str("event", e.name).Msg("Failed to encode event")
					continue
				}
				if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.name, data); err != nil {
					return
				}
			}
			flusher.Flush()
		}
	}
}

func errorString(err error) *string {
	if err == nil {
		return nil
	}
	msg := err.Error()
	return &msg
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
