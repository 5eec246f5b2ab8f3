// Package testutil provides testing utilities for go-batches.
package testutil

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"
)

// Paths served by MockUpstream.
const (
	PagesPath  = "/pages"
	TokensPath = "/tokens"
)

// MockResponse defines a canned response for a custom path.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockUpstream is a configurable paginated JSON server for testing.
//
// It serves the same item list two ways:
//
//   - GET /pages?page=N with 1-based pages and an X-Pages header
//   - GET /tokens?cursor=<base64url> where the token is the decimal offset
//     of the next item, announced in X-Next-Cursor until the list ends
type MockUpstream struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc

	items    []any
	pageSize int
	delay    time.Duration
	failures []int

	requestCount      int
	lastRequestHeader http.Header
	lastQuery         string
}

// NewMockUpstream creates a mock upstream serving items pageSize at a time.
func NewMockUpstream(items []any, pageSize int) *MockUpstream {
	if pageSize <= 0 {
		pageSize = 10
	}

	mock := &MockUpstream{
		handlers: make(map[string]http.HandlerFunc),
		items:    items,
		pageSize: pageSize,
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.requestCount++
		mock.lastRequestHeader = r.Header.Clone()
		mock.lastQuery = r.URL.RawQuery
		delay := mock.delay
		var fail int
		if len(mock.failures) > 0 {
			fail, mock.failures = mock.failures[0], mock.failures[1:]
		}
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}

		if fail != 0 {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(fail)
			w.Write([]byte(`{"error": "injected failure"}`))
			return
		}

		if exists {
			handler(w, r)
			return
		}

		switch r.URL.Path {
		case PagesPath:
			mock.servePage(w, r)
		case TokensPath:
			mock.serveToken(w, r)
		default:
			http.NotFound(w, r)
		}
	}))

	return mock
}

// NewItems returns n JSON-friendly items {"id": 1} .. {"id": n}.
func NewItems(n int) []any {
	items := make([]any, n)
	for i := range items {
		items[i] = map[string]int{"id": i + 1}
	}
	return items
}

// URL returns the mock server URL.
func (m *MockUpstream) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockUpstream) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockUpstream) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount = 0
	m.lastRequestHeader = nil
	m.lastQuery = ""
}

// SetItems replaces the served items.
func (m *MockUpstream) SetItems(items []any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = items
}

// SetDelay delays every response by d.
func (m *MockUpstream) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// FailNext makes the next len(statuses) requests fail with the given status codes.
func (m *MockUpstream) FailNext(statuses ...int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, statuses...)
}

// SetHandler sets a custom handler for a specific path.
func (m *MockUpstream) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a canned response for a path.
func (m *MockUpstream) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}

		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// RequestCount returns the number of requests made to the server.
func (m *MockUpstream) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requestCount
}

// LastRequestHeader returns the headers of the most recent request.
func (m *MockUpstream) LastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastRequestHeader
}

// LastQuery returns the raw query of the most recent request.
func (m *MockUpstream) LastQuery() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastQuery
}

// TotalPages returns the page count of the /pages endpoint.
func (m *MockUpstream) TotalPages() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.totalPages()
}

func (m *MockUpstream) totalPages() int {
	return (len(m.items) + m.pageSize - 1) / m.pageSize
}

// window returns the items in [from, from+pageSize).
func (m *MockUpstream) window(from int) []any {
	if from >= len(m.items) {
		return []any{}
	}
	to := min(from+m.pageSize, len(m.items))
	return m.items[from:to]
}

func (m *MockUpstream) servePage(w http.ResponseWriter, r *http.Request) {
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		http.Error(w, `{"error": "invalid page"}`, http.StatusBadRequest)
		return
	}

	m.mu.RLock()
	total := m.totalPages()
	body := m.window((page - 1) * m.pageSize)
	m.mu.RUnlock()

	w.Header().Set("X-Pages", strconv.Itoa(total))
	if page > total {
		http.Error(w, `{"error": "page not found"}`, http.StatusNotFound)
		return
	}

	writeJSON(w, body)
}

func (m *MockUpstream) serveToken(w http.ResponseWriter, r *http.Request) {
	offset := 0
	if raw := r.URL.Query().Get("cursor"); raw != "" {
		decoded, err := base64.RawURLEncoding.DecodeString(raw)
		if err == nil {
			offset, err = strconv.Atoi(string(decoded))
		}
		if err != nil || offset < 0 {
			http.Error(w, `{"error": "invalid cursor"}`, http.StatusBadRequest)
			return
		}
	}

	m.mu.RLock()
	body := m.window(offset)
	next := offset + len(body)
	more := next < len(m.items)
	m.mu.RUnlock()

	if more {
		w.Header().Set("X-Next-Cursor", base64.RawURLEncoding.EncodeToString([]byte(strconv.Itoa(next))))
	}

	writeJSON(w, body)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}
