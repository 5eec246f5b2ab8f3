package main

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/go-batches/internal/testutil"
)

func TestHealthEndpoint(t *testing.T) {
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	healthHandler(w, req)

	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))
}

func TestDefaultConfig_FromEnv(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("UPSTREAM_URL", "http://upstream.test")
	t.Setenv("UPSTREAM_ENDPOINT", "/v1/orders")
	t.Setenv("USER_AGENT", "orders/2.0")
	t.Setenv("UPSTREAM_MODE", "token")
	t.Setenv("FIRST_PAGE", "0")
	t.Setenv("SOURCE_NAME", "orders")

	cfg := defaultConfig()

	assert.Equal(t, ":9999", cfg.Listen)
	assert.Equal(t, "http://upstream.test", cfg.Upstream.BaseURL)
	assert.Equal(t, "/v1/orders", cfg.Upstream.Endpoint)
	assert.Equal(t, "orders/2.0", cfg.Upstream.UserAgent)
	assert.Equal(t, modeToken, cfg.Mode)
	assert.Equal(t, 0, cfg.First)
	assert.Equal(t, "orders", cfg.Cache.Source)
	assert.NoError(t, cfg.validate())
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxy.yaml")
	yaml := `
listen: ":7070"
mode: token
merge: prepend
upstream:
  base_url: http://yaml.test
  endpoint: /feed
  timeout: 5s
cache:
  source: feed
  memory_size: 16
  memory_ttl: 30s
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg := defaultConfig()
	require.NoError(t, loadConfigFile(path, &cfg))

	assert.Equal(t, ":7070", cfg.Listen)
	assert.Equal(t, modeToken, cfg.Mode)
	assert.Equal(t, "prepend", cfg.Merge)
	assert.Equal(t, "http://yaml.test", cfg.Upstream.BaseURL)
	assert.Equal(t, "/feed", cfg.Upstream.Endpoint)
	assert.Equal(t, 5*time.Second, cfg.Upstream.Timeout)
	assert.Equal(t, "feed", cfg.Cache.Source)
	assert.Equal(t, 16, cfg.Cache.MemorySize)
	assert.Equal(t, 30*time.Second, cfg.Cache.MemoryTTL)
	assert.Equal(t, "debug", string(cfg.Log.Level))
	assert.NotEmpty(t, cfg.Upstream.UserAgent, "unset keys keep their defaults")

	assert.Error(t, loadConfigFile(filepath.Join(t.TempDir(), "missing.yaml"), &cfg))
}

func TestProxyConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*proxyConfig)
		wantErr bool
	}{
		{name: "defaults", modify: func(*proxyConfig) {}},
		{name: "bad mode", modify: func(c *proxyConfig) { c.Mode = "cursor" }, wantErr: true},
		{name: "bad merge", modify: func(c *proxyConfig) { c.Merge = "reduce" }, wantErr: true},
		{name: "no base url", modify: func(c *proxyConfig) { c.Upstream.BaseURL = "" }, wantErr: true},
		{name: "no user agent", modify: func(c *proxyConfig) { c.Upstream.UserAgent = "" }, wantErr: true},
		{name: "negative cache", modify: func(c *proxyConfig) { c.Cache.MemorySize = -1 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.modify(&cfg)
			err := cfg.validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRootCmd_RejectsInvalidFlags(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"--mode", "bogus", "--upstream-url", "http://localhost:1"})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mode")
}

// startProxy serves a proxy in front of mock and returns its URL.
func startProxy(t *testing.T, mock *testutil.MockUpstream, mode, endpoint string) string {
	t.Helper()

	cfg := defaultConfig()
	cfg.Mode = mode
	cfg.Upstream.BaseURL = mock.URL()
	cfg.Upstream.Endpoint = endpoint
	cfg.Upstream.UserAgent = "batch-proxy-test/1.0"
	cfg.Cache.Source = "test-" + mode
	require.NoError(t, cfg.validate())

	srv, err := newServer(cfg, nil, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(srv.Close)

	ts := httptest.NewServer(srv.routes())
	t.Cleanup(ts.Close)

	return ts.URL
}

func getSnapshot(t *testing.T, base string) snapshot {
	t.Helper()

	resp, err := http.Get(base + "/items")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	return snap
}

func post(t *testing.T, url string) {
	t.Helper()

	resp, err := http.Post(url, "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
}

// waitFor polls /items until cond holds.
func waitFor(t *testing.T, base string, cond func(snapshot) bool) snapshot {
	t.Helper()

	var last snapshot
	require.Eventually(t, func() bool {
		last = getSnapshot(t, base)
		return cond(last)
	}, 2*time.Second, 10*time.Millisecond, "last snapshot: %+v", last)
	return last
}

func settled(count int) func(snapshot) bool {
	return func(s snapshot) bool { return !s.Loading && s.Count == count }
}

func TestProxy_PageMode(t *testing.T) {
	mock := testutil.NewMockUpstream(testutil.NewItems(5), 2)
	defer mock.Close()

	base := startProxy(t, mock, modePage, testutil.PagesPath)

	snap := waitFor(t, base, settled(2))
	assert.Equal(t, "test-page", snap.Source)
	assert.JSONEq(t, `{"id":1}`, string(snap.Items[0]))
	assert.False(t, snap.Completed)
	assert.Nil(t, snap.Error)

	post(t, base+"/next")
	waitFor(t, base, settled(4))

	post(t, base+"/next")
	waitFor(t, base, settled(5))

	post(t, base+"/next")
	snap = waitFor(t, base, func(s snapshot) bool { return s.Completed && !s.Loading })
	assert.Equal(t, 5, snap.Count)

	// Ignored once completed.
	requests := mock.RequestCount()
	post(t, base+"/next")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, requests, mock.RequestCount())

	post(t, base+"/reload")
	snap = waitFor(t, base, settled(2))
	assert.False(t, snap.Completed)
	assert.Greater(t, mock.RequestCount(), requests, "reload bypasses the purged cache")
}

func TestProxy_TokenMode(t *testing.T) {
	mock := testutil.NewMockUpstream(testutil.NewItems(3), 2)
	defer mock.Close()

	base := startProxy(t, mock, modeToken, testutil.TokensPath)

	waitFor(t, base, settled(2))

	post(t, base+"/next")
	waitFor(t, base, settled(3))

	post(t, base+"/next")
	snap := waitFor(t, base, func(s snapshot) bool { return s.Completed })
	assert.Equal(t, 3, snap.Count)
	assert.Equal(t, 2, mock.RequestCount(), "the end token resolves without a request")
}

func TestProxy_ErrorIsReported(t *testing.T) {
	mock := testutil.NewMockUpstream(testutil.NewItems(4), 2)
	defer mock.Close()
	mock.FailNext(http.StatusInternalServerError)

	base := startProxy(t, mock, modePage, testutil.PagesPath)

	snap := waitFor(t, base, func(s snapshot) bool { return s.Error != nil && !s.Loading })
	assert.Contains(t, *snap.Error, "500")
	assert.Equal(t, 0, snap.Count)

	post(t, base+"/next")
	snap = waitFor(t, base, settled(2))
	assert.Nil(t, snap.Error, "a successful batch clears the error")
}

func TestProxy_Ready(t *testing.T) {
	mock := testutil.NewMockUpstream(nil, 1)
	defer mock.Close()

	base := startProxy(t, mock, modePage, testutil.PagesPath)

	resp, err := http.Get(base + "/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestProxy_Metrics(t *testing.T) {
	mock := testutil.NewMockUpstream(testutil.NewItems(1), 1)
	defer mock.Close()

	base := startProxy(t, mock, modePage, testutil.PagesPath)
	waitFor(t, base, settled(1))

	resp, err := http.Get(base + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "batches_requests_total")
	assert.Contains(t, string(body), "batches_http_requests_total")
}

func TestProxy_Events(t *testing.T) {
	mock := testutil.NewMockUpstream(testutil.NewItems(4), 2)
	defer mock.Close()

	base := startProxy(t, mock, modePage, testutil.PagesPath)
	waitFor(t, base, settled(2))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := make(chan string, 64)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	// expect reads events until one named name carries data containing want.
	expect := func(name, want string) {
		t.Helper()
		timeout := time.After(2 * time.Second)
		current := ""
		for {
			select {
			case line, ok := <-lines:
				require.True(t, ok, "event stream closed before %s %s", name, want)
				switch {
				case strings.HasPrefix(line, "event: "):
					current = strings.TrimPrefix(line, "event: ")
				case strings.HasPrefix(line, "data: "):
					if current == name && strings.Contains(line, want) {
						return
					}
				}
			case <-timeout:
				t.Fatalf("timed out waiting for %s event with %s", name, want)
			}
		}
	}

	// Current values arrive first.
	expect("items", `{"id":2}`)
	expect("loading", "false")

	// The loading pulse may collapse away; the final values may not.
	post(t, base+"/next")
	expect("items", `{"id":4}`)
	expect("loading", "false")
}

func TestEventQueue_KeepsLatestValuePerName(t *testing.T) {
	q := newEventQueue()
	q.push(event{name: "items", data: 1})
	q.push(event{name: "loading", data: true})
	q.push(event{name: "items", data: 2})
	q.push(event{name: "loading", data: false})
	q.push(event{name: "items", data: 3})

	select {
	case <-q.notify:
	default:
		t.Fatal("push should signal the reader")
	}

	assert.Equal(t, []event{
		{name: "loading", data: false},
		{name: "items", data: 3},
	}, q.drain())
	assert.Empty(t, q.drain())

	q.push(event{name: "error", data: nil})
	assert.Equal(t, []event{{name: "error", data: nil}}, q.drain())
}

func TestEventQueue_BoundedUnderBurst(t *testing.T) {
	q := newEventQueue()
	for i := range 10000 {
		q.push(event{name: "items", data: i})
		q.push(event{name: "loading", data: i%2 == 0})
	}

	events := q.drain()
	require.Len(t, events, 2)
	assert.Equal(t, event{name: "items", data: 9999}, events[0])
	assert.Equal(t, event{name: "loading", data: false}, events[1])
}
