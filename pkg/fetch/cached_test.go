package fetch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/go-batches/pkg/batches"
	"github.com/Sternrassler/go-batches/pkg/cache"
)

// countingFetcher serves one item per page and counts upstream calls.
type countingFetcher struct {
	calls atomic.Int32
	err   error
}

func (f *countingFetcher) Fetch(_ context.Context, cursor batches.Cursor) (batches.Batch[item], error) {
	f.calls.Add(1)
	if f.err != nil {
		return batches.Batch[item]{}, f.err
	}
	page := int(cursor.(batches.Page))
	if page > 3 {
		return batches.Completed[item](), nil
	}
	return batches.Items(item{ID: page}), nil
}

// versionedFetcher tags every item with the current upstream version and can
// hold fetches until the test lets them finish.
type versionedFetcher struct {
	calls   atomic.Int32
	version atomic.Int32
	started chan struct{}
	hold    chan struct{}
}

func (f *versionedFetcher) Fetch(_ context.Context, cursor batches.Cursor) (batches.Batch[item], error) {
	f.calls.Add(1)
	if f.started != nil {
		f.started <- struct{}{}
		<-f.hold
	}
	return batches.Items(item{ID: int(cursor.(batches.Page))*100 + int(f.version.Load())}), nil
}

func cacheConfig(source string) CacheConfig {
	logger := zerolog.Nop()
	cfg := DefaultCacheConfig(source)
	cfg.Logger = &logger
	return cfg
}

func TestNewCached_Validation(t *testing.T) {
	_, err := NewCached[item](nil, cacheConfig("orders"))
	assert.ErrorIs(t, err, batches.ErrNilFetch)

	_, err = NewCached[item](&countingFetcher{}, cacheConfig(""))
	assert.Error(t, err)
}

func TestCached_MemoryTier(t *testing.T) {
	upstream := &countingFetcher{}
	cached, err := NewCached[item](upstream, cacheConfig("orders"))
	require.NoError(t, err)
	ctx := context.Background()

	for range 3 {
		b, err := cached.Fetch(ctx, batches.Page(1))
		require.NoError(t, err)
		assert.Equal(t, []item{{ID: 1}}, b.Elements)
	}
	assert.EqualValues(t, 1, upstream.calls.Load())

	_, err = cached.Fetch(ctx, batches.Page(2))
	require.NoError(t, err)
	assert.EqualValues(t, 2, upstream.calls.Load(), "different cursor is a different entry")

	b, err := cached.Fetch(ctx, batches.Page(4))
	require.NoError(t, err)
	assert.Equal(t, batches.BatchCompleted, b.Kind)
	_, _ = cached.Fetch(ctx, batches.Page(4))
	assert.EqualValues(t, 3, upstream.calls.Load(), "completed batches are cached")
}

func TestCached_ErrorsAreNotCached(t *testing.T) {
	upstream := &countingFetcher{err: errors.New("boom")}
	cached, err := NewCached[item](upstream, cacheConfig("orders"))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = cached.Fetch(ctx, batches.Page(1))
	require.Error(t, err)

	upstream.err = nil
	b, err := cached.Fetch(ctx, batches.Page(1))
	require.NoError(t, err)
	assert.Len(t, b.Elements, 1)
	assert.EqualValues(t, 2, upstream.calls.Load())
}

func TestCached_MemoryExpiry(t *testing.T) {
	upstream := &countingFetcher{}
	cfg := cacheConfig("orders")
	cfg.MemoryTTL = 20 * time.Millisecond
	cached, err := NewCached[item](upstream, cfg)
	require.NoError(t, err)
	ctx := context.Background()

	_, _ = cached.Fetch(ctx, batches.Page(1))
	require.Eventually(t, func() bool {
		_, _ = cached.Fetch(ctx, batches.Page(1))
		return upstream.calls.Load() >= 2
	}, time.Second, 10*time.Millisecond)
}

func TestCached_Purge(t *testing.T) {
	upstream := &countingFetcher{}
	cached, err := NewCached[item](upstream, cacheConfig("orders"))
	require.NoError(t, err)
	ctx := context.Background()

	_, _ = cached.Fetch(ctx, batches.Page(1))
	require.NoError(t, cached.Purge(ctx))
	_, _ = cached.Fetch(ctx, batches.Page(1))

	assert.EqualValues(t, 2, upstream.calls.Load())
}

func TestCached_PurgeDuringFetchIsNotRecached(t *testing.T) {
	upstream := &versionedFetcher{started: make(chan struct{}, 1), hold: make(chan struct{})}
	upstream.version.Store(1)
	cached, err := NewCached[item](upstream, cacheConfig("orders"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan batches.Batch[item], 1)
	go func() {
		b, _ := cached.Fetch(ctx, batches.Page(2))
		done <- b
	}()
	<-upstream.started

	// A reload purges and cancels while the old fetch is still running.
	require.NoError(t, cached.Purge(context.Background()))
	cancel()
	upstream.version.Store(2)
	close(upstream.hold)

	old := <-done
	assert.Equal(t, []item{{ID: 202}}, old.Elements)

	upstream.started = nil
	b, err := cached.Fetch(context.Background(), batches.Page(2))
	require.NoError(t, err)
	assert.Equal(t, []item{{ID: 202}}, b.Elements)
	assert.EqualValues(t, 2, upstream.calls.Load(), "superseded result must not be served from cache")
}

func TestCached_PurgeBeforeFetchLandsKeepsCacheEmpty(t *testing.T) {
	upstream := &versionedFetcher{started: make(chan struct{}, 1), hold: make(chan struct{})}
	upstream.version.Store(1)
	cached, err := NewCached[item](upstream, cacheConfig("orders"))
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		_, _ = cached.Fetch(context.Background(), batches.Page(1))
		close(done)
	}()
	<-upstream.started

	require.NoError(t, cached.Purge(context.Background()))
	close(upstream.hold)
	<-done

	upstream.started = nil
	upstream.version.Store(2)
	b, err := cached.Fetch(context.Background(), batches.Page(1))
	require.NoError(t, err)
	assert.Equal(t, []item{{ID: 102}}, b.Elements)
	assert.EqualValues(t, 2, upstream.calls.Load())
}

func TestCached_CancelledFetchIsNotCached(t *testing.T) {
	upstream := &versionedFetcher{}
	cached, err := NewCached[item](upstream, cacheConfig("orders"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = cached.Fetch(ctx, batches.Page(1))
	require.NoError(t, err)

	_, err = cached.Fetch(context.Background(), batches.Page(1))
	require.NoError(t, err)
	assert.EqualValues(t, 2, upstream.calls.Load())
}

func TestCached_Disabled(t *testing.T) {
	upstream := &countingFetcher{}
	cfg := cacheConfig("orders")
	cfg.MemorySize = 0
	cached, err := NewCached[item](upstream, cfg)
	require.NoError(t, err)

	_, _ = cached.Fetch(context.Background(), batches.Page(1))
	_, _ = cached.Fetch(context.Background(), batches.Page(1))
	assert.EqualValues(t, 2, upstream.calls.Load())
}

func TestCached_RedisTier(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}
	require.NoError(t, client.FlushDB(ctx).Err())
	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	manager := cache.NewManager(client)
	upstream := &countingFetcher{}

	cfg := cacheConfig("orders")
	cfg.Redis = manager
	first, err := NewCached[item](upstream, cfg)
	require.NoError(t, err)

	_, err = first.Fetch(ctx, batches.Page(2))
	require.NoError(t, err)

	// A second instance has a cold memory tier but shares Redis.
	second, err := NewCached[item](upstream, cfg)
	require.NoError(t, err)
	b, err := second.Fetch(ctx, batches.Page(2))
	require.NoError(t, err)
	assert.Equal(t, []item{{ID: 2}}, b.Elements)
	assert.EqualValues(t, 1, upstream.calls.Load())

	require.NoError(t, second.Purge(ctx))
	_, err = manager.Get(ctx, cache.Key{Source: "orders", Cursor: batches.Page(2)})
	assert.ErrorIs(t, err, cache.ErrCacheMiss)
}
