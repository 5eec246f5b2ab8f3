// Package cache stores fetched batches in Redis.
//
// Entries are keyed by source name and cursor, so a page or token fetched
// once can be served again until it expires:
//
//   - Deterministic keys (batches:<source>:page=N, batches:<source>:token=<base64url>)
//   - Per-entry TTL enforced by Redis
//   - Completed batches are cached like any other batch
//   - Prometheus metrics for hits, misses and errors
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	manager := cache.NewManager(redisClient)
//
//	key := cache.Key{Source: "orders", Cursor: batches.Page(2)}
//
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from upstream, then
//		entry, _ = cache.EncodeBatch(batch, cache.DefaultTTL)
//		_ = manager.Set(ctx, key, entry)
//	}
//
//	batch, err := cache.DecodeBatch[Order](entry)
//
// Most callers do not use the manager directly; fetch.Cached wraps any
// fetcher with a memory tier and this Redis tier.
package cache
