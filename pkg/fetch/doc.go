// Package fetch provides batches.Fetcher implementations for HTTP upstreams.
//
// Two upstream shapes are supported:
//
//   - HTTPPager: numbered pages (?page=N) with an X-Pages total
//   - HTTPTokens: continuation tokens (?cursor=<base64url>) announced in X-Next-Cursor
//
// Both decode a JSON array body into []T, send the configured User-Agent and
// report failures as *StatusError. Cached adds a memory and Redis tier in
// front of any fetcher.
//
// # Basic Usage
//
//	pager, err := fetch.NewHTTPPager[Order](fetch.DefaultConfig(
//		"https://api.example.com", "/v1/orders", "orders-ui/1.0 (ops@example.com)",
//	))
//	if err != nil {
//		return err
//	}
//
//	cached, err := fetch.NewCached[Order](pager, fetch.DefaultCacheConfig("orders"))
//	if err != nil {
//		return err
//	}
//
//	source, err := batches.New(batches.DefaultConfig[Order]("orders"), batches.Page(1), cached)
package fetch
