package fetch

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/Sternrassler/go-batches/pkg/batches"
)

// PagesHeader carries the total page count of a paged endpoint.
const PagesHeader = "X-Pages"

// HTTPPager loads numbered pages of a JSON array endpoint
// (GET {base}{endpoint}?page=N).
//
// A page beyond the X-Pages total, a 404 or an empty array is reported as
// batches.Completed.
type HTTPPager[T any] struct {
	req *requester
}

// NewHTTPPager creates a page-mode fetcher.
func NewHTTPPager[T any](cfg Config) (*HTTPPager[T], error) {
	req, err := newRequester(cfg)
	if err != nil {
		return nil, err
	}
	return &HTTPPager[T]{req: req}, nil
}

// Fetch implements batches.Fetcher. It panics with *batches.CursorMismatchError
// for token cursors.
func (p *HTTPPager[T]) Fetch(ctx context.Context, cursor batches.Cursor) (batches.Batch[T], error) {
	return batches.PageFunc[T](p.FetchPage).Fetch(ctx, cursor)
}

// FetchPage loads one page.
func (p *HTTPPager[T]) FetchPage(ctx context.Context, page int) (batches.Batch[T], error) {
	resp, err := p.req.get(ctx, url.Values{"page": {strconv.Itoa(page)}}, http.StatusNotFound)
	if err != nil {
		return batches.Batch[T]{}, err
	}

	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return batches.Completed[T](), nil
	}

	total := -1
	if v := resp.Header.Get(PagesHeader); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			total = n
		} else {
			p.req.logger.Warn().Str("endpoint", p.req.endpoint).Str("value", v).Msg("Ignoring invalid page count")
		}
	}

	elements, err := decodeElements[T](resp)
	if err != nil {
		return batches.Batch[T]{}, err
	}

	if len(elements) == 0 || (total >= 0 && page > total) {
		p.req.logger.Debug().
			Str("endpoint", p.req.endpoint).
			Int("page", page).
			Int("total_pages", total).
			Msg("Pages exhausted")
		return batches.Completed[T](), nil
	}

	return batches.Items(elements...), nil
}
