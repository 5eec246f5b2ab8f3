package fetch

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"

	"github.com/Sternrassler/go-batches/pkg/batches"
)

// NextCursorHeader carries the base64url continuation token of a token-mode
// endpoint.
const NextCursorHeader = "X-Next-Cursor"

// HTTPTokens loads a JSON array endpoint that hands out continuation tokens
// (GET {base}{endpoint}?cursor=<base64url>).
//
// The first request carries no cursor. A response without X-Next-Cursor ends
// the sequence: it yields an empty non-nil token, and fetching that token
// returns batches.Completed without a request.
type HTTPTokens[T any] struct {
	req *requester
}

// NewHTTPTokens creates a token-mode fetcher.
func NewHTTPTokens[T any](cfg Config) (*HTTPTokens[T], error) {
	req, err := newRequester(cfg)
	if err != nil {
		return nil, err
	}
	return &HTTPTokens[T]{req: req}, nil
}

// Fetch implements batches.Fetcher. It panics with *batches.CursorMismatchError
// for page cursors.
func (t *HTTPTokens[T]) Fetch(ctx context.Context, cursor batches.Cursor) (batches.Batch[T], error) {
	return batches.TokenFunc[T](t.FetchToken).Fetch(ctx, cursor)
}

// FetchToken loads the batch addressed by token (nil for the first batch).
func (t *HTTPTokens[T]) FetchToken(ctx context.Context, token []byte) (batches.Batch[T], error) {
	if token != nil && len(token) == 0 {
		return batches.Completed[T](), nil
	}

	params := url.Values{}
	if token != nil {
		params.Set("cursor", base64.RawURLEncoding.EncodeToString(token))
	}

	resp, err := t.req.get(ctx, params)
	if err != nil {
		return batches.Batch[T]{}, err
	}

	raw := resp.Header.Get(NextCursorHeader)

	elements, err := decodeElements[T](resp)
	if err != nil {
		return batches.Batch[T]{}, err
	}

	next := []byte{}
	if raw != "" {
		next, err = base64.RawURLEncoding.DecodeString(raw)
		if err != nil {
			return batches.Batch[T]{}, fmt.Errorf("%w %q: %v", ErrInvalidCursor, raw, err)
		}
	}

	return batches.ItemsWithToken(elements, next), nil
}
