package cache

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Sternrassler/go-batches/pkg/batches"
)

// DefaultTTL is the lifetime of a cached batch when none is configured.
const DefaultTTL = 5 * time.Minute

// EncodeBatch converts a batch into a cache entry expiring after ttl.
// A non-positive ttl falls back to DefaultTTL.
func EncodeBatch[T any](b batches.Batch[T], ttl time.Duration) (*Entry, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	now := time.Now()
	entry := &Entry{
		Kind:     string(b.Kind),
		CachedAt: now,
		Expires:  now.Add(ttl),
	}

	switch b.Kind {
	case batches.BatchCompleted:
		return entry, nil
	case batches.BatchItemsWithToken:
		entry.NextToken = b.NextToken
	case batches.BatchItems:
	default:
		return nil, fmt.Errorf("%w: unknown batch kind %q", ErrInvalidEntry, b.Kind)
	}

	data, err := json.Marshal(b.Elements)
	if err != nil {
		return nil, fmt.Errorf("marshal batch elements: %w", err)
	}
	entry.Data = data

	return entry, nil
}

// DecodeBatch converts a cache entry back into a batch.
func DecodeBatch[T any](entry *Entry) (batches.Batch[T], error) {
	if entry == nil {
		return batches.Batch[T]{}, fmt.Errorf("%w: nil entry", ErrInvalidEntry)
	}

	var elements []T
	if batches.BatchKind(entry.Kind) != batches.BatchCompleted && len(entry.Data) > 0 {
		if err := json.Unmarshal(entry.Data, &elements); err != nil {
			return batches.Batch[T]{}, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
		}
	}

	switch batches.BatchKind(entry.Kind) {
	case batches.BatchItems:
		return batches.Items(elements...), nil
	case batches.BatchItemsWithToken:
		return batches.ItemsWithToken(elements, entry.NextToken), nil
	case batches.BatchCompleted:
		return batches.Completed[T](), nil
	default:
		return batches.Batch[T]{}, fmt.Errorf("%w: unknown batch kind %q", ErrInvalidEntry, entry.Kind)
	}
}
