package cache

import (
	"strings"

	"github.com/Sternrassler/go-batches/pkg/batches"
)

// Key identifies one cached batch: the batch a source returned for a cursor.
type Key struct {
	// Source is the source or upstream endpoint name (e.g. "orders")
	Source string

	// Cursor is the cursor the batch was fetched with
	Cursor batches.Cursor
}

// String generates a deterministic cache key string.
// Format: batches:source:cursor
//
// Example:
//
//	batches:orders:page=3
//	batches:feed:token=YWJj
func (k Key) String() string {
	parts := []string{"batches"}

	if source := strings.Trim(k.Source, "/"); source != "" {
		parts = append(parts, source)
	}
	if k.Cursor != nil {
		parts = append(parts, k.Cursor.String())
	}

	return strings.Join(parts, ":")
}
