package batches

import (
	"errors"
	"fmt"
)

// Construction errors returned by New, NewPaged and NewTokened.
var (
	// ErrNilFetch is returned when no fetch function is configured.
	ErrNilFetch = errors.New("fetch function is required")

	// ErrNilLoadNext is returned when the input has no load-next stream.
	ErrNilLoadNext = errors.New("load-next stream is required")

	// ErrNilCursor is returned when the initial cursor is nil.
	ErrNilCursor = errors.New("initial cursor is required")
)

// CursorMismatchError reports a cursor of the wrong variant reaching a fetch
// callback or a batch that cannot follow the current cursor. It signals a
// construction-time contract violation and is raised with panic.
type CursorMismatchError struct {
	Want CursorKind
	Got  Cursor
}

// Error implements the error interface.
func (e *CursorMismatchError) Error() string {
	if e.Want == "" {
		return fmt.Sprintf("batches: unknown cursor type %T", e.Got)
	}
	return fmt.Sprintf("batches: cursor mismatch: want %s cursor, got %T (%v)", e.Want, e.Got, e.Got)
}
