package batches

import (
	"encoding/base64"
	"strconv"
)

// Cursor points at the next batch to fetch. It is either a Page or a Token;
// a Source uses exactly one of the two for its whole lifetime.
type Cursor interface {
	// String renders the cursor for logs and cache keys.
	String() string

	cursor()
}

// Page is a page-number cursor.
type Page int

// Token is an opaque, caller-defined continuation token. A nil Token is only
// valid for the first fetch.
type Token []byte

func (Page) cursor()  {}
func (Token) cursor() {}

// String implements Cursor.
func (p Page) String() string {
	return "page=" + strconv.Itoa(int(p))
}

// String implements Cursor. Tokens are rendered base64url encoded; a nil
// token renders as "token=nil" so it stays distinct from an empty one.
func (t Token) String() string {
	if t == nil {
		return "token=nil"
	}
	return "token=" + base64.RawURLEncoding.EncodeToString(t)
}

// CursorKind names the variant of a Cursor.
type CursorKind string

const (
	// KindPage identifies Page cursors.
	KindPage CursorKind = "page"

	// KindToken identifies Token cursors.
	KindToken CursorKind = "token"
)

// KindOf returns the variant of c.
func KindOf(c Cursor) CursorKind {
	switch c.(type) {
	case Page:
		return KindPage
	case Token:
		return KindToken
	default:
		panic(&CursorMismatchError{Got: c})
	}
}

// next computes the cursor that follows current once b has been fetched with it.
// Completed batches have no successor and must not be passed here.
func next[T any](current Cursor, b Batch[T]) Cursor {
	switch b.Kind {
	case BatchItems:
		page, ok := current.(Page)
		if !ok {
			panic(&CursorMismatchError{Want: KindPage, Got: current})
		}
		return page + 1
	case BatchItemsWithToken:
		if _, ok := current.(Token); !ok {
			panic(&CursorMismatchError{Want: KindToken, Got: current})
		}
		return Token(b.NextToken)
	default:
		panic("batches: no successor cursor for batch kind " + string(b.Kind))
	}
}
