package batches

// BatchKind identifies the variant of a Batch.
type BatchKind string

const (
	// BatchItems is a page-style batch; the next cursor is the following page.
	BatchItems BatchKind = "items"

	// BatchItemsWithToken is a token-style batch carrying the next token.
	BatchItemsWithToken BatchKind = "items_with_token"

	// BatchCompleted means there is nothing more to fetch.
	BatchCompleted BatchKind = "completed"
)

// Batch is the result of a single fetch.
type Batch[T any] struct {
	Kind BatchKind

	// Elements holds the fetched items (empty for BatchCompleted).
	Elements []T

	// NextToken is the continuation for BatchItemsWithToken. Nil is allowed
	// and is handed back verbatim on the next fetch.
	NextToken []byte
}

// Items returns a page-style batch.
func Items[T any](elements ...T) Batch[T] {
	return Batch[T]{Kind: BatchItems, Elements: elements}
}

// ItemsWithToken returns a token-style batch.
func ItemsWithToken[T any](elements []T, next []byte) Batch[T] {
	return Batch[T]{Kind: BatchItemsWithToken, Elements: elements, NextToken: next}
}

// Completed returns the end-of-data marker.
func Completed[T any]() Batch[T] {
	return Batch[T]{Kind: BatchCompleted}
}
