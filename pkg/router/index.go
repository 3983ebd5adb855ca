package router

import "context"

// Score is a single nearest-neighbor hit: the owning route's name and the
// cosine similarity between the query and one stored utterance vector.
type Score struct {
	Route string  `json:"route"`
	Score float64 `json:"score"`
}

// Index is the pluggable store of (route, utterance embedding) pairs. It is
// the sole polymorphism point of the router: an in-memory index serves small
// route sets, a SQLite-backed index shares routes across processes, and any
// further backend implements the same five operations.
//
// Implementations must keep scores inside [-1, 1] and never surface NaN.
// Vectors are L2-normalized on insertion so that Query can score by dot
// product.
type Index interface {
	// Add inserts all utterance vectors of the given routes. Every route
	// must carry embeddings; a route without them fails with
	// MissingEmbeddingError. Implementations document whether a failed Add
	// leaves partial state.
	Add(ctx context.Context, routes []Route) error

	// Delete removes all entries belonging to the named route. Deleting an
	// unknown route succeeds silently.
	Delete(ctx context.Context, routeName string) error

	// Query returns up to topK (route, score) pairs sorted by descending
	// cosine similarity, ties broken by insertion order.
	Query(ctx context.Context, vector []float32, topK int) ([]Score, error)

	// Routes returns the committed routes with their stored vectors.
	// Utterance text is included when the backend retains it.
	Routes(ctx context.Context) ([]Route, error)

	// DeleteIndex tears the index down. Subsequent operations fail with
	// ErrIndexClosed until the index is re-initialized.
	DeleteIndex(ctx context.Context) error
}
