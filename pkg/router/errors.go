package router

import (
	"errors"
	"fmt"
)

// Common errors
var (
	// ErrInvalidConfiguration is returned when a route has neither utterances
	// nor embeddings, when embedding shapes are inconsistent, or when layer
	// options are out of range
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrNoRoutes is returned when a layer is built without any routes
	ErrNoRoutes = errors.New("at least one route is required")

	// ErrMissingEmbedder is returned when a layer is built without an embedder
	ErrMissingEmbedder = errors.New("route layer requires an embedder")

	// ErrMissingIndex is returned when a layer is built without an index
	ErrMissingIndex = errors.New("route layer requires an index")

	// ErrMissingLLM is reserved for a future LLM-assisted fallback path
	ErrMissingLLM = errors.New("route layer requires an llm")

	// ErrIndexClosed is returned when an index is used after DeleteIndex
	ErrIndexClosed = errors.New("index has been deleted")
)

// MissingEmbeddingError is returned by Index.Add when a route arrives
// without its embeddings populated. It indicates a builder bug: embeddings
// must be materialized before routes reach the index.
type MissingEmbeddingError struct {
	Route string
}

func (e *MissingEmbeddingError) Error() string {
	return fmt.Sprintf("no embedding on route: %s", e.Route)
}

// RouterError wraps errors with operation context
type RouterError struct {
	Op  string // Operation name
	Err error  // Underlying error
}

// Error implements the error interface
func (e *RouterError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("router: %v", e.Err)
	}
	return fmt.Sprintf("router: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *RouterError) Unwrap() error {
	return e.Err
}

// Is checks if the error matches the target
func (e *RouterError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// wrapError wraps an error with operation context
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &RouterError{Op: op, Err: err}
}
