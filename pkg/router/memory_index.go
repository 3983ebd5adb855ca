package router

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/liliang-cn/semroute/pkg/embedding"
)

// memoryEntry is one stored utterance vector. Vectors are unit length, so
// query-time scoring is a plain dot product.
type memoryEntry struct {
	utterance string
	vector    []float32
}

// memoryRoute keeps one route's entries plus the metadata needed to rebuild
// Route values for Routes().
type memoryRoute struct {
	route   Route
	entries []memoryEntry
}

// MemoryIndex is an in-memory Index backed by a linear scan. It preserves
// insertion order for routes and utterances, which the layer relies on for
// tie-breaking. Suitable for small route sets; larger or shared deployments
// should use the SQLite backend.
//
// All operations are safe for concurrent use. After DeleteIndex every
// operation fails with ErrIndexClosed; create a new MemoryIndex to start
// over.
type MemoryIndex struct {
	mu     sync.RWMutex
	order  []string
	routes map[string]*memoryRoute
	dim    int
	closed bool
	logger Logger
}

// MemoryIndexOption configures a MemoryIndex.
type MemoryIndexOption func(*MemoryIndex)

// WithMemoryIndexLogger sets the logger used for non-fatal events.
func WithMemoryIndexLogger(logger Logger) MemoryIndexOption {
	return func(m *MemoryIndex) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewMemoryIndex creates an empty in-memory index.
func NewMemoryIndex(opts ...MemoryIndexOption) *MemoryIndex {
	m := &MemoryIndex{
		routes: make(map[string]*memoryRoute),
		logger: NopLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Add inserts all utterance vectors of the given routes. Re-adding an
// existing route replaces its entries. Add is atomic: entries become visible
// only after every route has been validated.
func (m *MemoryIndex) Add(ctx context.Context, routes []Route) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return wrapError("add", ErrIndexClosed)
	}

	// Validate everything before touching state.
	dim := m.dim
	for i := range routes {
		if len(routes[i].Embeddings) == 0 {
			return wrapError("add", &MissingEmbeddingError{Route: routes[i].Name})
		}
		for j, vec := range routes[i].Embeddings {
			if dim == 0 {
				dim = len(vec)
			}
			if len(vec) != dim {
				return wrapError("add", fmt.Errorf("%w: route %q vector %d has dimension %d, expected %d",
					ErrInvalidConfiguration, routes[i].Name, j, len(vec), dim))
			}
		}
	}

	for i := range routes {
		route := routes[i]
		if _, exists := m.routes[route.Name]; exists {
			m.logger.Warn("route already exists in the index, replacing", "route", route.Name)
		} else {
			m.order = append(m.order, route.Name)
		}

		entries := make([]memoryEntry, len(route.Embeddings))
		for j, vec := range route.Embeddings {
			normalized := embedding.NormalizeL2(vec)
			var utterance string
			if j < len(route.Utterances) {
				utterance = route.Utterances[j]
			}
			entries[j] = memoryEntry{utterance: utterance, vector: normalized}
		}
		m.routes[route.Name] = &memoryRoute{route: route, entries: entries}
	}
	m.dim = dim

	return nil
}

// Delete removes all entries for the named route. Unknown names succeed.
func (m *MemoryIndex) Delete(ctx context.Context, routeName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return wrapError("delete", ErrIndexClosed)
	}

	if _, exists := m.routes[routeName]; !exists {
		m.logger.Warn("route not found in the index", "route", routeName)
		return nil
	}

	delete(m.routes, routeName)
	for i, name := range m.order {
		if name == routeName {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

// Query scores every stored vector against the query by dot product over
// normalized vectors and returns the topK best hits in descending order.
// Ties keep insertion order.
func (m *MemoryIndex) Query(ctx context.Context, vector []float32, topK int) ([]Score, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, wrapError("query", ErrIndexClosed)
	}
	if topK < 1 {
		return nil, wrapError("query", ErrInvalidConfiguration)
	}

	query := embedding.NormalizeL2(vector)

	var all []Score
	for _, name := range m.order {
		for _, entry := range m.routes[name].entries {
			all = append(all, Score{
				Route: name,
				Score: clampScore(embedding.DotProduct(query, entry.vector)),
			})
		}
	}

	// Stable sort keeps insertion order among equal scores.
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Score > all[j].Score
	})

	if len(all) > topK {
		all = all[:topK]
	}
	return all, nil
}

// Routes returns the committed routes with their stored (normalized)
// vectors, in insertion order.
func (m *MemoryIndex) Routes(ctx context.Context) ([]Route, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, wrapError("get_routes", ErrIndexClosed)
	}

	routes := make([]Route, 0, len(m.order))
	for _, name := range m.order {
		stored := m.routes[name]
		route := stored.route
		route.Embeddings = make([][]float32, len(stored.entries))
		for i, entry := range stored.entries {
			route.Embeddings[i] = entry.vector
		}
		routes = append(routes, route)
	}
	return routes, nil
}

// DeleteIndex discards all entries and marks the index closed.
func (m *MemoryIndex) DeleteIndex(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return wrapError("delete_index", ErrIndexClosed)
	}

	m.routes = nil
	m.order = nil
	m.closed = true
	return nil
}

// clampScore keeps similarity scores inside [-1, 1] and maps NaN to 0 so
// callers never observe it. Accumulated floating-point error can push a dot
// product of unit vectors slightly outside the range.
func clampScore(score float64) float64 {
	switch {
	case score != score:
		return 0.0
	case score > 1.0:
		return 1.0
	case score < -1.0:
		return -1.0
	default:
		return score
	}
}
