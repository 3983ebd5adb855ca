package router

import (
	"context"
	"fmt"
	"sync"

	"github.com/liliang-cn/semroute/pkg/embedding"
)

// RouteMatch is a winning routing decision: the matched route's name and its
// aggregated similarity score.
type RouteMatch struct {
	Route string  `json:"route"`
	Score float64 `json:"score"`
}

// RouteLayer classifies input text against a fixed set of routes. Build one
// with RouteLayerBuilder; a built layer is fully populated and safe for
// concurrent queries.
type RouteLayer struct {
	embedder    Embedder
	index       Index
	threshold   float64
	topK        int
	aggregation AggregationMethod
	logger      Logger

	// Route metadata lives in the layer, not the index: per-route
	// thresholds and build-time insertion order drive filtering and
	// tie-breaking.
	mu     sync.RWMutex
	routes map[string]*Route
	order  map[string]int
	next   int
}

// Embedder is the external contract the layer consumes; see
// pkg/embedding.Embedder.
type Embedder = embedding.Embedder

// Route embeds the input text and returns the best-matching route, or
// (nil, nil) when no route clears its threshold. Callers treat nil as
// "undetermined" and pick their own fallback.
func (l *RouteLayer) Route(ctx context.Context, text string) (*RouteMatch, error) {
	query, err := l.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, wrapError("route", fmt.Errorf("failed to embed query: %w", err))
	}
	return l.RouteEmbedding(ctx, query)
}

// RouteEmbedding routes a pre-computed query vector, skipping the embed
// step. Useful when the caller already holds the embedding.
func (l *RouteLayer) RouteEmbedding(ctx context.Context, vector []float32) (*RouteMatch, error) {
	query := embedding.NormalizeL2(vector)

	hits, err := l.index.Query(ctx, query, l.topK)
	if err != nil {
		return nil, wrapError("route", err)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	// Group the top-k scores by route, keeping first-hit order for
	// deterministic iteration.
	scoresByRoute := make(map[string][]float64)
	var hitOrder []string
	for _, hit := range hits {
		if _, seen := scoresByRoute[hit.Route]; !seen {
			hitOrder = append(hitOrder, hit.Route)
		}
		scoresByRoute[hit.Route] = append(scoresByRoute[hit.Route], hit.Score)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	var (
		winner     string
		bestScore  float64
		bestHits   int
		bestOrder  int
		haveWinner bool
	)
	for _, name := range hitOrder {
		scores := scoresByRoute[name]
		aggregated := l.aggregation.aggregate(scores)

		// Per-route threshold wins whenever present, even at 0.
		tau := l.threshold
		if route, known := l.routes[name]; known && route.Threshold != nil {
			tau = *route.Threshold
		}
		if aggregated < tau {
			l.logger.Debug("route below threshold", "route", name, "score", aggregated, "threshold", tau)
			continue
		}

		order, known := l.order[name]
		if !known {
			// Leftover index entries from an earlier build are tolerated;
			// they rank after every known route on ties.
			order = int(^uint(0) >> 1)
		}

		better := false
		switch {
		case !haveWinner:
			better = true
		case aggregated > bestScore:
			better = true
		case aggregated == bestScore && len(scores) > bestHits:
			better = true
		case aggregated == bestScore && len(scores) == bestHits && order < bestOrder:
			better = true
		}
		if better {
			winner = name
			bestScore = aggregated
			bestHits = len(scores)
			bestOrder = order
			haveWinner = true
		}
	}

	if !haveWinner {
		return nil, nil
	}
	return &RouteMatch{Route: winner, Score: bestScore}, nil
}

// AddRoutes embeds and indexes additional routes on a built layer. Routes
// lacking embeddings are embedded first; everything is normalized before it
// reaches the index.
func (l *RouteLayer) AddRoutes(ctx context.Context, routes ...Route) error {
	for i := range routes {
		if err := validateRoute(&routes[i]); err != nil {
			return err
		}
	}

	prepared, err := materializeEmbeddings(ctx, l.embedder, routes)
	if err != nil {
		return wrapError("add_routes", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range prepared {
		if _, exists := l.routes[prepared[i].Name]; exists {
			return wrapError("add_routes", fmt.Errorf("%w: duplicate route %q", ErrInvalidConfiguration, prepared[i].Name))
		}
	}

	if err := l.index.Add(ctx, prepared); err != nil {
		return wrapError("add_routes", err)
	}

	for i := range prepared {
		route := prepared[i]
		l.routes[route.Name] = &route
		l.order[route.Name] = l.next
		l.next++
	}
	return nil
}

// DeleteRoute removes a route from the index and the layer. Unknown names
// succeed.
func (l *RouteLayer) DeleteRoute(ctx context.Context, name string) error {
	if err := l.index.Delete(ctx, name); err != nil {
		return wrapError("delete_route", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.routes, name)
	delete(l.order, name)
	return nil
}

// Routes returns the committed routes as reported by the index.
func (l *RouteLayer) Routes(ctx context.Context) ([]Route, error) {
	routes, err := l.index.Routes(ctx)
	if err != nil {
		return nil, wrapError("get_routes", err)
	}
	return routes, nil
}

// Threshold returns the layer's default acceptance threshold.
func (l *RouteLayer) Threshold() float64 {
	return l.threshold
}

// TopK returns the number of nearest neighbors fetched per query.
func (l *RouteLayer) TopK() int {
	return l.topK
}

// Aggregation returns the layer's score aggregation method.
func (l *RouteLayer) Aggregation() AggregationMethod {
	return l.aggregation
}

// materializeEmbeddings fills in missing route embeddings via the embedder
// and L2-normalizes every vector. It returns copies; the inputs are not
// mutated.
func materializeEmbeddings(ctx context.Context, embedder Embedder, routes []Route) ([]Route, error) {
	prepared := make([]Route, len(routes))
	dim := 0
	for i := range routes {
		route := routes[i]
		if len(route.Embeddings) == 0 {
			vectors, err := embedder.EmbedDocuments(ctx, route.Utterances)
			if err != nil {
				return nil, fmt.Errorf("failed to embed route %q: %w", route.Name, err)
			}
			if len(vectors) != len(route.Utterances) {
				return nil, fmt.Errorf("embedder returned %d vectors for %d utterances of route %q",
					len(vectors), len(route.Utterances), route.Name)
			}
			route.Embeddings = vectors
		}

		normalized := make([][]float32, len(route.Embeddings))
		for j, vec := range route.Embeddings {
			if dim == 0 {
				dim = len(vec)
			}
			if len(vec) != dim {
				return nil, fmt.Errorf("%w: route %q vector %d has dimension %d, expected %d",
					ErrInvalidConfiguration, route.Name, j, len(vec), dim)
			}
			normalized[j] = embedding.NormalizeL2(vec)
		}
		route.Embeddings = normalized
		prepared[i] = route
	}
	return prepared, nil
}
