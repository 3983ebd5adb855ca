package router

import (
	"context"
	"fmt"
)

const (
	// DefaultThreshold suits cosine similarity with typical text embedding
	// models; tune per model.
	DefaultThreshold = 0.82

	// DefaultTopK is the number of nearest neighbors fetched per query.
	DefaultTopK = 5
)

// RouteLayerBuilder assembles a RouteLayer.
//
//	layer, err := router.NewRouteLayerBuilder().
//		WithEmbedder(embedder).
//		WithIndex(router.NewMemoryIndex()).
//		AddRoute(*politics).
//		AddRoute(*chitchat).
//		WithThreshold(0.7).
//		Build(ctx)
//
// Build materializes every missing utterance embedding, normalizes all
// vectors and populates the index before returning, so the layer is never
// observable partially populated and the query path only ever embeds the
// incoming query.
type RouteLayerBuilder struct {
	embedder    Embedder
	index       Index
	routes      []Route
	threshold   float64
	topK        int
	aggregation AggregationMethod
	logger      Logger
}

// NewRouteLayerBuilder creates a builder with default threshold, topK and
// mean aggregation.
func NewRouteLayerBuilder() *RouteLayerBuilder {
	return &RouteLayerBuilder{
		threshold:   DefaultThreshold,
		topK:        DefaultTopK,
		aggregation: AggregationMean,
		logger:      NopLogger(),
	}
}

// WithEmbedder sets the embedder used for route utterances and queries.
func (b *RouteLayerBuilder) WithEmbedder(embedder Embedder) *RouteLayerBuilder {
	b.embedder = embedder
	return b
}

// WithIndex sets the index backend.
func (b *RouteLayerBuilder) WithIndex(index Index) *RouteLayerBuilder {
	b.index = index
	return b
}

// AddRoute appends a route. Insertion order is remembered and breaks
// query-time ties.
func (b *RouteLayerBuilder) AddRoute(route Route) *RouteLayerBuilder {
	b.routes = append(b.routes, route)
	return b
}

// AddRoutes appends several routes at once.
func (b *RouteLayerBuilder) AddRoutes(routes ...Route) *RouteLayerBuilder {
	b.routes = append(b.routes, routes...)
	return b
}

// WithThreshold sets the default acceptance threshold in [-1, 1], applied to
// routes without their own.
func (b *RouteLayerBuilder) WithThreshold(threshold float64) *RouteLayerBuilder {
	b.threshold = threshold
	return b
}

// WithTopK sets how many nearest neighbors each query fetches. Must be at
// least 1.
func (b *RouteLayerBuilder) WithTopK(topK int) *RouteLayerBuilder {
	b.topK = topK
	return b
}

// WithAggregation sets the score aggregation method.
func (b *RouteLayerBuilder) WithAggregation(method AggregationMethod) *RouteLayerBuilder {
	b.aggregation = method
	return b
}

// WithLogger sets the logger used by the layer.
func (b *RouteLayerBuilder) WithLogger(logger Logger) *RouteLayerBuilder {
	if logger != nil {
		b.logger = logger
	}
	return b
}

// Build validates the configuration, embeds any route lacking vectors,
// normalizes everything, populates the index and returns the layer.
func (b *RouteLayerBuilder) Build(ctx context.Context) (*RouteLayer, error) {
	if b.embedder == nil {
		return nil, wrapError("build", ErrMissingEmbedder)
	}
	if b.index == nil {
		return nil, wrapError("build", ErrMissingIndex)
	}
	if len(b.routes) == 0 {
		return nil, wrapError("build", ErrNoRoutes)
	}
	if b.topK < 1 {
		return nil, wrapError("build", fmt.Errorf("%w: topK must be at least 1, got %d", ErrInvalidConfiguration, b.topK))
	}
	if b.threshold < -1.0 || b.threshold > 1.0 {
		return nil, wrapError("build", fmt.Errorf("%w: threshold %f outside [-1, 1]", ErrInvalidConfiguration, b.threshold))
	}

	seen := make(map[string]struct{}, len(b.routes))
	for i := range b.routes {
		if err := validateRoute(&b.routes[i]); err != nil {
			return nil, err
		}
		if _, dup := seen[b.routes[i].Name]; dup {
			return nil, wrapError("build", fmt.Errorf("%w: duplicate route %q", ErrInvalidConfiguration, b.routes[i].Name))
		}
		seen[b.routes[i].Name] = struct{}{}
	}

	prepared, err := materializeEmbeddings(ctx, b.embedder, b.routes)
	if err != nil {
		return nil, wrapError("build", err)
	}

	if err := b.index.Add(ctx, prepared); err != nil {
		return nil, wrapError("build", err)
	}

	layer := &RouteLayer{
		embedder:    b.embedder,
		index:       b.index,
		threshold:   b.threshold,
		topK:        b.topK,
		aggregation: b.aggregation,
		logger:      b.logger,
		routes:      make(map[string]*Route, len(prepared)),
		order:       make(map[string]int, len(prepared)),
	}
	for i := range prepared {
		route := prepared[i]
		layer.routes[route.Name] = &route
		layer.order[route.Name] = i
	}
	layer.next = len(prepared)

	b.logger.Info("route layer built",
		"routes", len(prepared),
		"threshold", b.threshold,
		"top_k", b.topK,
		"aggregation", b.aggregation.String())

	return layer, nil
}
