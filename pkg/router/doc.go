// Package router implements a semantic route layer: a low-latency
// classifier that maps an input utterance to one of a fixed set of named
// routes using pre-computed utterance embeddings and cosine similarity.
//
// # Key Components
//
//   - Route / RouteBuilder: a named intent described by example utterances,
//     their embeddings, and an optional per-route threshold.
//   - Index: the pluggable store of (route, vector) pairs. MemoryIndex is
//     the in-memory implementation; pkg/sqlite provides a persistent one.
//   - RouteLayerBuilder: embeds utterances, normalizes vectors, populates
//     the index and returns a queryable RouteLayer.
//   - RouteLayer: embeds a query, fetches top-k neighbors, aggregates the
//     per-route scores (mean, max or sum), applies thresholds and returns at
//     most one winning route.
//
// A query that no route claims returns (nil, nil): a miss is not an error,
// and the caller decides the fallback policy.
package router
