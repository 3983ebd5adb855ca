// Package embedding defines the contract the router consumes to turn text
// into vectors, plus the vector math shared by index implementations.
//
// The router never instantiates a provider itself; any client that can
// produce fixed-dimension vectors satisfies Embedder. A ready-made
// OpenAI-compatible client lives in the openai subpackage.
package embedding

import "context"

// Embedder converts text into fixed-dimension embedding vectors.
// EmbedDocuments is the batch form used when indexing route utterances;
// EmbedQuery embeds a single incoming query. Both must produce vectors of
// the same dimension for the lifetime of a route layer.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}
