package router

import (
	"context"
	"errors"
	"strings"

	"github.com/liliang-cn/semroute/pkg/embedding"
)

// lexiconEmbedder is a deterministic bag-of-words embedder for tests. Words
// are projected onto fixed topic dimensions and the result is L2-normalized,
// so texts about the same topic score close to 1 and texts with disjoint
// vocabulary score 0.
type lexiconEmbedder struct{}

var lexicon = map[string]int{
	"politics":  0,
	"political": 0,
	"president": 0,
	"country":   0,
	"save":      0,
	"weather":   1,
	"lovely":    1,
	"sunny":     1,
	"cloudy":    1,
	"today":     1,
	"time":      2,
	"clock":     2,
}

const lexiconDim = 4

func (lexiconEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, lexiconDim)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, "!?.,'")
		if dim, ok := lexicon[word]; ok {
			vec[dim]++
		}
	}
	return embedding.NormalizeL2(vec), nil
}

func (e lexiconEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.EmbedQuery(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors[i] = vec
	}
	return vectors, nil
}

// failingEmbedder always errors, for exercising upstream failure paths.
type failingEmbedder struct{}

var errEmbedderDown = errors.New("embedder unavailable")

func (failingEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return nil, errEmbedderDown
}

func (failingEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errEmbedderDown
}

// stubIndex returns canned hits, for pinning down aggregation and
// tie-breaking without a real index.
type stubIndex struct {
	hits []Score
	err  error
}

func (s *stubIndex) Add(ctx context.Context, routes []Route) error      { return nil }
func (s *stubIndex) Delete(ctx context.Context, routeName string) error { return nil }
func (s *stubIndex) DeleteIndex(ctx context.Context) error              { return nil }
func (s *stubIndex) Routes(ctx context.Context) ([]Route, error)        { return nil, nil }

func (s *stubIndex) Query(ctx context.Context, vector []float32, topK int) ([]Score, error) {
	if s.err != nil {
		return nil, s.err
	}
	if len(s.hits) > topK {
		return s.hits[:topK], nil
	}
	return s.hits, nil
}

// mustRoute builds a route or fails the test at the call site.
func mustRoute(t interface{ Fatalf(string, ...any) }, b *RouteBuilder) Route {
	route, err := b.Build()
	if err != nil {
		t.Fatalf("Build route failed: %v", err)
	}
	return *route
}
