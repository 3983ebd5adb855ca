package sqlite

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liliang-cn/semroute/pkg/router"
)

func newTestIndex(t *testing.T) (*Index, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "routes.db")
	idx, err := New(path)
	require.NoError(t, err)
	require.NoError(t, idx.Init(context.Background()))
	t.Cleanup(func() { _ = idx.Close() })
	return idx, path
}

func sampleRoutes() []router.Route {
	strict := 0.9
	return []router.Route{
		{
			Name:        "politics",
			Utterances:  []string{"isn't politics the best thing ever", "they will save the country!"},
			Embeddings:  [][]float32{{1, 0, 0}, {0.9, 0.1, 0}},
			Threshold:   &strict,
			Description: "political smalltalk",
		},
		{
			Name:       "chitchat",
			Utterances: []string{"lovely weather today"},
			Embeddings: [][]float32{{0, 1, 0}},
		},
	}
}

func TestNewRequiresPath(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}

func TestAddAndQuery(t *testing.T) {
	ctx := context.Background()
	idx, _ := newTestIndex(t)

	require.NoError(t, idx.Add(ctx, sampleRoutes()))
	assert.Equal(t, 3, idx.Dimension())

	hits, err := idx.Query(ctx, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "politics", hits[0].Route)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
	assert.GreaterOrEqual(t, hits[0].Score, hits[1].Score, "hits must be sorted descending")

	// k caps the result size
	hits, err = idx.Query(ctx, []float32{1, 1, 0}, 1)
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	_, err = idx.Query(ctx, []float32{1, 0, 0}, 0)
	assert.Error(t, err)
}

func TestVectorsStoredNormalized(t *testing.T) {
	ctx := context.Background()
	idx, _ := newTestIndex(t)

	require.NoError(t, idx.Add(ctx, []router.Route{
		{Name: "long", Embeddings: [][]float32{{3, 4, 0}}},
	}))

	routes, err := idx.Routes(ctx)
	require.NoError(t, err)
	require.Len(t, routes, 1)

	var norm float64
	for _, v := range routes[0].Embeddings[0] {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, norm, 1e-6, "stored vector must be unit length")

	hits, err := idx.Query(ctx, []float32{30, 40, 0}, 1)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
	assert.LessOrEqual(t, hits[0].Score, 1.0, "scores must be clamped")
}

func TestRoutesRoundTrip(t *testing.T) {
	ctx := context.Background()
	idx, _ := newTestIndex(t)

	require.NoError(t, idx.Add(ctx, sampleRoutes()))

	routes, err := idx.Routes(ctx)
	require.NoError(t, err)
	require.Len(t, routes, 2)

	// Insertion order preserved
	assert.Equal(t, "politics", routes[0].Name)
	assert.Equal(t, "chitchat", routes[1].Name)

	assert.Equal(t, "political smalltalk", routes[0].Description)
	require.NotNil(t, routes[0].Threshold)
	assert.Equal(t, 0.9, *routes[0].Threshold)
	assert.Nil(t, routes[1].Threshold)

	assert.Len(t, routes[0].Utterances, 2)
	assert.Len(t, routes[0].Embeddings, 2)
}

func TestPersistenceAcrossReopen(t *testing.T) {
	ctx := context.Background()
	idx, path := newTestIndex(t)

	require.NoError(t, idx.Add(ctx, sampleRoutes()))
	require.NoError(t, idx.Close())

	reopened, err := New(path)
	require.NoError(t, err)
	require.NoError(t, reopened.Init(ctx))
	defer reopened.Close()

	assert.Equal(t, 3, reopened.Dimension(), "dimension must be pinned from existing data")

	routes, err := reopened.Routes(ctx)
	require.NoError(t, err)
	assert.Len(t, routes, 2)

	hits, err := reopened.Query(ctx, []float32{0, 1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "chitchat", hits[0].Route)
}

func TestMissingEmbedding(t *testing.T) {
	ctx := context.Background()
	idx, _ := newTestIndex(t)

	err := idx.Add(ctx, []router.Route{{Name: "bare", Utterances: []string{"hello"}}})
	require.Error(t, err)

	var missing *router.MissingEmbeddingError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "bare", missing.Route)
}

func TestAddRejectsMixedDimensions(t *testing.T) {
	ctx := context.Background()
	idx, _ := newTestIndex(t)

	require.NoError(t, idx.Add(ctx, []router.Route{
		{Name: "narrow", Embeddings: [][]float32{{1, 0}}},
	}))

	err := idx.Add(ctx, []router.Route{
		{Name: "wide", Embeddings: [][]float32{{1, 0, 0}}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, router.ErrInvalidConfiguration)

	// The failed Add rolled back completely.
	routes, err := idx.Routes(ctx)
	require.NoError(t, err)
	assert.Len(t, routes, 1)
}

func TestDeleteRoute(t *testing.T) {
	ctx := context.Background()
	idx, _ := newTestIndex(t)

	require.NoError(t, idx.Add(ctx, sampleRoutes()))
	require.NoError(t, idx.Delete(ctx, "politics"))

	routes, err := idx.Routes(ctx)
	require.NoError(t, err)
	require.Len(t, routes, 1)
	assert.Equal(t, "chitchat", routes[0].Name)

	hits, err := idx.Query(ctx, []float32{1, 0, 0}, 10)
	require.NoError(t, err)
	for _, hit := range hits {
		assert.NotEqual(t, "politics", hit.Route, "cascade must remove all entries")
	}

	// Unknown names succeed silently
	assert.NoError(t, idx.Delete(ctx, "nonexistent"))
}

func TestReAddReplacesEntries(t *testing.T) {
	ctx := context.Background()
	idx, _ := newTestIndex(t)

	require.NoError(t, idx.Add(ctx, []router.Route{
		{Name: "r", Utterances: []string{"one", "two"}, Embeddings: [][]float32{{1, 0}, {0, 1}}},
	}))
	require.NoError(t, idx.Add(ctx, []router.Route{
		{Name: "r", Utterances: []string{"three"}, Embeddings: [][]float32{{1, 1}}},
	}))

	routes, err := idx.Routes(ctx)
	require.NoError(t, err)
	require.Len(t, routes, 1)
	assert.Equal(t, []string{"three"}, routes[0].Utterances)
	assert.Len(t, routes[0].Embeddings, 1)
}

func TestDeleteIndex(t *testing.T) {
	ctx := context.Background()
	idx, _ := newTestIndex(t)

	require.NoError(t, idx.Add(ctx, sampleRoutes()))
	require.NoError(t, idx.DeleteIndex(ctx))

	_, err := idx.Query(ctx, []float32{1, 0, 0}, 1)
	assert.ErrorIs(t, err, router.ErrIndexClosed)
	assert.ErrorIs(t, idx.Add(ctx, sampleRoutes()), router.ErrIndexClosed)
	_, err = idx.Routes(ctx)
	assert.ErrorIs(t, err, router.ErrIndexClosed)
	assert.ErrorIs(t, idx.Delete(ctx, "politics"), router.ErrIndexClosed)
	assert.ErrorIs(t, idx.DeleteIndex(ctx), router.ErrIndexClosed)
}

func TestAdvisoryLocksReleased(t *testing.T) {
	ctx := context.Background()
	idx, _ := newTestIndex(t)

	// After a successful Init no lock rows linger.
	var count int
	require.NoError(t, idx.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM semroute_locks").Scan(&count))
	assert.Equal(t, 0, count)

	// A second Init against the same file must not deadlock or fail.
	second, err := New(idx.path)
	require.NoError(t, err)
	require.NoError(t, second.Init(ctx))
	assert.NoError(t, second.Close())
}

func TestTiesKeepInsertionOrder(t *testing.T) {
	ctx := context.Background()
	idx, _ := newTestIndex(t)

	require.NoError(t, idx.Add(ctx, []router.Route{
		{Name: "first", Embeddings: [][]float32{{0, 1}}},
		{Name: "second", Embeddings: [][]float32{{0, 1}}},
	}))

	hits, err := idx.Query(ctx, []float32{0, 1}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "first", hits[0].Route)
	assert.Equal(t, "second", hits[1].Route)
}

func TestLayerOverSQLiteIndex(t *testing.T) {
	ctx := context.Background()
	idx, _ := newTestIndex(t)

	politics, err := router.NewRoute("politics").
		WithEmbeddings([][]float32{{1, 0, 0}}).
		Build()
	require.NoError(t, err)
	chitchat, err := router.NewRoute("chitchat").
		WithEmbeddings([][]float32{{0, 1, 0}}).
		Build()
	require.NoError(t, err)

	layer, err := router.NewRouteLayerBuilder().
		WithEmbedder(axisEmbedder{}).
		WithIndex(idx).
		AddRoute(*politics).
		AddRoute(*chitchat).
		WithThreshold(0.7).
		WithAggregation(router.AggregationMax).
		Build(ctx)
	require.NoError(t, err)

	match, err := layer.Route(ctx, "politics")
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, "politics", match.Route)

	match, err = layer.Route(ctx, "unrelated")
	require.NoError(t, err)
	assert.Nil(t, match)
}

// axisEmbedder maps two known words onto unit axes; everything else lands on
// a third axis orthogonal to both routes.
type axisEmbedder struct{}

func (axisEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	switch text {
	case "politics":
		return []float32{1, 0, 0}, nil
	case "chitchat":
		return []float32{0, 1, 0}, nil
	default:
		return []float32{0, 0, 1}, nil
	}
}

func (e axisEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.EmbedQuery(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func TestScoresNeverNaN(t *testing.T) {
	ctx := context.Background()
	idx, _ := newTestIndex(t)

	require.NoError(t, idx.Add(ctx, []router.Route{
		{Name: "r", Embeddings: [][]float32{{1, 0}}},
	}))

	// Zero query vector cannot be normalized; scores must still be finite.
	hits, err := idx.Query(ctx, []float32{0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.False(t, math.IsNaN(hits[0].Score))
}
