package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/codeindex/internal/config"
	cierrors "github.com/Aman-CERP/codeindex/internal/errors"
	"github.com/Aman-CERP/codeindex/internal/logging"
)

const testCollection = "code"

// backends returns constructors for every backend; qdrant runs against a fake server.
func backends() map[string]func(t *testing.T) VectorStore {
	return map[string]func(t *testing.T) VectorStore{
		"hnsw-memory": func(t *testing.T) VectorStore {
			s, err := NewHNSWStore(HNSWConfig{Logger: logging.Discard()})
			require.NoError(t, err)
			return s
		},
		"hnsw-file": func(t *testing.T) VectorStore {
			s, err := NewHNSWStore(HNSWConfig{Path: filepath.Join(t.TempDir(), "v.db"), Logger: logging.Discard()})
			require.NoError(t, err)
			return s
		},
		"sqlite": func(t *testing.T) VectorStore {
			s, err := NewSQLiteStore("", logging.Discard())
			require.NoError(t, err)
			return s
		},
		"qdrant": func(t *testing.T) VectorStore {
			_, srv := newFakeQdrant(t)
			return newTestQdrant(t, srv.URL)
		},
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s VectorStore)) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			defer func() { _ = s.Close() }()
			fn(t, s)
		})
	}
}

func pt(id, file string, vec ...float32) Point {
	return Point{ID: id, Vector: vec, Payload: Payload{FilePath: file, Content: id, StartLine: 1, EndLine: 2, Kind: "function"}}
}

func ids(results []Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.ID
	}
	return out
}

func TestVectorStore_EnsureCollection(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s VectorStore) {
		ctx := context.Background()

		// Given a collection of size 4
		require.NoError(t, s.EnsureCollection(ctx, testCollection, 4, DistanceCosine))

		// When ensured again with the same size
		err := s.EnsureCollection(ctx, testCollection, 4, DistanceCosine)

		// Then nothing changes
		require.NoError(t, err)

		// When ensured with another size
		err = s.EnsureCollection(ctx, testCollection, 8, DistanceCosine)

		// Then a schema mismatch is reported
		var sm *cierrors.SchemaMismatchError
		require.True(t, errors.As(err, &sm), "got %v", err)
		assert.Equal(t, 4, sm.Existing)
		assert.Equal(t, 8, sm.Requested)
	})
}

func TestVectorStore_MissingCollection(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s VectorStore) {
		ctx := context.Background()

		err := s.Upsert(ctx, "nope", []Point{pt("a", "a.go", 1, 0)})
		assert.ErrorIs(t, err, ErrCollectionNotFound)

		_, err = s.Query(ctx, "nope", []float32{1, 0}, 3)
		assert.ErrorIs(t, err, ErrCollectionNotFound)

		_, err = s.Count(ctx, "nope")
		assert.ErrorIs(t, err, ErrCollectionNotFound)

		var se *cierrors.StoreError
		require.True(t, errors.As(err, &se))
		assert.False(t, se.Transient)
	})
}

func TestVectorStore_QueryOrdersBySimilarity(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s VectorStore) {
		ctx := context.Background()
		require.NoError(t, s.EnsureCollection(ctx, testCollection, 4, DistanceCosine))

		// Given a=[1,0,0,0], b=[0,1,0,0], c=[0.9,0.1,0,0]
		require.NoError(t, s.Upsert(ctx, testCollection, []Point{
			pt("a", "x.go", 1, 0, 0, 0),
			pt("b", "x.go", 0, 1, 0, 0),
			pt("c", "y.go", 0.9, 0.1, 0, 0),
		}))

		// When querying [1,0,0,0] for 2 results
		res, err := s.Query(ctx, testCollection, []float32{1, 0, 0, 0}, 2)

		// Then a is first and c second, with payloads intact
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "c"}, ids(res))
		assert.InDelta(t, 1.0, float64(res[0].Score), 0.0001)
		assert.Equal(t, "y.go", res[1].Payload.FilePath)
		assert.Equal(t, "function", res[1].Payload.Kind)
	})
}

func TestVectorStore_UpsertIsIdempotent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s VectorStore) {
		ctx := context.Background()
		require.NoError(t, s.EnsureCollection(ctx, testCollection, 2, DistanceCosine))
		points := []Point{pt("a", "a.go", 1, 0), pt("b", "a.go", 0, 1)}

		// When the same points are upserted twice
		require.NoError(t, s.Upsert(ctx, testCollection, points))
		first, err := s.Query(ctx, testCollection, []float32{1, 1}, 10)
		require.NoError(t, err)
		require.NoError(t, s.Upsert(ctx, testCollection, points))

		// Then the count and the query result are unchanged
		n, err := s.Count(ctx, testCollection)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		second, err := s.Query(ctx, testCollection, []float32{1, 1}, 10)
		require.NoError(t, err)
		assert.Equal(t, ids(first), ids(second))
	})
}

func TestVectorStore_TiesKeepInsertionOrder(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s VectorStore) {
		ctx := context.Background()
		require.NoError(t, s.EnsureCollection(ctx, testCollection, 2, DistanceCosine))

		// Given three identical vectors inserted z, x, y
		for _, id := range []string{"z", "x", "y"} {
			require.NoError(t, s.Upsert(ctx, testCollection, []Point{pt(id, "f.go", 1, 1)}))
		}

		// When z is overwritten with new content
		updated := pt("z", "f.go", 1, 1)
		updated.Payload.Content = "changed"
		require.NoError(t, s.Upsert(ctx, testCollection, []Point{updated}))

		// Then ties still follow first insertion
		res, err := s.Query(ctx, testCollection, []float32{1, 1}, 3)
		require.NoError(t, err)
		assert.Equal(t, []string{"z", "x", "y"}, ids(res))
		assert.Equal(t, "changed", res[0].Payload.Content)
	})
}

func TestVectorStore_DeleteByFilePathIsComplete(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s VectorStore) {
		ctx := context.Background()
		require.NoError(t, s.EnsureCollection(ctx, testCollection, 2, DistanceCosine))

		// Given three chunks of a.go and one of b.go
		require.NoError(t, s.Upsert(ctx, testCollection, []Point{
			pt("a1", "a.go", 1, 0), pt("a2", "a.go", 0.8, 0.2), pt("a3", "a.go", 0.5, 0.5),
			pt("b1", "b.go", 0, 1),
		}))

		// When a.go is deleted
		require.NoError(t, s.DeleteByFilePath(ctx, testCollection, "a.go"))

		// Then no a.go point remains anywhere
		n, err := s.Count(ctx, testCollection)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		left, err := s.PointsByFilePath(ctx, testCollection, "a.go")
		require.NoError(t, err)
		assert.Empty(t, left)

		res, err := s.Query(ctx, testCollection, []float32{1, 0}, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{"b1"}, ids(res))

		// And deleting an unknown file is a no-op
		assert.NoError(t, s.DeleteByFilePath(ctx, testCollection, "missing.go"))
	})
}

func TestVectorStore_PointsByFilePathInInsertionOrder(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s VectorStore) {
		ctx := context.Background()
		require.NoError(t, s.EnsureCollection(ctx, testCollection, 2, DistanceCosine))
		require.NoError(t, s.Upsert(ctx, testCollection, []Point{
			pt("c", "a.go", 1, 0), pt("a", "a.go", 0, 1), pt("other", "b.go", 1, 1),
		}))
		require.NoError(t, s.Upsert(ctx, testCollection, []Point{pt("b", "a.go", 1, 1)}))

		got, err := s.PointsByFilePath(ctx, testCollection, "a.go")

		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, "c", got[0].ID)
		assert.Equal(t, "a", got[1].ID)
		assert.Equal(t, "b", got[2].ID)
		assert.Equal(t, []float32{1, 1}, got[2].Vector)
	})
}

func TestVectorStore_RejectsWrongDimensions(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s VectorStore) {
		ctx := context.Background()
		require.NoError(t, s.EnsureCollection(ctx, testCollection, 3, DistanceCosine))

		err := s.Upsert(ctx, testCollection, []Point{pt("a", "a.go", 1, 0)})
		var dm ErrDimensionMismatch
		require.True(t, errors.As(err, &dm), "got %v", err)
		assert.Equal(t, 3, dm.Expected)
		assert.True(t, cierrors.IsFatal(err), "a wrong-size vector fails the run")

		_, err = s.Query(ctx, testCollection, []float32{1}, 1)
		assert.Error(t, err)
	})
}

func TestVectorStore_EuclidDistance(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s VectorStore) {
		ctx := context.Background()
		require.NoError(t, s.EnsureCollection(ctx, testCollection, 2, DistanceEuclid))

		// Given points on a line; cosine would call near and far equal
		require.NoError(t, s.Upsert(ctx, testCollection, []Point{
			pt("far", "a.go", 10, 0), pt("near", "a.go", 1, 0), pt("mid", "a.go", 3, 0),
		}))

		res, err := s.Query(ctx, testCollection, []float32{1, 0}, 3)

		require.NoError(t, err)
		assert.Equal(t, []string{"near", "mid", "far"}, ids(res))
		assert.InDelta(t, 1.0, float64(res[0].Score), 0.0001)
	})
}

func TestVectorStore_HealthAndClose(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s VectorStore) {
		ctx := context.Background()
		require.NoError(t, s.EnsureCollection(ctx, "b", 2, DistanceCosine))
		require.NoError(t, s.EnsureCollection(ctx, "a", 2, DistanceCosine))

		h := s.Health(ctx)
		assert.True(t, h.Healthy, h.Error)
		assert.Equal(t, []string{"a", "b"}, h.Collections)

		require.NoError(t, s.Close())
		assert.NoError(t, s.Close(), "close is idempotent")

		h = s.Health(ctx)
		assert.False(t, h.Healthy)
		_, err := s.Count(ctx, "a")
		assert.ErrorIs(t, err, ErrClosed)
	})
}

func TestHNSWStore_ReopenRestoresPointsAndSequence(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "vectors.db")

	// Given a persisted store with two tied points
	s, err := NewHNSWStore(HNSWConfig{Path: path, Logger: logging.Discard()})
	require.NoError(t, err)
	require.NoError(t, s.EnsureCollection(ctx, testCollection, 2, DistanceCosine))
	require.NoError(t, s.Upsert(ctx, testCollection, []Point{pt("b", "f.go", 1, 1), pt("a", "f.go", 1, 1)}))
	require.NoError(t, s.Close())

	// When reopened and a third tied point is added
	s, err = NewHNSWStore(HNSWConfig{Path: path, Logger: logging.Discard()})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	require.NoError(t, s.Upsert(ctx, testCollection, []Point{pt("c", "f.go", 1, 1)}))

	// Then the old points survive and the new one sorts after them
	n, err := s.Count(ctx, testCollection)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	res, err := s.Query(ctx, testCollection, []float32{1, 1}, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a", "c"}, ids(res))

	var sm *cierrors.SchemaMismatchError
	assert.True(t, errors.As(s.EnsureCollection(ctx, testCollection, 3, DistanceCosine), &sm))
}

func TestSQLiteStore_ReopenRestoresPoints(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "vectors.sqlite")

	s, err := NewSQLiteStore(path, logging.Discard())
	require.NoError(t, err)
	require.NoError(t, s.EnsureCollection(ctx, testCollection, 2, DistanceCosine))
	require.NoError(t, s.Upsert(ctx, testCollection, []Point{pt("a", "f.go", 0.25, -1.5)}))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path, logging.Discard())
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	got, err := s.PointsByFilePath(ctx, testCollection, "f.go")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []float32{0.25, -1.5}, got[0].Vector)
}

func TestHNSWStore_GraphSearchFindsNearest(t *testing.T) {
	ctx := context.Background()

	// Given a store that always walks the graph
	s, err := NewHNSWStore(HNSWConfig{ExactBelow: -1, Logger: logging.Discard()})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	require.NoError(t, s.EnsureCollection(ctx, testCollection, 3, DistanceCosine))

	var points []Point
	for i := 0; i < 200; i++ {
		points = append(points, pt(fmt.Sprintf("p%d", i), "f.go", float32(i%7)+0.1, float32(i%11)+0.1, float32(i%13)+0.1))
	}
	points = append(points, pt("target", "t.go", 0, 0, 1))
	require.NoError(t, s.Upsert(ctx, testCollection, points))

	// When querying the target direction
	res, err := s.Query(ctx, testCollection, []float32{0, 0, 1}, 1)

	// Then the exact match is found
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "target", res[0].ID)
}

func TestHNSWStore_OverwritesCompactGraph(t *testing.T) {
	ctx := context.Background()
	s, err := NewHNSWStore(HNSWConfig{ExactBelow: -1, Logger: logging.Discard()})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	require.NoError(t, s.EnsureCollection(ctx, testCollection, 2, DistanceCosine))

	// When the same ten points are rewritten many times
	for round := 0; round < 30; round++ {
		var batch []Point
		for i := 0; i < 10; i++ {
			batch = append(batch, pt(fmt.Sprintf("p%d", i), "f.go", float32(i+1), float32(round+1)))
		}
		require.NoError(t, s.Upsert(ctx, testCollection, batch))
	}

	// Then only live points are counted and the graph stays bounded
	n, err := s.Count(ctx, testCollection)
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	c := s.collections[testCollection]
	assert.LessOrEqual(t, c.graph.Len(), 10+c.orphans)
	assert.LessOrEqual(t, c.orphans, 64+10)

	res, err := s.Query(ctx, testCollection, []float32{1, 0}, 10)
	require.NoError(t, err)
	assert.Len(t, res, 10)
}

func TestNew_UnknownBackend(t *testing.T) {
	_, err := New(config.StoreConfig{Backend: "milvus"}, t.TempDir(), 0, logging.Discard())
	assert.Equal(t, cierrors.ErrCodeUnknownBackend, cierrors.GetCode(err))
}
