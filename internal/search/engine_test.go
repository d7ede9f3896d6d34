package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/codeindex/internal/chunk"
	"github.com/Aman-CERP/codeindex/internal/embed"
	cierrors "github.com/Aman-CERP/codeindex/internal/errors"
	"github.com/Aman-CERP/codeindex/internal/logging"
	"github.com/Aman-CERP/codeindex/internal/store"
)

const (
	testDims       = 64
	testCollection = "code"
)

var corpus = []chunk.Chunk{
	newChunk("config/load.go", 3, 9, "go", "loadConfig", "func loadConfig(path string) (*Config, error) {\n\treturn parseYAML(path)\n}"),
	newChunk("config/load.go", 11, 15, "go", "parseYAML", "func parseYAML(path string) (*Config, error) {\n\treturn nil, nil\n}"),
	newChunk("server/http.go", 1, 6, "go", "serveHTTP", "func serveHTTP(addr string) error {\n\treturn listen(addr)\n}"),
	newChunk("scripts/deploy.py", 1, 4, "python", "deploy", "def deploy(target):\n    upload(target)\n"),
}

func newChunk(path string, start, end int, lang, name, content string) chunk.Chunk {
	return chunk.Chunk{
		ID:        chunk.ChunkID(path, start, end),
		FilePath:  path,
		Content:   content,
		StartLine: start,
		EndLine:   end,
		Kind:      chunk.KindFunction,
		Language:  lang,
		Name:      name,
	}
}

func newEngine(t *testing.T, withKeyword bool) *Engine {
	t.Helper()
	ctx := context.Background()
	emb := embed.NewStaticEmbedder(testDims)

	vs, err := store.NewHNSWStore(store.HNSWConfig{Logger: logging.Discard()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = vs.Close() })
	require.NoError(t, vs.EnsureCollection(ctx, testCollection, testDims, store.DistanceCosine))

	byFile := map[string][]chunk.Chunk{}
	for _, c := range corpus {
		vec, err := emb.Embed(ctx, c.Content)
		require.NoError(t, err)
		require.NoError(t, vs.Upsert(ctx, testCollection, []store.Point{store.PointFromChunk(c, vec)}))
		byFile[c.FilePath] = append(byFile[c.FilePath], c)
	}

	e := &Engine{Embedder: emb, Store: vs, Collection: testCollection, Logger: logging.Discard()}
	if withKeyword {
		kw, err := store.OpenKeywordIndex("", logging.Discard())
		require.NoError(t, err)
		t.Cleanup(func() { _ = kw.Close() })
		for path, chunks := range byFile {
			require.NoError(t, kw.IndexFile(ctx, path, chunks))
		}
		e.Keyword = kw
	}
	return e
}

func TestSearch_VectorFindsExactContent(t *testing.T) {
	// Given: an engine over the corpus
	e := newEngine(t, false)

	// When: querying with the text of one chunk
	results, err := e.Search(t.Context(), corpus[2].Content, Options{TopK: 2, Mode: ModeVector})

	// Then: that chunk ranks first with its payload
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, corpus[2].ID, results[0].ID)
	assert.Equal(t, "server/http.go", results[0].FilePath)
	assert.Equal(t, "serveHTTP", results[0].Name)
	assert.Equal(t, corpus[2].Content, results[0].Content)
	assert.InDelta(t, 1.0, results[0].Score, 0.001)
}

func TestSearch_KeywordOnlyLoadsContent(t *testing.T) {
	e := newEngine(t, true)

	results, err := e.Search(t.Context(), "deploy", Options{Mode: ModeKeyword})

	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "scripts/deploy.py", results[0].FilePath)
	assert.Contains(t, results[0].Content, "upload(target)")
	assert.Positive(t, results[0].KeywordScore)
	assert.Zero(t, results[0].VectorScore)
}

func TestSearch_HybridFusesBothLists(t *testing.T) {
	// Given: both indexes
	e := newEngine(t, true)

	// When: the query matches one chunk by text and by vector
	results, err := e.Search(t.Context(), corpus[3].Content, Options{TopK: 4})

	// Then: that chunk appears in both lists and is normalised to 1
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, corpus[3].ID, results[0].ID)
	assert.True(t, results[0].InBothLists)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
	for i := 1; i < len(results); i++ {
		assert.LessOrEqual(t, results[i].Score, results[i-1].Score)
	}
}

func TestSearch_HybridWithoutKeywordFallsBackToVector(t *testing.T) {
	e := newEngine(t, false)

	results, err := e.Search(t.Context(), corpus[0].Content, Options{TopK: 1, Mode: ModeHybrid})

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, corpus[0].ID, results[0].ID)
	assert.False(t, results[0].InBothLists)
}

func TestSearch_Filters(t *testing.T) {
	e := newEngine(t, true)

	t.Run("language", func(t *testing.T) {
		results, err := e.Search(t.Context(), corpus[0].Content, Options{Language: "python", Mode: ModeVector})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "scripts/deploy.py", results[0].FilePath)
	})

	t.Run("path prefix", func(t *testing.T) {
		results, err := e.Search(t.Context(), corpus[2].Content, Options{PathPrefix: "config/", Mode: ModeVector})
		require.NoError(t, err)
		require.Len(t, results, 2)
		for _, r := range results {
			assert.Equal(t, "config/load.go", r.FilePath)
		}
	})

	t.Run("prefix is a path segment", func(t *testing.T) {
		results, err := e.Search(t.Context(), corpus[2].Content, Options{PathPrefix: "conf", Mode: ModeVector})
		require.NoError(t, err)
		assert.Empty(t, results)
	})
}

func TestSearch_Validation(t *testing.T) {
	e := newEngine(t, false)

	_, err := e.Search(t.Context(), "   ", Options{})
	assert.Equal(t, cierrors.ErrCodeInvalidInput, cierrors.GetCode(err))

	_, err = e.Search(t.Context(), "x", Options{Mode: "fuzzy"})
	assert.Equal(t, cierrors.ErrCodeInvalidInput, cierrors.GetCode(err))

	_, err = e.Search(t.Context(), "x", Options{Mode: ModeKeyword})
	assert.Error(t, err)
}

func TestSearch_MissingCollectionIsEmpty(t *testing.T) {
	e := newEngine(t, false)
	e.Collection = "other"

	results, err := e.Search(t.Context(), "anything", Options{})

	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestFuse_MissingRankAndTieBreaks(t *testing.T) {
	// Given: A and B in both lists, C only in keyword, D only in vector
	keyword := []store.KeywordHit{{ID: "A", Score: 3}, {ID: "B", Score: 2}, {ID: "C", Score: 1}}
	vector := []store.Result{{Point: store.Point{ID: "B"}, Score: 0.9}, {Point: store.Point{ID: "A"}, Score: 0.8}, {Point: store.Point{ID: "D"}, Score: 0.7}}

	// When: fusing with equal weights
	out := fuse(keyword, vector, Weights{Keyword: 0.5, Semantic: 0.5}, 60)

	// Then: A and B tie on score, A wins on keyword score, C and D tie and
	// are ordered by id
	require.Len(t, out, 4)
	ids := []string{out[0].id, out[1].id, out[2].id, out[3].id}
	assert.Equal(t, []string{"A", "B", "C", "D"}, ids)
	assert.InDelta(t, 1.0, out[0].score, 1e-12)
	assert.InDelta(t, out[0].score, out[1].score, 1e-12)
	assert.True(t, out[0].inBoth())
	assert.False(t, out[2].inBoth())
	assert.Equal(t, 4, out[3].vectorRank+1)
}

func TestFuse_Empty(t *testing.T) {
	assert.Empty(t, fuse(nil, nil, DefaultWeights(), 0))
}
