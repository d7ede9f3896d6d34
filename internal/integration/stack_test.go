package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/codeindex/internal/chunk"
	"github.com/Aman-CERP/codeindex/internal/config"
	"github.com/Aman-CERP/codeindex/internal/embed"
	"github.com/Aman-CERP/codeindex/internal/index"
	"github.com/Aman-CERP/codeindex/internal/logging"
	"github.com/Aman-CERP/codeindex/internal/scanner"
	"github.com/Aman-CERP/codeindex/internal/search"
	"github.com/Aman-CERP/codeindex/internal/store"
)

const dims = 48

// stack is the full engine over on-disk stores, as the CLI wires it.
type stack struct {
	root    string
	dataDir string
	store   store.VectorStore
	keyword *store.KeywordIndex
	coord   *index.Coordinator
	engine  *search.Engine
	close   func()
}

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

// openStack opens the stores under dataDir with the given backend.
func openStack(t *testing.T, root, dataDir, backend string) *stack {
	t.Helper()
	return openStackWith(t, root, dataDir, backend, embed.NewStaticEmbedder(dims))
}

func openStackWith(t *testing.T, root, dataDir, backend string, emb embed.Embedder) *stack {
	t.Helper()
	logger := logging.Discard()

	vs, err := store.New(config.StoreConfig{Backend: backend}, dataDir, 5*time.Second, logger)
	require.NoError(t, err)
	kw, err := store.OpenKeyword(config.KeywordConfig{}, dataDir, logger)
	require.NoError(t, err)
	extractor := chunk.NewExtractor(logger)

	coord, err := index.NewCoordinator(index.Deps{
		Discoverer: scanner.New(scanner.Options{}, logger),
		Extractor:  extractor,
		Embedder:   emb,
		Store:      vs,
		Keyword:    kw,
		Logger:     logger,
	}, index.Config{Root: root, Distance: store.DistanceCosine, Workers: 2})
	require.NoError(t, err)

	s := &stack{
		root:    root,
		dataDir: dataDir,
		store:   vs,
		keyword: kw,
		coord:   coord,
		engine: &search.Engine{
			Embedder:   emb,
			Store:      vs,
			Keyword:    kw,
			Collection: index.DefaultCollection,
			Logger:     logger,
		},
	}
	closed := false
	s.close = func() {
		if closed {
			return
		}
		closed = true
		extractor.Close()
		_ = kw.Close()
		_ = vs.Close()
	}
	t.Cleanup(s.close)
	return s
}

func (s *stack) index(t *testing.T) index.Snapshot {
	t.Helper()
	h, err := s.coord.StartIndexing(context.Background(), s.root, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	snap, err := s.coord.Wait(ctx, h)
	require.NoError(t, err)
	return snap
}

func (s *stack) search(t *testing.T, query string, opts search.Options) []search.Result {
	t.Helper()
	results, err := s.engine.Search(context.Background(), query, opts)
	require.NoError(t, err)
	return results
}

func paths(results []search.Result) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.FilePath)
	}
	return out
}
