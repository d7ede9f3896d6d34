package indexer_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cierrors "github.com/Aman-CERP/codeindex/internal/errors"
	"github.com/Aman-CERP/codeindex/pkg/indexer"
)

func writeProject(t *testing.T, files map[string]string) string {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

func open(t *testing.T, root string, opts ...indexer.Option) *indexer.Indexer {
	t.Helper()
	opts = append([]indexer.Option{indexer.WithStaticEmbedder(32), indexer.WithWorkers(2)}, opts...)
	ix, err := indexer.Open(root, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ix.Close() })
	return ix
}

func runToEnd(t *testing.T, ix *indexer.Indexer) indexer.Snapshot {
	t.Helper()
	h, err := ix.StartIndexing(context.Background(), "", nil)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	snap, err := ix.Wait(ctx, h)
	require.NoError(t, err)
	return snap
}

var sample = map[string]string{
	"auth/token.go": "package auth\n\nfunc ValidateToken(token string) bool {\n\treturn len(token) == 32\n}\n",
	"util.py":       "def slugify(text):\n    return text.lower()\n",
	"bad.py":        "def oops(:\n",
}

func TestIndexer_FullRunThenSearch(t *testing.T) {
	// Given: a project with two good files and one broken one
	root := writeProject(t, sample)
	ix := open(t, root)

	// When: a full run completes
	var last indexer.Snapshot
	h, err := ix.StartIndexing(context.Background(), "", func(s indexer.Snapshot) { last = s })
	require.NoError(t, err)
	snap, err := ix.Wait(context.Background(), h)
	require.NoError(t, err)

	// Then: the broken file is recorded and the rest is searchable
	assert.Equal(t, indexer.StatusCompleted, snap.Status)
	assert.Equal(t, 3, snap.ProcessedFiles)
	require.Len(t, snap.Errors, 1)
	assert.Equal(t, "bad.py", snap.Errors[0].FilePath)
	assert.Equal(t, 3, last.ProcessedFiles)

	status, err := ix.GetStatus(h)
	require.NoError(t, err)
	assert.Equal(t, snap.RunID, status.RunID)

	results, err := ix.Search(context.Background(), "ValidateToken", indexer.SearchOptions{Mode: indexer.ModeKeyword})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "auth/token.go", results[0].FilePath)
}

func TestIndexer_IncrementalUpdates(t *testing.T) {
	root := writeProject(t, sample)
	ix := open(t, root)
	runToEnd(t, ix)
	ctx := context.Background()

	// When: a new file is indexed on its own
	require.NoError(t, os.WriteFile(filepath.Join(root, "cache.py"), []byte("def evict_oldest(store):\n    store.pop()\n"), 0o644))
	n, err := ix.IndexFile(ctx, "cache.py")

	// Then: it is searchable, and gone again after RemoveFile
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	results, err := ix.Search(ctx, "evict_oldest", indexer.SearchOptions{Mode: indexer.ModeKeyword})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "cache.py", results[0].FilePath)

	require.NoError(t, ix.RemoveFile(ctx, "cache.py"))
	results, err = ix.Search(ctx, "evict_oldest", indexer.SearchOptions{Mode: indexer.ModeKeyword})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestIndexer_LifecycleOnFinishedRun(t *testing.T) {
	root := writeProject(t, sample)
	ix := open(t, root)
	h, err := ix.StartIndexing(context.Background(), "", nil)
	require.NoError(t, err)
	_, err = ix.Wait(context.Background(), h)
	require.NoError(t, err)

	assert.ErrorIs(t, ix.Pause(h), indexer.ErrInvalidTransition)
	assert.ErrorIs(t, ix.Resume(h), indexer.ErrInvalidTransition)
	assert.ErrorIs(t, ix.Cancel(h), indexer.ErrInvalidTransition)
	_, err = ix.GetStatus(indexer.RunHandle{ID: "nope"})
	assert.ErrorIs(t, err, indexer.ErrRunNotFound)
}

func TestOpen_LocksDataDir(t *testing.T) {
	// Given: an open project
	root := writeProject(t, sample)
	ix := open(t, root)

	// When: it is opened a second time
	_, err := indexer.Open(root, indexer.WithStaticEmbedder(32))

	// Then: the lock refuses, until the first one closes
	assert.Equal(t, cierrors.ErrCodeDataDirLocked, cierrors.GetCode(err))
	require.NoError(t, ix.Close())
	require.NoError(t, ix.Close())

	again, err := indexer.Open(root, indexer.WithStaticEmbedder(32))
	require.NoError(t, err)
	require.NoError(t, again.Close())
}

func TestOpen_OptionsAreValidated(t *testing.T) {
	root := writeProject(t, sample)

	_, err := indexer.Open(root, indexer.WithStaticEmbedder(32), indexer.WithWorkers(0))
	assert.Error(t, err)

	_, err = indexer.Open(root, indexer.WithStaticEmbedder(32), indexer.WithStoreBackend("mongo"))
	assert.Error(t, err)
}

func TestOpen_SQLiteBackendAndDataDir(t *testing.T) {
	root := writeProject(t, sample)
	ix := open(t, root, indexer.WithStoreBackend("sqlite"), indexer.WithDataDir("state"))

	snap := runToEnd(t, ix)

	assert.Equal(t, indexer.StatusCompleted, snap.Status)
	assert.DirExists(t, filepath.Join(root, "state"))
	assert.Equal(t, root, ix.Root())
}
