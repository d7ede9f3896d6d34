package integration

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/codeindex/internal/embed"
	"github.com/Aman-CERP/codeindex/internal/index"
	"github.com/Aman-CERP/codeindex/internal/logging"
	"github.com/Aman-CERP/codeindex/internal/search"
	"github.com/Aman-CERP/codeindex/internal/watcher"
)

// watch runs the watcher and dispatcher against s until the test ends.
func watch(t *testing.T, s *stack) *watcher.Dispatcher {
	t.Helper()
	w, err := watcher.NewFSWatcher(s.root, watcher.Options{Debounce: 100 * time.Millisecond}, logging.Discard())
	require.NoError(t, err)
	d := watcher.NewDispatcher(w.Batches(), s.coord, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{}, 2)
	go func() { _ = w.Run(ctx); done <- struct{}{} }()
	go func() { d.Run(ctx); done <- struct{}{} }()
	t.Cleanup(func() {
		cancel()
		<-done
		<-done
		_ = w.Close()
	})
	return d
}

func (s *stack) pointsFor(t *testing.T, path string) int {
	t.Helper()
	pts, err := s.store.PointsByFilePath(context.Background(), index.DefaultCollection, path)
	require.NoError(t, err)
	return len(pts)
}

func TestWatcher_KeepsIndexInSync(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// Given: an indexed project being watched
	root := t.TempDir()
	writeFiles(t, root, project)
	s := openStack(t, root, filepath.Join(root, ".codeindex"), "hnsw")
	s.index(t)
	d := watch(t, s)

	// When: a new file is created
	writeFiles(t, root, map[string]string{"auth/session.go": `package auth

func StartSession(user string) string {
	return user
}
`})

	// Then: it becomes searchable
	require.Eventually(t, func() bool {
		return s.pointsFor(t, "auth/session.go") == 1
	}, 10*time.Second, 50*time.Millisecond)
	results := s.search(t, "StartSession", search.Options{Mode: search.ModeKeyword})
	require.NotEmpty(t, results)
	assert.Equal(t, "auth/session.go", results[0].FilePath)

	// When: a file is deleted
	require.NoError(t, os.Remove(filepath.Join(root, "web", "app.ts")))

	// Then: its chunks leave the index
	require.Eventually(t, func() bool {
		return s.pointsFor(t, "web/app.ts") == 0
	}, 10*time.Second, 50*time.Millisecond)
	assert.Empty(t, s.search(t, "renderPage", search.Options{Mode: search.ModeKeyword}))

	totals := d.Totals()
	assert.GreaterOrEqual(t, totals.Indexed, 1)
	assert.GreaterOrEqual(t, totals.Removed, 1)
}

func TestWatcher_IgnoresDataDir(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// Given: a watched project
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"main.go": "package main\n\nfunc main() {}\n"})
	s := openStack(t, root, filepath.Join(root, ".codeindex"), "hnsw")
	s.index(t)
	d := watch(t, s)

	// When: a source file appears inside the data directory, then a real one
	writeFiles(t, root, map[string]string{
		".codeindex/scratch.go": "package scratch\n\nfunc Hidden() {}\n",
	})
	writeFiles(t, root, map[string]string{"util.go": "package main\n\nfunc helper() {}\n"})

	// Then: only the real file is indexed
	require.Eventually(t, func() bool {
		return s.pointsFor(t, "util.go") == 1
	}, 10*time.Second, 50*time.Millisecond)
	assert.Zero(t, s.pointsFor(t, ".codeindex/scratch.go"))
	assert.Zero(t, d.Totals().Failed)
}

// holdingEmbedder blocks its first batch until released.
type holdingEmbedder struct {
	*embed.StaticEmbedder
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (h *holdingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	first := false
	h.once.Do(func() { first = true })
	if first {
		close(h.entered)
		select {
		case <-h.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return h.StaticEmbedder.EmbedBatch(ctx, texts)
}

func TestFollow_AppliesChangesMadeDuringInitialIndex(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// Given: a project whose initial index is held paused mid-run
	root := t.TempDir()
	writeFiles(t, root, project)
	emb := &holdingEmbedder{
		StaticEmbedder: embed.NewStaticEmbedder(dims),
		entered:        make(chan struct{}),
		release:        make(chan struct{}),
	}
	s := openStackWith(t, root, filepath.Join(root, ".codeindex"), "hnsw", emb)

	w, err := watcher.NewFSWatcher(root, watcher.Options{Debounce: 50 * time.Millisecond}, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	d := watcher.NewDispatcher(w.Batches(), s.coord, logging.Discard())

	snaps := make(chan index.Snapshot, 1)
	initial := func(ctx context.Context) error {
		h, err := s.coord.StartIndexing(ctx, root, nil)
		if err != nil {
			return err
		}
		<-emb.entered
		if err := s.coord.Pause(h); err != nil {
			return err
		}

		// When: a file is created while the run is paused
		session := "package auth\n\nfunc StartSession(user string) string {\n\treturn user\n}\n"
		if err := os.WriteFile(filepath.Join(root, "auth", "session.go"), []byte(session), 0o644); err != nil {
			return err
		}
		time.Sleep(200 * time.Millisecond)

		if err := s.coord.Resume(h); err != nil {
			return err
		}
		close(emb.release)
		snap, err := s.coord.Wait(ctx, h)
		snaps <- snap
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- watcher.Follow(ctx, w, d, initial) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	// Then: the run finishes without the new file, and the watcher adds it
	require.Eventually(t, func() bool {
		return s.pointsFor(t, "auth/session.go") == 1
	}, 10*time.Second, 50*time.Millisecond)
	snap := <-snaps
	assert.Equal(t, index.StatusCompleted, snap.Status)
	assert.Equal(t, 4, snap.TotalFiles)
	results := s.search(t, "StartSession", search.Options{Mode: search.ModeKeyword})
	require.NotEmpty(t, results)
	assert.Equal(t, "auth/session.go", results[0].FilePath)
}
