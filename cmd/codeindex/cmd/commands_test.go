package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/codeindex/internal/config"
	cierrors "github.com/Aman-CERP/codeindex/internal/errors"
	"github.com/Aman-CERP/codeindex/internal/index"
	"github.com/Aman-CERP/codeindex/internal/search"
)

const greetSource = `package pkg

// Greet says hello.
func Greet(name string) string {
	return "hello " + name
}
`

const toolsSource = `def add(a, b):
    return a + b


class Counter:
    def bump(self):
        self.n += 1
`

// newProject writes a small project configured for the static embedder
// and returns its root.
func newProject(t *testing.T) string {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	root := t.TempDir()
	logFile := filepath.Join(t.TempDir(), "codeindex.log")
	cfg := "embeddings:\n  provider: static\n  dimensions: 32\n" +
		"indexing:\n  workers: 2\n" +
		"logging:\n  file: " + logFile + "\n"

	files := map[string]string{
		config.ProjectConfigName: cfg,
		"pkg/greet.go":           greetSource,
		"tools.py":               toolsSource,
	}
	for rel, content := range files {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestIndexQueryHealth(t *testing.T) {
	// Given: a project with Go and Python sources
	project := newProject(t)

	// When: indexing it in plain mode
	out, err := run(t, "index", "--no-tui", project)

	// Then: every file is indexed and the run completes
	require.NoError(t, err)
	assert.Contains(t, out, "[SCAN]")
	assert.Contains(t, out, "Complete: 2 files")

	// When: running a keyword query
	out, err = run(t, "query", "--text", "--json", "--dir", project, "Greet")
	require.NoError(t, err)

	// Then: the Go function is found with its location
	var results []search.Result
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.NotEmpty(t, results)
	assert.Equal(t, "pkg/greet.go", results[0].FilePath)
	assert.Equal(t, 4, results[0].StartLine)

	// When: running a hybrid query restricted to Python
	out, err = run(t, "query", "--json", "--language", "python", "--dir", project, "add two numbers")
	require.NoError(t, err)

	// Then: only Python chunks come back
	results = nil
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.Equal(t, "tools.py", r.FilePath)
	}

	// When: checking health
	out, err = run(t, "health", "--json", project)
	require.NoError(t, err)

	// Then: both backends are ready and the points are counted
	var report map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, true, report["store_healthy"])
	assert.Equal(t, true, report["embedder_ready"])
	assert.Equal(t, "static", report["embedder_model"])
	assert.Greater(t, report["points"], float64(0))
}

func TestIndex_Repeatable(t *testing.T) {
	// Given: an indexed project
	project := newProject(t)
	_, err := run(t, "index", "--no-tui", project)
	require.NoError(t, err)
	first, err := run(t, "health", "--json", project)
	require.NoError(t, err)

	// When: indexing again
	_, err = run(t, "index", "--no-tui", project)
	require.NoError(t, err)
	second, err := run(t, "health", "--json", project)
	require.NoError(t, err)

	// Then: the point count is unchanged
	var a, b map[string]any
	require.NoError(t, json.Unmarshal([]byte(first), &a))
	require.NoError(t, json.Unmarshal([]byte(second), &b))
	assert.Equal(t, a["points"], b["points"])
}

func TestQuery_NoIndexYet(t *testing.T) {
	// Given: a project that was never indexed
	project := newProject(t)

	// When: querying it
	out, err := run(t, "query", "--dir", project, "anything")

	// Then: there are simply no results
	require.NoError(t, err)
	assert.Contains(t, out, "No results.")
}

func TestQuery_ConflictingModes(t *testing.T) {
	project := newProject(t)

	_, err := run(t, "query", "--text", "--vector", "--dir", project, "x")

	assert.Error(t, err)
}

func TestDataDirLocked(t *testing.T) {
	// Given: another holder of the project's data directory lock
	project := newProject(t)
	lock, err := index.AcquireDataLock(filepath.Join(project, config.DefaultDataDir))
	require.NoError(t, err)
	defer func() { _ = lock.Release() }()

	// When: indexing the project
	_, err = run(t, "index", "--no-tui", project)

	// Then: the command refuses with the locked error code
	require.Error(t, err)
	assert.Equal(t, cierrors.ErrCodeDataDirLocked, cierrors.GetCode(err))
}

func TestIndex_Profiles(t *testing.T) {
	// Given: a project and a profile destination
	project := newProject(t)
	heap := filepath.Join(t.TempDir(), "heap.prof")

	// When: indexing with --memprofile
	_, err := run(t, "index", "--no-tui", "--memprofile", heap, project)

	// Then: the heap profile is written
	require.NoError(t, err)
	info, err := os.Stat(heap)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}
