package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cierrors "github.com/Aman-CERP/codeindex/internal/errors"
)

// isolate points the user config at an empty temp dir so the developer's
// own ~/.config does not leak into tests.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
}

func TestNewConfig_ReturnsDefaults(t *testing.T) {
	// Given: no configuration file exists
	cfg := NewConfig()

	// Then: defaults are applied
	assert.Equal(t, 1, cfg.Version)
	assert.Equal(t, ".codeindex", cfg.DataDir)
	assert.Equal(t, "ollama", cfg.Embeddings.Provider)
	assert.Equal(t, 32, cfg.Embeddings.BatchSize)
	assert.Equal(t, "hnsw", cfg.Store.Backend)
	assert.Equal(t, "code", cfg.Store.Collection)
	assert.Equal(t, "cosine", cfg.Store.Distance)
	assert.Equal(t, 4, cfg.Indexing.Workers)
	assert.Equal(t, 500*time.Millisecond, cfg.DebounceWindow())
	assert.Equal(t, 30*time.Second, cfg.EmbeddingTimeout())
	assert.Equal(t, 10*time.Second, cfg.StoreTimeout())
	assert.NoError(t, cfg.Validate())
}

func TestLoad_ProjectConfigOverridesDefaults(t *testing.T) {
	isolate(t)
	dir := t.TempDir()

	// Given: a project config changing the store and workers
	yaml := `
store:
  backend: sqlite
  collection: myrepo
indexing:
  workers: 8
watch:
  debounce: 1s
paths:
  exclude: ["generated/**"]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ProjectConfigName), []byte(yaml), 0o644))

	// When: loading
	cfg, err := Load(dir)

	// Then: project values win, untouched defaults remain
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.Equal(t, "myrepo", cfg.Store.Collection)
	assert.Equal(t, "cosine", cfg.Store.Distance)
	assert.Equal(t, 8, cfg.Indexing.Workers)
	assert.Equal(t, time.Second, cfg.DebounceWindow())
	assert.Equal(t, []string{"generated/**"}, cfg.Paths.Exclude)
}

func TestLoad_UserConfigBelowProjectConfig(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	userDir := filepath.Join(xdg, "codeindex")
	require.NoError(t, os.MkdirAll(userDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(userDir, "config.yaml"),
		[]byte("embeddings:\n  host: http://gpu-box:11434\n  model: user-model\n"), 0o644))

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ProjectConfigName),
		[]byte("embeddings:\n  model: project-model\n"), 0o644))

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, "http://gpu-box:11434", cfg.Embeddings.Host)
	assert.Equal(t, "project-model", cfg.Embeddings.Model)
}

func TestLoad_EnvOverridesFiles(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ProjectConfigName),
		[]byte("store:\n  backend: sqlite\n"), 0o644))

	// Given: env vars set
	t.Setenv("CODEINDEX_STORE_BACKEND", "qdrant")
	t.Setenv("CODEINDEX_INDEX_WORKERS", "2")
	t.Setenv("CODEINDEX_WATCH_DEBOUNCE", "750ms")

	// When: loading
	cfg, err := Load(dir)

	// Then: env wins
	require.NoError(t, err)
	assert.Equal(t, "qdrant", cfg.Store.Backend)
	assert.Equal(t, 2, cfg.Indexing.Workers)
	assert.Equal(t, 750*time.Millisecond, cfg.DebounceWindow())
}

func TestLoad_InvalidYAML(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ProjectConfigName), []byte("store: [unclosed"), 0o644))

	_, err := Load(dir)

	require.Error(t, err)
	assert.Equal(t, cierrors.ErrCodeConfigInvalid, cierrors.GetCode(err))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"unknown provider", func(c *Config) { c.Embeddings.Provider = "bogus" }, "embeddings.provider"},
		{"hosted needs dimensions", func(c *Config) { c.Embeddings.Provider = "hosted" }, "embeddings.dimensions"},
		{"unknown backend", func(c *Config) { c.Store.Backend = "pinecone" }, "store.backend"},
		{"bad distance", func(c *Config) { c.Store.Distance = "dot" }, "store.distance"},
		{"too many workers", func(c *Config) { c.Indexing.Workers = 64 }, "indexing.workers"},
		{"zero workers", func(c *Config) { c.Indexing.Workers = 0 }, "indexing.workers"},
		{"bad debounce", func(c *Config) { c.Watch.Debounce = "soon" }, "watch.debounce"},
		{"bad level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given: a default config with one bad value
			cfg := NewConfig()
			tt.mutate(cfg)

			// When: validating
			err := cfg.Validate()

			// Then: the error names the field
			require.Error(t, err)
			var ce *cierrors.CodedError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.field, ce.Details["field"])
		})
	}
}

func TestValidate_StaticWithDimensionsIsValid(t *testing.T) {
	cfg := NewConfig()
	cfg.Embeddings.Provider = "static"
	cfg.Embeddings.Dimensions = 64

	assert.NoError(t, cfg.Validate())
}

func TestResolveDataDir(t *testing.T) {
	cfg := NewConfig()
	assert.Equal(t, filepath.Join("/repo", ".codeindex"), cfg.ResolveDataDir("/repo"))

	cfg.DataDir = "/var/lib/codeindex"
	assert.Equal(t, "/var/lib/codeindex", cfg.ResolveDataDir("/repo"))
}

func TestWriteYAML_RoundTripsThroughLoad(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	cfg := NewConfig()
	cfg.Store.Collection = "roundtrip"

	require.NoError(t, cfg.WriteYAML(filepath.Join(dir, ProjectConfigName)))
	loaded, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, "roundtrip", loaded.Store.Collection)
}

func TestFindProjectRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0o755))
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	got, err := FindProjectRoot(nested)

	require.NoError(t, err)
	assert.Equal(t, root, got)
}
