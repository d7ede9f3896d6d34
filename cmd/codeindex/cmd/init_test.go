package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/codeindex/configs"
	"github.com/Aman-CERP/codeindex/internal/config"
)

func TestInit_WritesTemplateAndGitignore(t *testing.T) {
	// Given: an empty project
	root := t.TempDir()

	// When: running init
	out, err := run(t, "init", root)

	// Then: the template and the ignore entry are written
	require.NoError(t, err)
	assert.Contains(t, out, "Created .codeindex.yaml")
	data, err := os.ReadFile(filepath.Join(root, config.ProjectConfigName))
	require.NoError(t, err)
	assert.Equal(t, configs.ProjectConfigTemplate, string(data))

	ignore, err := os.ReadFile(filepath.Join(root, ".gitignore"))
	require.NoError(t, err)
	assert.Equal(t, "# codeindex data\n.codeindex/\n", string(ignore))
}

func TestInit_TemplateLoads(t *testing.T) {
	// Given: a project initialised from the template
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	root := t.TempDir()
	_, err := run(t, "init", root)
	require.NoError(t, err)

	// When: loading its configuration
	cfg, err := config.Load(root)

	// Then: it parses to the defaults
	require.NoError(t, err)
	assert.Equal(t, "ollama", cfg.Embeddings.Provider)
	assert.Equal(t, "hnsw", cfg.Store.Backend)
	assert.Equal(t, "code", cfg.Store.Collection)
}

func TestInit_PreservesExistingConfig(t *testing.T) {
	// Given: a project with its own configuration
	root := t.TempDir()
	custom := "store:\n  backend: sqlite\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, config.ProjectConfigName), []byte(custom), 0o644))

	// When: running init without --force
	out, err := run(t, "init", root)

	// Then: the file is untouched
	require.NoError(t, err)
	assert.Contains(t, out, "preserved")
	data, err := os.ReadFile(filepath.Join(root, config.ProjectConfigName))
	require.NoError(t, err)
	assert.Equal(t, custom, string(data))

	// When: running init with --force
	_, err = run(t, "init", "--force", root)

	// Then: the template replaces it
	require.NoError(t, err)
	data, err = os.ReadFile(filepath.Join(root, config.ProjectConfigName))
	require.NoError(t, err)
	assert.Equal(t, configs.ProjectConfigTemplate, string(data))
}

func TestEnsureGitignore(t *testing.T) {
	tests := []struct {
		name     string
		existing string
		want     string
		added    bool
	}{
		{"appends after content", "bin/", "bin/\n\n# codeindex data\n.codeindex/\n", true},
		{"keeps crlf", "bin/\r\n", "bin/\r\n\r\n# codeindex data\r\n.codeindex/\r\n", true},
		{"already present", "bin/\n.codeindex/\n", "bin/\n.codeindex/\n", false},
		{"rooted entry counts", "/.codeindex\n", "/.codeindex\n", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			path := filepath.Join(root, ".gitignore")
			require.NoError(t, os.WriteFile(path, []byte(tt.existing), 0o644))

			added, err := ensureGitignore(root, ".codeindex")

			require.NoError(t, err)
			assert.Equal(t, tt.added, added)
			data, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(data))
		})
	}
}
