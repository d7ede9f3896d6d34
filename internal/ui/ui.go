// Package ui renders indexing progress in the terminal.
package ui

import (
	"context"
	"io"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/Aman-CERP/codeindex/internal/index"
)

// Renderer displays run snapshots.
type Renderer interface {
	Start(ctx context.Context) error
	Update(snap index.Snapshot)
	// Complete is called once with the run's terminal snapshot.
	Complete(snap index.Snapshot)
	// Stop restores the terminal; it must be called even after Complete.
	Stop() error
}

// Config configures the renderer.
type Config struct {
	Output     io.Writer
	ForcePlain bool
	NoColor    bool
	ProjectDir string
}

// ConfigOption adjusts a Config built by NewConfig.
type ConfigOption func(*Config)

func WithForcePlain(v bool) ConfigOption { return func(c *Config) { c.ForcePlain = v } }

func WithNoColor(v bool) ConfigOption { return func(c *Config) { c.NoColor = v } }

// WithProjectDir sets the path shown in the progress header.
func WithProjectDir(dir string) ConfigOption { return func(c *Config) { c.ProjectDir = dir } }

// NewConfig applies opts; NO_COLOR in the environment always wins.
func NewConfig(output io.Writer, opts ...ConfigOption) Config {
	cfg := Config{Output: output}
	for _, opt := range opts {
		opt(&cfg)
	}
	if DetectNoColor() {
		cfg.NoColor = true
	}
	return cfg
}

// NewRenderer returns the TUI renderer for interactive terminals and the
// plain renderer for pipes, CI, or when plain output is forced.
func NewRenderer(cfg Config) Renderer {
	if cfg.ForcePlain || !IsTTY(cfg.Output) || DetectCI() {
		return NewPlainRenderer(cfg)
	}
	tui, err := NewTUIRenderer(cfg)
	if err != nil {
		return NewPlainRenderer(cfg)
	}
	return tui
}

// IsTTY reports whether w is an *os.File attached to a terminal.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || f == nil {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// DetectNoColor follows https://no-color.org: any value, even empty, counts.
func DetectNoColor() bool {
	_, set := os.LookupEnv("NO_COLOR")
	return set
}

var ciEnv = []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"}

// DetectCI reports whether a known CI variable is set.
func DetectCI() bool {
	for _, name := range ciEnv {
		if _, set := os.LookupEnv(name); set {
			return true
		}
	}
	return false
}
