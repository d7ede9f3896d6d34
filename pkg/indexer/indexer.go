package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/Aman-CERP/codeindex/internal/config"
	"github.com/Aman-CERP/codeindex/internal/index"
	"github.com/Aman-CERP/codeindex/internal/logging"
	"github.com/Aman-CERP/codeindex/internal/search"
)

// Indexer is an open project. Create one with Open.
type Indexer struct {
	project *index.Project
	engine  *search.Engine

	closeOnce sync.Once
}

var _ Engine = (*Indexer)(nil)

// Option configures Open. Options apply on top of the loaded
// configuration.
type Option func(*options)

type options struct {
	logger *slog.Logger
	edits  []func(*config.Config)
}

func edit(fn func(*config.Config)) Option {
	return func(o *options) { o.edits = append(o.edits, fn) }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithDataDir overrides data_dir. Relative paths are under the project root.
func WithDataDir(dir string) Option {
	return edit(func(c *config.Config) { c.DataDir = dir })
}

// WithStoreBackend selects hnsw, sqlite or qdrant.
func WithStoreBackend(backend string) Option {
	return edit(func(c *config.Config) { c.Store.Backend = backend })
}

// WithWorkers bounds how many files are processed at once (1..16).
func WithWorkers(n int) Option {
	return edit(func(c *config.Config) { c.Indexing.Workers = n })
}

// WithOllama embeds through an Ollama server. An empty host keeps the
// configured one.
func WithOllama(host, model string) Option {
	return edit(func(c *config.Config) {
		c.Embeddings.Provider = "ollama"
		if host != "" {
			c.Embeddings.Host = host
		}
		if model != "" {
			c.Embeddings.Model = model
		}
	})
}

// WithStaticEmbedder embeds locally by feature hashing, with no model.
// Useful offline and in tests; rankings are lexical rather than semantic.
func WithStaticEmbedder(dims int) Option {
	return edit(func(c *config.Config) {
		c.Embeddings.Provider = "static"
		c.Embeddings.Dimensions = dims
	})
}

// Open loads the configuration of the project containing path and opens
// its stores. The caller must Close the Indexer.
func Open(path string, opts ...Option) (*Indexer, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}
	root, err := config.FindProjectRoot(abs)
	if err != nil {
		root = abs
	}
	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}

	o := options{logger: logging.Discard()}
	for _, opt := range opts {
		opt(&o)
	}
	for _, fn := range o.edits {
		fn(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p, err := index.OpenProject(root, cfg, o.logger)
	if err != nil {
		return nil, err
	}
	eng := &search.Engine{
		Embedder:   p.Embedder,
		Store:      p.Store,
		Collection: cfg.Store.Collection,
		Logger:     o.logger,
	}
	if p.Keyword != nil {
		eng.Keyword = p.Keyword
	}
	return &Indexer{project: p, engine: eng}, nil
}

// Root returns the project root.
func (ix *Indexer) Root() string { return ix.project.Root }

func (ix *Indexer) StartIndexing(ctx context.Context, root string, onProgress ProgressFunc) (RunHandle, error) {
	if root == "" {
		root = ix.project.Root
	}
	return ix.project.Coordinator.StartIndexing(ctx, root, onProgress)
}

func (ix *Indexer) Pause(h RunHandle) error  { return ix.project.Coordinator.Pause(h) }
func (ix *Indexer) Resume(h RunHandle) error { return ix.project.Coordinator.Resume(h) }
func (ix *Indexer) Cancel(h RunHandle) error { return ix.project.Coordinator.Cancel(h) }

func (ix *Indexer) GetStatus(h RunHandle) (Snapshot, error) {
	return ix.project.Coordinator.GetStatus(h)
}

// Wait blocks until the run reaches a terminal status or ctx is done.
func (ix *Indexer) Wait(ctx context.Context, h RunHandle) (Snapshot, error) {
	return ix.project.Coordinator.Wait(ctx, h)
}

func (ix *Indexer) IndexFile(ctx context.Context, path string) (int, error) {
	return ix.project.Coordinator.IndexFile(ctx, path)
}

func (ix *Indexer) RemoveFile(ctx context.Context, path string) error {
	return ix.project.Coordinator.RemoveFile(ctx, path)
}

// Search ranks indexed chunks against query. The zero SearchOptions runs
// a hybrid search for the top 10.
func (ix *Indexer) Search(ctx context.Context, query string, opts SearchOptions) ([]Result, error) {
	return ix.engine.Search(ctx, query, opts)
}

// Close releases the stores and the lock. A run still in flight is
// cancelled and awaited first. Calling Close again does nothing.
func (ix *Indexer) Close() error {
	ix.closeOnce.Do(func() {
		coord := ix.project.Coordinator
		if h, ok := coord.Current(); ok {
			if snap, err := coord.GetStatus(h); err == nil && !snap.Status.Terminal() {
				_ = coord.Cancel(h)
				_, _ = coord.Wait(context.Background(), h)
			}
		}
		ix.project.Close()
	})
	return nil
}
