package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/Aman-CERP/codeindex/internal/config"
	"github.com/Aman-CERP/codeindex/internal/embed"
	"github.com/Aman-CERP/codeindex/internal/index"
	"github.com/Aman-CERP/codeindex/internal/logging"
	"github.com/Aman-CERP/codeindex/internal/scanner"
	"github.com/Aman-CERP/codeindex/internal/search"
	"github.com/Aman-CERP/codeindex/internal/store"
	"github.com/Aman-CERP/codeindex/internal/ui"
)

// app holds the engine for one project, wired from its configuration.
type app struct {
	root    string
	dataDir string
	cfg     *config.Config
	logger  *slog.Logger

	project  *index.Project
	store    store.VectorStore
	keyword  *store.KeywordIndex
	embedder embed.Embedder
	coord    *index.Coordinator
	engine   *search.Engine

	closers []func()
}

// openApp loads the configuration for the project containing path, sets
// up logging and opens the project. The store files allow one process at
// a time, so readers take the data directory lock too.
func openApp(path string) (_ *app, err error) {
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

	a := &app{root: root, cfg: cfg, dataDir: cfg.ResolveDataDir(root)}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	logger, cleanup, err := logging.Setup(loggingConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}
	a.closers = append(a.closers, cleanup)
	a.logger = logger

	if a.project, err = index.OpenProject(root, cfg, logger); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.project.Close)
	a.store = a.project.Store
	a.keyword = a.project.Keyword
	a.embedder = a.project.Embedder
	a.coord = a.project.Coordinator

	a.engine = &search.Engine{
		Embedder:   a.embedder,
		Store:      a.store,
		Collection: cfg.Store.Collection,
		Logger:     logger,
	}
	if a.keyword != nil {
		a.engine.Keyword = a.keyword
	}

	logger.Debug("project opened",
		slog.String("root", root),
		slog.String("data_dir", a.dataDir),
		slog.String("store", cfg.Store.Backend),
		slog.String("embedder", a.embedder.ModelName()))
	return a, nil
}

func loggingConfig(cfg *config.Config) logging.Config {
	lc := logging.Config{
		Level:         cfg.Logging.Level,
		FilePath:      cfg.Logging.File,
		MaxSizeMB:     cfg.Logging.MaxSizeMB,
		MaxFiles:      cfg.Logging.MaxFiles,
		WriteToStderr: cfg.Logging.Stderr,
	}
	if lc.FilePath == "" {
		lc.FilePath = logging.DefaultLogPath()
	}
	if debugMode {
		lc.Level = "debug"
		lc.WriteToStderr = true
	}
	return lc
}

func (a *app) scannerOptions() scanner.Options {
	return a.project.ScannerOptions()
}

// runIndex runs a full index and reports it through r. A run that ends in
// error is returned as an error; per-file failures are not.
func (a *app) runIndex(ctx context.Context, r ui.Renderer) (index.Snapshot, error) {
	if err := r.Start(ctx); err != nil {
		return index.Snapshot{}, err
	}
	defer func() { _ = r.Stop() }()

	h, err := a.coord.StartIndexing(ctx, a.root, r.Update)
	if err != nil {
		return index.Snapshot{}, err
	}
	// Wait ignores ctx so a cancelled run still reports where it stopped.
	snap, err := a.coord.Wait(context.Background(), h)
	if err != nil {
		return snap, err
	}
	r.Complete(snap)

	if snap.Status == index.StatusError {
		return snap, errors.New(snap.Message)
	}
	return snap, nil
}

// Close releases everything in reverse order of opening.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
