package index

import (
	"log/slog"

	"github.com/Aman-CERP/codeindex/internal/chunk"
	"github.com/Aman-CERP/codeindex/internal/config"
	"github.com/Aman-CERP/codeindex/internal/embed"
	"github.com/Aman-CERP/codeindex/internal/scanner"
	"github.com/Aman-CERP/codeindex/internal/store"
)

// Project is the engine for one project root, wired from its
// configuration. It holds the data directory lock until Close.
type Project struct {
	Root    string
	DataDir string
	Config  *config.Config

	Store store.VectorStore
	// Keyword is nil when keyword.disabled is set.
	Keyword     *store.KeywordIndex
	Embedder    embed.Embedder
	Coordinator *Coordinator

	closers []func()
}

// OpenProject takes the data directory lock, then opens the vector
// store, keyword index, embedder and extractor and builds a Coordinator
// over them. On error everything opened so far is closed again.
func OpenProject(root string, cfg *config.Config, logger *slog.Logger) (_ *Project, err error) {
	p := &Project{Root: root, DataDir: cfg.ResolveDataDir(root), Config: cfg}
	defer func() {
		if err != nil {
			p.Close()
		}
	}()

	lock, err := AcquireDataLock(p.DataDir)
	if err != nil {
		return nil, err
	}
	p.closers = append(p.closers, func() { _ = lock.Release() })

	if p.Store, err = store.New(cfg.Store, p.DataDir, cfg.StoreTimeout(), logger); err != nil {
		return nil, err
	}
	p.closers = append(p.closers, func() { _ = p.Store.Close() })

	kw, err := store.OpenKeyword(cfg.Keyword, p.DataDir, logger)
	if err != nil {
		return nil, err
	}
	if kw != nil {
		p.Keyword = kw
		p.closers = append(p.closers, func() { _ = kw.Close() })
	}

	if p.Embedder, err = embed.NewEmbedder(cfg.Embeddings, cfg.EmbeddingTimeout(), logger); err != nil {
		return nil, err
	}
	p.closers = append(p.closers, func() { _ = p.Embedder.Close() })

	distance, err := store.ParseDistance(cfg.Store.Distance)
	if err != nil {
		return nil, err
	}

	extractor := chunk.NewExtractor(logger)
	p.closers = append(p.closers, extractor.Close)

	deps := Deps{
		Discoverer: scanner.New(p.ScannerOptions(), logger),
		Extractor:  extractor,
		Embedder:   p.Embedder,
		Store:      p.Store,
		Logger:     logger,
	}
	if p.Keyword != nil {
		deps.Keyword = p.Keyword
	}
	p.Coordinator, err = NewCoordinator(deps, Config{
		Root:          root,
		Collection:    cfg.Store.Collection,
		Distance:      distance,
		Workers:       cfg.Indexing.Workers,
		EscalateAfter: cfg.Indexing.EscalateAfter,
		MaxFileSize:   p.maxFileSize(),
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Project) maxFileSize() int64 {
	if p.Config.Paths.MaxFileSizeMB <= 0 {
		return scanner.DefaultMaxFileSize
	}
	return int64(p.Config.Paths.MaxFileSizeMB) << 20
}

// ScannerOptions returns the discovery rules from the configuration, for
// callers such as the watcher that must agree with discovery.
func (p *Project) ScannerOptions() scanner.Options {
	return scanner.Options{
		Exclude:     p.Config.Paths.Exclude,
		MaxFileSize: p.maxFileSize(),
	}
}

// Close releases everything in reverse order of opening, the lock last.
// It is safe to call more than once.
func (p *Project) Close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		p.closers[i]()
	}
	p.closers = nil
}
