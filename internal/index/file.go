package index

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Aman-CERP/codeindex/internal/chunk"
	cierrors "github.com/Aman-CERP/codeindex/internal/errors"
	"github.com/Aman-CERP/codeindex/internal/scanner"
	"github.com/Aman-CERP/codeindex/internal/store"
)

// pathLocks serialises work on the same file path.
type pathLocks struct {
	mu    sync.Mutex
	locks map[string]*pathLock
}

type pathLock struct {
	mu   sync.Mutex
	refs int
}

func (p *pathLocks) lock(path string) func() {
	p.mu.Lock()
	if p.locks == nil {
		p.locks = make(map[string]*pathLock)
	}
	l, ok := p.locks[path]
	if !ok {
		l = &pathLock{}
		p.locks[path] = l
	}
	l.refs++
	p.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		p.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(p.locks, path)
		}
		p.mu.Unlock()
	}
}

// processFile re-indexes one file: read, extract, embed, then replace the
// file's points. Stale points are deleted only after embedding succeeds,
// and always before the fresh upsert.
func (c *Coordinator) processFile(ctx context.Context, rel, abs, language string) (int, error) {
	unlock := c.paths.lock(rel)
	defer unlock()

	content, err := os.ReadFile(abs)
	if err != nil {
		return 0, cierrors.New(cierrors.ErrCodeFileRead, fmt.Sprintf("cannot read %s", rel), err)
	}

	chunks, err := c.deps.Extractor.Extract(ctx, rel, content, language)
	if err != nil {
		return 0, err
	}
	chunk.Enrich(ctx, c.deps.Symbols, chunks, c.logger)

	var vectors [][]float32
	if len(chunks) > 0 {
		texts := make([]string, len(chunks))
		for i, ch := range chunks {
			texts[i] = ch.Content
		}
		vectors, err = c.deps.Embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return 0, err
		}
		if len(vectors) != len(chunks) {
			return 0, cierrors.InternalError(
				fmt.Sprintf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks)), nil)
		}
	}

	if err := c.deps.Store.DeleteByFilePath(ctx, c.cfg.Collection, rel); err != nil {
		return 0, err
	}
	if len(chunks) > 0 {
		points := make([]store.Point, len(chunks))
		for i, ch := range chunks {
			points[i] = store.PointFromChunk(ch, vectors[i])
		}
		if err := c.deps.Store.Upsert(ctx, c.cfg.Collection, points); err != nil {
			return 0, err
		}
	}

	if c.deps.Keyword != nil {
		if err := c.deps.Keyword.IndexFile(ctx, rel, chunks); err != nil {
			c.logger.Warn("keyword index update failed",
				slog.String("path", rel),
				slog.String("error", err.Error()))
		}
	}

	c.logger.Debug("file indexed", slog.String("path", rel), slog.Int("chunks", len(chunks)))
	return len(chunks), nil
}

// resolve maps a path to its root-relative slash form and absolute path.
func (c *Coordinator) resolve(path string) (rel, abs string, err error) {
	c.mu.Lock()
	root := c.root
	c.mu.Unlock()

	if filepath.IsAbs(path) {
		abs = filepath.Clean(path)
		if root == "" {
			return "", "", cierrors.ValidationError("no project root to resolve "+path+" against", nil)
		}
		rel, err = filepath.Rel(root, abs)
		if err != nil {
			return "", "", cierrors.New(cierrors.ErrCodeInvalidPath, "cannot relate "+path+" to "+root, err)
		}
	} else {
		rel = filepath.Clean(path)
		abs = filepath.Join(root, rel)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", "", cierrors.New(cierrors.ErrCodeInvalidPath, path+" is outside "+root, nil)
	}
	return filepath.ToSlash(rel), abs, nil
}

// IndexFile re-chunks and re-upserts one file and returns the chunk count.
// It does not touch run state and may be called in any run status. A file
// that no longer exists has its points removed.
func (c *Coordinator) IndexFile(ctx context.Context, path string) (int, error) {
	rel, abs, err := c.resolve(path)
	if err != nil {
		return 0, err
	}
	if err := c.ensureCollection(ctx); err != nil {
		return 0, err
	}

	info, err := os.Lstat(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, c.removeFile(ctx, rel)
	}
	if err != nil {
		return 0, cierrors.New(cierrors.ErrCodeFileRead, "cannot stat "+rel, err)
	}
	if !info.Mode().IsRegular() {
		return 0, cierrors.ValidationError(rel+" is not a regular file", nil)
	}
	if info.Size() > c.cfg.MaxFileSize {
		c.logger.Warn("skipping oversized file",
			slog.String("path", rel),
			slog.Int64("size", info.Size()),
			slog.Int64("max", c.cfg.MaxFileSize))
		return 0, nil
	}

	n, err := c.processFile(ctx, rel, abs, scanner.DetectLanguage(rel))
	if err != nil {
		return 0, err
	}
	c.logger.Info("file reindexed", slog.String("path", rel), slog.Int("chunks", n))
	return n, nil
}

// RemoveFile deletes every point of one file.
func (c *Coordinator) RemoveFile(ctx context.Context, path string) error {
	rel, _, err := c.resolve(path)
	if err != nil {
		return err
	}
	if err := c.ensureCollection(ctx); err != nil {
		return err
	}
	return c.removeFile(ctx, rel)
}

func (c *Coordinator) removeFile(ctx context.Context, rel string) error {
	unlock := c.paths.lock(rel)
	defer unlock()

	if err := c.deps.Store.DeleteByFilePath(ctx, c.cfg.Collection, rel); err != nil {
		return err
	}
	if c.deps.Keyword != nil {
		if err := c.deps.Keyword.RemoveFile(ctx, rel); err != nil {
			c.logger.Warn("keyword index removal failed",
				slog.String("path", rel),
				slog.String("error", err.Error()))
		}
	}
	c.logger.Info("file removed", slog.String("path", rel))
	return nil
}
