package scanner

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path/filepath"

	cierrors "github.com/Aman-CERP/codeindex/internal/errors"
	"github.com/Aman-CERP/codeindex/internal/logging"
)

// Discoverer enumerates indexable files.
type Discoverer struct {
	opts   Options
	logger *slog.Logger
}

// New creates a Discoverer.
func New(opts Options, logger *slog.Logger) *Discoverer {
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	d := &Discoverer{
		opts:   opts,
		logger: logging.WithSource(logger, "scanner"),
	}
	if d.opts.OnWarning == nil {
		d.opts.OnWarning = func(w Warning) {
			d.logger.Warn("skipping unreadable entry",
				slog.String("path", w.Path),
				slog.String("error", w.Err.Error()))
		}
	}
	return d
}

// NewFilter returns the filter Discover applies for root.
func (d *Discoverer) NewFilter(root string) (*Filter, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	return NewFilter(abs, d.opts)
}

// Discover validates root and returns a lazy sequence of its indexable
// files. The root is checked eagerly: a missing, non-directory or
// unreadable root returns a *errors.DiscoveryError. Each range over the
// sequence walks the tree again, and the walk stops early when ctx is
// cancelled or the consumer breaks.
func (d *Discoverer) Discover(ctx context.Context, root string) (iter.Seq[File], error) {
	abs, err := checkRoot(root)
	if err != nil {
		return nil, err
	}

	filter, err := NewFilter(abs, d.opts)
	if err != nil {
		return nil, err
	}

	seq := func(yield func(File) bool) {
		filter.InvalidateIgnoreCache()
		d.walk(ctx, abs, filter, yield)
	}
	return seq, nil
}

func checkRoot(root string) (string, error) {
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", &cierrors.DiscoveryError{Root: root, Cause: err}
	}

	info, err := os.Stat(abs)
	if err != nil {
		return "", &cierrors.DiscoveryError{Root: abs, Cause: err}
	}
	if !info.IsDir() {
		return "", &cierrors.DiscoveryError{Root: abs, Cause: errors.New("not a directory")}
	}

	dir, err := os.Open(abs)
	if err != nil {
		return "", &cierrors.DiscoveryError{Root: abs, Cause: err}
	}
	defer func() { _ = dir.Close() }()
	if _, err := dir.Readdirnames(1); err != nil && !errors.Is(err, io.EOF) {
		return "", &cierrors.DiscoveryError{Root: abs, Cause: err}
	}
	return abs, nil
}

var errStop = errors.New("stop walk")

func (d *Discoverer) walk(ctx context.Context, abs string, filter *Filter, yield func(File) bool) {
	err := filepath.WalkDir(abs, func(p string, entry fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(abs, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if walkErr != nil {
			d.opts.OnWarning(Warning{Path: rel, Err: walkErr})
			if entry != nil && entry.IsDir() && rel != "." {
				return filepath.SkipDir
			}
			return nil
		}
		if rel == "." {
			return nil
		}

		if entry.IsDir() {
			if !filter.Allow(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}

		if !entry.Type().IsRegular() || !filter.Allow(rel, false) {
			return nil
		}

		info, err := entry.Info()
		if err != nil {
			d.opts.OnWarning(Warning{Path: rel, Err: err})
			return nil
		}
		if info.Size() > d.opts.MaxFileSize {
			d.logger.Debug("skipping large file",
				slog.String("path", rel),
				slog.Int64("size", info.Size()))
			return nil
		}

		file := File{
			Path:     rel,
			AbsPath:  p,
			Language: DetectLanguage(rel),
			Size:     info.Size(),
			ModTime:  info.ModTime(),
		}
		if !yield(file) {
			return errStop
		}
		return nil
	})

	if err != nil && !errors.Is(err, errStop) && !errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded) {
		d.logger.Warn("walk ended early", slog.String("error", err.Error()))
	}
}
