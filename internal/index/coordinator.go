package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	cierrors "github.com/Aman-CERP/codeindex/internal/errors"
	"github.com/Aman-CERP/codeindex/internal/logging"
	"github.com/Aman-CERP/codeindex/internal/scanner"
)

// run is the mutable state of one indexing run. Guarded by Coordinator.mu.
type run struct {
	snap Snapshot

	// resumed is closed by Resume or Cancel to release paused workers.
	resumed chan struct{}
	done    chan struct{}
}

// Coordinator owns the indexing run and the incremental entry points.
type Coordinator struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	current  *run
	root     string
	ensured  bool
	progress sync.Mutex

	paths pathLocks
}

// NewCoordinator validates deps and applies config defaults.
func NewCoordinator(deps Deps, cfg Config) (*Coordinator, error) {
	switch {
	case deps.Discoverer == nil:
		return nil, cierrors.InternalError("coordinator needs a discoverer", nil)
	case deps.Extractor == nil:
		return nil, cierrors.InternalError("coordinator needs an extractor", nil)
	case deps.Embedder == nil:
		return nil, cierrors.InternalError("coordinator needs an embedder", nil)
	case deps.Store == nil:
		return nil, cierrors.InternalError("coordinator needs a vector store", nil)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.EscalateAfter <= 0 {
		cfg.EscalateAfter = DefaultEscalateAfter
	}
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = scanner.DefaultMaxFileSize
	}
	return &Coordinator{
		deps:   deps,
		cfg:    cfg,
		logger: logging.WithSource(deps.Logger, "coordinator"),
		root:   cfg.Root,
	}, nil
}

// StartIndexing begins a run over root and returns at once. It is legal
// when no run exists or the last one is idle, completed or failed.
func (c *Coordinator) StartIndexing(ctx context.Context, root string, onProgress ProgressFunc) (RunHandle, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return RunHandle{}, &cierrors.DiscoveryError{Root: root, Cause: err}
	}

	c.mu.Lock()
	if c.current != nil && !c.current.snap.Status.Terminal() {
		status := c.current.snap.Status
		c.mu.Unlock()
		return RunHandle{}, fmt.Errorf("%w: a run is already %s", ErrInvalidTransition, status)
	}
	r := &run{
		snap: Snapshot{
			RunID:     uuid.NewString(),
			Root:      abs,
			Status:    StatusRunning,
			StartedAt: time.Now(),
		},
		done: make(chan struct{}),
	}
	c.current = r
	c.root = abs
	c.mu.Unlock()

	if onProgress == nil {
		onProgress = func(Snapshot) {}
	}
	go c.execute(ctx, r, onProgress)
	return RunHandle{ID: r.snap.RunID}, nil
}

func (c *Coordinator) lookup(h RunHandle) (*run, error) {
	if c.current == nil || c.current.snap.RunID != h.ID {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, h.ID)
	}
	return c.current, nil
}

// Pause stops workers from starting new files. Files in flight finish.
func (c *Coordinator) Pause(h RunHandle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, err := c.lookup(h)
	if err != nil {
		return err
	}
	if r.snap.Status != StatusRunning || r.snap.CancelRequested {
		return fmt.Errorf("%w: cannot pause a %s run", ErrInvalidTransition, r.snap.Status)
	}
	r.snap.Status = StatusPaused
	r.resumed = make(chan struct{})
	c.logger.Info("run paused", slog.String("run_id", h.ID))
	return nil
}

// Resume releases a paused run.
func (c *Coordinator) Resume(h RunHandle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, err := c.lookup(h)
	if err != nil {
		return err
	}
	if r.snap.Status != StatusPaused {
		return fmt.Errorf("%w: cannot resume a %s run", ErrInvalidTransition, r.snap.Status)
	}
	r.snap.Status = StatusRunning
	close(r.resumed)
	c.logger.Info("run resumed", slog.String("run_id", h.ID))
	return nil
}

// Cancel asks the run to stop after the files in flight. The run ends
// idle. Cancelling twice is not an error.
func (c *Coordinator) Cancel(h RunHandle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, err := c.lookup(h)
	if err != nil {
		return err
	}
	if r.snap.Status != StatusRunning && r.snap.Status != StatusPaused {
		return fmt.Errorf("%w: cannot cancel a %s run", ErrInvalidTransition, r.snap.Status)
	}
	if r.snap.CancelRequested {
		return nil
	}
	r.snap.CancelRequested = true
	if r.snap.Status == StatusPaused {
		r.snap.Status = StatusRunning
		close(r.resumed)
	}
	c.logger.Info("run cancel requested", slog.String("run_id", h.ID))
	return nil
}

// GetStatus returns a snapshot of the run.
func (c *Coordinator) GetStatus(h RunHandle) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, err := c.lookup(h)
	if err != nil {
		return Snapshot{}, err
	}
	return r.snapshot(), nil
}

// Current returns the handle of the latest run, if any.
func (c *Coordinator) Current() (RunHandle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return RunHandle{}, false
	}
	return RunHandle{ID: c.current.snap.RunID}, true
}

// Wait blocks until the run stops or ctx is done, and returns its snapshot.
func (c *Coordinator) Wait(ctx context.Context, h RunHandle) (Snapshot, error) {
	c.mu.Lock()
	r, err := c.lookup(h)
	c.mu.Unlock()
	if err != nil {
		return Snapshot{}, err
	}
	select {
	case <-r.done:
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return r.snapshot(), nil
}

func (r *run) snapshot() Snapshot {
	s := r.snap
	s.Errors = append([]FileError(nil), r.snap.Errors...)
	return s
}

// preflight checks the embedder and prepares the collection.
func (c *Coordinator) preflight(ctx context.Context) error {
	if !c.deps.Embedder.Available(ctx) {
		if err := ctx.Err(); err != nil {
			return err
		}
		return &cierrors.EmbeddingError{
			Provider:    c.deps.Embedder.ModelName(),
			Cause:       errors.New("embedding backend is not available"),
			Unreachable: true,
		}
	}
	return c.ensureCollection(ctx)
}

func (c *Coordinator) ensureCollection(ctx context.Context) error {
	c.mu.Lock()
	ensured := c.ensured
	c.mu.Unlock()
	if ensured {
		return nil
	}

	dims := c.deps.Embedder.Dimensions()
	if dims <= 0 {
		return cierrors.ConfigError("embedding dimensions are unknown", nil).
			WithSuggestion("set embeddings.dimensions or check the embedding backend")
	}
	if err := c.deps.Store.EnsureCollection(ctx, c.cfg.Collection, dims, c.cfg.Distance); err != nil {
		return err
	}
	c.mu.Lock()
	c.ensured = true
	c.mu.Unlock()
	return nil
}

func (c *Coordinator) execute(ctx context.Context, r *run, onProgress ProgressFunc) {
	defer close(r.done)
	logger := c.logger.With(slog.String("run_id", r.snap.RunID))
	logger.Info("run started", slog.String("root", r.snap.Root))
	start := time.Now()

	if err := c.preflight(ctx); err != nil {
		c.fail(r, fmt.Errorf("preflight: %w", err))
		c.finish(ctx, r, onProgress, logger, start)
		return
	}

	seq, err := c.deps.Discoverer.Discover(ctx, r.snap.Root)
	if err != nil {
		c.fail(r, err)
		c.finish(ctx, r, onProgress, logger, start)
		return
	}
	var files []scanner.File
	for f := range seq {
		files = append(files, f)
	}

	c.mu.Lock()
	r.snap.TotalFiles = len(files)
	c.mu.Unlock()
	c.emit(r, onProgress)

	breaker := cierrors.NewCircuitBreaker("backend", cierrors.WithMaxFailures(c.cfg.EscalateAfter))
	var g errgroup.Group
	g.SetLimit(c.cfg.Workers)
	for _, f := range files {
		if c.stopping(ctx, r) {
			break
		}
		g.Go(func() error {
			if !c.gate(ctx, r) {
				return nil
			}
			c.runFile(ctx, r, f, breaker, onProgress, logger)
			return nil
		})
	}
	_ = g.Wait()

	c.finish(ctx, r, onProgress, logger, start)
}

// stopping reports, without blocking, whether no more files should start.
func (c *Coordinator) stopping(ctx context.Context, r *run) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ctx.Err() != nil || r.snap.CancelRequested || r.snap.Status == StatusError
}

// gate blocks while the run is paused and reports whether the next file
// may start. No lock is held while blocked.
func (c *Coordinator) gate(ctx context.Context, r *run) bool {
	for {
		c.mu.Lock()
		if ctx.Err() != nil || r.snap.CancelRequested || r.snap.Status == StatusError {
			c.mu.Unlock()
			return false
		}
		if r.snap.Status != StatusPaused {
			c.mu.Unlock()
			return true
		}
		resumed := r.resumed
		c.mu.Unlock()

		select {
		case <-resumed:
		case <-ctx.Done():
			return false
		}
	}
}

func (c *Coordinator) runFile(ctx context.Context, r *run, f scanner.File, breaker *cierrors.CircuitBreaker,
	onProgress ProgressFunc, logger *slog.Logger) {
	c.mu.Lock()
	r.snap.CurrentFile = f.Path
	c.mu.Unlock()

	n, err := c.processFile(ctx, f.Path, f.AbsPath, f.Language)

	c.mu.Lock()
	r.snap.ProcessedFiles++
	r.snap.ChunksCreated += n
	if err != nil {
		r.snap.Errors = append(r.snap.Errors, FileError{
			FilePath: f.Path,
			Message:  err.Error(),
			Code:     cierrors.GetCode(err),
		})
	}
	c.mu.Unlock()

	switch {
	case err == nil:
		breaker.RecordSuccess()
	case cierrors.IsUnavailable(err):
		logger.Warn("backend unavailable", slog.String("path", f.Path), slog.String("error", err.Error()))
		if breaker.RecordFailure() {
			c.fail(r, fmt.Errorf("backend unavailable for %d consecutive files: %w", c.cfg.EscalateAfter, err))
		}
	case cierrors.IsFatal(err):
		c.fail(r, err)
	default:
		logger.Warn("file failed", slog.String("path", f.Path), slog.String("error", err.Error()))
	}
	c.emit(r, onProgress)
}

// fail moves the run to error. The first failure wins.
func (c *Coordinator) fail(r *run, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r.snap.Status == StatusError {
		return
	}
	if r.snap.Status == StatusPaused {
		close(r.resumed)
	}
	r.snap.Status = StatusError
	r.snap.Message = err.Error()
}

func (c *Coordinator) finish(ctx context.Context, r *run, onProgress ProgressFunc, logger *slog.Logger, start time.Time) {
	c.mu.Lock()
	switch {
	case r.snap.Status == StatusError:
	case r.snap.CancelRequested || ctx.Err() != nil:
		r.snap.CancelRequested = true
		r.snap.Status = StatusIdle
	default:
		r.snap.Status = StatusCompleted
	}
	r.snap.CurrentFile = ""
	r.snap.FinishedAt = time.Now()
	snap := r.snapshot()
	c.mu.Unlock()

	c.progress.Lock()
	onProgress(snap)
	c.progress.Unlock()

	attrs := []any{
		slog.String("status", string(snap.Status)),
		slog.Int("files", snap.ProcessedFiles),
		slog.Int("total_files", snap.TotalFiles),
		slog.Int("chunks", snap.ChunksCreated),
		slog.Int("errors", len(snap.Errors)),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	}
	if snap.Status == StatusError {
		logger.Error("run failed", append(attrs, slog.String("error", snap.Message))...)
		return
	}
	logger.Info("run finished", attrs...)
}

// emit reports progress. Snapshots are taken and delivered under one lock
// so ProcessedFiles never goes backwards between callbacks.
func (c *Coordinator) emit(r *run, onProgress ProgressFunc) {
	c.progress.Lock()
	defer c.progress.Unlock()
	c.mu.Lock()
	snap := r.snapshot()
	c.mu.Unlock()
	onProgress(snap)
}
