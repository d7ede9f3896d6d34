package ui

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Aman-CERP/codeindex/internal/index"
)

// PlainRenderer writes one line per processed file, for pipes and CI.
type PlainRenderer struct {
	mu         sync.Mutex
	out        io.Writer
	runID      string
	processed  int
	errorsSeen int
	status     index.Status
}

// NewPlainRenderer creates a plain text renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{out: cfg.Output}
}

// Start implements Renderer.
func (r *PlainRenderer) Start(context.Context) error {
	return nil
}

// Update implements Renderer.
func (r *PlainRenderer) Update(snap index.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if snap.RunID != r.runID {
		r.runID, r.processed, r.errorsSeen, r.status = snap.RunID, 0, 0, ""
		_, _ = fmt.Fprintf(r.out, "[SCAN] %s: %d files\n", snap.Root, snap.TotalFiles)
	}
	r.printErrors(snap)

	if snap.Status != r.status && snap.Status == index.StatusPaused {
		_, _ = fmt.Fprintf(r.out, "[PAUSE] %d/%d\n", snap.ProcessedFiles, snap.TotalFiles)
	}
	r.status = snap.Status

	if snap.ProcessedFiles > r.processed {
		r.processed = snap.ProcessedFiles
		_, _ = fmt.Fprintf(r.out, "[INDEX] %d/%d - %s\n", snap.ProcessedFiles, snap.TotalFiles, snap.CurrentFile)
	}
}

// printErrors writes errors not printed yet. Must hold r.mu.
func (r *PlainRenderer) printErrors(snap index.Snapshot) {
	for _, e := range snap.Errors[min(r.errorsSeen, len(snap.Errors)):] {
		_, _ = fmt.Fprintf(r.out, "ERROR: %s: %s\n", e.FilePath, e.Message)
	}
	r.errorsSeen = max(r.errorsSeen, len(snap.Errors))
}

// Complete implements Renderer.
func (r *PlainRenderer) Complete(snap index.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.printErrors(snap)
	duration := snap.FinishedAt.Sub(snap.StartedAt).Round(100 * time.Millisecond)
	if snap.FinishedAt.IsZero() {
		duration = 0
	}

	switch snap.Status {
	case index.StatusError:
		_, _ = fmt.Fprintf(r.out, "Failed after %d/%d files: %s\n", snap.ProcessedFiles, snap.TotalFiles, snap.Message)
		return
	case index.StatusIdle:
		_, _ = fmt.Fprintf(r.out, "Cancelled after %d/%d files, %d chunks indexed\n",
			snap.ProcessedFiles, snap.TotalFiles, snap.ChunksCreated)
		return
	}

	_, _ = fmt.Fprintf(r.out, "Complete: %d files, %d chunks indexed in %s", snap.ProcessedFiles, snap.ChunksCreated, duration)
	if n := len(snap.Errors); n > 0 {
		_, _ = fmt.Fprintf(r.out, " (%d errors)", n)
	}
	_, _ = fmt.Fprintln(r.out)
}

// Stop implements Renderer.
func (r *PlainRenderer) Stop() error {
	return nil
}

var _ Renderer = (*PlainRenderer)(nil)
