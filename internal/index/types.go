// Package index drives the indexing pipeline: discovery, chunk
// extraction, embedding and vector store writes, tracked as a run with an
// explicit state machine.
package index

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"time"

	"github.com/Aman-CERP/codeindex/internal/chunk"
	"github.com/Aman-CERP/codeindex/internal/embed"
	"github.com/Aman-CERP/codeindex/internal/scanner"
	"github.com/Aman-CERP/codeindex/internal/store"
)

// Status is the state of an indexing run.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Terminal reports whether no further transitions happen without a new run.
func (s Status) Terminal() bool {
	return s == StatusIdle || s == StatusCompleted || s == StatusError
}

var (
	// ErrInvalidTransition is returned for a state change the current
	// status does not allow.
	ErrInvalidTransition = errors.New("invalid run state transition")

	// ErrRunNotFound is returned for a handle that is not the current run.
	ErrRunNotFound = errors.New("run not found")
)

// RunHandle identifies one run.
type RunHandle struct {
	ID string `json:"id"`
}

// FileError is a per-file failure recorded on the run.
type FileError struct {
	FilePath string `json:"file_path"`
	Message  string `json:"message"`
	Code     string `json:"code,omitempty"`
}

// Snapshot is a copy of a run's state.
type Snapshot struct {
	RunID           string      `json:"run_id"`
	Root            string      `json:"root"`
	Status          Status      `json:"status"`
	TotalFiles      int         `json:"total_files"`
	ProcessedFiles  int         `json:"processed_files"`
	CurrentFile     string      `json:"current_file,omitempty"`
	ChunksCreated   int         `json:"chunks_created"`
	Errors          []FileError `json:"errors,omitempty"`
	StartedAt       time.Time   `json:"started_at"`
	FinishedAt      time.Time   `json:"finished_at,omitzero"`
	CancelRequested bool        `json:"cancel_requested,omitempty"`
	// Message explains a run-level error.
	Message string `json:"message,omitempty"`
}

// Progress is a fraction in [0,1].
func (s Snapshot) Progress() float64 {
	if s.TotalFiles == 0 {
		if s.Status == StatusCompleted {
			return 1
		}
		return 0
	}
	return float64(s.ProcessedFiles) / float64(s.TotalFiles)
}

// ProgressFunc receives a snapshot after each processed file. Calls are
// serialised and ProcessedFiles never decreases between calls.
type ProgressFunc func(Snapshot)

// Discoverer enumerates indexable files. *scanner.Discoverer implements it.
type Discoverer interface {
	Discover(ctx context.Context, root string) (iter.Seq[scanner.File], error)
}

// Extractor turns file content into chunks. *chunk.Extractor implements it.
type Extractor interface {
	Extract(ctx context.Context, filePath string, content []byte, language string) ([]chunk.Chunk, error)
}

// KeywordIndexer is the optional text index kept beside the vectors.
// *store.KeywordIndex implements it.
type KeywordIndexer interface {
	IndexFile(ctx context.Context, filePath string, chunks []chunk.Chunk) error
	RemoveFile(ctx context.Context, filePath string) error
}

// Deps are the collaborators of a Coordinator. Keyword and Symbols are
// optional.
type Deps struct {
	Discoverer Discoverer
	Extractor  Extractor
	Embedder   embed.Embedder
	Store      store.VectorStore
	Keyword    KeywordIndexer
	Symbols    chunk.SymbolProvider
	Logger     *slog.Logger
}

// Config tunes a Coordinator.
type Config struct {
	// Root resolves relative paths given to IndexFile and RemoveFile.
	// StartIndexing replaces it with the run's root.
	Root string

	Collection string
	Distance   store.Distance

	// Workers bounds concurrently processed files (default: 4).
	Workers int

	// EscalateAfter is the number of consecutive backend-unavailable file
	// failures that turn a run into an error (default: 5).
	EscalateAfter int

	// MaxFileSize skips larger files in IndexFile (default: scanner.DefaultMaxFileSize).
	MaxFileSize int64
}

const (
	DefaultWorkers       = 4
	DefaultEscalateAfter = 5
	DefaultCollection    = "code"
)
