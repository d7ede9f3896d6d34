package indexer

import (
	"context"

	"github.com/Aman-CERP/codeindex/internal/index"
	"github.com/Aman-CERP/codeindex/internal/search"
)

// Engine is the contract an open project offers its caller.
//
// Implementations must be safe for concurrent use.
type Engine interface {
	// StartIndexing begins a full run over root in the background and
	// returns at once. An empty root means the project root.
	//
	// Behavior:
	//   - Fails with ErrInvalidTransition while another run is active
	//   - onProgress, if not nil, receives a snapshot after every file
	//   - Re-running replaces each file's chunks, so it is idempotent
	StartIndexing(ctx context.Context, root string, onProgress ProgressFunc) (RunHandle, error)

	// Pause stops new files from starting. Only a running run can pause.
	Pause(h RunHandle) error

	// Resume continues a paused run.
	Resume(h RunHandle) error

	// Cancel ends the run after the files in flight. The run finishes idle.
	Cancel(h RunHandle) error

	// GetStatus returns a snapshot of the run.
	GetStatus(h RunHandle) (Snapshot, error)

	// IndexFile replaces the chunks of one file, given relative to the
	// project root or as an absolute path inside it. A file that no
	// longer exists is removed instead.
	IndexFile(ctx context.Context, path string) (int, error)

	// RemoveFile deletes every chunk of one file. Removing a file that
	// was never indexed is not an error.
	RemoveFile(ctx context.Context, path string) error

	// Close releases the stores and the data directory lock.
	Close() error
}

type (
	RunHandle    = index.RunHandle
	Snapshot     = index.Snapshot
	Status       = index.Status
	FileError    = index.FileError
	ProgressFunc = index.ProgressFunc

	SearchOptions = search.Options
	SearchMode    = search.Mode
	Result        = search.Result
)

const (
	StatusIdle      = index.StatusIdle
	StatusRunning   = index.StatusRunning
	StatusPaused    = index.StatusPaused
	StatusCompleted = index.StatusCompleted
	StatusError     = index.StatusError

	ModeHybrid  = search.ModeHybrid
	ModeVector  = search.ModeVector
	ModeKeyword = search.ModeKeyword
)

var (
	// ErrInvalidTransition is returned for a lifecycle call the run's
	// current status does not allow.
	ErrInvalidTransition = index.ErrInvalidTransition
	// ErrRunNotFound is returned for a handle from another Indexer.
	ErrRunNotFound = index.ErrRunNotFound
)
