package watcher

import (
	"context"
	"time"

	"github.com/Aman-CERP/codeindex/internal/scanner"
)

// EventType is the kind of change observed for a path.
type EventType int

const (
	// Created indicates a new file.
	Created EventType = iota
	// Changed indicates an existing file was written.
	Changed
	// Deleted indicates a file was removed or renamed away.
	Deleted
)

// String returns a human-readable representation of the event type.
func (t EventType) String() string {
	switch t {
	case Created:
		return "created"
	case Changed:
		return "changed"
	case Deleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Event is one filesystem change.
type Event struct {
	Type EventType

	// Path is relative to the watched root, with forward slashes.
	Path string

	Timestamp time.Time
}

// Sink receives debounced changes. *index.Coordinator implements it.
type Sink interface {
	IndexFile(ctx context.Context, path string) (int, error)
	RemoveFile(ctx context.Context, path string) error
}

// Options configures the watcher.
type Options struct {
	// Debounce is the quiet period before a burst is drained.
	// Default: 500ms
	Debounce time.Duration

	// BatchBuffer is the number of drained batches that may wait for the
	// dispatcher. Default: 16
	BatchBuffer int

	// Scanner holds the ignore rules shared with discovery.
	Scanner scanner.Options
}

// DefaultDebounce is the default quiet period.
const DefaultDebounce = 500 * time.Millisecond

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	if o.Debounce <= 0 {
		o.Debounce = DefaultDebounce
	}
	if o.BatchBuffer <= 0 {
		o.BatchBuffer = 16
	}
	return o
}
