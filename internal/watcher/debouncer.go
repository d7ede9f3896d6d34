package watcher

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Aman-CERP/codeindex/internal/logging"
)

// Debouncer coalesces rapid events. Only the latest event per path is
// kept, except that a write to a freshly created file stays a create.
// Every new event restarts the window, and when the window expires all
// pending paths are drained together as one batch.
type Debouncer struct {
	window  time.Duration
	pending map[string]Event
	mu      sync.Mutex
	output  chan []Event
	timer   *time.Timer
	gen     uint64
	stopped bool
	logger  *slog.Logger
}

// NewDebouncer creates a debouncer with the given window and output buffer.
func NewDebouncer(window time.Duration, buffer int, logger *slog.Logger) *Debouncer {
	if buffer <= 0 {
		buffer = 1
	}
	return &Debouncer{
		window:  window,
		pending: make(map[string]Event),
		output:  make(chan []Event, buffer),
		logger:  logging.WithSource(logger, "watcher"),
	}
}

// Add records an event, replacing any pending event for the same path.
func (d *Debouncer) Add(event Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if prev, ok := d.pending[event.Path]; ok && prev.Type == Created && event.Type == Changed {
		event.Type = Created
	}
	d.pending[event.Path] = event
	d.schedule()
}

// schedule restarts the window. Must hold d.mu.
func (d *Debouncer) schedule() {
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.timer = time.AfterFunc(d.window, func() { d.flush(gen) })
}

// flush drains pending events unless a later event restarted the window.
func (d *Debouncer) flush(gen uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || gen != d.gen || len(d.pending) == 0 {
		return
	}

	batch := make([]Event, 0, len(d.pending))
	for _, e := range d.pending {
		batch = append(batch, e)
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].Path < batch[j].Path })

	select {
	case d.output <- batch:
		d.pending = make(map[string]Event)
	default:
		// Keep the events and try again after another window.
		d.logger.Warn("debouncer output full, deferring batch",
			slog.Int("batch_size", len(batch)))
		d.schedule()
	}
}

// Pending returns the number of paths waiting for the window to expire.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Output returns the channel of drained batches, sorted by path.
func (d *Debouncer) Output() <-chan []Event {
	return d.output
}

// Stop discards pending events and closes the output channel.
// Safe to call multiple times.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.output)
}
