package watcher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Aman-CERP/codeindex/internal/logging"
)

// BatchResult summarises one dispatched batch.
type BatchResult struct {
	Indexed  int
	Removed  int
	Failed   int
	Chunks   int
	Duration time.Duration
}

// Dispatcher routes debounced batches to a Sink: created and changed
// paths are re-indexed, deleted paths removed. Failures are logged per
// path and do not stop the batch.
type Dispatcher struct {
	batches <-chan []Event
	sink    Sink
	logger  *slog.Logger
	onBatch func(BatchResult)

	mu    sync.Mutex
	total BatchResult
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithOnBatch registers a callback invoked after every batch.
func WithOnBatch(fn func(BatchResult)) DispatcherOption {
	return func(d *Dispatcher) { d.onBatch = fn }
}

// NewDispatcher creates a dispatcher reading from batches.
func NewDispatcher(batches <-chan []Event, sink Sink, logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		batches: batches,
		sink:    sink,
		logger:  logging.WithSource(logger, "watcher"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run dispatches batches until ctx is done or the batch channel closes.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-d.batches:
			if !ok {
				return
			}
			d.Dispatch(ctx, batch)
		}
	}
}

// Dispatch applies one batch in order.
func (d *Dispatcher) Dispatch(ctx context.Context, batch []Event) BatchResult {
	start := time.Now()
	var res BatchResult
	for _, e := range batch {
		if ctx.Err() != nil {
			break
		}
		switch e.Type {
		case Deleted:
			if err := d.sink.RemoveFile(ctx, e.Path); err != nil {
				res.Failed++
				d.logger.Warn("remove failed",
					slog.String("path", e.Path),
					slog.String("error", err.Error()))
				continue
			}
			res.Removed++
		default:
			n, err := d.sink.IndexFile(ctx, e.Path)
			if err != nil {
				res.Failed++
				d.logger.Warn("reindex failed",
					slog.String("path", e.Path),
					slog.String("event", e.Type.String()),
					slog.String("error", err.Error()))
				continue
			}
			res.Indexed++
			res.Chunks += n
		}
	}
	res.Duration = time.Since(start)

	d.mu.Lock()
	d.total.Indexed += res.Indexed
	d.total.Removed += res.Removed
	d.total.Failed += res.Failed
	d.total.Chunks += res.Chunks
	d.total.Duration += res.Duration
	d.mu.Unlock()

	d.logger.Info("batch applied",
		slog.Int("events", len(batch)),
		slog.Int("indexed", res.Indexed),
		slog.Int("removed", res.Removed),
		slog.Int("failed", res.Failed),
		slog.Int64("duration_ms", res.Duration.Milliseconds()))
	if d.onBatch != nil {
		d.onBatch(res)
	}
	return res
}

// Totals returns the sums over every batch dispatched so far.
func (d *Dispatcher) Totals() BatchResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.total
}
