package watcher

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Follow watches with w while initial runs, then applies every batch
// through d until ctx is done. Changes made during initial are held by
// the debouncer and replayed once it returns, so a full index followed by
// Follow leaves no gap. A nil initial starts dispatching at once.
func Follow(ctx context.Context, w *FSWatcher, d *Dispatcher, initial func(context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.Run(gctx) })
	g.Go(func() error {
		if initial != nil {
			if err := initial(gctx); err != nil {
				return err
			}
		}
		d.Run(gctx)
		return nil
	})
	return g.Wait()
}
