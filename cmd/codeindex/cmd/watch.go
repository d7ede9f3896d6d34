package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/codeindex/internal/watcher"
)

func newWatchCmd() *cobra.Command {
	var (
		noTUI     bool
		skipIndex bool
	)

	cmd := &cobra.Command{
		Use:   "watch [path]",
		Short: "Index a project, then keep the index in sync with file changes",
		Long: `Run a full index, then watch the project tree. Created and changed
files are re-indexed and deleted files removed once the tree has been quiet
for the debounce window (watch.debounce, default 500ms). Changes made while
the full index runs are applied when it finishes.

Press Ctrl+C to stop.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp(pathArg(args))
			if err != nil {
				return err
			}
			defer a.Close()

			var initial func(context.Context) error
			if !skipIndex {
				initial = func(ctx context.Context) error {
					_, err := a.runIndex(ctx, newRenderer(cmd, a.root, noTUI))
					return err
				}
			}
			return a.watch(ctx, cmd, initial)
		},
	}

	cmd.Flags().BoolVar(&noTUI, "no-tui", false, "Disable TUI mode for the initial index")
	cmd.Flags().BoolVar(&skipIndex, "skip-index", false, "Skip the initial full index")
	return cmd
}

// watch starts the file watcher, runs initial, then applies file changes
// until ctx is done.
func (a *app) watch(ctx context.Context, cmd *cobra.Command, initial func(context.Context) error) error {
	w, err := watcher.NewFSWatcher(a.root, watcher.Options{
		Debounce: a.cfg.DebounceWindow(),
		Scanner:  a.scannerOptions(),
	}, a.logger)
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()

	out := cmd.OutOrStdout()
	d := watcher.NewDispatcher(w.Batches(), a.coord, a.logger, watcher.WithOnBatch(func(r watcher.BatchResult) {
		_, _ = fmt.Fprintf(out, "[WATCH] %d indexed, %d removed, %d failed (%d chunks, %s)\n",
			r.Indexed, r.Removed, r.Failed, r.Chunks, r.Duration.Round(time.Millisecond))
	}))

	err = watcher.Follow(ctx, w, d, func(ctx context.Context) error {
		if initial != nil {
			if err := initial(ctx); err != nil {
				return err
			}
		}
		if ctx.Err() == nil {
			_, _ = fmt.Fprintf(out, "Watching %s (%d directories). Press Ctrl+C to stop.\n", a.root, w.WatchedDirs())
			a.logger.Info("watching", slog.String("root", a.root), slog.Int("dirs", w.WatchedDirs()))
		}
		return nil
	})
	if err != nil {
		return err
	}

	total := d.Totals()
	_, _ = fmt.Fprintf(out, "Stopped watching: %d indexed, %d removed, %d failed\n", total.Indexed, total.Removed, total.Failed)
	return nil
}
