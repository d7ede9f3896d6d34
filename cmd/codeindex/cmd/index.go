package cmd

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/codeindex/internal/profiling"
	"github.com/Aman-CERP/codeindex/internal/ui"
)

func newIndexCmd() *cobra.Command {
	var (
		noTUI bool
		prof  profiling.Options
	)

	cmd := &cobra.Command{
		Use:   "index [path]",
		Short: "Index a project",
		Long: `Index every supported source file under the project root.

Files are split into functions, methods and classes, embedded, and written
to the vector store. Re-running replaces the chunks of every file, so the
command is safe to repeat. Files that fail to parse are reported and
skipped; the run still completes.

Press Ctrl+C to cancel after the files in flight.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp(pathArg(args))
			if err != nil {
				return err
			}
			defer a.Close()

			session, err := profiling.Start(prof)
			if err != nil {
				return err
			}
			_, err = a.runIndex(ctx, newRenderer(cmd, a.root, noTUI))
			if perr := session.Stop(); perr != nil {
				a.logger.Warn("failed to write profiles", slog.String("error", perr.Error()))
			}
			if prof.Enabled() {
				a.logger.Info("index profiled",
					slog.String("heap_in_use", profiling.FormatBytes(profiling.HeapInUse())))
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&noTUI, "no-tui", false, "Disable TUI mode, use plain text output")
	cmd.Flags().StringVar(&prof.CPU, "cpuprofile", "", "Write a CPU profile to this file")
	cmd.Flags().StringVar(&prof.Heap, "memprofile", "", "Write a heap profile to this file after indexing")
	cmd.Flags().StringVar(&prof.Trace, "trace", "", "Write an execution trace to this file")
	return cmd
}

func pathArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return "."
}

func newRenderer(cmd *cobra.Command, root string, noTUI bool) ui.Renderer {
	return ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(),
		ui.WithForcePlain(noTUI),
		ui.WithNoColor(noColor),
		ui.WithProjectDir(root)))
}
