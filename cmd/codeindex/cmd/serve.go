package cmd

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/codeindex/internal/mcp"
)

func newServeCmd() *cobra.Command {
	var transport string

	cmd := &cobra.Command{
		Use:   "serve [path]",
		Short: "Serve the index to AI assistants over MCP",
		Long: `Start a Model Context Protocol server for the project. Tools let the
client start, pause, resume and cancel indexing runs, re-index or remove
single files, search, and check store health.

stdout carries JSON-RPC only; diagnostics go to the log file.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp(pathArg(args))
			if err != nil {
				return err
			}
			defer a.Close()

			srv, err := mcp.NewServer(mcp.Deps{
				Coordinator: a.coord,
				Engine:      a.engine,
				Store:       a.store,
				Keyword:     keywordCounter(a),
				Embedder:    a.embedder,
				Root:        a.root,
				Collection:  a.cfg.Store.Collection,
				Logger:      a.logger,
			})
			if err != nil {
				return err
			}

			err = srv.Serve(ctx, transport)
			if h, ok := a.coord.Current(); ok {
				// Let a run started over MCP stop at a file boundary.
				if snap, serr := a.coord.GetStatus(h); serr == nil && !snap.Status.Terminal() {
					_ = a.coord.Cancel(h)
					_, _ = a.coord.Wait(cmd.Context(), h)
					a.logger.Info("run cancelled on shutdown", slog.String("run_id", h.ID))
				}
			}
			return err
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport protocol (stdio)")
	return cmd
}

// keywordCounter avoids handing the server a typed nil interface.
func keywordCounter(a *app) mcp.KeywordCounter {
	if a.keyword == nil {
		return nil
	}
	return a.keyword
}
