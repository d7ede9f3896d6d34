package cmd

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/codeindex/internal/store"
	"github.com/Aman-CERP/codeindex/internal/ui"
)

func newHealthCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "health [path]",
		Short: "Check the vector store and embedding provider",
		Long: `Check the configured vector store and embedding provider and report
their state with the number of indexed points. Exits non-zero when either
backend is unavailable.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(pathArg(args))
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.health(cmd)
			if err != nil {
				return err
			}

			r := ui.NewHealthRenderer(cmd.OutOrStdout(), noColor || !ui.IsTTY(cmd.OutOrStdout()))
			if jsonOutput {
				err = r.RenderJSON(report)
			} else {
				err = r.Render(report)
			}
			if err != nil {
				return err
			}
			if !report.Healthy() {
				return fmt.Errorf("unhealthy: store ready=%t, embedder ready=%t", report.StoreHealthy, report.EmbedderReady)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the report as JSON")
	return cmd
}

func (a *app) health(cmd *cobra.Command) (ui.HealthReport, error) {
	ctx := cmd.Context()
	h := a.store.Health(ctx)

	report := ui.HealthReport{
		Project:            filepath.Base(a.root),
		DataDir:            a.dataDir,
		StoreBackend:       h.Backend,
		StoreHealthy:       h.Healthy,
		StoreLatency:       h.Latency,
		StoreError:         h.Error,
		Collection:         a.cfg.Store.Collection,
		Collections:        h.Collections,
		EmbedderModel:      a.embedder.ModelName(),
		EmbedderDimensions: a.embedder.Dimensions(),
		EmbedderReady:      a.embedder.Available(ctx),
	}
	if h.Healthy {
		n, err := a.store.Count(ctx, a.cfg.Store.Collection)
		if err != nil && !errors.Is(err, store.ErrCollectionNotFound) {
			return report, err
		}
		report.Points = n
	}
	if a.keyword != nil {
		if n, err := a.keyword.Count(); err == nil {
			report.KeywordChunks = n
		}
	}
	return report, nil
}
