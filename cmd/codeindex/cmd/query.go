package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/codeindex/internal/search"
	"github.com/Aman-CERP/codeindex/internal/ui"
)

// snippetLines bounds the chunk text printed per result.
const snippetLines = 6

func newQueryCmd() *cobra.Command {
	var (
		topK       int
		textOnly   bool
		vectorOnly bool
		language   string
		pathPrefix string
		jsonOutput bool
		dir        string
	)

	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Search the index",
		Long: `Search indexed code. By default the query is embedded and matched by
meaning, and also matched by keyword; the two rankings are fused.

  --text     keyword search only (no embedding call)
  --vector   semantic search only`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if textOnly && vectorOnly {
				return fmt.Errorf("--text and --vector are mutually exclusive")
			}
			mode := search.ModeHybrid
			switch {
			case textOnly:
				mode = search.ModeKeyword
			case vectorOnly:
				mode = search.ModeVector
			}

			a, err := openApp(dir)
			if err != nil {
				return err
			}
			defer a.Close()

			results, err := a.engine.Search(cmd.Context(), strings.Join(args, " "), search.Options{
				TopK:       topK,
				Mode:       mode,
				Language:   language,
				PathPrefix: pathPrefix,
			})
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(results)
			}
			printResults(cmd.OutOrStdout(), results, ui.GetStyles(noColor || ui.DetectNoColor() || !ui.IsTTY(cmd.OutOrStdout())))
			return nil
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", search.DefaultTopK, "Number of results")
	cmd.Flags().BoolVar(&textOnly, "text", false, "Keyword search only")
	cmd.Flags().BoolVar(&vectorOnly, "vector", false, "Semantic search only")
	cmd.Flags().StringVar(&language, "language", "", "Only return chunks in this language")
	cmd.Flags().StringVar(&pathPrefix, "path", "", "Only return chunks under this directory")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")
	cmd.Flags().StringVar(&dir, "dir", ".", "Project directory")
	return cmd
}

func printResults(w io.Writer, results []search.Result, styles ui.Styles) {
	if len(results) == 0 {
		_, _ = fmt.Fprintln(w, "No results.")
		return
	}
	for i, r := range results {
		title := fmt.Sprintf("%d. %s:%d-%d", i+1, r.FilePath, r.StartLine, r.EndLine)
		meta := fmt.Sprintf("%s %s  score %.3f", r.Kind, r.Name, r.Score)
		_, _ = fmt.Fprintf(w, "%s  %s\n", styles.Header.Render(title), styles.Dim.Render(strings.TrimSpace(meta)))

		lines := strings.Split(strings.TrimRight(r.Content, "\n"), "\n")
		for _, line := range lines[:min(len(lines), snippetLines)] {
			_, _ = fmt.Fprintf(w, "    %s\n", line)
		}
		if len(lines) > snippetLines {
			_, _ = fmt.Fprintln(w, styles.Dim.Render(fmt.Sprintf("    ... %d more lines", len(lines)-snippetLines)))
		}
		_, _ = fmt.Fprintln(w)
	}
}
