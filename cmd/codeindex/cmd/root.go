// Package cmd provides the CLI commands for codeindex.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	cierrors "github.com/Aman-CERP/codeindex/internal/errors"
	"github.com/Aman-CERP/codeindex/pkg/version"
)

var (
	debugMode bool
	noColor   bool
)

// NewRootCmd creates the root command for the codeindex CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "codeindex",
		Short: "Semantic code index for local repositories",
		Long: `codeindex splits source files into functions, methods and classes,
embeds them, and keeps them in a vector store so they can be searched by
meaning. The index follows the working tree as files change.

Run 'codeindex index' in a project, then 'codeindex query "..."'.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("codeindex version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging (also mirrored to stderr)")
	cmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newQueryCmd())
	cmd.AddCommand(newHealthCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command and prints a formatted error on failure.
func Execute() error {
	err := NewRootCmd().Execute()
	if err != nil {
		_, _ = fmt.Fprint(os.Stderr, cierrors.FormatForCLI(err))
	}
	return err
}
