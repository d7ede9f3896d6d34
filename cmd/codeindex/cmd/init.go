package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/codeindex/configs"
	"github.com/Aman-CERP/codeindex/internal/config"
	"github.com/Aman-CERP/codeindex/internal/output"
	"github.com/Aman-CERP/codeindex/internal/ui"
)

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a .codeindex.yaml and ignore the data directory",
		Long: `Create .codeindex.yaml in the project root from the built-in template
and add the data directory to .gitignore. An existing .codeindex.yaml is
kept unless --force is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := filepath.Abs(pathArg(args))
			if err != nil {
				return fmt.Errorf("failed to resolve path: %w", err)
			}
			info, err := os.Stat(root)
			if err != nil || !info.IsDir() {
				return fmt.Errorf("not a directory: %s", root)
			}
			return runInit(output.New(cmd.OutOrStdout(), noColor || !ui.IsTTY(cmd.OutOrStdout())), root, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing .codeindex.yaml")
	return cmd
}

func runInit(out *output.Writer, root string, force bool) error {
	cfgPath := filepath.Join(root, config.ProjectConfigName)
	_, statErr := os.Stat(cfgPath)
	switch {
	case statErr == nil && !force:
		out.Status(output.IconInfo, "Existing "+config.ProjectConfigName+" preserved")
		out.Hint("use --force to overwrite it with the template")
	default:
		if err := os.WriteFile(cfgPath, []byte(configs.ProjectConfigTemplate), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", config.ProjectConfigName, err)
		}
		out.Successf("Created %s", config.ProjectConfigName)
	}

	added, err := ensureGitignore(root, config.DefaultDataDir)
	if err != nil {
		out.Warningf("Could not update .gitignore: %v", err)
	} else if added {
		out.Successf("Added %s/ to .gitignore", config.DefaultDataDir)
	}

	out.Newline()
	out.Status(output.IconInfo, "Next:")
	out.Code("codeindex index\ncodeindex query \"where is the config loaded\"")
	return nil
}

// ensureGitignore appends dir to the project's .gitignore unless an entry
// for it exists. It reports whether the file changed.
func ensureGitignore(root, dir string) (bool, error) {
	path := filepath.Join(root, ".gitignore")
	content, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("reading .gitignore: %w", err)
	}

	for _, line := range strings.Split(string(content), "\n") {
		entry := strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(line), "/"), "/")
		if entry == dir {
			return false, nil
		}
	}

	eol := "\n"
	if bytes.Contains(content, []byte("\r\n")) {
		eol = "\r\n"
	}
	if len(content) > 0 && !bytes.HasSuffix(content, []byte("\n")) {
		content = append(content, eol...)
	}
	if len(content) > 0 {
		content = append(content, eol...)
	}
	content = append(content, "# codeindex data"+eol+dir+"/"+eol...)

	if err := os.WriteFile(path, content, 0o644); err != nil {
		return false, fmt.Errorf("writing .gitignore: %w", err)
	}
	return true, nil
}
