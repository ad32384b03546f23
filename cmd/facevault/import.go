package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/forest6511/facevault/pkg/importer"
	"github.com/forest6511/facevault/pkg/vault"
)

// maxImportFileSize bounds export files read into memory.
const maxImportFileSize = 50 * 1024 * 1024

var (
	importFrom   string
	importDryRun bool
)

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().StringVar(&importFrom, "from", "", "Import source: "+strings.Join(importer.ValidSources(), ", "))
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "Show what would be imported without logging in")
	_ = importCmd.MarkFlagRequired("from")
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import logins and secure notes from another password manager",
	Long: `Import an unencrypted export from another password manager.

Logins become web accounts, secure notes become notes. A login missing a
website, username, email or password is kept as a note so nothing is lost.
Other item types are skipped with a reason. The import is all or nothing.

Examples:
  facevault import --probe me.yaml --from lastpass lastpass_export.csv
  facevault import --probe me.yaml --from 1password export.csv
  facevault import --from bitwarden bitwarden.json --dry-run`,
	Args: cobra.ExactArgs(1),
	RunE: executeImport,
}

func executeImport(cmd *cobra.Command, args []string) error {
	source := importer.Source(strings.ToLower(importFrom))
	parser, err := importer.GetParser(source)
	if err != nil {
		return fmt.Errorf("invalid --from value '%s': must be one of %v", importFrom, importer.ValidSources())
	}

	data, err := readImportFile(args[0])
	if err != nil {
		return err
	}

	result, err := parser.Parse(data)
	if err != nil {
		return fmt.Errorf("failed to parse %s file: %w", source, err)
	}

	stderr := cmd.ErrOrStderr()
	for _, w := range result.Warnings {
		fmt.Fprintf(stderr, "Warning: %s\n", w)
	}
	for _, s := range result.Skipped {
		fmt.Fprintf(stderr, "Skipped: %s (%s)\n", s.OriginalName, s.Reason)
	}

	out := cmd.OutOrStdout()
	if len(result.WebAccounts) == 0 && len(result.Notes) == 0 {
		fmt.Fprintln(out, "Nothing to import")
		return nil
	}
	fmt.Fprintf(out, "Found %d web accounts and %d notes\n", len(result.WebAccounts), len(result.Notes))

	if importDryRun {
		for _, a := range result.WebAccounts {
			fmt.Fprintf(out, "  web   %s (%s)\n", a.Website, a.Username)
		}
		for _, n := range result.Notes {
			fmt.Fprintf(out, "  note  %s\n", n.Title)
		}
		fmt.Fprintln(out, "Dry run: nothing was imported")
		return nil
	}

	return withSession(cmd, func(ctx context.Context) error {
		stats, err := call(ctx, func(ctx context.Context) (vault.ImportStats, error) {
			return v.Import(ctx, result.Batch())
		})
		if err != nil {
			return fmt.Errorf("import failed, nothing was stored: %w", err)
		}
		fmt.Fprintf(out, "Imported %d web accounts and %d notes\n", stats.WebAccounts, stats.Notes)
		return nil
	})
}

// readImportFile reads an export file, refusing symlinks and oversized files.
func readImportFile(path string) ([]byte, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}

	info, err := os.Lstat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file not found: %s", path)
		}
		return nil, fmt.Errorf("failed to access file: %w", err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return nil, fmt.Errorf("security: refusing to read symlink: %s", absPath)
	}
	if info.Size() > maxImportFileSize {
		return nil, fmt.Errorf("file too large: %d bytes (max %d)", info.Size(), maxImportFileSize)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}
