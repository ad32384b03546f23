package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/forest6511/facevault/pkg/store"
)

var doctorJSON bool

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().BoolVar(&doctorJSON, "json", false, "Output in JSON format")
}

// doctorReport is the JSON form of the doctor output.
type doctorReport struct {
	Path      string                      `json:"path"`
	Integrity *store.IntegrityCheckResult `json:"integrity"`
	Disk      *store.DiskSpaceInfo        `json:"disk,omitempty"`
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the vault file for corruption and unsafe permissions",
	Long: `Check the vault database without logging in: SQLite integrity check,
required tables, foreign keys, file permissions and free disk space.
No record is decrypted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st := v.Store()
		if !st.Exists() {
			return fmt.Errorf("%w: %s (run 'facevault register' first)", store.ErrNotInitialized, st.Path())
		}

		result, err := st.CheckIntegrity(cmd.Context())
		if err != nil {
			return fmt.Errorf("integrity check failed to run: %w", err)
		}
		disk, diskErr := st.CheckDiskSpace()
		if diskErr != nil {
			logger.Debug("disk space check failed", zap.Error(diskErr))
		}

		out := cmd.OutOrStdout()
		if doctorJSON {
			data, err := json.MarshalIndent(doctorReport{Path: st.Path(), Integrity: result, Disk: disk}, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(data))
		} else {
			fmt.Fprintf(out, "Vault: %s\n", st.Path())
			fmt.Fprintf(out, "  database integrity: %s\n", okText(result.DBIntegrity))
			fmt.Fprintf(out, "  permissions:        %s\n", okText(result.PermissionsValid))
			if disk != nil {
				fmt.Fprintf(out, "  disk:               %d MB available (%d%% used)\n",
					disk.Available/(1024*1024), disk.UsedPct)
			}
			for _, e := range result.Errors {
				fmt.Fprintf(out, "  - %s\n", e)
			}
		}

		if !result.Valid {
			return fmt.Errorf("vault check found %d problem(s)", len(result.Errors))
		}
		return nil
	},
}

func okText(ok bool) string {
	if ok {
		return "ok"
	}
	return "FAILED"
}
