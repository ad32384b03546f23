package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/forest6511/facevault/pkg/audit"
)

// Audit flags
var (
	auditLimit int
	auditSince string
)

// Audit export flags
var (
	auditExportFormat string
	auditExportSince  string
	auditExportUntil  string
	auditExportOutput string
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditListCmd, auditVerifyCmd, auditExportCmd)

	auditListCmd.Flags().IntVar(&auditLimit, "limit", 100, "Maximum number of events to show")
	auditListCmd.Flags().StringVar(&auditSince, "since", "", "Show events since duration (e.g., 24h)")

	auditExportCmd.Flags().StringVar(&auditExportFormat, "format", "json", "Output format: json, csv")
	auditExportCmd.Flags().StringVar(&auditExportSince, "since", "", "Export events since duration (e.g., 30d)")
	auditExportCmd.Flags().StringVar(&auditExportUntil, "until", "", "Export events until date (RFC 3339)")
	auditExportCmd.Flags().StringVarP(&auditExportOutput, "output", "o", "", "Output file path (default: stdout)")
}

// auditCmd is the parent command for audit operations
var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect your audit log",
	Long: `Inspect the audit log of the logged-in identity. Every login, logout,
create, list, update and delete is recorded, encrypted under your key and
chained with an HMAC so edits and deletions can be detected.`,
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audit log entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		since, err := sinceTime(auditSince)
		if err != nil {
			return err
		}
		return withSession(cmd, func(ctx context.Context) error {
			entries, err := call(ctx, v.AuditLog)
			if err != nil {
				return err
			}
			entries = audit.Filter(entries, since, time.Time{})
			if auditLimit > 0 && len(entries) > auditLimit {
				entries = entries[len(entries)-auditLimit:]
			}

			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No audit events found")
				return nil
			}
			for _, e := range entries {
				if e.Err != nil {
					fmt.Fprintf(out, "%5d  %-19s  <unreadable: %v>\n", e.Seq, "", e.Err)
					continue
				}
				fmt.Fprintf(out, "%5d  %s  %s\n", e.Seq, e.Timestamp.Local().Format("2006-01-02 15:04:05"), e.Detail)
			}
			return nil
		})
	},
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the integrity of your audit log chain",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context) error {
			result, err := call(ctx, v.VerifyAudit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !result.Valid {
				fmt.Fprintf(out, "Audit log is NOT valid (%d of %d records verified)\n",
					result.RecordsVerified, result.RecordsTotal)
				for _, e := range result.Errors {
					fmt.Fprintf(out, "  - %s\n", e)
				}
				return fmt.Errorf("audit log verification failed")
			}
			fmt.Fprintf(out, "Audit log is valid (%d records verified)\n", result.RecordsVerified)
			return nil
		})
	},
}

var auditExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export audit logs for compliance",
	Long: `Export the audit log to JSON or CSV. CSV fields starting with a
spreadsheet formula character are quoted.

Examples:
  facevault audit export --probe me.yaml --format csv -o audit.csv
  facevault audit export --probe me.yaml --since 30d`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if auditExportFormat != "json" && auditExportFormat != "csv" {
			return fmt.Errorf("invalid format %q: must be json or csv", auditExportFormat)
		}
		since, err := sinceTime(auditExportSince)
		if err != nil {
			return err
		}
		var until time.Time
		if auditExportUntil != "" {
			if until, err = time.Parse(time.RFC3339, auditExportUntil); err != nil {
				return fmt.Errorf("invalid --until value: %w", err)
			}
		}

		return withSession(cmd, func(ctx context.Context) error {
			data, err := call(ctx, func(ctx context.Context) ([]byte, error) {
				return v.ExportAudit(ctx, since, until, auditExportFormat)
			})
			if err != nil {
				return err
			}

			if auditExportOutput == "" {
				_, err := cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(auditExportOutput, data, 0600); err != nil {
				return fmt.Errorf("failed to write export: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Audit log exported to %s\n", auditExportOutput)
			return nil
		})
	},
}

// sinceTime turns a --since duration into an absolute lower bound.
func sinceTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	d, err := parseDuration(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --since value: %w", err)
	}
	return time.Now().Add(-d), nil
}
