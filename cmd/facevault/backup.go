package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/forest6511/facevault/pkg/backup"
	"github.com/forest6511/facevault/pkg/crypto"
)

var (
	backupOutput     string
	backupStdout     bool
	backupKeyFile    string
	backupNewKeyFile bool
	backupForce      bool
)

var (
	restoreVerifyOnly bool
	restoreKeyFile    string
	restoreForce      bool
)

func init() {
	rootCmd.AddCommand(backupCmd, restoreCmd)

	backupCmd.Flags().StringVarP(&backupOutput, "output", "o", "", "Output file path")
	backupCmd.Flags().BoolVar(&backupStdout, "stdout", false, "Output to stdout (for piping)")
	backupCmd.Flags().StringVar(&backupKeyFile, "key-file", "", "Encryption key file (32 bytes)")
	backupCmd.Flags().BoolVar(&backupNewKeyFile, "new-key-file", false, "Generate the --key-file before the backup")
	backupCmd.Flags().BoolVarP(&backupForce, "force", "f", false, "Overwrite existing file")

	restoreCmd.Flags().BoolVar(&restoreVerifyOnly, "verify-only", false, "Only verify backup integrity")
	restoreCmd.Flags().StringVar(&restoreKeyFile, "key-file", "", "Decryption key file")
	restoreCmd.Flags().BoolVarP(&restoreForce, "force", "f", false, "Replace an existing vault")
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create encrypted backup of the vault",
	Long: `Create an encrypted backup of the whole vault: every identity, record
and audit event. The backup is encrypted with a backup passphrase or a
32-byte key file, independent of any identity's passphrase.

Examples:
  # Backup to a file (prompts for a backup passphrase)
  facevault backup --probe me.yaml -o vault-backup.fvb

  # Use a freshly generated key file
  facevault backup --probe me.yaml -o vault-backup.fvb --key-file backup.key --new-key-file

  # Backup to stdout (for piping)
  facevault backup --probe me.yaml --stdout --key-file backup.key > backup.fvb`,
	Args: cobra.NoArgs,
	RunE: executeBackup,
}

func executeBackup(cmd *cobra.Command, args []string) error {
	if err := validateBackupFlags(); err != nil {
		return err
	}
	if !backupStdout && !backupForce {
		if _, err := os.Stat(backupOutput); err == nil {
			return fmt.Errorf("output file already exists: %s (use --force to overwrite)", backupOutput)
		}
	}

	// Only an enrolled identity may take a backup.
	return withSession(cmd, func(ctx context.Context) error {
		opts := backup.BackupOptions{KeyFile: backupKeyFile}

		if backupNewKeyFile {
			if err := backup.GenerateKeyFile(backupKeyFile); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Key file written to %s (keep it safe)\n", backupKeyFile)
		}
		if backupKeyFile == "" {
			pass, err := promptBackupPassphrase(cmd)
			if err != nil {
				return err
			}
			defer crypto.SecureWipe(pass)
			opts.Passphrase = pass
		}

		var output io.Writer = cmd.OutOrStdout()
		if !backupStdout {
			f, err := os.OpenFile(backupOutput, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
			if err != nil {
				return fmt.Errorf("failed to create output file: %w", err)
			}
			defer f.Close()
			output = f
		}
		opts.Output = output

		// Not retried: output may already be partly written.
		header, err := backup.Backup(ctx, v.Store(), opts)
		if err != nil {
			if !backupStdout {
				os.Remove(backupOutput)
			}
			return fmt.Errorf("backup failed: %w", err)
		}

		if !backupStdout {
			fmt.Fprintf(cmd.OutOrStdout(), "Backup created successfully: %s (%d identities)\n",
				backupOutput, header.IdentityCount)
		}
		return nil
	})
}

func validateBackupFlags() error {
	if !backupStdout && backupOutput == "" {
		return fmt.Errorf("either --output or --stdout is required")
	}
	if backupStdout && backupOutput != "" {
		return fmt.Errorf("--output and --stdout are mutually exclusive")
	}
	if backupNewKeyFile && backupKeyFile == "" {
		return fmt.Errorf("--new-key-file requires --key-file")
	}
	return nil
}

func promptBackupPassphrase(cmd *cobra.Command) ([]byte, error) {
	pass, err := readSecret(cmd, "Enter backup passphrase: ")
	if err != nil {
		return nil, err
	}
	confirm, err := readSecret(cmd, "Confirm backup passphrase: ")
	if err != nil {
		return nil, err
	}
	if pass != confirm {
		return nil, fmt.Errorf("passphrases do not match")
	}
	if pass == "" {
		return nil, backup.ErrEmptyPassphrase
	}
	return []byte(pass), nil
}

var restoreCmd = &cobra.Command{
	Use:   "restore <backup-file>",
	Short: "Restore vault from encrypted backup",
	Long: `Restore the vault from an encrypted backup file. The backup is
decrypted and checked before it replaces anything; an existing vault is
only replaced with --force.

Examples:
  # Verify backup integrity without restoring
  facevault restore backup.fvb --verify-only

  # Replace the current vault
  facevault restore backup.fvb --force

  # Use key file for decryption
  facevault restore backup.fvb --key-file backup.key`,
	Args: cobra.ExactArgs(1),
	RunE: executeRestore,
}

func executeRestore(cmd *cobra.Command, args []string) error {
	backupPath := args[0]
	if _, err := os.Stat(backupPath); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("backup file not found: %s", backupPath)
	}

	var pass []byte
	if restoreKeyFile == "" {
		p, err := readSecret(cmd, "Enter backup passphrase: ")
		if err != nil {
			return err
		}
		pass = []byte(p)
		defer crypto.SecureWipe(pass)
	}

	out := cmd.OutOrStdout()
	if restoreVerifyOnly {
		result, err := backup.Verify(backupPath, pass, restoreKeyFile)
		if err != nil {
			return fmt.Errorf("verification failed: %w", err)
		}
		if !result.Valid {
			return fmt.Errorf("verification failed: %s", result.Error)
		}
		fmt.Fprintf(out, "Backup verification successful!\n")
		fmt.Fprintf(out, "  Version:    %d\n", result.Version)
		fmt.Fprintf(out, "  Created:    %s\n", result.CreatedAt.Local().Format("2006-01-02 15:04:05"))
		fmt.Fprintf(out, "  Identities: %d\n", result.IdentityCount)
		return nil
	}

	result, err := backup.Restore(cmd.Context(), backupPath, v.Store(), backup.RestoreOptions{
		Force:      restoreForce,
		Passphrase: pass,
		KeyFile:    restoreKeyFile,
	})
	if err != nil {
		return fmt.Errorf("restore failed: %w", err)
	}

	if result.Replaced {
		fmt.Fprintf(out, "Vault replaced from backup (%d identities)\n", result.IdentityCount)
	} else {
		fmt.Fprintf(out, "Vault restored from backup (%d identities)\n", result.IdentityCount)
	}
	return nil
}
