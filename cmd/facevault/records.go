package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forest6511/facevault/pkg/vault"
)

// addShowSecretsFlag registers --show-secrets on a list command.
func addShowSecretsFlag(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "Print passwords, PINs and card numbers in clear")
}

// anyChanged reports whether any of the named flags was set.
func anyChanged(cmd *cobra.Command, names ...string) bool {
	for _, name := range names {
		if cmd.Flags().Changed(name) {
			return true
		}
	}
	return false
}

// override sets *dst to value when the named flag was set.
func override(cmd *cobra.Command, name string, dst *string, value string) {
	if cmd.Flags().Changed(name) {
		*dst = value
	}
}

// findRecord returns the item with id, or vault.ErrNotFound.
func findRecord[T any](items []T, id int64, kind string, idOf func(T) int64) (T, error) {
	for _, it := range items {
		if idOf(it) == id {
			return it, nil
		}
	}
	var zero T
	return zero, fmt.Errorf("%s #%d: %w", kind, id, vault.ErrNotFound)
}

// runDelete parses the id argument and deletes one record in a session.
func runDelete(cmd *cobra.Command, arg, kind string, del func(ctx context.Context, id int64) error) error {
	id, err := parseID(arg)
	if err != nil {
		return err
	}
	return withSession(cmd, func(ctx context.Context) error {
		if err := withRetry(ctx, func(ctx context.Context) error {
			return del(ctx, id)
		}); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s #%d deleted\n", kind, id)
		return nil
	})
}

// printField prints an indented "label: value" line, skipping empty values.
func printField(cmd *cobra.Command, label, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), "    %-9s %s\n", label+":", value)
}

// lastDigits masks all but the last four characters of a card number.
func lastDigits(number string) string {
	if showSecrets || len(number) <= 4 {
		return number
	}
	return "**** " + number[len(number)-4:]
}
