package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forest6511/facevault/internal/cli"
	"github.com/forest6511/facevault/pkg/vault"
)

var (
	webWebsite  string
	webUsername string
	webEmail    string
	webPassword string
	webFilter   string
)

func init() {
	rootCmd.AddCommand(webCmd)
	webCmd.AddCommand(webAddCmd, webListCmd, webEditCmd, webRmCmd)

	for _, c := range []*cobra.Command{webAddCmd, webEditCmd} {
		c.Flags().StringVar(&webWebsite, "website", "", "Website")
		c.Flags().StringVar(&webUsername, "username", "", "Username")
		c.Flags().StringVar(&webEmail, "email", "", "Email address")
		c.Flags().StringVar(&webPassword, "password", "", "Password (prompted when omitted on add)")
	}
	webListCmd.Flags().StringVar(&webFilter, "filter", "", "Show accounts whose website, username or email matches")
	addShowSecretsFlag(webListCmd)
}

var webCmd = &cobra.Command{
	Use:   "web",
	Short: "Manage website logins",
}

var webAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a website login",
	Long: `Add a website login. Every field is required; the password is
prompted for after the passphrase when --password is omitted.

Example:
  facevault web add --probe me.yaml --website github.com --username alice --email alice@example.com`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context) error {
			password := webPassword
			if !cmd.Flags().Changed("password") {
				var err error
				if password, err = readSecret(cmd, "Website password: "); err != nil {
					return err
				}
			}
			in := vault.WebAccountInput{
				Website:  webWebsite,
				Username: webUsername,
				Email:    webEmail,
				Password: password,
			}

			id, err := call(ctx, func(ctx context.Context) (int64, error) {
				return v.CreateWebAccount(ctx, in)
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Web account #%d created\n", id)
			return nil
		})
	},
}

var webListCmd = &cobra.Command{
	Use:   "list",
	Short: "List website logins",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := cli.NewMatcher(webFilter); err != nil {
			return err
		}
		return withSession(cmd, func(ctx context.Context) error {
			accounts, err := call(ctx, v.ListWebAccounts)
			if err != nil {
				return err
			}
			accounts, err = cli.Filter(webFilter, accounts, func(a vault.WebAccount) []string {
				return []string{a.Website, a.Username, a.Email}
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(accounts) == 0 {
				fmt.Fprintln(out, "No web accounts found")
				return nil
			}
			for _, a := range accounts {
				fmt.Fprintf(out, "#%d  %s\n", a.ID, a.Website)
				fmt.Fprintf(out, "    username: %s\n", a.Username)
				fmt.Fprintf(out, "    email:    %s\n", a.Email)
				fmt.Fprintf(out, "    password: %s\n", mask(a.Password))
			}
			return nil
		})
	},
}

var webEditCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Change fields of a website login",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		if !anyChanged(cmd, "website", "username", "email", "password") {
			return fmt.Errorf("nothing to change: pass at least one field flag")
		}

		return withSession(cmd, func(ctx context.Context) error {
			accounts, err := call(ctx, v.ListWebAccounts)
			if err != nil {
				return err
			}
			cur, err := findRecord(accounts, id, "web account", func(a vault.WebAccount) int64 { return a.ID })
			if err != nil {
				return err
			}

			in := vault.WebAccountInput{
				Website:  cur.Website,
				Username: cur.Username,
				Email:    cur.Email,
				Password: cur.Password,
			}
			override(cmd, "website", &in.Website, webWebsite)
			override(cmd, "username", &in.Username, webUsername)
			override(cmd, "email", &in.Email, webEmail)
			override(cmd, "password", &in.Password, webPassword)

			if err := withRetry(ctx, func(ctx context.Context) error {
				return v.UpdateWebAccount(ctx, id, in)
			}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Web account #%d updated\n", id)
			return nil
		})
	},
}

var webRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a website login",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDelete(cmd, args[0], "Web account", func(ctx context.Context, id int64) error {
			return v.DeleteWebAccount(ctx, id)
		})
	},
}
