package main

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/spf13/cobra"

	"github.com/forest6511/facevault/pkg/identity"
	"github.com/forest6511/facevault/pkg/store"
	"github.com/forest6511/facevault/pkg/vault"
)

var registerName string

func init() {
	rootCmd.AddCommand(registerCmd, identifyCmd)

	registerCmd.Flags().StringVar(&registerName, "name", "", "Display name shown after login")
	_ = registerCmd.MarkFlagRequired("name")
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Enroll a face with a display name and passphrase",
	Long: `Enroll the face in --probe as a new identity. The vault is created on
first use. A face that already matches an enrolled identity is refused.

Example:
  facevault register --probe me.yaml --name Alice`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		probe, err := loadProbe()
		if err != nil {
			return err
		}
		if err := v.Matcher().CheckDimension(probe); err != nil {
			return err
		}

		st := v.Store()
		if !st.Exists() {
			if err := st.Init(ctx); err != nil && !errors.Is(err, store.ErrAlreadyExists) {
				return fmt.Errorf("failed to initialize vault: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Vault initialized at %s\n", st.Path())
		}

		pass, err := readSecret(cmd, "Choose passphrase: ")
		if err != nil {
			return err
		}
		result := vault.ValidateMasterPassword(pass)
		if !result.Valid {
			return errors.New(result.Warnings[0])
		}
		for _, w := range result.Warnings {
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %s\n", w)
		}
		confirm, err := readSecret(cmd, "Confirm passphrase: ")
		if err != nil {
			return err
		}
		if pass != confirm {
			return errors.New("passphrases do not match")
		}

		id, err := call(ctx, func(ctx context.Context) (int64, error) {
			return v.Register(ctx, vault.Registration{
				DisplayName: registerName,
				Passphrase:  pass,
				Encoding:    probe,
			})
		})
		if errors.Is(err, vault.ErrAlreadyEnrolled) {
			return errors.New("this face is already enrolled")
		}
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Registered identity #%d (%s, passphrase strength: %s)\n",
			id, registerName, result.Strength)
		return nil
	},
}

var identifyCmd = &cobra.Command{
	Use:   "identify",
	Short: "Match a face against enrolled identities",
	Long: `Match the face in --probe against every enrolled identity without
logging in. Exits with an error when no identity is close enough.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := identify(cmd.Context())
		if err != nil {
			return err
		}
		if math.IsInf(res.Distance, 1) {
			return fmt.Errorf("no identities enrolled: %w", identity.ErrNoMatch)
		}
		if !res.Matched {
			return fmt.Errorf("face not recognized (closest distance %.4f, threshold %.4f): %w",
				res.Distance, v.Matcher().Threshold, identity.ErrNoMatch)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Identity #%d (distance %.4f)\n", res.ID, res.Distance)
		return nil
	},
}
