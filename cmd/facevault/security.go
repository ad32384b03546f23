package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/forest6511/facevault/pkg/security"
)

// Security command flags
var (
	securityVerbose bool
	securityJSON    bool
	securityAll     bool
)

func init() {
	rootCmd.AddCommand(securityCmd)
	securityCmd.AddCommand(securityDuplicatesCmd, securityWeakCmd)

	securityCmd.PersistentFlags().BoolVar(&securityAll, "all", false, "List every issue instead of the top ones")
	securityCmd.Flags().BoolVarP(&securityVerbose, "verbose", "v", false, "Show suggestions")
	securityCmd.Flags().BoolVar(&securityJSON, "json", false, "Output in JSON format")
}

func securityLimits() security.Limits {
	if securityAll {
		return security.Unlimited()
	}
	return security.DefaultLimits()
}

// securityCmd is the root security command.
var securityCmd = &cobra.Command{
	Use:   "security",
	Short: "Analyze the strength of stored passwords and PINs",
	Long: `Analyze web and bank passwords, PINs and card security codes and get
recommendations.

The security score is calculated from:
  - Password Strength (0-25): Average strength of passwords
  - Uniqueness (0-25): Percentage of values not reused elsewhere
  - PINs (0-25): Average strength of bank PINs
  - Hygiene (0-25): Passwords that do not contain the username or site

Example:
  facevault security --probe me.yaml            # Score and top issues
  facevault security --probe me.yaml --verbose  # Include suggestions
  facevault security --probe me.yaml --json     # Output in JSON format`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context) error {
			calc := security.NewCalculator(v, securityLimits())
			score, err := call(ctx, func(ctx context.Context) (*security.SecurityScore, error) {
				return calc.CalculateScore(ctx, true)
			})
			if err != nil {
				return fmt.Errorf("failed to calculate security score: %w", err)
			}

			if securityJSON {
				data, err := json.MarshalIndent(score, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			}
			outputSecurityText(cmd.OutOrStdout(), score, securityVerbose)
			return nil
		})
	},
}

// securityDuplicatesCmd lists reused values.
var securityDuplicatesCmd = &cobra.Command{
	Use:   "duplicates",
	Short: "List passwords and PINs used by more than one record",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context) error {
			creds, err := call(ctx, func(ctx context.Context) ([]security.Credential, error) {
				return security.Collect(ctx, v)
			})
			if err != nil {
				return err
			}

			limits := securityLimits()
			calc := security.NewCalculator(v, limits)
			groups, err := calc.FindDuplicates(creds, true, limits.DuplicateLimit)
			if err != nil {
				return fmt.Errorf("failed to find duplicates: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(groups) == 0 {
				fmt.Fprintln(out, "No duplicate values found")
				return nil
			}
			fmt.Fprintf(out, "Duplicate values (%d groups)\n\n", len(groups))
			for i, group := range groups {
				fmt.Fprintf(out, "%d. %d records share the same value:\n", i+1, group.Count)
				for _, ref := range group.Refs {
					fmt.Fprintf(out, "   - %s\n", ref)
				}
			}
			if limits.DuplicateLimit > 0 && len(groups) >= limits.DuplicateLimit {
				fmt.Fprintln(out, "\nUse --all for the full list.")
			}
			return nil
		})
	},
}

// securityWeakCmd lists weak values.
var securityWeakCmd = &cobra.Command{
	Use:   "weak",
	Short: "List weak passwords and PINs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context) error {
			creds, err := call(ctx, func(ctx context.Context) ([]security.Credential, error) {
				return security.Collect(ctx, v)
			})
			if err != nil {
				return err
			}

			limits := securityLimits()
			calc := security.NewCalculator(v, limits)
			issues := calc.FindWeakPasswords(creds, true, limits.WeakLimit)

			out := cmd.OutOrStdout()
			if len(issues) == 0 {
				fmt.Fprintln(out, "No weak passwords found")
				return nil
			}
			fmt.Fprintf(out, "Weak values (%d found)\n\n", len(issues))
			for i, issue := range issues {
				fmt.Fprintf(out, "%d. %s (%s)\n", i+1, issue.Ref, issue.Kind)
				fmt.Fprintf(out, "   %s\n", issue.Description)
			}
			if limits.WeakLimit > 0 && len(issues) >= limits.WeakLimit {
				fmt.Fprintln(out, "\nUse --all for the full list.")
			}
			return nil
		})
	},
}

// outputSecurityText writes the security score as formatted text.
func outputSecurityText(w io.Writer, score *security.SecurityScore, verbose bool) {
	var rating string
	switch {
	case score.Overall >= 90:
		rating = "Excellent"
	case score.Overall >= 70:
		rating = "Good"
	case score.Overall >= 50:
		rating = "Fair"
	default:
		rating = "Needs Attention"
	}

	fmt.Fprintf(w, "Security Score: %d/100 (%s), %d values analyzed\n\n", score.Overall, rating, score.Credentials)

	fmt.Fprintln(w, "Components:")
	fmt.Fprintf(w, "  Password Strength: %2d/25 %s\n", score.Components.StrengthScore, progressBar(score.Components.StrengthScore, 25))
	fmt.Fprintf(w, "  Uniqueness:        %2d/25 %s\n", score.Components.UniquenessScore, progressBar(score.Components.UniquenessScore, 25))
	fmt.Fprintf(w, "  PINs:              %2d/25 %s\n", score.Components.PINScore, progressBar(score.Components.PINScore, 25))
	fmt.Fprintf(w, "  Hygiene:           %2d/25 %s\n", score.Components.HygieneScore, progressBar(score.Components.HygieneScore, 25))
	fmt.Fprintln(w)

	if len(score.Issues) > 0 {
		fmt.Fprintf(w, "Top Issues (%d):\n", len(score.Issues))
		for i, issue := range score.Issues {
			typeLabel := strings.ToUpper(string(issue.Type))
			refInfo := ""
			if issue.Ref != "" {
				refInfo = " " + issue.Ref
			} else if len(issue.Refs) > 0 {
				refInfo = " " + strings.Join(issue.Refs, ", ")
			}
			fmt.Fprintf(w, "  %d. [%s]%s: %s\n", i+1, typeLabel, refInfo, issue.Description)
		}
		fmt.Fprintln(w)
	}

	if len(score.Suggestions) > 0 && verbose {
		fmt.Fprintln(w, "Suggestions:")
		for _, suggestion := range score.Suggestions {
			fmt.Fprintf(w, "  - %s\n", suggestion)
		}
		fmt.Fprintln(w)
	}

	if score.Limited {
		fmt.Fprintln(w, "Use --all for the full duplicate and weak lists.")
	}
}

// progressBar creates a simple ASCII progress bar.
func progressBar(value, maxVal int) string {
	const width = 20
	filled := value * width / maxVal
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", width-filled) + "]"
}
