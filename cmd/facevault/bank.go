package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forest6511/facevault/internal/cli"
	"github.com/forest6511/facevault/pkg/vault"
)

// Bank account flags
var (
	bankName          string
	bankDetail        string
	bankUsername      string
	bankPassword      string
	bankPIN           string
	bankAccountNumber string
	bankAlias         string
	bankFilter        string
)

// Card flags
var (
	cardIssuer       string
	cardType         string
	cardNumber       string
	cardSecurityCode string
	cardDetail       string
	cardFilter       string
)

func init() {
	rootCmd.AddCommand(bankCmd, cardCmd)
	bankCmd.AddCommand(bankAddCmd, bankListCmd, bankEditCmd, bankRmCmd)
	cardCmd.AddCommand(cardAddCmd, cardListCmd, cardEditCmd, cardRmCmd)

	for _, c := range []*cobra.Command{bankAddCmd, bankEditCmd} {
		c.Flags().StringVar(&bankName, "bank", "", "Bank name")
		c.Flags().StringVar(&bankDetail, "detail", "", "Free-form detail")
		c.Flags().StringVar(&bankUsername, "username", "", "Online banking username")
		c.Flags().StringVar(&bankPassword, "password", "", "Online banking password")
		c.Flags().StringVar(&bankPIN, "pin", "", "PIN")
		c.Flags().StringVar(&bankAccountNumber, "account-number", "", "Account number (CBU or IBAN)")
		c.Flags().StringVar(&bankAlias, "alias", "", "Account alias")
	}
	bankListCmd.Flags().StringVar(&bankFilter, "filter", "", "Show accounts whose bank, alias or detail matches")
	addShowSecretsFlag(bankListCmd)

	for _, c := range []*cobra.Command{cardAddCmd, cardEditCmd} {
		c.Flags().StringVar(&cardIssuer, "issuer", "", "Card issuer (e.g. Visa)")
		c.Flags().StringVar(&cardType, "type", "", "Card type (e.g. debit, credit)")
		c.Flags().StringVar(&cardNumber, "number", "", "Card number")
		c.Flags().StringVar(&cardSecurityCode, "code", "", "Security code")
		c.Flags().StringVar(&cardDetail, "detail", "", "Free-form detail")
	}
	cardListCmd.Flags().StringVar(&cardFilter, "filter", "", "Show cards whose issuer, type or detail matches")
	addShowSecretsFlag(cardListCmd)
}

var bankCmd = &cobra.Command{
	Use:   "bank",
	Short: "Manage bank accounts",
	Long: `Manage bank accounts. Deleting an account also deletes its cards.

Cards are managed with 'facevault card'.`,
}

func bankInputFromFlags() vault.BankAccountInput {
	return vault.BankAccountInput{
		BankName:      bankName,
		Detail:        bankDetail,
		Username:      bankUsername,
		Password:      bankPassword,
		PIN:           bankPIN,
		AccountNumber: bankAccountNumber,
		Alias:         bankAlias,
	}
}

var bankAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a bank account",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		in := bankInputFromFlags()
		return withSession(cmd, func(ctx context.Context) error {
			id, err := call(ctx, func(ctx context.Context) (int64, error) {
				return v.CreateBankAccount(ctx, in)
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Bank account #%d created\n", id)
			return nil
		})
	},
}

var bankListCmd = &cobra.Command{
	Use:   "list",
	Short: "List bank accounts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := cli.NewMatcher(bankFilter); err != nil {
			return err
		}
		return withSession(cmd, func(ctx context.Context) error {
			accounts, err := call(ctx, v.ListBankAccounts)
			if err != nil {
				return err
			}
			accounts, err = cli.Filter(bankFilter, accounts, func(a vault.BankAccount) []string {
				return []string{a.BankName, a.Alias, a.Detail}
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(accounts) == 0 {
				fmt.Fprintln(out, "No bank accounts found")
				return nil
			}
			for _, a := range accounts {
				fmt.Fprintf(out, "#%d  %s\n", a.ID, a.BankName)
				printField(cmd, "alias", a.Alias)
				printField(cmd, "account", a.AccountNumber)
				printField(cmd, "username", a.Username)
				printField(cmd, "password", mask(a.Password))
				printField(cmd, "pin", mask(a.PIN))
				printField(cmd, "detail", a.Detail)
			}
			return nil
		})
	},
}

var bankEditCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Change fields of a bank account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		if !anyChanged(cmd, "bank", "detail", "username", "password", "pin", "account-number", "alias") {
			return fmt.Errorf("nothing to change: pass at least one field flag")
		}

		return withSession(cmd, func(ctx context.Context) error {
			accounts, err := call(ctx, v.ListBankAccounts)
			if err != nil {
				return err
			}
			cur, err := findRecord(accounts, id, "bank account", func(a vault.BankAccount) int64 { return a.ID })
			if err != nil {
				return err
			}

			in := vault.BankAccountInput{
				BankName:      cur.BankName,
				Detail:        cur.Detail,
				Username:      cur.Username,
				Password:      cur.Password,
				PIN:           cur.PIN,
				AccountNumber: cur.AccountNumber,
				Alias:         cur.Alias,
			}
			override(cmd, "bank", &in.BankName, bankName)
			override(cmd, "detail", &in.Detail, bankDetail)
			override(cmd, "username", &in.Username, bankUsername)
			override(cmd, "password", &in.Password, bankPassword)
			override(cmd, "pin", &in.PIN, bankPIN)
			override(cmd, "account-number", &in.AccountNumber, bankAccountNumber)
			override(cmd, "alias", &in.Alias, bankAlias)

			if err := withRetry(ctx, func(ctx context.Context) error {
				return v.UpdateBankAccount(ctx, id, in)
			}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Bank account #%d updated\n", id)
			return nil
		})
	},
}

var bankRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a bank account and its cards",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDelete(cmd, args[0], "Bank account", func(ctx context.Context, id int64) error {
			return v.DeleteBankAccount(ctx, id)
		})
	},
}

var cardCmd = &cobra.Command{
	Use:   "card",
	Short: "Manage cards attached to a bank account",
}

var cardAddCmd = &cobra.Command{
	Use:   "add <account-id>",
	Short: "Add a card to a bank account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		accountID, err := parseID(args[0])
		if err != nil {
			return err
		}
		in := vault.BankCardInput{
			Issuer:       cardIssuer,
			CardType:     cardType,
			CardNumber:   cardNumber,
			SecurityCode: cardSecurityCode,
			Detail:       cardDetail,
		}
		return withSession(cmd, func(ctx context.Context) error {
			id, err := call(ctx, func(ctx context.Context) (int64, error) {
				return v.CreateBankCard(ctx, accountID, in)
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Card #%d created\n", id)
			return nil
		})
	},
}

var cardListCmd = &cobra.Command{
	Use:   "list <account-id>",
	Short: "List the cards of a bank account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		accountID, err := parseID(args[0])
		if err != nil {
			return err
		}
		if _, err := cli.NewMatcher(cardFilter); err != nil {
			return err
		}
		return withSession(cmd, func(ctx context.Context) error {
			cards, err := call(ctx, func(ctx context.Context) ([]vault.BankCard, error) {
				return v.ListBankCards(ctx, accountID)
			})
			if err != nil {
				return err
			}
			cards, err = cli.Filter(cardFilter, cards, func(c vault.BankCard) []string {
				return []string{c.Issuer, c.CardType, c.Detail}
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(cards) == 0 {
				fmt.Fprintln(out, "No cards found")
				return nil
			}
			for _, c := range cards {
				fmt.Fprintf(out, "#%d  %s %s  %s\n", c.ID, c.Issuer, c.CardType, lastDigits(c.CardNumber))
				printField(cmd, "code", mask(c.SecurityCode))
				printField(cmd, "detail", c.Detail)
			}
			return nil
		})
	},
}

var cardEditCmd = &cobra.Command{
	Use:   "edit <account-id> <card-id>",
	Short: "Change fields of a card",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		accountID, err := parseID(args[0])
		if err != nil {
			return err
		}
		id, err := parseID(args[1])
		if err != nil {
			return err
		}
		if !anyChanged(cmd, "issuer", "type", "number", "code", "detail") {
			return fmt.Errorf("nothing to change: pass at least one field flag")
		}

		return withSession(cmd, func(ctx context.Context) error {
			cards, err := call(ctx, func(ctx context.Context) ([]vault.BankCard, error) {
				return v.ListBankCards(ctx, accountID)
			})
			if err != nil {
				return err
			}
			cur, err := findRecord(cards, id, "card", func(c vault.BankCard) int64 { return c.ID })
			if err != nil {
				return err
			}

			in := vault.BankCardInput{
				Issuer:       cur.Issuer,
				CardType:     cur.CardType,
				CardNumber:   cur.CardNumber,
				SecurityCode: cur.SecurityCode,
				Detail:       cur.Detail,
			}
			override(cmd, "issuer", &in.Issuer, cardIssuer)
			override(cmd, "type", &in.CardType, cardType)
			override(cmd, "number", &in.CardNumber, cardNumber)
			override(cmd, "code", &in.SecurityCode, cardSecurityCode)
			override(cmd, "detail", &in.Detail, cardDetail)

			if err := withRetry(ctx, func(ctx context.Context) error {
				return v.UpdateBankCard(ctx, id, in)
			}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Card #%d updated\n", id)
			return nil
		})
	},
}

var cardRmCmd = &cobra.Command{
	Use:   "rm <card-id>",
	Short: "Delete a card",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDelete(cmd, args[0], "Card", func(ctx context.Context, id int64) error {
			return v.DeleteBankCard(ctx, id)
		})
	},
}
