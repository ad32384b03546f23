package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forest6511/facevault/internal/cli"
	"github.com/forest6511/facevault/pkg/vault"
)

// Contact book flags
var (
	bookTitle  string
	bookDetail string
	bookFilter string
)

// Contact flags
var (
	contactFullName       string
	contactAddress        string
	contactEmail          string
	contactPhonePrimary   string
	contactPhoneSecondary string
	contactWebpage        string
	contactDetail         string
	contactFilter         string
)

func init() {
	rootCmd.AddCommand(bookCmd, contactCmd)
	bookCmd.AddCommand(bookAddCmd, bookListCmd, bookEditCmd, bookRmCmd)
	contactCmd.AddCommand(contactAddCmd, contactListCmd, contactEditCmd, contactRmCmd)

	for _, c := range []*cobra.Command{bookAddCmd, bookEditCmd} {
		c.Flags().StringVar(&bookTitle, "title", "", "Book title")
		c.Flags().StringVar(&bookDetail, "detail", "", "Free-form detail")
	}
	bookListCmd.Flags().StringVar(&bookFilter, "filter", "", "Show books whose title or detail matches")

	for _, c := range []*cobra.Command{contactAddCmd, contactEditCmd} {
		c.Flags().StringVar(&contactFullName, "name", "", "Full name")
		c.Flags().StringVar(&contactAddress, "address", "", "Postal address")
		c.Flags().StringVar(&contactEmail, "email", "", "Email address")
		c.Flags().StringVar(&contactPhonePrimary, "phone", "", "Primary phone")
		c.Flags().StringVar(&contactPhoneSecondary, "phone2", "", "Secondary phone")
		c.Flags().StringVar(&contactWebpage, "webpage", "", "Web page")
		c.Flags().StringVar(&contactDetail, "detail", "", "Free-form detail")
	}
	contactListCmd.Flags().StringVar(&contactFilter, "filter", "", "Show contacts whose name, email or phone matches")
}

var bookCmd = &cobra.Command{
	Use:   "book",
	Short: "Manage contact books",
	Long: `Manage contact books. Deleting a book also deletes its contacts.

Contacts are managed with 'facevault contact'.`,
}

var bookAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a contact book",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		in := vault.ContactBookInput{Title: bookTitle, Detail: bookDetail}
		return withSession(cmd, func(ctx context.Context) error {
			id, err := call(ctx, func(ctx context.Context) (int64, error) {
				return v.CreateContactBook(ctx, in)
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Contact book #%d created\n", id)
			return nil
		})
	},
}

var bookListCmd = &cobra.Command{
	Use:   "list",
	Short: "List contact books",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := cli.NewMatcher(bookFilter); err != nil {
			return err
		}
		return withSession(cmd, func(ctx context.Context) error {
			books, err := call(ctx, v.ListContactBooks)
			if err != nil {
				return err
			}
			books, err = cli.Filter(bookFilter, books, func(b vault.ContactBook) []string {
				return []string{b.Title, b.Detail}
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(books) == 0 {
				fmt.Fprintln(out, "No contact books found")
				return nil
			}
			for _, b := range books {
				fmt.Fprintf(out, "#%d  %s\n", b.ID, b.Title)
				printField(cmd, "detail", b.Detail)
			}
			return nil
		})
	},
}

var bookEditCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Change the title or detail of a contact book",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		if !anyChanged(cmd, "title", "detail") {
			return fmt.Errorf("nothing to change: pass --title or --detail")
		}

		return withSession(cmd, func(ctx context.Context) error {
			books, err := call(ctx, v.ListContactBooks)
			if err != nil {
				return err
			}
			cur, err := findRecord(books, id, "contact book", func(b vault.ContactBook) int64 { return b.ID })
			if err != nil {
				return err
			}

			in := vault.ContactBookInput{Title: cur.Title, Detail: cur.Detail}
			override(cmd, "title", &in.Title, bookTitle)
			override(cmd, "detail", &in.Detail, bookDetail)

			if err := withRetry(ctx, func(ctx context.Context) error {
				return v.UpdateContactBook(ctx, id, in)
			}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Contact book #%d updated\n", id)
			return nil
		})
	},
}

var bookRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a contact book and its contacts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDelete(cmd, args[0], "Contact book", func(ctx context.Context, id int64) error {
			return v.DeleteContactBook(ctx, id)
		})
	},
}

var contactCmd = &cobra.Command{
	Use:   "contact",
	Short: "Manage the contacts of a contact book",
}

var contactAddCmd = &cobra.Command{
	Use:   "add <book-id>",
	Short: "Add a contact to a book",
	Long: `Add a contact to a book. Name, address, email and primary phone are
required.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bookID, err := parseID(args[0])
		if err != nil {
			return err
		}
		in := vault.ContactInput{
			FullName:       contactFullName,
			Address:        contactAddress,
			Email:          contactEmail,
			PhonePrimary:   contactPhonePrimary,
			PhoneSecondary: contactPhoneSecondary,
			Webpage:        contactWebpage,
			Detail:         contactDetail,
		}
		return withSession(cmd, func(ctx context.Context) error {
			id, err := call(ctx, func(ctx context.Context) (int64, error) {
				return v.CreateContact(ctx, bookID, in)
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Contact #%d created\n", id)
			return nil
		})
	},
}

var contactListCmd = &cobra.Command{
	Use:   "list <book-id>",
	Short: "List the contacts of a book",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bookID, err := parseID(args[0])
		if err != nil {
			return err
		}
		if _, err := cli.NewMatcher(contactFilter); err != nil {
			return err
		}
		return withSession(cmd, func(ctx context.Context) error {
			contacts, err := call(ctx, func(ctx context.Context) ([]vault.Contact, error) {
				return v.ListContacts(ctx, bookID)
			})
			if err != nil {
				return err
			}
			contacts, err = cli.Filter(contactFilter, contacts, func(c vault.Contact) []string {
				return []string{c.FullName, c.Email, c.PhonePrimary, c.PhoneSecondary}
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(contacts) == 0 {
				fmt.Fprintln(out, "No contacts found")
				return nil
			}
			for _, c := range contacts {
				fmt.Fprintf(out, "#%d  %s\n", c.ID, c.FullName)
				printField(cmd, "address", c.Address)
				printField(cmd, "email", c.Email)
				printField(cmd, "phone", c.PhonePrimary)
				printField(cmd, "phone2", c.PhoneSecondary)
				printField(cmd, "webpage", c.Webpage)
				printField(cmd, "detail", c.Detail)
			}
			return nil
		})
	},
}

var contactEditCmd = &cobra.Command{
	Use:   "edit <book-id> <contact-id>",
	Short: "Change fields of a contact",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		bookID, err := parseID(args[0])
		if err != nil {
			return err
		}
		id, err := parseID(args[1])
		if err != nil {
			return err
		}
		if !anyChanged(cmd, "name", "address", "email", "phone", "phone2", "webpage", "detail") {
			return fmt.Errorf("nothing to change: pass at least one field flag")
		}

		return withSession(cmd, func(ctx context.Context) error {
			contacts, err := call(ctx, func(ctx context.Context) ([]vault.Contact, error) {
				return v.ListContacts(ctx, bookID)
			})
			if err != nil {
				return err
			}
			cur, err := findRecord(contacts, id, "contact", func(c vault.Contact) int64 { return c.ID })
			if err != nil {
				return err
			}

			in := vault.ContactInput{
				FullName:       cur.FullName,
				Address:        cur.Address,
				Email:          cur.Email,
				PhonePrimary:   cur.PhonePrimary,
				PhoneSecondary: cur.PhoneSecondary,
				Webpage:        cur.Webpage,
				Detail:         cur.Detail,
			}
			override(cmd, "name", &in.FullName, contactFullName)
			override(cmd, "address", &in.Address, contactAddress)
			override(cmd, "email", &in.Email, contactEmail)
			override(cmd, "phone", &in.PhonePrimary, contactPhonePrimary)
			override(cmd, "phone2", &in.PhoneSecondary, contactPhoneSecondary)
			override(cmd, "webpage", &in.Webpage, contactWebpage)
			override(cmd, "detail", &in.Detail, contactDetail)

			if err := withRetry(ctx, func(ctx context.Context) error {
				return v.UpdateContact(ctx, id, in)
			}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Contact #%d updated\n", id)
			return nil
		})
	},
}

var contactRmCmd = &cobra.Command{
	Use:   "rm <contact-id>",
	Short: "Delete a contact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDelete(cmd, args[0], "Contact", func(ctx context.Context, id int64) error {
			return v.DeleteContact(ctx, id)
		})
	},
}
