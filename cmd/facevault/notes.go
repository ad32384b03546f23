package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/forest6511/facevault/internal/cli"
	"github.com/forest6511/facevault/pkg/vault"
)

var (
	noteTitle   string
	noteContent string
	noteFilter  string
)

func init() {
	rootCmd.AddCommand(noteCmd)
	noteCmd.AddCommand(noteAddCmd, noteListCmd, noteEditCmd, noteRmCmd)

	for _, c := range []*cobra.Command{noteAddCmd, noteEditCmd} {
		c.Flags().StringVar(&noteTitle, "title", "", "Note title")
		c.Flags().StringVar(&noteContent, "content", "", "Note content ('-' reads from stdin)")
	}
	noteListCmd.Flags().StringVar(&noteFilter, "filter", "", "Show notes whose title or content matches (substring or glob)")
}

var noteCmd = &cobra.Command{
	Use:   "note",
	Short: "Manage private notes",
}

var noteAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a note",
	Long: `Add a note. Title and content are both required.

Examples:
  facevault note add --probe me.yaml --title "Wifi" --content "guest / hunter2"
  cat recovery.txt | facevault note add --probe me.yaml --title "Recovery codes" --content -`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context) error {
			// Read after the passphrase prompt so piped input carries the
			// passphrase on its first line.
			content, err := readContent(cmd, noteContent)
			if err != nil {
				return err
			}
			in := vault.NoteInput{Title: noteTitle, Content: content}

			id, err := call(ctx, func(ctx context.Context) (int64, error) {
				return v.CreateNote(ctx, in)
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Note #%d created\n", id)
			return nil
		})
	},
}

var noteListCmd = &cobra.Command{
	Use:   "list",
	Short: "List notes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := cli.NewMatcher(noteFilter); err != nil {
			return err
		}
		return withSession(cmd, func(ctx context.Context) error {
			notes, err := call(ctx, v.ListNotes)
			if err != nil {
				return err
			}
			notes, err = cli.Filter(noteFilter, notes, func(n vault.Note) []string {
				return []string{n.Title, n.Content}
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(notes) == 0 {
				fmt.Fprintln(out, "No notes found")
				return nil
			}
			for _, n := range notes {
				fmt.Fprintf(out, "#%d  %s  (%s)\n", n.ID, n.Title, n.Timestamp.Local().Format("2006-01-02 15:04"))
				for _, line := range strings.Split(n.Content, "\n") {
					fmt.Fprintf(out, "    %s\n", line)
				}
			}
			return nil
		})
	},
}

var noteEditCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Change the title or content of a note",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		if !anyChanged(cmd, "title", "content") {
			return fmt.Errorf("nothing to change: pass --title or --content")
		}
		return withSession(cmd, func(ctx context.Context) error {
			content, err := readContent(cmd, noteContent)
			if err != nil {
				return err
			}
			notes, err := call(ctx, v.ListNotes)
			if err != nil {
				return err
			}
			cur, err := findRecord(notes, id, "note", func(n vault.Note) int64 { return n.ID })
			if err != nil {
				return err
			}

			in := vault.NoteInput{Title: cur.Title, Content: cur.Content}
			override(cmd, "title", &in.Title, noteTitle)
			override(cmd, "content", &in.Content, content)

			if err := withRetry(ctx, func(ctx context.Context) error {
				return v.UpdateNote(ctx, id, in)
			}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Note #%d updated\n", id)
			return nil
		})
	},
}

var noteRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a note",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDelete(cmd, args[0], "Note", func(ctx context.Context, id int64) error {
			return v.DeleteNote(ctx, id)
		})
	},
}
