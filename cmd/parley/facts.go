package main

import (
	"fmt"
	"strings"

	"github.com/entrhq/parley/pkg/agent/longtermmemory"
	"github.com/spf13/cobra"
)

var (
	factsUser     string
	factsCategory string
)

// factsCmd manages long-term facts
var factsCmd = &cobra.Command{
	Use:   "facts",
	Short: "Manage long-term facts about a user",
	Long: `Facts are stored as Markdown notes under memory.dir and are added to
the system prompt of every turn that carries the user's id.

Subcommands:
  add   - Record a fact
  list  - Show the facts a turn would recall`,
}

var factsAddCmd = &cobra.Command{
	Use:   "add <fact>",
	Short: "Record a fact about a user",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runFactsAdd,
}

var factsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the facts recalled for a user",
	RunE:  runFactsList,
}

func init() {
	factsCmd.PersistentFlags().StringVarP(&factsUser, "user", "u", "", "User id (required)")
	_ = factsCmd.MarkPersistentFlagRequired("user")
	factsAddCmd.Flags().StringVar(&factsCategory, "category", string(longtermmemory.CategoryUserFacts), "Fact category")

	factsCmd.AddCommand(factsAddCmd)
	factsCmd.AddCommand(factsListCmd)
}

func openNotes() (*longtermmemory.FileStore, error) {
	notes, err := cfg.NoteStore()
	if err != nil {
		return nil, fmt.Errorf("failed to open note store: %w", err)
	}
	if notes == nil {
		return nil, fmt.Errorf("memory.dir is not configured")
	}
	return notes, nil
}

func runFactsAdd(cmd *cobra.Command, args []string) error {
	notes, err := openNotes()
	if err != nil {
		return err
	}

	fact := strings.Join(args, " ")
	note, err := longtermmemory.Remember(cmd.Context(), notes, factsUser, "", longtermmemory.Category(factsCategory), fact)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Saved %s\n", note.Meta.ID)
	return nil
}

func runFactsList(cmd *cobra.Command, args []string) error {
	notes, err := openNotes()
	if err != nil {
		return err
	}

	facts, err := longtermmemory.NewRecaller(notes, cfg.Memory.RecallLimit).Recall(cmd.Context(), factsUser)
	if err != nil {
		return err
	}
	if len(facts) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No facts recorded.")
		return nil
	}
	for i, f := range facts {
		fmt.Fprintf(cmd.OutOrStdout(), "  %d. %s\n", i+1, f)
	}
	return nil
}
