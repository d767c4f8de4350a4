package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var clearSession string

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete a session's history and stage",
	Long: `Removes the stored history and counters of one session. The next
message on that session starts over in the initial stage.

Example:
  parley clear --session 3f1c9a7e-...`,
	RunE: runClear,
}

func init() {
	clearCmd.Flags().StringVarP(&clearSession, "session", "s", "", "Session id to clear (required)")
	_ = clearCmd.MarkFlagRequired("session")
}

// runClear works on the store directly so it needs no provider credentials.
func runClear(cmd *cobra.Command, args []string) error {
	id := strings.TrimSpace(clearSession)
	if id == "" {
		return fmt.Errorf("session id must not be empty")
	}

	store, err := cfg.OpenStore()
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	defer store.Close()

	if err := store.Clear(cmd.Context(), id); err != nil {
		return fmt.Errorf("clear session %s: %w", id, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Session %s cleared.\n", id)
	return nil
}
