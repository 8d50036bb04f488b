package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/marcus/trail/internal/models"
	"github.com/marcus/trail/internal/store"
)

var promptsCmd = &cobra.Command{
	Use:   "prompts",
	Short: "List captured assistant prompts",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		filter := store.PromptFilter{Descending: true}
		status, _ := cmd.Flags().GetString("status")
		filter.Status = models.PromptStatus(status)
		if filter.Status != "" && !models.IsValidPromptStatus(filter.Status) {
			return fmt.Errorf("invalid status %q", status)
		}
		filter.Unlinked, _ = cmd.Flags().GetBool("unlinked")
		filter.Limit, _ = cmd.Flags().GetInt("limit")
		if filter.Since, err = parseTimeFlag(cmd, "since"); err != nil {
			return err
		}
		if filter.Until, err = parseTimeFlag(cmd, "until"); err != nil {
			return err
		}

		prompts, err := st.QueryPrompts(filter)
		if err != nil {
			return err
		}

		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			return json.NewEncoder(os.Stdout).Encode(prompts)
		}

		if len(prompts) == 0 {
			fmt.Println("No prompts captured.")
			return nil
		}
		for _, p := range prompts {
			linked := ""
			if p.LinkedEntryID != "" {
				linked = "  -> " + p.LinkedEntryID
			}
			fmt.Printf("%s  %s  %-9s  %s%s\n",
				p.ID,
				humanize.Time(p.Timestamp),
				p.Status,
				truncate(p.Text, 60),
				linked)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(promptsCmd)

	promptsCmd.Flags().String("status", "", "Filter by status (captured, pending, linked, processed, failed)")
	promptsCmd.Flags().Bool("unlinked", false, "Only prompts not linked to an entry")
	promptsCmd.Flags().String("since", "", "Only prompts at or after this time (RFC3339)")
	promptsCmd.Flags().String("until", "", "Only prompts at or before this time (RFC3339)")
	promptsCmd.Flags().Int("limit", 50, "Maximum number of prompts")
	promptsCmd.Flags().Bool("json", false, "Output as JSON")
}

// truncate shortens s to max runes for one-line list output.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}
