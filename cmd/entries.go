package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/marcus/trail/internal/models"
	"github.com/marcus/trail/internal/store"
)

var entriesCmd = &cobra.Command{
	Use:   "entries",
	Short: "List recorded change entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		filter := store.EntryFilter{Descending: true}
		filter.Workspace, _ = cmd.Flags().GetString("workspace")
		filter.FilePath, _ = cmd.Flags().GetString("file")
		src, _ := cmd.Flags().GetString("source")
		filter.Source = models.Source(src)
		if filter.Source != "" && !models.IsValidSource(filter.Source) {
			return fmt.Errorf("invalid source %q", src)
		}
		filter.Limit, _ = cmd.Flags().GetInt("limit")
		if filter.Since, err = parseTimeFlag(cmd, "since"); err != nil {
			return err
		}
		if filter.Until, err = parseTimeFlag(cmd, "until"); err != nil {
			return err
		}
		if linked, _ := cmd.Flags().GetBool("linked"); linked {
			t := true
			filter.HasPrompt = &t
		}
		if unlinked, _ := cmd.Flags().GetBool("unlinked"); unlinked {
			f := false
			filter.HasPrompt = &f
		}

		entries, err := st.QueryEntries(filter)
		if err != nil {
			return err
		}

		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			return json.NewEncoder(os.Stdout).Encode(entries)
		}

		if len(entries) == 0 {
			fmt.Println("No entries recorded.")
			return nil
		}
		for _, e := range entries {
			linked := ""
			if e.PromptID != "" {
				linked = "  <- " + e.PromptID
			}
			fmt.Printf("%s  %s  %-10s  %s  +%d/-%d%s\n",
				e.ID,
				humanize.Time(e.Timestamp),
				e.Source,
				e.FilePath,
				e.Diff.LinesAdded, e.Diff.LinesRemoved,
				linked)
		}
		return nil
	},
}

var showEntryCmd = &cobra.Command{
	Use:   "show [entry-id]",
	Short: "Display full details of one entry, including its diff",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		entry, err := st.GetEntry(args[0])
		if err != nil {
			return err
		}

		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			return json.NewEncoder(os.Stdout).Encode(entry)
		}

		fmt.Printf("Entry:     %s\n", entry.ID)
		fmt.Printf("Session:   %s\n", entry.SessionID)
		fmt.Printf("Workspace: %s\n", entry.WorkspacePath)
		fmt.Printf("File:      %s\n", entry.FilePath)
		fmt.Printf("Time:      %s\n", entry.Timestamp.Format(time.RFC3339))
		fmt.Printf("Source:    %s\n", entry.Source)
		fmt.Printf("Change:    +%d/-%d lines, %s\n",
			entry.Diff.LinesAdded, entry.Diff.LinesRemoved,
			humanize.Bytes(uint64(entry.Diff.SizeBytes)))
		if entry.PromptID != "" {
			fmt.Printf("Prompt:    %s\n", entry.PromptID)
		}
		if entry.Notes != "" {
			fmt.Printf("Notes:     %s\n", entry.Notes)
		}
		if len(entry.Tags) > 0 {
			fmt.Printf("Tags:      %s\n", strings.Join(entry.Tags, ", "))
		}
		if entry.Diff.Unified != "" {
			fmt.Printf("\n%s", entry.Diff.Unified)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(entriesCmd)
	rootCmd.AddCommand(showEntryCmd)

	entriesCmd.Flags().String("workspace", "", "Filter by workspace path")
	entriesCmd.Flags().String("file", "", "Filter by file path")
	entriesCmd.Flags().String("source", "", "Filter by source (filesystem, assistant, external)")
	entriesCmd.Flags().String("since", "", "Only entries at or after this time (RFC3339)")
	entriesCmd.Flags().String("until", "", "Only entries at or before this time (RFC3339)")
	entriesCmd.Flags().Bool("linked", false, "Only entries linked to a prompt")
	entriesCmd.Flags().Bool("unlinked", false, "Only entries without a linked prompt")
	entriesCmd.Flags().Int("limit", 50, "Maximum number of entries")
	entriesCmd.Flags().Bool("json", false, "Output as JSON")

	showEntryCmd.Flags().Bool("json", false, "Output as JSON")
}

func parseTimeFlag(cmd *cobra.Command, name string) (time.Time, error) {
	v, _ := cmd.Flags().GetString(name)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s: %w", name, err)
	}
	return t, nil
}
