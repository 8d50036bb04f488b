package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/marcus/trail/internal/store"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List recorded activity events",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		filter := store.EventFilter{Descending: true}
		filter.SessionID, _ = cmd.Flags().GetString("session")
		filter.Type, _ = cmd.Flags().GetString("type")
		filter.Limit, _ = cmd.Flags().GetInt("limit")
		if filter.Since, err = parseTimeFlag(cmd, "since"); err != nil {
			return err
		}
		if filter.Until, err = parseTimeFlag(cmd, "until"); err != nil {
			return err
		}

		events, err := st.QueryEvents(filter)
		if err != nil {
			return err
		}

		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			return json.NewEncoder(os.Stdout).Encode(events)
		}

		if len(events) == 0 {
			fmt.Println("No events recorded.")
			return nil
		}
		for _, ev := range events {
			details := ""
			if ev.Details != "" {
				details = "  " + truncate(ev.Details, 60)
			}
			fmt.Printf("%s  %s  %-14s%s\n",
				ev.ID, humanize.Time(ev.Timestamp), ev.Type, details)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)

	eventsCmd.Flags().String("session", "", "Filter by session id")
	eventsCmd.Flags().String("type", "", "Filter by event type")
	eventsCmd.Flags().String("since", "", "Only events at or after this time (RFC3339)")
	eventsCmd.Flags().String("until", "", "Only events at or before this time (RFC3339)")
	eventsCmd.Flags().Int("limit", 50, "Maximum number of events")
	eventsCmd.Flags().Bool("json", false, "Output as JSON")
}
