package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/marcus/trail/internal/config"
)

var (
	statusOKStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	statusWarnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	statusErrStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	statusMuted     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	statusHeader    = lipgloss.NewStyle().Bold(true)
)

// healthResponse mirrors the /health envelope of a running recorder.
type healthResponse struct {
	OK   bool `json:"ok"`
	Data struct {
		Components        map[string]string `json:"components"`
		StoreOpen         bool              `json:"store_open"`
		StoreLastError    string            `json:"store_last_error"`
		WriterQueueDepth  int               `json:"writer_queue_depth"`
		WatcherQueueDepth int               `json:"watcher_queue_depth"`
		Miners            map[string]struct {
			LastSuccess time.Time `json:"last_success"`
		} `json:"miners"`
		SubscriberDrops map[string]uint64 `json:"subscriber_drops"`
	} `json:"data"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the health of a running recorder",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			cfg, err := config.Load(getBaseDir())
			if err != nil {
				return err
			}
			addr = cfg.HTTPAddr
		}
		if addr == "" {
			return fmt.Errorf("no recorder address: set http_addr in trail.toml or pass --addr")
		}

		client := &http.Client{Timeout: 5 * time.Second}
		resp, err := client.Get("http://" + addr + "/health")
		if err != nil {
			fmt.Println(statusErrStyle.Render("recorder unreachable"), statusMuted.Render(addr))
			return err
		}
		defer resp.Body.Close()

		var health healthResponse
		if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
			return fmt.Errorf("decode health: %w", err)
		}

		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			return json.NewEncoder(os.Stdout).Encode(health.Data)
		}

		fmt.Println(statusHeader.Render("trail recorder"), statusMuted.Render(addr))
		fmt.Println()

		names := make([]string, 0, len(health.Data.Components))
		for name := range health.Data.Components {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("  %-12s %s\n", name, renderState(health.Data.Components[name]))
		}

		fmt.Println()
		fmt.Printf("  %-12s writer=%d watcher=%d\n", "queues",
			health.Data.WriterQueueDepth, health.Data.WatcherQueueDepth)
		if health.Data.StoreLastError != "" {
			fmt.Printf("  %-12s %s\n", "store error", statusErrStyle.Render(health.Data.StoreLastError))
		}
		for db, st := range health.Data.Miners {
			when := "never"
			if !st.LastSuccess.IsZero() {
				when = st.LastSuccess.Format(time.RFC3339)
			}
			fmt.Printf("  %-12s %s %s\n", "miner", db, statusMuted.Render("last success "+when))
		}
		for sub, n := range health.Data.SubscriberDrops {
			if n > 0 {
				fmt.Printf("  %-12s %s dropped %d\n", "subscriber", sub, n)
			}
		}
		return nil
	},
}

func renderState(state string) string {
	switch state {
	case "running":
		return statusOKStyle.Render(state)
	case "created", "draining", "stopped":
		return statusWarnStyle.Render(state)
	default:
		return statusErrStyle.Render(state)
	}
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().String("addr", "", "Recorder HTTP address (default: http_addr from trail.toml)")
	statusCmd.Flags().Bool("json", false, "Output as JSON")
}
