package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcus/trail/internal/config"
	"github.com/marcus/trail/internal/pipeline"
	"github.com/marcus/trail/internal/serve"
)

const stopTimeout = 5 * time.Second

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Run the activity recorder",
	Long: `Run the recorder in the foreground: watch the configured workspace
roots for file changes, mine assistant prompt databases, correlate prompts
with edits, and persist everything to the activity database.

If http_addr is set in trail.toml (or --addr is given), a read-side HTTP
API with a live SSE stream is served alongside the recorder.`,
	RunE: runRecord,
}

func init() {
	rootCmd.AddCommand(recordCmd)

	recordCmd.Flags().String("addr", "", "HTTP listen address (overrides http_addr in trail.toml)")
	recordCmd.Flags().Bool("json-logs", false, "Emit logs as JSON")
	recordCmd.Flags().Bool("verbose", false, "Enable debug logging")
}

func runRecord(cmd *cobra.Command, args []string) error {
	level := slog.LevelInfo
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if jsonLogs, _ := cmd.Flags().GetBool("json-logs"); jsonLogs {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, opts)))
	} else {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))
	}

	cfg, err := config.Load(getBaseDir())
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.HTTPAddr = addr
	}

	p, err := pipeline.New(cfg, nil)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := p.Start(ctx); err != nil {
		return fmt.Errorf("start pipeline: %w", err)
	}

	serveErr := make(chan error, 1)
	if cfg.HTTPAddr != "" {
		srv := serve.NewServer(p, p.Resolver())
		go func() {
			serveErr <- srv.ListenAndServe(ctx, cfg.HTTPAddr)
		}()
	}

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			slog.Error("http server", "err", err)
		}
	}

	return p.Stop(stopTimeout)
}
