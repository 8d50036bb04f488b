package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version string
	baseDir string
)

// SetVersion sets the version string
func SetVersion(v string) {
	version = v
}

var rootCmd = &cobra.Command{
	Use:   "trail",
	Short: "Local developer activity recorder",
	Long: `trail - A local-first recorder for developer activity.

It watches workspace files for meaningful changes, mines assistant prompt
databases, correlates prompts with the edits they produced, and persists
everything to a single local SQLite journal you can query or stream.`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initBaseDir)
	rootCmd.PersistentFlags().StringVar(&baseDir, "dir", "", "Base directory (default: current directory)")
}

func initBaseDir() {
	if baseDir != "" {
		return
	}
	var err error
	baseDir, err = os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot determine working directory: %v\n", err)
		os.Exit(1)
	}
}

// getBaseDir returns the base directory for the recorder
func getBaseDir() string {
	return baseDir
}
