package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/marcus/trail/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default trail.toml in the current directory",
	Long: `Write a default trail.toml with the current directory as the only
workspace root. Edit the file afterwards to add roots, ignore patterns,
and assistant prompt databases to mine.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := getBaseDir()
		path := filepath.Join(dir, "trail.toml")

		if _, err := os.Stat(path); err == nil {
			force, _ := cmd.Flags().GetBool("force")
			if !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
		}

		cfg := config.Default(dir)
		if err := config.Save(dir, cfg); err != nil {
			return fmt.Errorf("write config: %w", err)
		}

		fmt.Printf("Wrote %s\n", path)
		fmt.Printf("Activity database: %s\n", cfg.StorePath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().Bool("force", false, "Overwrite an existing trail.toml")
}
