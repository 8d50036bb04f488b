package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the trail version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("trail", version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
