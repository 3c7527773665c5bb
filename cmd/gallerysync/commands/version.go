package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version 在构建时通过 -ldflags "-X gallerysync/cmd/gallerysync/commands.Version=..." 注入
var Version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the gallerysync version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "gallerysync %s\n", Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
