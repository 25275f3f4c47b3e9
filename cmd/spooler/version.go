package main

import (
	"fmt"
	"strings"

	"github.com/aretw0/spooler"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of spooler",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "spooler version %s\n", strings.TrimSpace(spooler.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
