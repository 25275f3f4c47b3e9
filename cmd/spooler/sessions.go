package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List active aggregation sessions",
	Long:  `Lists the sessions recorded in the configured session registry. Only a shared registry (redis) shows the sessions of a running server.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		registry, closeRegistry, err := newRegistry(cfg)
		if err != nil {
			return err
		}
		defer closeRegistry()

		records, err := registry.List(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list sessions: %w", err)
		}

		if len(records) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No active sessions.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SESSION\tCONNECTION\tSTARTED\tLOCATION")
		for _, rec := range records {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", rec.ID, rec.ConnectionID, humanize.RelTime(rec.StartedAt, time.Now(), "ago", "from now"), rec.Location)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
}
