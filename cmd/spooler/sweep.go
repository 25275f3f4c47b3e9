package main

import (
	"fmt"
	"time"

	"github.com/aretw0/spooler/pkg/adapters/file"
	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove orphaned spool files",
	Long: `Removes files from the temporary directory that belong to no session in the
registry, for example after a crash. Only files older than --older-than are removed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		olderThan, _ := cmd.Flags().GetDuration("older-than")

		logger, err := newLogger(cfg)
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
		keep := make(map[string]bool, len(records))
		for _, rec := range records {
			keep[rec.ID] = true
		}

		removed, err := file.Sweep(cfg.TempDir, keep, olderThan)
		for _, path := range removed {
			logger.Info("removed orphaned spool file", "path", path)
		}
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d file(s) from %s\n", len(removed), cfg.TempDir)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
	sweepCmd.Flags().Duration("older-than", time.Hour, "Only remove files not modified within this duration")
}
