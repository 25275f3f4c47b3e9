package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/aretw0/spooler/internal/config"
	"github.com/aretw0/spooler/internal/logging"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "spooler",
	Short: "Spooler aggregates chunked HTTP request bodies into temporary files",
	Long: `Spooler sits in front of HTTP handlers and reassembles chunked request bodies
into a single body stored in a temporary file, enforcing a maximum body size and
answering "Expect: 100-continue".`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().String("config", "spooler.yaml", "Path to the configuration file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error); overrides the config file")
}

// loadConfig reads the configuration named by --config and applies flag overrides.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel, _ = cmd.Flags().GetString("log-level")
	}
	return cfg, nil
}

func newLogger(cfg config.Config) (*slog.Logger, error) {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	return logging.New(level), nil
}
