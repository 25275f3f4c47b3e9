package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpAdapter "github.com/aretw0/spooler/pkg/adapters/http"
	"github.com/aretw0/spooler/pkg/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the spooling HTTP server",
	Long: `Starts an HTTP server whose /upload endpoint receives request bodies through
the spooler. Chunked bodies are stored in the configured temporary directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("listen") {
			cfg.Listen, _ = cmd.Flags().GetString("listen")
		}

		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}

		registry, closeRegistry, err := newRegistry(cfg)
		if err != nil {
			return err
		}
		defer closeRegistry()

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		sp, err := newSpooler(cfg, registry, reg, logger)
		if err != nil {
			return err
		}
		manager := session.NewManager(sp, session.WithLogger(logger))

		handler := httpAdapter.NewHandler(manager, registry,
			httpAdapter.WithGatherer(reg),
			httpAdapter.WithHandlerLogger(logger),
			httpAdapter.WithSpoolOptions(
				httpAdapter.WithBufferSize(int(cfg.ReadBuffer)),
				httpAdapter.WithLogger(logger),
			),
		)

		srv := &http.Server{
			Addr:    cfg.Listen,
			Handler: handler,
		}
		httpAdapter.NewTracker(manager, logger).Install(srv)

		serverErrors := make(chan error, 1)
		go func() {
			logger.Info("starting spooler server",
				"addr", srv.Addr,
				"temp_dir", cfg.TempDir,
				"storage", cfg.Storage,
				"max_content_length", cfg.MaxContentLength.String(),
			)
			serverErrors <- srv.ListenAndServe()
		}()

		// Channel to listen for interrupt or terminate signals.
		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-serverErrors:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil

		case sig := <-shutdown:
			logger.Info("shutting down", "signal", sig.String())

			// Give outstanding requests a deadline for completion.
			ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(ctx); err != nil {
				logger.Warn("graceful shutdown did not complete", "timeout", cfg.ShutdownTimeout, "err", err)
				if err := srv.Close(); err != nil {
					logger.Error("failed to close server", "err", err)
				}
			}
			// Connections cut by Close may not have reported StateClosed yet.
			if err := manager.Shutdown(context.Background()); err != nil {
				logger.Error("failed to release connections", "err", err)
			}
			logger.Info("spooler server stopped")
			return nil
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("listen", "l", ":8080", "Address to listen on; overrides the config file")
}
