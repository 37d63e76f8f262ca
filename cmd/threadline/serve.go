package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/aretw0/threadline/internal/config"
	httpAdapter "github.com/aretw0/threadline/pkg/adapters/http"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long:  `Serves /chat, /chat/stream (SSE), /chat/ws (WebSocket), /suggest, /health and /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp(cmd, func(cfg *config.Config) {
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr, _ = cmd.Flags().GetString("addr")
			}
		})
		if err != nil {
			return err
		}
		defer app.Close()

		opts := []httpAdapter.Option{httpAdapter.WithLogger(app.Logger)}
		if app.Config.Server.Metrics {
			opts = append(opts, httpAdapter.WithMetrics(app.Metrics.Handler()))
		}
		handler, err := httpAdapter.NewHandler(app.Engine, opts...)
		if err != nil {
			return err
		}

		srv := &http.Server{
			Addr:    app.Config.Server.Addr,
			Handler: handler,
		}

		serverErrors := make(chan error, 1)
		go func() {
			app.Logger.Info("Starting threadline server", "addr", srv.Addr, "provider", app.Config.LLM.Provider, "store", app.Config.Store.Driver)
			serverErrors <- srv.ListenAndServe()
		}()

		select {
		case err := <-serverErrors:
			return fmt.Errorf("server error: %w", err)

		case <-cmd.Context().Done():
			timeout := app.Config.Server.ShutdownTimeout
			app.Logger.Info("Start shutdown", "timeout", timeout)

			// Give outstanding turns a deadline for completion.
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			if err := srv.Shutdown(ctx); err != nil {
				app.Logger.Warn("Graceful shutdown did not complete", "timeout", timeout, "err", err)
				if err := srv.Close(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("error killing server: %w", err)
				}
			}
			app.Logger.Info("Threadline server stopped gracefully")
			return nil
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Address to listen on (default from config, :8000)")
}
