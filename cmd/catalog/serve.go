package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Sternrassler/product-catalog-client/pkg/catalog"
	"github.com/Sternrassler/product-catalog-client/pkg/logging"
	"github.com/spf13/cobra"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		port    string
		preload bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the catalog over HTTP",
		Long: `Starts an HTTP server that loads the configured range on startup and
exposes the aggregated products, the error map and batch progress.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("port") {
				a.cfg.Server.Port = port
			}
			return a.runServe(cmd.Context(), preload)
		},
	}

	cmd.Flags().StringVar(&port, "port", "", "listen port (default from config)")
	cmd.Flags().BoolVar(&preload, "preload", true, "load the configured range on startup")

	return cmd
}

func (a *app) runServe(ctx context.Context, preload bool) error {
	logger := logging.NewLogger("catalog-server")

	c, err := a.newClient()
	if err != nil {
		return err
	}
	defer c.Close()

	loader := catalog.NewLoader(c, catalog.NewStore(), a.cfg.LoaderConfig())
	srv := newServer(ctx, loader, c, a.cfg)

	if preload {
		if err := srv.preload(); err != nil {
			return fmt.Errorf("preload: %w", err)
		}
	} else {
		srv.ready.Store(true)
	}

	httpServer := &http.Server{
		Addr:              a.cfg.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("address", httpServer.Addr).
			Str("catalog", c.BaseURL()).
			Bool("preload", preload).
			Msg("starting HTTP server")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server failed")
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
