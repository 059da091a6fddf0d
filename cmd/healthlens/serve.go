package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"tailscale.com/tsnet"

	"github.com/claude/healthlens/internal/importer"
	"github.com/claude/healthlens/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API.",
	Long:  `Serve the ingest and analytics API, on a local address or as a node on the tailnet when tailscale is enabled.`,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	log := newLogger(os.Stdout)
	log.Info("HealthLens starting", "version", Version)

	ctx, stop := signalContext()
	defer stop()

	cfg, store, svc, cleanup, err := openService(ctx, log)
	if err != nil {
		return err
	}
	defer cleanup()

	srv := server.New(svc, importer.New(store, log, false), store, server.Options{
		APIKey:      cfg.Auth.APIKey,
		IngestRate:  cfg.Server.IngestRatePerSecond,
		IngestBurst: cfg.Server.IngestBurst,
	}, log)

	var listener net.Listener
	if cfg.Tailscale.Enabled {
		ts := &tsnet.Server{
			Hostname: cfg.Tailscale.Hostname,
			Dir:      cfg.Tailscale.StateDir,
		}
		if err := ts.Start(); err != nil {
			return fmt.Errorf("tsnet start: %w", err)
		}
		defer ts.Close()

		listener, err = ts.Listen("tcp", ":80")
		if err != nil {
			return fmt.Errorf("tsnet listen: %w", err)
		}
		log.Info("tsnet server starting", "hostname", cfg.Tailscale.Hostname)
	} else {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		listener, err = net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", addr, err)
		}
		log.Info("server starting", "addr", addr)
	}

	httpSrv := &http.Server{
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
	}
	log.Info("server stopped")
	return nil
}
