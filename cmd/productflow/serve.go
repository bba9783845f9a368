package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/aretw0/productflow"
	"github.com/aretw0/productflow/internal/presentation/tui"
	httpAdapter "github.com/aretw0/productflow/pkg/adapters/http"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP session API",
	Long: `Starts the onboarding orchestrator exposing the session API over HTTP,
with Prometheus metrics on /metrics and per-session event streams.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(cmd)
		if err != nil {
			return err
		}
		defer func() {
			if err := a.Close(); err != nil {
				a.logger.Error("Shutdown failed", "error", err)
			}
		}()

		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			a.cfg.Server.Addr = addr
		}
		if quiet, _ := cmd.Flags().GetBool("quiet"); !quiet {
			tui.PrintBanner(os.Stderr, productflow.Version)
		}

		api := httpAdapter.NewHandler(a.service,
			httpAdapter.WithLogger(a.logger),
			httpAdapter.WithStreams(a.streams),
		)
		metrics := promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})

		servers := []*http.Server{}
		if a.cfg.Server.MetricsAddr == "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics)
			mux.Handle("/", api)
			servers = append(servers, &http.Server{Addr: a.cfg.Server.Addr, Handler: mux})
		} else {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics)
			servers = append(servers,
				&http.Server{Addr: a.cfg.Server.Addr, Handler: api},
				&http.Server{Addr: a.cfg.Server.MetricsAddr, Handler: mux},
			)
		}

		return run(cmd.Context(), a, servers...)
	},
}

// run serves until ctx is cancelled or a listener fails, then shuts every
// server down.
func run(ctx context.Context, a *app, servers ...*http.Server) error {
	// Channel to listen for errors coming from the listeners.
	serverErrors := make(chan error, len(servers))
	for _, srv := range servers {
		go func() {
			a.logger.Info("Listening", "address", srv.Addr)
			serverErrors <- srv.ListenAndServe()
		}()
	}

	var runErr error
	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		a.logger.Info("Start shutdown")
	}

	// Give outstanding requests a deadline for completion.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("Graceful shutdown did not complete", "address", srv.Addr, "timeout", shutdownTimeout, "error", err)
			_ = srv.Close()
		}
	}
	if runErr == nil {
		a.logger.Info("Productflow server stopped gracefully")
	}
	return runErr
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Listen address (overrides server.addr)")
	serveCmd.Flags().BoolP("quiet", "q", false, "Do not print the banner")
}
