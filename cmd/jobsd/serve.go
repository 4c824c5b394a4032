package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/jdziat/resilient-jobs/ui"
)

const shutdownTimeout = 30 * time.Second

func createServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and the admin HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			n, err := openNode(cmd)
			if err != nil {
				return err
			}

			srv := &http.Server{
				Addr:              n.cfg.HTTPAddr,
				Handler:           n.router(ctx),
				ReadHeaderTimeout: 10 * time.Second,
			}

			n.proc.Start()
			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.ListenAndServe()
			}()
			fmt.Fprintf(cmd.OutOrStdout(), "listening on %s\n", n.cfg.HTTPAddr)

			var result *multierror.Error
			select {
			case <-ctx.Done():
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					result = multierror.Append(result, fmt.Errorf("http server: %w", err))
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				result = multierror.Append(result, fmt.Errorf("http shutdown: %w", err))
			}
			if err := n.close(shutdownCtx); err != nil {
				result = multierror.Append(result, err)
			}
			return result.ErrorOrNil()
		},
	}
}

// router serves the admin API with prometheus metrics at /metrics.
func (n *node) router(ctx context.Context) http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(n.registry, promhttp.HandlerOpts{}))
	r.Mount("/", n.proc.Handler(ui.WithContext(ctx), ui.WithStatsRetention(n.cfg.Retention)))
	return r
}
