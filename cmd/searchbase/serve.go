package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/adrianmcphee/searchbase"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveMetricsCmd = &cobra.Command{
	Use:   "serve-metrics",
	Short: "Serves Prometheus metrics and a health probe for the Redis backend",
	Long: `Starts an HTTP server exposing /metrics (the searchbase collectors plus
the Go runtime) and /healthz, which answers 200 while the last PING
succeeded. Redis is probed every --probe-interval.`,
	Args: cobra.NoArgs,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupStore(cmd, searchbase.NewPrometheusMetrics(prometheus.DefaultRegisterer))
	},
	PersistentPostRunE: closeStore,
	RunE: func(cmd *cobra.Command, args []string) error {
		interval := viper.GetDuration("probe-interval")
		if interval <= 0 {
			return fmt.Errorf("probe-interval must be positive, got %s", interval)
		}
		var healthy atomic.Bool
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		go probe(ctx, interval, &healthy)

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			if !healthy.Load() {
				http.Error(w, "redis unreachable", http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte("ok\n"))
		})

		server := &http.Server{
			Addr:              viper.GetString("listen"),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		errCh := make(chan error, 1)
		go func() { errCh <- server.ListenAndServe() }()
		logger.Info("metrics server started", "addr", server.Addr, "probe_interval", interval)

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		logger.Info("metrics server stopped")
		return nil
	},
}

func init() {
	serveMetricsCmd.Flags().String("listen", ":9121", "address of the metrics server")
	serveMetricsCmd.Flags().Duration("probe-interval", 15*time.Second, "interval between Redis health probes")
}

// probe pings Redis until ctx is done and records the outcome in healthy
func probe(ctx context.Context, interval time.Duration, healthy *atomic.Bool) {
	check := func() {
		pingCtx, cancel := context.WithTimeout(ctx, interval)
		defer cancel()
		if err := store.Ping(pingCtx); err != nil {
			if healthy.Swap(false) {
				logger.Warn("redis probe failed", "error", err)
			}
			return
		}
		if !healthy.Swap(true) {
			logger.Info("redis probe succeeded")
		}
	}

	check()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			check()
		}
	}
}
