package server

import (
	"context"
	"fmt"
	"net/http"
	"net/http/pprof"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dentalytics/dentasync/internal/config"
	"github.com/dentalytics/dentasync/internal/db"
	"github.com/dentalytics/dentasync/internal/metrics"
)

// RunHTTPServer serves metrics, health probes, and optional pprof for the
// lifetime of ctx, then shuts down gracefully. It blocks until shutdown
// completes, so callers run it in its own goroutine.
func RunHTTPServer(
	ctx context.Context,
	cfg *config.Config,
	metricsStore *metrics.Store,
	srcConn *db.Connector,
	dstConn *db.Connector,
	logger *zap.Logger,
) {
	log := logger.Named("http-server")
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.HandlerFor(metricsStore.Registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "OK")
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		pingCtx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		var srcErr, dstErr error
		var wg sync.WaitGroup

		if srcConn != nil {
			wg.Add(1)
			go func() { defer wg.Done(); srcErr = srcConn.Ping(pingCtx) }()
		} else {
			srcErr = fmt.Errorf("source connection not established")
		}
		if dstConn != nil {
			wg.Add(1)
			go func() { defer wg.Done(); dstErr = dstConn.Ping(pingCtx) }()
		} else {
			dstErr = fmt.Errorf("target connection not established")
		}
		wg.Wait()

		if srcErr == nil && dstErr == nil {
			w.WriteHeader(http.StatusOK)
			fmt.Fprintln(w, "Ready")
			return
		}
		log.Warn("Readiness check failed",
			zap.NamedError("source_ping_error", srcErr),
			zap.NamedError("target_ping_error", dstErr))
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintf(w, "Not Ready: source_db_status=%s, target_db_status=%s\n",
			formatPingError(srcErr), formatPingError(dstErr))
	})

	if cfg.EnablePprof {
		log.Info("Enabling pprof endpoints on /debug/pprof/")
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	addr := fmt.Sprintf(":%d", cfg.MetricsPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("Starting HTTP server", zap.String("address", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server ListenAndServe error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server graceful shutdown failed", zap.Error(err))
	}
}

func formatPingError(err error) string {
	if err == nil {
		return "OK"
	}
	return fmt.Sprintf("Error (%v)", err)
}
