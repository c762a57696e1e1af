// Package main runs the team reconciliation daemon: it opens the configured
// persistent store, attaches the change dispatcher, and serves the
// operational HTTP endpoints (health, email lookup, prometheus metrics).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"mellon/internal/blob"
	"mellon/internal/core"
	"mellon/internal/infra/trigger"
)

func main() {
	os.Exit(run())
}

func run() int {
	zlog, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		return 1
	}
	defer func() { _ = zlog.Sync() }()
	logger := core.NewZapLogger(zlog)

	store, err := core.OpenPersistentStore()
	if err != nil {
		logger.Error("open store", "error", err)
		return 1
	}

	registry := prometheus.NewRegistry()
	metrics, err := core.NewPrometheusMetricsRecorder(registry)
	if err != nil {
		logger.Error("register metrics", "error", err)
		return 1
	}

	opts := []core.ServiceOption{
		core.WithLogger(logger),
		core.WithMetricsRecorder(metrics),
	}
	blobStore, err := blob.Open(context.Background())
	if err != nil {
		logger.Error("open blob store", "error", err)
		return 1
	}
	archive, err := core.NewArchive(blobStore)
	if err != nil {
		logger.Error("open archive", "error", err)
		return 1
	}
	opts = append(opts, core.WithArchive(archive))

	service, err := core.NewService(store, opts...)
	if err != nil {
		logger.Error("build service", "error", err)
		return 1
	}

	dispatcher := trigger.NewDispatcher(service.HandleTeamChange, trigger.WithLogger(logger))
	defer dispatcher.Close()
	if source, ok := store.(trigger.TeamWriteSource); ok {
		dispatcher.Attach(source)
	} else {
		logger.Warn("store exposes no team write hook, trigger delivery disabled")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, service.Ping())
	})
	mux.HandleFunc("/lookup", func(w http.ResponseWriter, r *http.Request) {
		accountID, err := service.LookupAccountByEmail(r.Context(), r.URL.Query().Get("email"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		fmt.Fprintln(w, accountID)
	})

	addr := os.Getenv("MELLON_HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()
	logger.Info("listening", "addr", addr)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		logger.Error("http server", "error", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown", "error", err)
		return 1
	}
	return 0
}
