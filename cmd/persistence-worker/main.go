package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"serial-allocator/admission"
	"serial-allocator/internal/bootstrap"
	"serial-allocator/internal/config"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Drena a fila de eventos e grava os registros finais. Também expõe /health e
// /metrics em LISTEN_ADDR.
func main() {
	cfg, err := readConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	log, err := bootstrap.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(1)
	}

	err = run(cfg, log)
	if err != nil {
		log.Error("persistence worker stopped", zap.Error(err))
	}
	_ = log.Sync()
	if err != nil {
		os.Exit(1)
	}
}

// run devolve o erro em vez de sair, para que os defers fechem as conexões.
func run(cfg config.Config, log *zap.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	comps, err := bootstrap.Build(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer func() { _ = comps.Close() }()

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "worker"
	}
	pool := comps.WorkerPool(hostname)

	ops := &admission.Server{Health: comps.HealthChecks(), Logger: log.Named("http")}
	r := chi.NewRouter()
	r.Method(http.MethodGet, "/health", ops.HealthHandler())
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(comps.Registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("ops server error", zap.Error(err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("persistence worker starting",
		zap.String("consumer_prefix", hostname),
		zap.String("queue", cfg.QueueBackend),
		zap.String("ledger", cfg.LedgerBackend),
		zap.Int("workers", cfg.Workers),
		zap.Int("prefetch", cfg.WorkerPrefetch))

	if err := pool.Run(ctx); err != nil {
		return fmt.Errorf("worker pool: %w", err)
	}
	return nil
}

func readConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if cfg.QueueBackend == "memory" {
		return config.Config{}, errors.New("QUEUE_BACKEND=memory cannot be drained by a separate worker process")
	}
	if cfg.StoreBackend == "memory" {
		return config.Config{}, errors.New("STORE_BACKEND=memory cannot share status with the API process")
	}
	return cfg, nil
}
