package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"serial-allocator/admission"
	"serial-allocator/admission/infra"
	"serial-allocator/internal/bootstrap"
	"serial-allocator/internal/config"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

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
		log.Error("booking api stopped", zap.Error(err))
	}
	_ = log.Sync()
	if err != nil {
		os.Exit(1)
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	comps, err := bootstrap.Build(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer func() { _ = comps.Close() }()

	var middlewares []func(http.Handler) http.Handler
	if cfg.RateEnabled {
		throttle := infra.NewThrottleStore(cfg.RateRPS, cfg.RateBurst)
		throttle.StartJanitor(ctx)
		middlewares = append(middlewares, admission.Throttle(admission.ThrottleOptions{
			Store:              throttle,
			KeyHeader:          cfg.RateKeyHeader,
			TrustXForwardedFor: cfg.TrustXFF,
			RetryAfter:         cfg.RetryAfter,
			AddHeaders:         cfg.AddRateHeaders,
			ThrottleReads:      cfg.RateThrottleReads,
			Stats:              comps.Stats,
			Logger:             log.Named("throttle"),
		}))
	}
	middlewares = append(middlewares, admission.InflightLimit(admission.InflightOptions{
		Max:            cfg.ConcurrencyMax,
		AcquireTimeout: cfg.ConcurrencyTimeout,
	}))

	server := &admission.Server{
		Booker:      comps.Booker,
		Strategy:    cfg.Strategy,
		Dispatcher:  comps.Dispatcher,
		Lookup:      comps.Lookup,
		Health:      comps.HealthChecks(),
		Metrics:     promhttp.HandlerFor(comps.Registry, promhttp.HandlerOpts{}),
		Middlewares: middlewares,
		// acima do LOCK_MAX_WAIT, para o 503 de contenção sair antes do timeout do handler
		RequestTimeout: cfg.LockMaxWait + 10*time.Second,
		Logger:         log.Named("http"),
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.LockMaxWait + 30*time.Second,
		IdleTimeout:       90 * time.Second,
	}

	var wg sync.WaitGroup
	if cfg.RunWorkers && comps.Dispatcher != nil {
		pool := comps.WorkerPool("api-worker")
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := pool.Run(ctx); err != nil {
				log.Error("worker pool stopped", zap.Error(err))
				cancel()
			}
		}()
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("booking api listening",
		zap.String("addr", cfg.ListenAddr),
		zap.String("strategy", cfg.Strategy),
		zap.String("store", cfg.StoreBackend),
		zap.String("ledger", cfg.LedgerBackend),
		zap.String("queue", cfg.QueueBackend),
		zap.Bool("run_workers", cfg.RunWorkers))
	log.Info("edge limits",
		zap.Bool("rate_enabled", cfg.RateEnabled),
		zap.Float64("rate_rps", cfg.RateRPS),
		zap.Int("rate_burst", cfg.RateBurst),
		zap.Int("concurrency_max", cfg.ConcurrencyMax),
		zap.Duration("concurrency_timeout", cfg.ConcurrencyTimeout))

	var serveErr error
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		serveErr = fmt.Errorf("serve: %w", err)
		cancel()
	}
	wg.Wait()
	return serveErr
}

func readConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	// fila em memória só é drenada por workers do mesmo processo
	if cfg.Strategy == "distributed" && cfg.QueueBackend == "memory" && !cfg.RunWorkers {
		return config.Config{}, errors.New("QUEUE_BACKEND=memory requires RUN_WORKERS=true")
	}
	return cfg, nil
}
