// Package bootstrap monta os componentes a partir da configuração: escolhe os
// backends (redis/memory, postgres/memory, redis/kafka/memory) e liga as
// estratégias de admissão, o dispatcher e o pool de workers.
package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"serial-allocator/admission"
	"serial-allocator/admission/application"
	"serial-allocator/admission/domain"
	"serial-allocator/admission/infra"
	"serial-allocator/internal/config"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ledger é o storage durável completo (Postgres ou memória).
type ledger interface {
	domain.TxRunner
	domain.Persister
}

type Components struct {
	Config config.Config
	Logger *zap.Logger

	Redis redis.UniversalClient
	DB    *sql.DB

	Ledger   ledger
	Locker   domain.Locker
	Counter  domain.CounterStore
	Status   domain.StatusTracker
	Queue    domain.Queue
	Lookup   domain.CapacityLookup
	Stats    domain.StatsStore
	Registry *prometheus.Registry

	// Booker é a estratégia síncrona de ALLOCATION_STRATEGY. Dispatcher só existe
	// com a estratégia distributed e divide o mesmo contador com o Booker.
	Booker     application.Booker
	Dispatcher *application.Dispatcher

	health  []admission.HealthCheck
	closers []func() error
}

// Build conecta os backends e monta as estratégias. Em erro, o que já foi
// aberto é fechado.
func Build(ctx context.Context, cfg config.Config, log *zap.Logger) (c *Components, err error) {
	c = &Components{Config: cfg, Logger: log, Registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			_ = c.Close()
			c = nil
		}
	}()

	c.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if err := c.buildStore(ctx); err != nil {
		return c, err
	}
	if err := c.buildLedger(ctx); err != nil {
		return c, err
	}
	if err := c.buildQueue(); err != nil {
		return c, err
	}
	if err := c.buildStats(); err != nil {
		return c, err
	}
	c.buildStrategies()
	return c, nil
}

func (c *Components) buildStore(ctx context.Context) error {
	cfg := c.Config
	switch cfg.StoreBackend {
	case "memory":
		locker := infra.NewMemoryLocker()
		counter := infra.NewMemoryCounterStore()
		status := infra.NewMemoryStatusTracker(cfg.StatusTTL)
		counter.StartJanitor(ctx, time.Minute)
		status.StartJanitor(ctx, time.Minute)
		c.Locker, c.Counter, c.Status = locker, counter, status
		c.Logger.Warn("STORE_BACKEND=memory: locks and counters are local to this process")
		return nil
	case "redis":
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    strings.Split(cfg.RedisAddr, ","),
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		c.closers = append(c.closers, rdb.Close)

		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}

		keys := infra.NewKeySpace(cfg.KeyPrefix)
		c.Redis = rdb
		c.Locker = infra.NewRedisLocker(rdb, keys, infra.WithLeaseTTL(cfg.LockLeaseTTL))
		c.Counter = infra.NewRedisCounterStore(rdb, keys)
		c.Status = infra.NewRedisStatusTracker(rdb, keys, infra.WithStatusTTL(cfg.StatusTTL))
		c.health = append(c.health, admission.HealthCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
		return nil
	default:
		return fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

func (c *Components) buildLedger(ctx context.Context) error {
	cfg := c.Config
	switch cfg.LedgerBackend {
	case "memory":
		c.Ledger = infra.NewMemoryLedger()
		c.Logger.Warn("LEDGER_BACKEND=memory: records are lost on exit")
	case "postgres":
		db, err := infra.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		c.DB = db
		c.closers = append(c.closers, db.Close)

		pg := infra.NewPGStore(db)
		if cfg.AutoMigrate {
			if err := pg.Migrate(ctx); err != nil {
				return err
			}
		}
		c.Ledger = pg
		c.Lookup = pg
		c.health = append(c.health, admission.HealthCheck{Name: "postgres", Check: pg.Ping})
	default:
		return fmt.Errorf("unknown ledger backend %q", cfg.LedgerBackend)
	}

	// STATIC_RESOURCES tem precedência sobre doctor_hospitals
	if cfg.StaticResources != "" {
		resources, err := infra.ParseStaticResources(cfg.StaticResources)
		if err != nil {
			return fmt.Errorf("STATIC_RESOURCES: %w", err)
		}
		c.Lookup = infra.NewStaticLookup(resources...)
	}
	if c.Lookup == nil {
		return errors.New("no capacity lookup configured")
	}
	return nil
}

func (c *Components) buildQueue() error {
	cfg := c.Config
	switch cfg.QueueBackend {
	case "memory":
		c.Queue = infra.NewMemoryQueue(0)
	case "redis":
		if c.Redis == nil {
			return errors.New("redis queue requires the redis store backend")
		}
		c.Queue = infra.NewRedisStreamQueue(c.Redis, infra.NewKeySpace(cfg.KeyPrefix),
			infra.WithStreamVisibility(cfg.QueueVisibility))
	case "kafka":
		q, err := infra.NewKafkaQueue(infra.KafkaQueueConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
			GroupID: cfg.KafkaGroup,
		})
		if err != nil {
			return err
		}
		c.Queue = q
		c.closers = append(c.closers, q.Close)
	default:
		return fmt.Errorf("unknown queue backend %q", cfg.QueueBackend)
	}
	return nil
}

func (c *Components) buildStats() error {
	prom, err := infra.NewPrometheusStats(c.Registry)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	stats := infra.MultiStats{prom}
	if c.Config.StatsEnabled && c.Redis != nil {
		stats = append(stats, infra.NewRedisStatsStore(c.Redis,
			infra.WithStatsPrefix(infra.NewKeySpace(c.Config.KeyPrefix).Stats()),
			infra.WithStatsTrackKeys(c.Config.StatsTrackKeys)))
	}
	c.Stats = stats
	return nil
}

// buildStrategies liga um único contador por chave: o durável
// (appointment_counters) na estratégia transactional, ou o do store rápido na
// distributed, compartilhado entre booking síncrono e assíncrono.
func (c *Components) buildStrategies() {
	cfg := c.Config
	if cfg.Strategy != application.StrategyDistributed {
		c.Booker = &application.TransactionalSequencer{
			Store:  c.Ledger,
			Retry:  application.Retry{MaxRetries: cfg.TxMaxRetries, MaxDelay: cfg.TxMaxRetryDelay},
			Stats:  c.Stats,
			Logger: c.Logger.Named("transactional"),
		}
		c.Logger.Info("async booking disabled: it needs ALLOCATION_STRATEGY=distributed")
		return
	}

	seq := &application.DistributedSequencer{
		Locker:       c.Locker,
		Counter:      c.Counter,
		MaxWait:      cfg.LockMaxWait,
		ExpiryMargin: cfg.CounterExpiryMargin,
		Location:     cfg.Location(),
		RetryAfter:   cfg.RetryAfter,
		Stats:        c.Stats,
		Logger:       c.Logger.Named("distributed"),
	}
	c.Booker = &application.InlineBooker{
		Sequencer: seq,
		Persister: c.Ledger,
		Logger:    c.Logger.Named("inline"),
	}
	c.Dispatcher = &application.Dispatcher{
		Sequencer: seq,
		Queue:     c.Queue,
		Status:    c.Status,
		Stats:     c.Stats,
		Logger:    c.Logger.Named("dispatcher"),
	}
}

func (c *Components) WorkerPool(name string) *application.WorkerPool {
	return &application.WorkerPool{
		Queue:       c.Queue,
		Persister:   c.Ledger,
		Status:      c.Status,
		Workers:     c.Config.Workers,
		Prefetch:    c.Config.WorkerPrefetch,
		MaxAttempts: c.Config.WorkerMaxAttempts,
		Name:        name,
		Permits:     infra.NewChanPool,
		Stats:       c.Stats,
		Logger:      c.Logger.Named("worker"),
	}
}

func (c *Components) HealthChecks() []admission.HealthCheck {
	return c.health
}

// Close fecha conexões na ordem inversa de abertura.
func (c *Components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
