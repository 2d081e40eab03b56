// Package config lê a configuração dos binários a partir de variáveis de ambiente.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	ListenAddr string `envconfig:"LISTEN_ADDR" default:":8080"`

	// StoreBackend escolhe lock/contador/status: "redis" ou "memory".
	StoreBackend  string `envconfig:"STORE_BACKEND" default:"redis"`
	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
	KeyPrefix     string `envconfig:"KEY_PREFIX" default:"appt"`

	// LedgerBackend escolhe o storage durável: "postgres" ou "memory".
	LedgerBackend string `envconfig:"LEDGER_BACKEND" default:"postgres"`
	DatabaseURL   string `envconfig:"DATABASE_URL"`
	AutoMigrate   bool   `envconfig:"AUTO_MIGRATE" default:"false"`

	Strategy            string        `envconfig:"ALLOCATION_STRATEGY" default:"transactional"`
	LockMaxWait         time.Duration `envconfig:"LOCK_MAX_WAIT" default:"30s"`
	LockLeaseTTL        time.Duration `envconfig:"LOCK_LEASE_TTL" default:"10s"`
	CounterExpiryMargin time.Duration `envconfig:"COUNTER_EXPIRY_MARGIN" default:"1h"`
	Timezone            string        `envconfig:"TIMEZONE" default:"UTC"`
	TxMaxRetries        int           `envconfig:"TX_MAX_RETRIES" default:"3"`
	TxMaxRetryDelay     time.Duration `envconfig:"TX_MAX_RETRY_DELAY" default:"5s"`
	StaticResources     string        `envconfig:"STATIC_RESOURCES"`

	StatusTTL time.Duration `envconfig:"STATUS_TTL" default:"24h"`

	// QueueBackend: "redis" (streams), "kafka" ou "memory".
	QueueBackend      string        `envconfig:"QUEUE_BACKEND" default:"redis"`
	QueueVisibility   time.Duration `envconfig:"QUEUE_VISIBILITY" default:"1m"`
	KafkaBrokers      []string      `envconfig:"KAFKA_BROKERS"`
	KafkaTopic        string        `envconfig:"KAFKA_TOPIC" default:"appointment-creation"`
	KafkaGroup        string        `envconfig:"KAFKA_GROUP" default:"persistence"`
	Workers           int           `envconfig:"WORKERS" default:"4"`
	WorkerPrefetch    int           `envconfig:"WORKER_PREFETCH" default:"50"`
	WorkerMaxAttempts int           `envconfig:"WORKER_MAX_ATTEMPTS" default:"5"`
	RunWorkers        bool          `envconfig:"RUN_WORKERS" default:"false"`

	RateEnabled        bool          `envconfig:"RATE_ENABLED" default:"true"`
	RateRPS            float64       `envconfig:"RATE_RPS" default:"10"`
	RateBurst          int           `envconfig:"RATE_BURST" default:"20"`
	RateKeyHeader      string        `envconfig:"RATE_KEY_HEADER"`
	TrustXFF           bool          `envconfig:"TRUST_XFF" default:"false"`
	RetryAfter         time.Duration `envconfig:"RETRY_AFTER" default:"1s"`
	AddRateHeaders     bool          `envconfig:"ADD_RATELIMIT_HEADERS" default:"false"`
	RateThrottleReads  bool          `envconfig:"RATE_THROTTLE_READS" default:"false"`
	ConcurrencyMax     int           `envconfig:"CONCURRENCY_MAX" default:"100"`
	ConcurrencyTimeout time.Duration `envconfig:"CONCURRENCY_TIMEOUT" default:"0s"`

	StatsEnabled   bool `envconfig:"STATS_ENABLED" default:"false"`
	StatsTrackKeys bool `envconfig:"STATS_TRACK_KEYS" default:"false"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
}

// Load lê o ambiente e valida combinações inválidas.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("read env: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.StoreBackend = strings.ToLower(strings.TrimSpace(c.StoreBackend))
	c.LedgerBackend = strings.ToLower(strings.TrimSpace(c.LedgerBackend))
	c.QueueBackend = strings.ToLower(strings.TrimSpace(c.QueueBackend))
	c.Strategy = strings.ToLower(strings.TrimSpace(c.Strategy))
	brokers := c.KafkaBrokers[:0]
	for _, b := range c.KafkaBrokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	c.KafkaBrokers = brokers
}

func (c Config) Validate() error {
	switch c.StoreBackend {
	case "redis", "memory":
	default:
		return fmt.Errorf("STORE_BACKEND must be redis or memory, got %q", c.StoreBackend)
	}
	switch c.LedgerBackend {
	case "postgres":
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return errors.New("DATABASE_URL is required when LEDGER_BACKEND=postgres")
		}
	case "memory":
	default:
		return fmt.Errorf("LEDGER_BACKEND must be postgres or memory, got %q", c.LedgerBackend)
	}
	switch c.QueueBackend {
	case "redis":
		if c.StoreBackend != "redis" {
			return errors.New("QUEUE_BACKEND=redis requires STORE_BACKEND=redis")
		}
	case "kafka":
		if len(c.KafkaBrokers) == 0 {
			return errors.New("KAFKA_BROKERS is required when QUEUE_BACKEND=kafka")
		}
	case "memory":
	default:
		return fmt.Errorf("QUEUE_BACKEND must be redis, kafka or memory, got %q", c.QueueBackend)
	}
	switch c.Strategy {
	case "transactional", "distributed":
	default:
		return fmt.Errorf("ALLOCATION_STRATEGY must be transactional or distributed, got %q", c.Strategy)
	}
	// com postgres a capacidade vem de doctor_hospitals
	if c.LedgerBackend != "postgres" && c.StaticResources == "" {
		return errors.New("STATIC_RESOURCES is required without LEDGER_BACKEND=postgres")
	}
	if c.LockMaxWait <= 0 {
		return errors.New("LOCK_MAX_WAIT must be > 0")
	}
	if c.LockLeaseTTL <= 0 {
		return errors.New("LOCK_LEASE_TTL must be > 0")
	}
	if c.CounterExpiryMargin < time.Hour {
		return errors.New("COUNTER_EXPIRY_MARGIN must be >= 1h")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}
	if c.StatusTTL <= 0 {
		return errors.New("STATUS_TTL must be > 0")
	}
	if c.Workers <= 0 {
		return errors.New("WORKERS must be > 0")
	}
	if c.WorkerPrefetch <= 0 {
		return errors.New("WORKER_PREFETCH must be > 0")
	}
	if c.WorkerMaxAttempts <= 0 {
		return errors.New("WORKER_MAX_ATTEMPTS must be > 0")
	}
	if c.RateEnabled && c.RateRPS <= 0 {
		return errors.New("RATE_RPS must be > 0")
	}
	if c.RateEnabled && c.RateBurst <= 0 {
		return errors.New("RATE_BURST must be > 0")
	}
	if c.ConcurrencyMax < 0 {
		return errors.New("CONCURRENCY_MAX must be >= 0")
	}
	return nil
}

// Location devolve o fuso usado para o fim do dia das datas.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
