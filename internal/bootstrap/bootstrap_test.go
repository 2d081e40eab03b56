package bootstrap

import (
	"context"
	"testing"
	"time"

	"serial-allocator/admission/application"
	"serial-allocator/admission/domain"
	"serial-allocator/admission/infra"
	"serial-allocator/internal/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func baseConfig() config.Config {
	return config.Config{
		StoreBackend:        "memory",
		LedgerBackend:       "memory",
		QueueBackend:        "memory",
		KeyPrefix:           "appt",
		Strategy:            "transactional",
		LockMaxWait:         time.Second,
		LockLeaseTTL:        5 * time.Second,
		CounterExpiryMargin: time.Hour,
		Timezone:            "UTC",
		StaticResources:     "5:1:2:2",
		StatusTTL:           time.Hour,
		QueueVisibility:     time.Minute,
		Workers:             1,
		WorkerPrefetch:      2,
		WorkerMaxAttempts:   3,
		RetryAfter:          time.Second,
	}
}

var day = domain.Date{Year: 2024, Month: time.January, Day: 1}

func TestBuild_TransactionalDeployment(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, err := Build(ctx, baseConfig(), zap.NewNop())
	require.NoError(t, err)
	defer c.Close()

	assert.IsType(t, &application.TransactionalSequencer{}, c.Booker)
	assert.Nil(t, c.Dispatcher, "async counts elsewhere, so it must stay off")

	res, err := c.Lookup.Lookup(ctx, 1, 2)
	require.NoError(t, err)
	key := domain.NewKey(res.ID, day)
	for want := domain.Serial(1); want <= 2; want++ {
		out, err := c.Booker.Book(ctx, key, res.Capacity, nil)
		require.NoError(t, err)
		acc, ok := out.(domain.Accepted)
		require.True(t, ok, "expected Accepted, got %T", out)
		assert.Equal(t, want, acc.Serial)
	}
	out, err := c.Booker.Book(ctx, key, res.Capacity, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonCapacityExceeded, out.(domain.Rejected).Reason)

	pool := c.WorkerPool("test")
	assert.Equal(t, "test", pool.Name)
	assert.Equal(t, 3, pool.MaxAttempts)
	assert.Empty(t, c.HealthChecks())
}

func TestBuild_DistributedSyncAndAsyncShareOneCounter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := baseConfig()
	cfg.Strategy = "distributed"
	c, err := Build(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	defer c.Close()
	require.NotNil(t, c.Dispatcher)

	res, err := c.Lookup.Lookup(ctx, 1, 2)
	require.NoError(t, err)
	key := domain.NewKey(res.ID, day)

	out, err := c.Booker.Book(ctx, key, res.Capacity, nil)
	require.NoError(t, err)
	acc, ok := out.(domain.Accepted)
	require.True(t, ok, "expected Accepted, got %T", out)
	assert.Equal(t, domain.Serial(1), acc.Serial)

	out, err = c.Dispatcher.SubmitAsync(ctx, key, res.Capacity, nil)
	require.NoError(t, err)
	q, ok := out.(domain.Queued)
	require.True(t, ok, "expected Queued, got %T", out)
	assert.Equal(t, domain.Serial(2), q.Serial)

	out, err = c.Booker.Book(ctx, key, res.Capacity, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonCapacityExceeded, out.(domain.Rejected).Reason)
	out, err = c.Dispatcher.SubmitAsync(ctx, key, res.Capacity, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonCapacityExceeded, out.(domain.Rejected).Reason)

	// o worker grava o serial 2 sem colidir com o registro síncrono
	pool := c.WorkerPool("test")
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()
	require.Eventually(t, func() bool {
		st, err := c.Dispatcher.GetStatus(ctx, q.Reference)
		return err == nil && st.State == domain.StateCompleted
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestBuild_RedisBackends(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := baseConfig()
	cfg.Strategy = "distributed"
	cfg.StoreBackend = "redis"
	cfg.QueueBackend = "redis"
	cfg.RedisAddr = mr.Addr()
	cfg.StatsEnabled = true

	ctx := context.Background()
	c, err := Build(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	defer c.Close()

	assert.IsType(t, &infra.RedisLocker{}, c.Locker)
	assert.IsType(t, &infra.RedisStreamQueue{}, c.Queue)
	require.Len(t, c.HealthChecks(), 1)
	assert.NoError(t, c.HealthChecks()[0].Check(ctx))

	out, err := c.Dispatcher.SubmitAsync(ctx, domain.NewKey(5, day), 2, nil)
	require.NoError(t, err)
	q, ok := out.(domain.Queued)
	require.True(t, ok, "expected Queued, got %T", out)

	st, err := c.Dispatcher.GetStatus(ctx, q.Reference)
	require.NoError(t, err)
	assert.Equal(t, domain.StatePending, st.State)
	assert.Equal(t, "1", mr.HGet("appt:stats:total", "queued"))
}

func TestBuild_FailsFastOnUnreachableRedis(t *testing.T) {
	cfg := baseConfig()
	cfg.StoreBackend = "redis"
	cfg.RedisAddr = "127.0.0.1:1"

	c, err := Build(context.Background(), cfg, zap.NewNop())
	assert.Error(t, err)
	assert.Nil(t, c)
}

func TestBuild_RejectsBadStaticResources(t *testing.T) {
	cfg := baseConfig()
	cfg.StaticResources = "5:1:2"

	_, err := Build(context.Background(), cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	log, err := NewLogger("debug", "console")
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(zap.DebugLevel))

	log, err = NewLogger("warn", "")
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zap.InfoLevel))

	_, err = NewLogger("loud", "json")
	assert.Error(t, err)
	_, err = NewLogger("info", "xml")
	assert.Error(t, err)
}
