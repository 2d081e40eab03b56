package infra

import (
	"context"
	"errors"
	"testing"
	"time"

	"serial-allocator/admission/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type errStats struct{ err error }

func (s errStats) Record(context.Context, domain.StatsEvent) error { return s.err }

func TestMemoryStatsStore_CountsByStrategyAndKey(t *testing.T) {
	s := NewMemoryStatsStore(WithTrackKeys(true))
	ctx := context.Background()

	_ = s.Record(ctx, domain.StatsEvent{Key: testKey, Strategy: "distributed", Outcome: "accepted"})
	_ = s.Record(ctx, domain.StatsEvent{Key: testKey, Strategy: "distributed", Outcome: "lock_timeout"})
	_ = s.Record(ctx, domain.StatsEvent{Strategy: "worker", Outcome: "completed"})

	assert.EqualValues(t, 1, s.Total()["accepted"])
	assert.EqualValues(t, 1, s.ByStrategy("distributed")["lock_timeout"])
	assert.EqualValues(t, 2, sum(s.ByKey(testKey)))
	assert.Empty(t, s.ByKey(domain.Key{}))
}

func sum(c Counters) int64 {
	var n int64
	for _, v := range c {
		n += v
	}
	return n
}

func TestPrometheusStats(t *testing.T) {
	reg := prometheus.NewRegistry()
	s, err := NewPrometheusStats(reg)
	require.NoError(t, err)
	ctx := context.Background()

	_ = s.Record(ctx, domain.StatsEvent{Strategy: "distributed", Outcome: "accepted", LockWait: 3 * time.Millisecond})
	_ = s.Record(ctx, domain.StatsEvent{Strategy: "distributed", Outcome: "accepted"})

	assert.Equal(t, 2.0, testutil.ToFloat64(s.decisions.WithLabelValues("distributed", "accepted")))
	assert.Equal(t, 1, testutil.CollectAndCount(s.lockWait))

	_, err = NewPrometheusStats(reg)
	assert.Error(t, err, "second registration must fail")
}

func TestMultiStats_JoinsErrors(t *testing.T) {
	mem := NewMemoryStatsStore()
	boom := errors.New("redis down")
	m := MultiStats{mem, nil, errStats{err: boom}}

	err := m.Record(context.Background(), domain.StatsEvent{Strategy: "transactional", Outcome: "accepted"})
	assert.ErrorIs(t, err, boom)
	assert.EqualValues(t, 1, mem.Total()["accepted"])
}
