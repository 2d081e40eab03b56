package infra

import (
	"context"
	"sync"

	"serial-allocator/admission/domain"
)

// Counters conta decisões por outcome ("accepted", "capacity_exceeded", ...).
type Counters map[string]int64

// MemoryStatsStore é uma implementação simples em memória.
// Útil para testes e desenvolvimento.
//
// Não faz expiração e não é indicada para produção.
type MemoryStatsStore struct {
	mu         sync.Mutex
	total      Counters
	byStrategy map[string]Counters
	byKey      map[domain.Key]Counters

	trackKeys bool
}

type MemoryStatsOption func(*MemoryStatsStore)

func WithTrackKeys(track bool) MemoryStatsOption {
	return func(s *MemoryStatsStore) { s.trackKeys = track }
}

func NewMemoryStatsStore(opts ...MemoryStatsOption) *MemoryStatsStore {
	s := &MemoryStatsStore{
		total:      make(Counters),
		byStrategy: make(map[string]Counters),
		byKey:      make(map[domain.Key]Counters),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total[ev.Outcome]++
	bump(s.byStrategy, ev.Strategy, ev.Outcome)
	if s.trackKeys && ev.Key != (domain.Key{}) {
		bump(s.byKey, ev.Key, ev.Outcome)
	}
	return nil
}

func bump[K comparable](m map[K]Counters, k K, outcome string) {
	c, ok := m[k]
	if !ok {
		c = make(Counters)
		m[k] = c
	}
	c[outcome]++
}

func (s *MemoryStatsStore) Total() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyCounters(s.total)
}

func (s *MemoryStatsStore) ByStrategy(strategy string) Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyCounters(s.byStrategy[strategy])
}

func (s *MemoryStatsStore) ByKey(key domain.Key) Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyCounters(s.byKey[key])
}

func copyCounters(c Counters) Counters {
	out := make(Counters, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}
