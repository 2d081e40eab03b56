package infra

import (
	"context"
	"sync"
	"time"

	"serial-allocator/admission/domain"
)

// MemoryCounterStore é um CounterStore em memória com expiração preguiçosa.
type MemoryCounterStore struct {
	mu      sync.Mutex
	entries map[domain.Key]*counterEntry
	now     func() time.Time
}

type counterEntry struct {
	value    int64
	expireAt time.Time
}

type MemoryCounterOption func(*MemoryCounterStore)

// WithCounterClock troca o relógio usado para expirar contadores.
func WithCounterClock(now func() time.Time) MemoryCounterOption {
	return func(s *MemoryCounterStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewMemoryCounterStore(opts ...MemoryCounterOption) *MemoryCounterStore {
	s := &MemoryCounterStore{entries: make(map[domain.Key]*counterEntry), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// entry devolve a entrada viva (criando se preciso). Chamar com mu travado.
func (s *MemoryCounterStore) entry(key domain.Key) *counterEntry {
	e, ok := s.entries[key]
	if ok && !e.expireAt.IsZero() && !s.now().Before(e.expireAt) {
		ok = false
	}
	if !ok {
		e = &counterEntry{}
		s.entries[key] = e
	}
	return e
}

func (s *MemoryCounterStore) Increment(_ context.Context, key domain.Key) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry(key)
	e.value++
	return e.value, nil
}

func (s *MemoryCounterStore) Decrement(_ context.Context, key domain.Key) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry(key)
	e.value--
	return e.value, nil
}

func (s *MemoryCounterStore) ExpireAt(_ context.Context, key domain.Key, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry(key).expireAt = at
	return nil
}

func (s *MemoryCounterStore) Value(key domain.Key) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || (!e.expireAt.IsZero() && !s.now().Before(e.expireAt)) {
		return 0
	}
	return e.value
}

func (s *MemoryCounterStore) Cleanup() {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.entries {
		if !e.expireAt.IsZero() && !now.Before(e.expireAt) {
			delete(s.entries, k)
		}
	}
}

// StartJanitor remove contadores expirados a cada `every` até ctx encerrar.
func (s *MemoryCounterStore) StartJanitor(ctx context.Context, every time.Duration) {
	startJanitor(ctx, every, s.Cleanup)
}

func startJanitor(ctx context.Context, every time.Duration, cleanup func()) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				cleanup()
			}
		}
	}()
}
