package infra

import (
	"context"
	"sync"
	"time"

	"serial-allocator/admission/domain"

	"golang.org/x/time/rate"
)

// ThrottleStore guarda um token bucket (x/time/rate) por cliente de booking.
// Clientes sem requisições há idleTTL são esquecidos pelo janitor; quem
// volta depois recomeça com o bucket cheio.
type ThrottleStore struct {
	mu      sync.Mutex
	clients map[domain.ClientKey]*clientBucket
	limit   rate.Limit
	burst   int

	idleTTL      time.Duration
	cleanupEvery time.Duration
	now          func() time.Time
}

type clientBucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

type ThrottleOption func(*ThrottleStore)

func WithIdleTTL(d time.Duration) ThrottleOption {
	return func(s *ThrottleStore) { s.idleTTL = d }
}

func WithCleanupEvery(d time.Duration) ThrottleOption {
	return func(s *ThrottleStore) { s.cleanupEvery = d }
}

// WithThrottleClock troca o relógio usado para ociosidade e para os buckets.
func WithThrottleClock(now func() time.Time) ThrottleOption {
	return func(s *ThrottleStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewThrottleStore(rps float64, burst int, opts ...ThrottleOption) *ThrottleStore {
	s := &ThrottleStore{
		clients:      make(map[domain.ClientKey]*clientBucket),
		limit:        rate.Limit(rps),
		burst:        burst,
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *ThrottleStore) RPS() float64 { return float64(s.limit) }
func (s *ThrottleStore) Burst() int   { return s.burst }

// Get implementa domain.LimiterStore.
func (s *ThrottleStore) Get(client domain.ClientKey) domain.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clientLimiter{b: s.touch(client), now: s.now}
}

// touch devolve o bucket do cliente, criando se preciso. Chamar com mu travado.
func (s *ThrottleStore) touch(client domain.ClientKey) *clientBucket {
	now := s.now()
	b, ok := s.clients[client]
	if !ok {
		b = &clientBucket{lim: rate.NewLimiter(s.limit, s.burst)}
		s.clients[client] = b
	}
	b.lastSeen = now
	return b
}

// clientLimiter consulta o bucket no relógio do store.
type clientLimiter struct {
	b   *clientBucket
	now func() time.Time
}

func (l clientLimiter) Allow() bool { return l.b.lim.AllowN(l.now(), 1) }

// Clients conta os clientes com bucket vivo.
func (s *ThrottleStore) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *ThrottleStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.idleTTL)
	for k, b := range s.clients {
		if b.lastSeen.Before(cutoff) {
			delete(s.clients, k)
		}
	}
}

// StartJanitor limpa clientes ociosos a cada cleanupEvery até ctx encerrar.
func (s *ThrottleStore) StartJanitor(ctx context.Context) {
	startJanitor(ctx, s.cleanupEvery, s.Cleanup)
}
