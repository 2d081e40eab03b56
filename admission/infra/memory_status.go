package infra

import (
	"context"
	"sync"
	"time"

	"serial-allocator/admission/domain"
)

// MemoryStatusTracker é um StatusTracker em memória com TTL renovado a cada escrita.
type MemoryStatusTracker struct {
	mu      sync.Mutex
	entries map[domain.Reference]statusEntry
	ttl     time.Duration
	now     func() time.Time
}

type statusEntry struct {
	st       domain.Status
	expireAt time.Time
}

func NewMemoryStatusTracker(ttl time.Duration) *MemoryStatusTracker {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryStatusTracker{entries: make(map[domain.Reference]statusEntry), ttl: ttl, now: time.Now}
}

// update aplica fn se o status atual não for terminal.
func (s *MemoryStatusTracker) update(ref domain.Reference, fn func(st *domain.Status)) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[ref]
	if ok && !now.Before(e.expireAt) {
		ok = false
	}
	if !ok {
		e = statusEntry{st: domain.Status{Reference: ref}}
	}
	if e.st.State.Terminal() {
		return
	}
	fn(&e.st)
	e.st.UpdatedAt = now
	e.expireAt = now.Add(s.ttl)
	s.entries[ref] = e
}

func (s *MemoryStatusTracker) SetPending(_ context.Context, ref domain.Reference) error {
	s.update(ref, func(st *domain.Status) {
		st.State = domain.StatePending
		st.Attempts = 0
	})
	return nil
}

func (s *MemoryStatusTracker) SetRetrying(_ context.Context, ref domain.Reference, attempt int, cause error) error {
	s.update(ref, func(st *domain.Status) {
		st.State = domain.StatePending
		st.Attempts = attempt
		st.Error = errString(cause)
	})
	return nil
}

func (s *MemoryStatusTracker) SetCompleted(_ context.Context, ref domain.Reference, id domain.DurableID) error {
	s.update(ref, func(st *domain.Status) {
		st.State = domain.StateCompleted
		st.DurableID = id
		st.Error = ""
	})
	return nil
}

func (s *MemoryStatusTracker) SetFailed(_ context.Context, ref domain.Reference, cause error) error {
	s.update(ref, func(st *domain.Status) {
		st.State = domain.StateFailed
		st.Error = errString(cause)
	})
	return nil
}

func (s *MemoryStatusTracker) GetStatus(_ context.Context, ref domain.Reference) (domain.Status, error) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[ref]
	if !ok || !now.Before(e.expireAt) {
		return domain.Status{Reference: ref, State: domain.StateUnknown}, nil
	}
	return e.st, nil
}

func (s *MemoryStatusTracker) Cleanup() {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for ref, e := range s.entries {
		if !now.Before(e.expireAt) {
			delete(s.entries, ref)
		}
	}
}

func (s *MemoryStatusTracker) StartJanitor(ctx context.Context, every time.Duration) {
	startJanitor(ctx, every, s.Cleanup)
}
