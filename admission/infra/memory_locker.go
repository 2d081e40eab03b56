package infra

import (
	"context"
	"sync"
	"time"

	"serial-allocator/admission/domain"

	"github.com/pkg/errors"
)

// MemoryLocker é o Locker de um processo só: um ChanPool de capacidade 1 por chave.
type MemoryLocker struct {
	mu    sync.Mutex
	pools map[domain.Key]domain.SlotPool
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{pools: make(map[domain.Key]domain.SlotPool)}
}

func (l *MemoryLocker) pool(key domain.Key) domain.SlotPool {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.pools[key]
	if !ok {
		p = NewChanPool(1)
		l.pools[key] = p
	}
	return p
}

func (l *MemoryLocker) TryAcquire(ctx context.Context, key domain.Key, maxWait time.Duration) (domain.Lease, error) {
	pool := l.pool(key)
	if rel, ok := pool.TryAcquire(); ok {
		return &memoryLease{key: key, release: rel}, nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, maxWait)
	defer cancel()
	rel, ok := pool.Acquire(waitCtx)
	if ok {
		return &memoryLease{key: key, release: rel}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrapf(err, "wait lock %s", key)
	}
	return nil, errors.Wrapf(domain.ErrLockTimeout, "key %s after %s", key, maxWait)
}

// Acquire espera pela chave sem limite próprio, só até ctx encerrar.
func (l *MemoryLocker) Acquire(ctx context.Context, key domain.Key) (domain.Lease, error) {
	rel, ok := l.pool(key).Acquire(ctx)
	if !ok {
		return nil, errors.Wrapf(ctx.Err(), "wait lock %s", key)
	}
	return &memoryLease{key: key, release: rel}, nil
}

type memoryLease struct {
	key     domain.Key
	release func()
	once    sync.Once
}

func (l *memoryLease) Key() domain.Key { return l.key }

func (l *memoryLease) Release(context.Context) error {
	l.once.Do(l.release)
	return nil
}
