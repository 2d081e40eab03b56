package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"serial-allocator/admission/domain"

	"go.uber.org/zap"
)

// DistributedSequencer admite pedidos com lease + contador no store rápido.
// Não persiste nada durável; veja InlineBooker e Dispatcher.
type DistributedSequencer struct {
	Locker  domain.Locker
	Counter domain.CounterStore

	// MaxWait limita a espera pelo lease (padrão 30s).
	MaxWait time.Duration
	// ExpiryMargin é somada ao fim do dia para a expiração do contador (mínimo 1h).
	ExpiryMargin time.Duration
	// Location define o fim do dia das datas (padrão UTC).
	Location *time.Location
	// RetryAfter é a recomendação devolvida em LockTimeout (padrão 1s).
	RetryAfter time.Duration

	Stats  domain.StatsStore
	Logger *zap.Logger
	Now    func() time.Time
}

func (s *DistributedSequencer) maxWait() time.Duration {
	if s.MaxWait <= 0 {
		return 30 * time.Second
	}
	return s.MaxWait
}

func (s *DistributedSequencer) retryAfter() time.Duration {
	if s.RetryAfter <= 0 {
		return time.Second
	}
	return s.RetryAfter
}

func (s *DistributedSequencer) Allocate(ctx context.Context, key domain.Key, capacity int64) (domain.Decision, error) {
	log := nopIfNil(s.Logger)
	if capacity <= 0 {
		return domain.Decision{Reason: domain.ReasonCapacityExceeded}, nil
	}

	start := time.Now()
	var wait time.Duration
	var dec domain.Decision
	err := WithLease(ctx, s.Locker, key, s.maxWait(), log, func(ctx context.Context) error {
		wait = time.Since(start)

		n, err := s.Counter.Increment(ctx, key)
		if err != nil {
			return fmt.Errorf("increment counter %s: %w", key, err)
		}
		// a partir daqui o contador já mudou: compensação e expiração não
		// dependem do cancelamento do chamador.
		bg := context.WithoutCancel(ctx)
		if n > capacity {
			if _, err := s.Counter.Decrement(bg, key); err != nil {
				log.Warn("counter decrement failed", zap.String("key", key.String()), zap.Error(err))
			}
			dec = domain.Decision{Reason: domain.ReasonCapacityExceeded}
			return nil
		}

		at := domain.CounterExpiry(key.Date, nowOr(s.Now), s.Location, s.ExpiryMargin)
		if err := s.Counter.ExpireAt(bg, key, at); err != nil {
			log.Warn("counter expiry failed", zap.String("key", key.String()), zap.Error(err))
		}
		dec = domain.Decision{Admitted: true, Serial: domain.Serial(n)}
		return nil
	})
	switch {
	case errors.Is(err, domain.ErrLockTimeout):
		wait = time.Since(start)
		dec = domain.Decision{Reason: domain.ReasonLockTimeout, RetryAfter: s.retryAfter()}
		log.Info("lock wait timed out", zap.String("key", key.String()), zap.Duration("waited", wait))
	case err != nil:
		return domain.Decision{}, fmt.Errorf("allocate %s: %w", key, err)
	}

	recordStats(ctx, s.Stats, log, domain.StatsEvent{Key: key, Strategy: StrategyDistributed, Outcome: outcomeLabel(dec), LockWait: wait})
	return dec, nil
}
