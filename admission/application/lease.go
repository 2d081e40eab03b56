package application

import (
	"context"
	"time"

	"serial-allocator/admission/domain"

	"go.uber.org/zap"
)

const releaseTimeout = 2 * time.Second

// WithLease adquire o lease de key (esperando no máximo maxWait), executa fn e
// libera o lease em qualquer saída: retorno, erro, panic ou cancelamento.
//
// O release usa um contexto desligado do ctx do chamador: quem já obteve o lease
// precisa devolvê-lo mesmo cancelado. Falha no release é logada, não retornada,
// porque a decisão tomada dentro do lease já vale.
func WithLease(ctx context.Context, locker domain.Locker, key domain.Key, maxWait time.Duration, log *zap.Logger, fn func(ctx context.Context) error) error {
	lease, err := locker.TryAcquire(ctx, key, maxWait)
	if err != nil {
		return err
	}
	defer func() {
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if err := lease.Release(relCtx); err != nil && log != nil {
			log.Warn("lease release failed", zap.String("key", key.String()), zap.Error(err))
		}
	}()
	return fn(ctx)
}
