package application

import (
	"context"
	"time"

	"serial-allocator/admission/domain"
)

// InflightService limita quantos pedidos de booking ficam em andamento ao mesmo
// tempo no processo, sem saber nada sobre HTTP.
type InflightService struct {
	Pool domain.SlotPool
	// AcquireTimeout <= 0 espera até o ctx encerrar;
	// > 0 espera no máximo esse tempo.
	AcquireTimeout time.Duration
}

// Acquire retorna (release, ok). Se ok=false, nenhuma vaga foi adquirida.
// Tenta primeiro sem bloquear; só arma o timer quando o pool está cheio.
func (s InflightService) Acquire(ctx context.Context) (func(), bool) {
	if s.Pool == nil {
		return func() {}, true
	}
	if rel, ok := s.Pool.TryAcquire(); ok {
		return rel, true
	}

	if s.AcquireTimeout <= 0 {
		return s.Pool.Acquire(ctx)
	}

	acqCtx, cancel := context.WithTimeout(ctx, s.AcquireTimeout)
	defer cancel()
	return s.Pool.Acquire(acqCtx)
}
