package application

import (
	"context"
	"strings"
	"time"

	"serial-allocator/admission/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	StrategyTransactional = "transactional"
	StrategyDistributed   = "distributed"
)

// Booker é a API síncrona de booking: Accepted ou Rejected. Cada deployment
// usa uma só estratégia, para que todas as rotas contem no mesmo contador.
type Booker interface {
	Book(ctx context.Context, key domain.Key, capacity int64, payload []byte) (domain.Outcome, error)
}

// NewReference gera uma referência opaca (uuid v4 em hex, sem hífens).
func NewReference() domain.Reference {
	return domain.Reference(strings.ReplaceAll(uuid.NewString(), "-", ""))
}

func outcomeLabel(dec domain.Decision) string {
	if dec.Admitted {
		return "accepted"
	}
	return dec.Reason.String()
}

// recordStats é best-effort.
func recordStats(ctx context.Context, stats domain.StatsStore, log *zap.Logger, ev domain.StatsEvent) {
	if stats == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	if err := stats.Record(ctx, ev); err != nil {
		log.Debug("stats record failed", zap.String("key", ev.Key.String()), zap.Error(err))
	}
}

func nopIfNil(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

func nowOr(now func() time.Time) time.Time {
	if now == nil {
		return time.Now()
	}
	return now()
}
