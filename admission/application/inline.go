package application

import (
	"context"
	"fmt"
	"time"

	"serial-allocator/admission/domain"

	"go.uber.org/zap"
)

// InlineBooker usa a admissão distribuída e grava o registro final de forma
// síncrona, fora do lease. Se a gravação falhar, o serial vira uma lacuna: o
// contador não é decrementado.
type InlineBooker struct {
	Sequencer *DistributedSequencer
	Persister domain.Persister
	Logger    *zap.Logger
	Now       func() time.Time
}

func (b *InlineBooker) Book(ctx context.Context, key domain.Key, capacity int64, payload []byte) (domain.Outcome, error) {
	dec, err := b.Sequencer.Allocate(ctx, key, capacity)
	if err != nil {
		return nil, err
	}
	if !dec.Admitted {
		return domain.RejectedFrom(key, dec), nil
	}

	rec := domain.Record{
		Reference: NewReference(),
		Key:       key,
		Serial:    dec.Serial,
		Payload:   payload,
		CreatedAt: nowOr(b.Now),
	}
	id, err := b.Persister.Persist(ctx, rec)
	if err != nil {
		nopIfNil(b.Logger).Error("persist after admission failed, serial left as gap",
			zap.String("key", key.String()),
			zap.Int64("serial", int64(dec.Serial)),
			zap.Error(err))
		return nil, fmt.Errorf("%w: serial %d for %s: %w", domain.ErrPersistence, dec.Serial, key, err)
	}
	return domain.Accepted{Key: key, Serial: dec.Serial, DurableID: id}, nil
}
