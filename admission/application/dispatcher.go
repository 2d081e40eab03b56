package application

import (
	"context"
	"fmt"
	"time"

	"serial-allocator/admission/domain"

	"go.uber.org/zap"
)

// Dispatcher é o caminho assíncrono: admite pelo DistributedSequencer, marca a
// referência como pendente e publica o evento na fila, sem esperar a gravação durável.
type Dispatcher struct {
	Sequencer *DistributedSequencer
	Queue     domain.Queue
	Status    domain.StatusTracker

	// PublishTimeout limita SetPending + Publish (padrão 5s).
	PublishTimeout time.Duration
	NewReference   func() domain.Reference

	Stats  domain.StatsStore
	Logger *zap.Logger
	Now    func() time.Time
}

// SubmitAsync devolve Queued ou Rejected. Uma falha de publicação depois da
// admissão é uma falha (domain.ErrDispatch): o status fica Failed e o serial vira lacuna.
func (d *Dispatcher) SubmitAsync(ctx context.Context, key domain.Key, capacity int64, payload []byte) (domain.Outcome, error) {
	log := nopIfNil(d.Logger)

	dec, err := d.Sequencer.Allocate(ctx, key, capacity)
	if err != nil {
		return nil, err
	}
	if !dec.Admitted {
		return domain.RejectedFrom(key, dec), nil
	}

	newRef := d.NewReference
	if newRef == nil {
		newRef = NewReference
	}
	ref := newRef()
	log = log.With(zap.String("reference", string(ref)), zap.String("key", key.String()), zap.Int64("serial", int64(dec.Serial)))

	// o serial já foi concedido: o handoff não é abortado pelo cancelamento do chamador.
	timeout := d.PublishTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	if err := d.Status.SetPending(pubCtx, ref); err != nil {
		log.Warn("set pending failed", zap.Error(err))
	}

	ev := domain.Event{
		Reference:  ref,
		ResourceID: key.ResourceID,
		Date:       key.Date,
		Serial:     dec.Serial,
		Payload:    payload,
		Attempt:    1,
		QueuedAt:   nowOr(d.Now),
	}
	if err := d.Queue.Publish(pubCtx, ev); err != nil {
		perr := fmt.Errorf("%w: publish %s: %w", domain.ErrDispatch, ref, err)
		if serr := d.Status.SetFailed(pubCtx, ref, perr); serr != nil {
			log.Warn("set failed after publish error failed", zap.Error(serr))
		}
		log.Error("publish after admission failed, serial left as gap", zap.Error(err))
		return nil, perr
	}

	recordStats(ctx, d.Stats, log, domain.StatsEvent{Key: key, Strategy: "async", Outcome: "queued"})
	log.Debug("event queued")
	return domain.Queued{Key: key, Serial: dec.Serial, Reference: ref}, nil
}

func (d *Dispatcher) GetStatus(ctx context.Context, ref domain.Reference) (domain.Status, error) {
	st, err := d.Status.GetStatus(ctx, ref)
	if err != nil {
		return domain.Status{}, fmt.Errorf("get status %s: %w", ref, err)
	}
	return st, nil
}
