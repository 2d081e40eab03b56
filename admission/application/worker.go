package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"serial-allocator/admission/domain"

	"go.uber.org/zap"
)

const maxErrorSummary = 512

// WorkerPool drena a fila e grava o registro final de cada evento.
//
// Cada consumidor tem Prefetch permits; cada entrega roda até o fim em sua
// própria goroutine e recebe exatamente uma liquidação (Ack, Requeue ou
// DeadLetter). Workers nunca refazem a admissão nem tocam no contador.
type WorkerPool struct {
	Queue     domain.Queue
	Persister domain.Persister
	Status    domain.StatusTracker

	Workers     int
	Prefetch    int
	MaxAttempts int
	Name        string
	// Permits cria o semáforo de prefetch de cada consumidor (ex: infra.NewChanPool).
	Permits func(n int) domain.SlotPool
	// ClaimBackoff é a espera após um erro de Claim (padrão 500ms).
	ClaimBackoff time.Duration

	Stats  domain.StatsStore
	Logger *zap.Logger
}

func (p *WorkerPool) workers() int {
	if p.Workers <= 0 {
		return 1
	}
	return p.Workers
}

func (p *WorkerPool) prefetch() int {
	if p.Prefetch <= 0 {
		return 50
	}
	return p.Prefetch
}

func (p *WorkerPool) maxAttempts() int {
	if p.MaxAttempts <= 0 {
		return 5
	}
	return p.MaxAttempts
}

func (p *WorkerPool) name() string {
	if p.Name == "" {
		return "worker"
	}
	return p.Name
}

// Run bloqueia até ctx encerrar e todas as entregas em andamento terminarem.
func (p *WorkerPool) Run(ctx context.Context) error {
	if p.Queue == nil || p.Persister == nil || p.Status == nil {
		return errors.New("worker pool requires queue, persister and status tracker")
	}
	if p.Permits == nil {
		return errors.New("worker pool requires a permit pool factory")
	}

	log := nopIfNil(p.Logger)
	log.Info("persistence workers starting",
		zap.Int("workers", p.workers()),
		zap.Int("prefetch", p.prefetch()),
		zap.Int("max_attempts", p.maxAttempts()))

	var wg sync.WaitGroup
	for i := 0; i < p.workers(); i++ {
		consumer := fmt.Sprintf("%s-%d", p.name(), i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.consume(ctx, consumer)
		}()
	}
	wg.Wait()
	log.Info("persistence workers stopped")
	return nil
}

func (p *WorkerPool) consume(ctx context.Context, consumer string) {
	log := nopIfNil(p.Logger).With(zap.String("consumer", consumer))
	permits := p.Permits(p.prefetch())

	var inflight sync.WaitGroup
	defer inflight.Wait()

	for {
		first, ok := permits.Acquire(ctx)
		if !ok {
			return
		}
		releases := []func(){first}
		for len(releases) < p.prefetch() {
			rel, ok := permits.TryAcquire()
			if !ok {
				break
			}
			releases = append(releases, rel)
		}

		deliveries, err := p.Queue.Claim(ctx, consumer, len(releases))
		if err != nil {
			for _, rel := range releases {
				rel()
			}
			if ctx.Err() != nil {
				return
			}
			log.Warn("claim failed", zap.Error(err))
			if !sleepCtx(ctx, p.claimBackoff()) {
				return
			}
			continue
		}

		// devolve os permits que não viraram entrega
		if len(deliveries) < len(releases) {
			for _, rel := range releases[len(deliveries):] {
				rel()
			}
		}

		for i, d := range deliveries {
			rel := func() {}
			if i < len(releases) {
				rel = releases[i]
			}
			inflight.Add(1)
			go func() {
				defer inflight.Done()
				defer rel()
				p.Handle(context.WithoutCancel(ctx), d)
			}()
		}
	}
}

func (p *WorkerPool) claimBackoff() time.Duration {
	if p.ClaimBackoff <= 0 {
		return 500 * time.Millisecond
	}
	return p.ClaimBackoff
}

// Handle processa uma entrega até a liquidação.
func (p *WorkerPool) Handle(ctx context.Context, d domain.Delivery) {
	log := nopIfNil(p.Logger).With(zap.String("consumer", d.Consumer), zap.String("receipt", d.Receipt))

	if d.DecodeErr != nil {
		log.Warn("undecodable message, dead-lettering", zap.Error(d.DecodeErr))
		p.settle(ctx, log, "dead_letter", p.Queue.DeadLetter(ctx, d, summarize(d.DecodeErr)))
		return
	}

	ev := d.Event
	attempt := max(ev.Attempt, 1)
	log = log.With(
		zap.String("reference", string(ev.Reference)),
		zap.String("key", ev.Key().String()),
		zap.Int64("serial", int64(ev.Serial)),
		zap.Int("attempt", attempt))

	// entrega duplicada de algo já resolvido: só confirma.
	if st, err := p.Status.GetStatus(ctx, ev.Reference); err == nil && st.State.Terminal() {
		log.Debug("duplicate delivery, already resolved", zap.String("state", string(st.State)))
		p.settle(ctx, log, "duplicate", p.Queue.Ack(ctx, d))
		return
	}

	id, err := p.Persister.Persist(ctx, ev.Record())
	if err == nil {
		// sem status terminal não há ack: o replay por reference é idempotente.
		// Esgotadas as tentativas, segue reenfileirando com espera.
		if serr := p.Status.SetCompleted(ctx, ev.Reference, id); serr != nil {
			if attempt >= p.maxAttempts() {
				log.Error("record persisted but status not recorded", zap.Int64("durable_id", int64(id)), zap.Error(serr))
				sleepCtx(ctx, p.claimBackoff())
			} else {
				log.Warn("set completed failed, requeueing", zap.Error(serr))
			}
			p.settle(ctx, log, "requeue", p.Queue.Requeue(ctx, d, summarize(serr)))
			return
		}
		log.Debug("record persisted", zap.Int64("durable_id", int64(id)))
		p.settle(ctx, log, "completed", p.Queue.Ack(ctx, d))
		return
	}

	if attempt < p.maxAttempts() {
		if serr := p.Status.SetRetrying(ctx, ev.Reference, attempt, err); serr != nil {
			log.Warn("set retrying failed", zap.Error(serr))
		}
		log.Warn("persist failed, requeueing", zap.Error(err))
		p.settle(ctx, log, "requeue", p.Queue.Requeue(ctx, d, summarize(err)))
		return
	}

	if serr := p.Status.SetFailed(ctx, ev.Reference, fmt.Errorf("%w: %w", domain.ErrPersistence, err)); serr != nil {
		log.Warn("set failed failed", zap.Error(serr))
	}
	log.Error("persist failed, attempts exhausted, dead-lettering", zap.Error(err))
	p.settle(ctx, log, "dead_letter", p.Queue.DeadLetter(ctx, d, summarize(err)))
}

func (p *WorkerPool) settle(ctx context.Context, log *zap.Logger, outcome string, err error) {
	if err != nil {
		log.Error("settle failed", zap.String("outcome", outcome), zap.Error(err))
		outcome = "settle_error"
	}
	recordStats(ctx, p.Stats, log, domain.StatsEvent{Strategy: "worker", Outcome: outcome})
}

func summarize(err error) string {
	if err == nil {
		return ""
	}
	s := err.Error()
	if len(s) > maxErrorSummary {
		return s[:maxErrorSummary]
	}
	return s
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
