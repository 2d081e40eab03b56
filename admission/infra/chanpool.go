package infra

import (
	"context"

	"serial-allocator/admission/domain"
)

type chanPool struct {
	sem chan struct{}
}

// NewChanPool cria um pool simples baseado em channel com capacidade `max`.
// Serve de lock local por chave (max=1), de permits de prefetch dos workers e
// de limite de requisições em andamento.
func NewChanPool(max int) domain.SlotPool {
	if max < 1 {
		max = 1
	}
	return &chanPool{sem: make(chan struct{}, max)}
}

func (p *chanPool) Acquire(ctx context.Context) (func(), bool) {
	select {
	case p.sem <- struct{}{}:
		return p.releaser(), true
	case <-ctx.Done():
		return nil, false
	}
}

func (p *chanPool) TryAcquire() (func(), bool) {
	select {
	case p.sem <- struct{}{}:
		return p.releaser(), true
	default:
		return nil, false
	}
}

// releaser devolve a vaga uma única vez, mesmo que chamado de novo.
func (p *chanPool) releaser() func() {
	done := false
	return func() {
		if done {
			return
		}
		done = true
		<-p.sem
	}
}
