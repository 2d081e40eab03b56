package infra

import (
	"context"
	"strconv"
	"sync"
	"time"

	"serial-allocator/admission/domain"

	"github.com/pkg/errors"
)

// DeadLetter é uma entrega desviada para a fila morta.
type DeadLetter struct {
	Raw      []byte
	Event    domain.Event
	Reason   string
	Consumer string
}

// MemoryQueue é uma fila em memória com a mesma semântica de liquidação das
// filas reais. Mensagens são guardadas codificadas para exercitar o codec.
type MemoryQueue struct {
	mu       sync.Mutex
	ready    []memMessage
	inflight map[string]memMessage
	dead     []DeadLetter
	seq      int64
	notify   chan struct{}
	poll     time.Duration
}

type memMessage struct {
	id  string
	raw []byte
}

// NewMemoryQueue cria a fila; poll é quanto um Claim vazio espera (padrão 50ms).
func NewMemoryQueue(poll time.Duration) *MemoryQueue {
	if poll <= 0 {
		poll = 50 * time.Millisecond
	}
	return &MemoryQueue{
		inflight: make(map[string]memMessage),
		notify:   make(chan struct{}),
		poll:     poll,
	}
}

func (q *MemoryQueue) Publish(_ context.Context, ev domain.Event) error {
	data, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	q.PublishRaw(data)
	return nil
}

// PublishRaw enfileira bytes arbitrários (útil para testar payload ilegível).
func (q *MemoryQueue) PublishRaw(raw []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	q.ready = append(q.ready, memMessage{id: strconv.FormatInt(q.seq, 10), raw: raw})
	// acorda todos os Claims que estão esperando
	close(q.notify)
	q.notify = make(chan struct{})
}

func (q *MemoryQueue) Claim(ctx context.Context, consumer string, max int) ([]domain.Delivery, error) {
	if max <= 0 {
		return nil, nil
	}
	t := time.NewTimer(q.poll)
	defer t.Stop()
	for {
		q.mu.Lock()
		if n := min(max, len(q.ready)); n > 0 {
			out := make([]domain.Delivery, 0, n)
			for _, m := range q.ready[:n] {
				q.inflight[m.id] = m
				out = append(out, delivery(consumer, m.id, m.raw, nil))
			}
			q.ready = q.ready[n:]
			q.mu.Unlock()
			return out, nil
		}
		wait := q.notify
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
			return nil, nil
		case <-wait:
		}
	}
}

func (q *MemoryQueue) take(receipt string) (memMessage, error) {
	m, ok := q.inflight[receipt]
	if !ok {
		return memMessage{}, errors.Wrapf(domain.ErrNotFound, "delivery %s not in flight", receipt)
	}
	delete(q.inflight, receipt)
	return m, nil
}

func (q *MemoryQueue) Ack(_ context.Context, d domain.Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, err := q.take(d.Receipt)
	return err
}

func (q *MemoryQueue) Requeue(ctx context.Context, d domain.Delivery, _ string) error {
	data, err := encodeEvent(nextAttempt(d.Event))
	if err != nil {
		return err
	}
	q.mu.Lock()
	_, err = q.take(d.Receipt)
	q.mu.Unlock()
	if err != nil {
		return err
	}
	q.PublishRaw(data)
	return nil
}

func (q *MemoryQueue) DeadLetter(_ context.Context, d domain.Delivery, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, err := q.take(d.Receipt); err != nil {
		return err
	}
	q.dead = append(q.dead, DeadLetter{Raw: d.Raw, Event: d.Event, Reason: reason, Consumer: d.Consumer})
	return nil
}

func (q *MemoryQueue) DeadLetters() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]DeadLetter(nil), q.dead...)
}

// Depth devolve (prontas, em andamento).
func (q *MemoryQueue) Depth() (ready, inflight int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready), len(q.inflight)
}
