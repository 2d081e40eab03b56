package infra

import (
	"context"
	"strings"
	"sync"
	"time"

	"serial-allocator/admission/domain"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const eventField = "event"

// RedisStreamQueue implementa domain.Queue com Redis Streams e consumer group.
//
// Entradas confirmadas são removidas do stream (XACK + XDEL), então o stream só
// guarda o que ainda não foi liquidado. Entradas pendentes de um consumidor que
// morreu são retomadas com XAUTOCLAIM depois de `visibility`.
type RedisStreamQueue struct {
	rdb    redis.UniversalClient
	stream string
	dead   string
	group  string

	block      time.Duration
	visibility time.Duration

	mu         sync.Mutex
	groupReady bool
}

type RedisStreamOption func(*RedisStreamQueue)

func WithStreamGroup(group string) RedisStreamOption {
	return func(q *RedisStreamQueue) { q.group = group }
}

// WithStreamBlock define o BLOCK do XREADGROUP. Negativo lê sem bloquear.
func WithStreamBlock(d time.Duration) RedisStreamOption {
	return func(q *RedisStreamQueue) { q.block = d }
}

// WithStreamVisibility define o idle mínimo para retomar entregas órfãs. 0 desliga.
func WithStreamVisibility(d time.Duration) RedisStreamOption {
	return func(q *RedisStreamQueue) { q.visibility = d }
}

func NewRedisStreamQueue(rdb redis.UniversalClient, keys KeySpace, opts ...RedisStreamOption) *RedisStreamQueue {
	q := &RedisStreamQueue{
		rdb:        rdb,
		stream:     keys.Stream(),
		dead:       keys.DeadStream(),
		group:      "persistence",
		block:      2 * time.Second,
		visibility: time.Minute,
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.block == 0 {
		// BLOCK 0 no Redis espera para sempre; um Claim precisa voltar para o loop.
		q.block = 2 * time.Second
	}
	return q
}

// EnsureGroup cria o stream e o consumer group se ainda não existirem.
func (q *RedisStreamQueue) EnsureGroup(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.groupReady {
		return nil
	}
	err := q.rdb.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return errors.Wrapf(err, "create group %s on %s", q.group, q.stream)
	}
	q.groupReady = true
	return nil
}

func (q *RedisStreamQueue) Publish(ctx context.Context, ev domain.Event) error {
	data, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	err = q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]any{eventField: data, "reference": string(ev.Reference)},
	}).Err()
	return errors.Wrapf(err, "xadd %s", q.stream)
}

func (q *RedisStreamQueue) Claim(ctx context.Context, consumer string, max int) ([]domain.Delivery, error) {
	if max <= 0 {
		return nil, nil
	}
	if err := q.EnsureGroup(ctx); err != nil {
		return nil, err
	}

	var out []domain.Delivery
	if q.visibility > 0 {
		msgs, _, err := q.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   q.stream,
			Group:    q.group,
			Consumer: consumer,
			MinIdle:  q.visibility,
			Start:    "0-0",
			Count:    int64(max),
		}).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, errors.Wrapf(err, "xautoclaim %s", q.stream)
		}
		out = q.appendDeliveries(out, consumer, msgs)
		if len(out) >= max {
			return out, nil
		}
	}

	streams, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: consumer,
		Streams:  []string{q.stream, ">"},
		Count:    int64(max - len(out)),
		Block:    q.block,
	}).Result()
	if err != nil {
		// reclamadas ficam no PEL deste consumidor; melhor entregá-las já.
		if errors.Is(err, redis.Nil) || len(out) > 0 {
			return out, nil
		}
		return nil, errors.Wrapf(err, "xreadgroup %s", q.stream)
	}
	for _, s := range streams {
		out = q.appendDeliveries(out, consumer, s.Messages)
	}
	return out, nil
}

func (q *RedisStreamQueue) appendDeliveries(out []domain.Delivery, consumer string, msgs []redis.XMessage) []domain.Delivery {
	for _, m := range msgs {
		raw, _ := m.Values[eventField].(string)
		out = append(out, delivery(consumer, m.ID, []byte(raw), nil))
	}
	return out
}

func (q *RedisStreamQueue) Ack(ctx context.Context, d domain.Delivery) error {
	pipe := q.rdb.TxPipeline()
	pipe.XAck(ctx, q.stream, q.group, d.Receipt)
	pipe.XDel(ctx, q.stream, d.Receipt)
	_, err := pipe.Exec(ctx)
	return errors.Wrapf(err, "ack %s", d.Receipt)
}

func (q *RedisStreamQueue) Requeue(ctx context.Context, d domain.Delivery, reason string) error {
	data, err := encodeEvent(nextAttempt(d.Event))
	if err != nil {
		return err
	}
	pipe := q.rdb.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]any{eventField: data, "reference": string(d.Event.Reference), "last_error": reason},
	})
	pipe.XAck(ctx, q.stream, q.group, d.Receipt)
	pipe.XDel(ctx, q.stream, d.Receipt)
	_, err = pipe.Exec(ctx)
	return errors.Wrapf(err, "requeue %s", d.Receipt)
}

func (q *RedisStreamQueue) DeadLetter(ctx context.Context, d domain.Delivery, reason string) error {
	pipe := q.rdb.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: q.dead,
		Values: map[string]any{
			eventField: string(d.Raw),
			"reason":   reason,
			"consumer": d.Consumer,
			"receipt":  d.Receipt,
		},
	})
	pipe.XAck(ctx, q.stream, q.group, d.Receipt)
	pipe.XDel(ctx, q.stream, d.Receipt)
	_, err := pipe.Exec(ctx)
	return errors.Wrapf(err, "dead-letter %s", d.Receipt)
}
