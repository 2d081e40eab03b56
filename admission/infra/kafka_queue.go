package infra

import (
	"context"
	"strconv"
	"sync"
	"time"

	"serial-allocator/admission/domain"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type kafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaQueueConfig configura o backend Kafka da fila.
type KafkaQueueConfig struct {
	Brokers []string
	Topic   string
	// GroupID padrão "persistence".
	GroupID string
	// PollTimeout limita cada Claim (padrão 2s).
	PollTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaQueue implementa domain.Queue sobre kafka-go.
//
// Cada consumidor tem seu próprio reader no consumer group e só recebe a
// próxima mensagem depois de liquidar a anterior: o commit de offset no Kafka
// é cumulativo, então liquidar fora de ordem poderia confirmar uma mensagem
// ainda não gravada.
type KafkaQueue struct {
	cfg    KafkaQueueConfig
	writer kafkaWriter
	dead   kafkaWriter

	newReader func(consumer string) kafkaReader

	mu        sync.Mutex
	consumers map[string]*kafkaConsumer
}

type kafkaConsumer struct {
	reader kafkaReader
	turn   chan struct{}
}

func NewKafkaQueue(cfg KafkaQueueConfig) (*KafkaQueue, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: at least one broker required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka: topic required")
	}
	if cfg.GroupID == "" {
		cfg.GroupID = "persistence"
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 2 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	newWriter := func(topic string) *kafka.Writer {
		return kafka.NewWriter(kafka.WriterConfig{
			Brokers:      cfg.Brokers,
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: cfg.WriteTimeout,
			RequiredAcks: int(kafka.RequireAll),
			Async:        false,
		})
	}

	q := &KafkaQueue{
		cfg:       cfg,
		writer:    newWriter(cfg.Topic),
		dead:      newWriter(cfg.Topic + ".dead"),
		consumers: make(map[string]*kafkaConsumer),
	}
	q.newReader = func(string) kafkaReader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			GroupID:  cfg.GroupID,
			Topic:    cfg.Topic,
			MinBytes: 1,
			MaxBytes: 10e6,
			MaxWait:  cfg.PollTimeout,
			// commits síncronos: o offset só anda quando a entrega é liquidada.
			CommitInterval: 0,
		})
	}
	return q, nil
}

func (q *KafkaQueue) consumer(name string) *kafkaConsumer {
	q.mu.Lock()
	defer q.mu.Unlock()
	c, ok := q.consumers[name]
	if !ok {
		c = &kafkaConsumer{reader: q.newReader(name), turn: make(chan struct{}, 1)}
		q.consumers[name] = c
	}
	return c
}

func message(ev domain.Event, data []byte, headers ...kafka.Header) kafka.Message {
	return kafka.Message{
		Key:     []byte(ev.Key().String()),
		Value:   data,
		Headers: append([]kafka.Header{{Key: "reference", Value: []byte(ev.Reference)}}, headers...),
		Time:    time.Now().UTC(),
	}
}

func (q *KafkaQueue) Publish(ctx context.Context, ev domain.Event) error {
	data, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	return errors.Wrapf(q.writer.WriteMessages(ctx, message(ev, data)), "kafka publish %s", ev.Reference)
}

// Claim ignora max acima de 1; veja o comentário do tipo.
func (q *KafkaQueue) Claim(ctx context.Context, consumer string, max int) ([]domain.Delivery, error) {
	if max <= 0 {
		return nil, nil
	}
	c := q.consumer(consumer)

	t := time.NewTimer(q.cfg.PollTimeout)
	defer t.Stop()
	select {
	case c.turn <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.C:
		return nil, nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, q.cfg.PollTimeout)
	defer cancel()
	msg, err := c.reader.FetchMessage(fetchCtx)
	if err != nil {
		<-c.turn
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "kafka fetch %s", q.cfg.Topic)
	}

	receipt := kafkaReceipt(msg)
	return []domain.Delivery{delivery(consumer, receipt, msg.Value, msg)}, nil
}

// commit confirma o offset e libera a vez do consumidor, mesmo em erro.
func (q *KafkaQueue) commit(ctx context.Context, d domain.Delivery) error {
	c := q.consumer(d.Consumer)
	defer func() {
		select {
		case <-c.turn:
		default:
		}
	}()
	msg, ok := d.Handle.(kafka.Message)
	if !ok {
		return errors.Errorf("kafka: delivery %s has no message handle", d.Receipt)
	}
	return errors.Wrapf(c.reader.CommitMessages(ctx, msg), "kafka commit %s", d.Receipt)
}

func (q *KafkaQueue) Ack(ctx context.Context, d domain.Delivery) error {
	return q.commit(ctx, d)
}

func (q *KafkaQueue) Requeue(ctx context.Context, d domain.Delivery, reason string) error {
	ev := nextAttempt(d.Event)
	data, err := encodeEvent(ev)
	if err != nil {
		q.resetConsumer(d.Consumer)
		return err
	}
	if err := q.writer.WriteMessages(ctx, message(ev, data, kafka.Header{Key: "last_error", Value: []byte(reason)})); err != nil {
		// sem commit: o reader é recriado e volta ao último offset confirmado.
		q.resetConsumer(d.Consumer)
		return errors.Wrapf(err, "kafka requeue %s", d.Receipt)
	}
	return q.commit(ctx, d)
}

func (q *KafkaQueue) DeadLetter(ctx context.Context, d domain.Delivery, reason string) error {
	msg := kafka.Message{
		Value: d.Raw,
		Headers: []kafka.Header{
			{Key: "reason", Value: []byte(reason)},
			{Key: "consumer", Value: []byte(d.Consumer)},
			{Key: "receipt", Value: []byte(d.Receipt)},
		},
		Time: time.Now().UTC(),
	}
	if d.DecodeErr == nil {
		msg.Key = []byte(d.Event.Key().String())
	}
	if err := q.dead.WriteMessages(ctx, msg); err != nil {
		q.resetConsumer(d.Consumer)
		return errors.Wrapf(err, "kafka dead-letter %s", d.Receipt)
	}
	return q.commit(ctx, d)
}

func (q *KafkaQueue) resetConsumer(name string) {
	q.mu.Lock()
	c, ok := q.consumers[name]
	delete(q.consumers, name)
	q.mu.Unlock()
	if ok {
		_ = c.reader.Close()
	}
}

func (q *KafkaQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	var first error
	for _, c := range q.consumers {
		if err := c.reader.Close(); err != nil && first == nil {
			first = err
		}
	}
	for _, w := range []kafkaWriter{q.writer, q.dead} {
		if err := w.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func kafkaReceipt(m kafka.Message) string {
	return m.Topic + "/" + strconv.Itoa(m.Partition) + "/" + strconv.FormatInt(m.Offset, 10)
}
