package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"serial-allocator/admission/domain"

	"go.uber.org/zap"
)

// errRollback aborta a transação quando a capacidade já foi atingida.
var errRollback = errors.New("capacity reached, rollback")

// TransactionalSequencer aloca serial, contador e registro final em uma única
// transação do storage durável. Não deixa lacunas: os serials 1..IssuedCount são
// exatamente os pedidos aceitos.
type TransactionalSequencer struct {
	Store  domain.TxRunner
	Retry  Retry
	Stats  domain.StatsStore
	Logger *zap.Logger
	Now    func() time.Time
}

func (s *TransactionalSequencer) Allocate(ctx context.Context, key domain.Key, capacity int64, payload []byte) (domain.Decision, error) {
	log := nopIfNil(s.Logger)
	if capacity <= 0 {
		return domain.Decision{Reason: domain.ReasonCapacityExceeded}, nil
	}

	// a referência é fixa entre tentativas: um retry nunca vira um segundo pedido.
	ref := NewReference()
	var dec domain.Decision
	err := s.Retry.Do(ctx, func(ctx context.Context) error {
		dec = domain.Decision{}
		return s.Store.InTx(ctx, func(ctx context.Context, tx domain.Tx) error {
			c, err := tx.LockCounter(ctx, key)
			if err != nil {
				return err
			}
			if c.IssuedCount >= capacity {
				dec = domain.Decision{Reason: domain.ReasonCapacityExceeded}
				return errRollback
			}

			now := nowOr(s.Now)
			c.IssuedSerial++
			c.IssuedCount++
			c.UpdatedAt = now
			if err := tx.SaveCounter(ctx, c); err != nil {
				return err
			}

			id, err := tx.InsertRecord(ctx, domain.Record{
				Reference: ref,
				Key:       key,
				Serial:    domain.Serial(c.IssuedSerial),
				Payload:   payload,
				CreatedAt: now,
			})
			if err != nil {
				return err
			}
			dec = domain.Decision{Admitted: true, Serial: domain.Serial(c.IssuedSerial), DurableID: id}
			return nil
		})
	})
	if errors.Is(err, errRollback) {
		err = nil
	}
	if err != nil {
		return domain.Decision{}, fmt.Errorf("allocate %s: %w", key, err)
	}

	recordStats(ctx, s.Stats, log, domain.StatsEvent{Key: key, Strategy: StrategyTransactional, Outcome: outcomeLabel(dec)})
	if dec.Admitted {
		log.Debug("serial allocated",
			zap.String("key", key.String()),
			zap.Int64("serial", int64(dec.Serial)),
			zap.Int64("durable_id", int64(dec.DurableID)))
	}
	return dec, nil
}

func (s *TransactionalSequencer) Book(ctx context.Context, key domain.Key, capacity int64, payload []byte) (domain.Outcome, error) {
	dec, err := s.Allocate(ctx, key, capacity, payload)
	if err != nil {
		return nil, err
	}
	if !dec.Admitted {
		return domain.RejectedFrom(key, dec), nil
	}
	return domain.Accepted{Key: key, Serial: dec.Serial, DurableID: dec.DurableID}, nil
}
