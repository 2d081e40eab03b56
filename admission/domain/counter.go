package domain

import (
	"context"
	"time"
)

// CounterStore é o contador rápido por chave usado pela estratégia distribuída.
// Só deve ser chamado por quem detém o lease da chave.
type CounterStore interface {
	Increment(ctx context.Context, key Key) (int64, error)
	// Decrement é compensatório e best-effort.
	Decrement(ctx context.Context, key Key) (int64, error)
	ExpireAt(ctx context.Context, key Key, at time.Time) error
}

// Counter é a linha durável de contagem (appointment_counters).
// IssuedSerial == IssuedCount na estratégia transacional.
type Counter struct {
	Key          Key
	IssuedSerial int64
	IssuedCount  int64
	UpdatedAt    time.Time
}

// Tx expõe as operações que rodam dentro de uma transação do storage durável.
type Tx interface {
	// LockCounter cria a linha (zerada) se não existir e a lê com lock de escrita.
	LockCounter(ctx context.Context, key Key) (Counter, error)
	SaveCounter(ctx context.Context, c Counter) error
	InsertRecord(ctx context.Context, rec Record) (DurableID, error)
}

// TxRunner executa fn dentro de uma transação: commit se fn retornar nil,
// rollback caso contrário. Falhas transitórias devem satisfazer
// errors.Is(err, ErrTransient).
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
