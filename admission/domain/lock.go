package domain

import (
	"context"
	"time"
)

// Locker concede exclusão mútua por chave entre processos independentes.
//
// TryAcquire espera no máximo maxWait. Ao estourar, retorna erro que satisfaz
// errors.Is(err, ErrLockTimeout); não há retry interno além dessa janela.
// Chaves diferentes nunca disputam entre si.
type Locker interface {
	TryAcquire(ctx context.Context, key Key, maxWait time.Duration) (Lease, error)
}

// Lease é uma concessão obtida por TryAcquire. Release deve ser chamado
// exatamente uma vez; chamadas extras são no-op.
type Lease interface {
	Key() Key
	Release(ctx context.Context) error
}
