package domain

import "time"

// Serial é o número de ordem (1-based) atribuído a um pedido aceito dentro da chave.
type Serial int64

// DurableID é o identificador do registro durável (ex.: appointments.id).
type DurableID int64

// Reference é o token opaco que identifica um pedido assíncrono.
type Reference string

type RejectReason int

const (
	ReasonNone RejectReason = iota
	ReasonCapacityExceeded
	ReasonLockTimeout
)

func (r RejectReason) String() string {
	switch r {
	case ReasonCapacityExceeded:
		return "capacity_exceeded"
	case ReasonLockTimeout:
		return "lock_timeout"
	default:
		return "none"
	}
}

// Err devolve o sentinel correspondente, útil para errors.Is nas bordas.
func (r RejectReason) Err() error {
	switch r {
	case ReasonCapacityExceeded:
		return ErrCapacityExceeded
	case ReasonLockTimeout:
		return ErrLockTimeout
	default:
		return nil
	}
}

// Decision é o resultado de uma tentativa de admissão.
type Decision struct {
	Admitted bool
	Serial   Serial
	// DurableID só é preenchido quando o registro foi escrito na mesma transação.
	DurableID DurableID
	Reason    RejectReason
	// RetryAfter é a recomendação para o chamador quando Reason == ReasonLockTimeout.
	RetryAfter time.Duration
}

// Outcome é a resposta da API de booking. As implementações são Accepted,
// Queued e Rejected; use um type switch.
type Outcome interface {
	outcome()
}

// Accepted: serial concedido e registro durável já gravado.
type Accepted struct {
	Key       Key
	Serial    Serial
	DurableID DurableID
}

// Queued: serial concedido, gravação durável pendente (consultar via Reference).
type Queued struct {
	Key       Key
	Serial    Serial
	Reference Reference
}

// Rejected: pedido não admitido.
type Rejected struct {
	Key        Key
	Reason     RejectReason
	RetryAfter time.Duration
}

func (Accepted) outcome() {}
func (Queued) outcome()   {}
func (Rejected) outcome() {}

// RejectedFrom monta um Rejected a partir de uma Decision não admitida.
func RejectedFrom(key Key, dec Decision) Rejected {
	return Rejected{Key: key, Reason: dec.Reason, RetryAfter: dec.RetryAfter}
}
