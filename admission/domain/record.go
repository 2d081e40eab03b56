package domain

import (
	"context"
	"time"
)

// Record é a entrada da escrita durável do registro final.
type Record struct {
	Reference Reference
	Key       Key
	Serial    Serial
	Payload   []byte
	CreatedAt time.Time
}

// Persister grava o registro final. Deve ser idempotente por Reference:
// uma segunda chamada com a mesma referência devolve o DurableID já existente.
type Persister interface {
	Persist(ctx context.Context, rec Record) (DurableID, error)
}

// Event é a mensagem publicada na fila após uma admissão assíncrona.
type Event struct {
	Reference  Reference `json:"reference"`
	ResourceID int64     `json:"resourceId"`
	Date       Date      `json:"date"`
	Serial     Serial    `json:"serial"`
	Payload    []byte    `json:"payload,omitempty"`
	Attempt    int       `json:"attempt"`
	QueuedAt   time.Time `json:"queuedAt"`
}

func (e Event) Key() Key { return NewKey(e.ResourceID, e.Date) }

func (e Event) Record() Record {
	return Record{
		Reference: e.Reference,
		Key:       e.Key(),
		Serial:    e.Serial,
		Payload:   e.Payload,
		CreatedAt: e.QueuedAt,
	}
}
