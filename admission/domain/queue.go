package domain

import "context"

// Delivery é uma mensagem entregue a um consumidor e ainda não liquidada.
//
// Cada Delivery deve receber exatamente uma chamada entre Ack, Requeue e DeadLetter.
type Delivery struct {
	Event    Event
	Receipt  string
	Consumer string
	Raw      []byte
	// DecodeErr != nil indica payload ilegível; Event vem zerado.
	DecodeErr error
	// Handle carrega o estado específico do backend (ex.: kafka.Message).
	Handle any
}

// Queue é a fila durável com entrega at-least-once.
type Queue interface {
	Publish(ctx context.Context, ev Event) error
	// Claim devolve até max entregas para o consumidor. Pode bloquear por um
	// intervalo curto de polling e devolver zero entregas.
	Claim(ctx context.Context, consumer string, max int) ([]Delivery, error)
	Ack(ctx context.Context, d Delivery) error
	// Requeue republica o evento com Attempt+1 e liquida a entrega atual.
	Requeue(ctx context.Context, d Delivery, reason string) error
	DeadLetter(ctx context.Context, d Delivery, reason string) error
}
