package domain

import (
	"context"
	"time"
)

type State string

const (
	StateUnknown   State = "unknown"
	StatePending   State = "pending"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Terminal indica estados imutáveis.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

type Status struct {
	Reference Reference
	State     State
	DurableID DurableID
	Error     string
	Attempts  int
	UpdatedAt time.Time
}

// StatusTracker mapeia uma referência para o resultado da persistência assíncrona.
//
// Toda escrita renova o TTL. Escritas sobre um estado terminal são ignoradas.
// GetStatus devolve State=StateUnknown (e err nil) para referências nunca vistas
// ou expiradas; o chamador não deve tratar Unknown como falha.
type StatusTracker interface {
	SetPending(ctx context.Context, ref Reference) error
	// SetRetrying registra uma tentativa falha sem sair de Pending.
	SetRetrying(ctx context.Context, ref Reference, attempt int, cause error) error
	SetCompleted(ctx context.Context, ref Reference, id DurableID) error
	SetFailed(ctx context.Context, ref Reference, cause error) error
	GetStatus(ctx context.Context, ref Reference) (Status, error)
}
