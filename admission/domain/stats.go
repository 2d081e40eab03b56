package domain

import (
	"context"
	"time"
)

// StatsEvent representa uma decisão de admissão.
//
// Cuidado com cardinalidade: Key é por recurso e dia, então implementações que
// indexam por Key (Redis, Prometheus) devem fazer isso só quando configuradas.
type StatsEvent struct {
	Key      Key
	Strategy string
	// Outcome é "accepted", "queued" ou o RejectReason.
	Outcome  string
	LockWait time.Duration

	At time.Time
}

// StatsStore persiste estatísticas de admissão.
//
// Quem chama trata erro como best-effort (não derruba request).
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}
