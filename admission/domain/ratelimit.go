package domain

// Throttle por cliente na borda HTTP.
//
// Regras e contratos sem dependência de net/http.

import "time"

type ClientKey string

// Limiter representa algo que pode decidir se uma ação é permitida agora.
//
// A camada de infra usa golang.org/x/time/rate (token bucket).
type Limiter interface {
	Allow() bool
}

// LimiterStore obtém um limiter por chave de cliente (IP, header).
type LimiterStore interface {
	Get(ClientKey) Limiter
}

type ThrottleDecision struct {
	Allowed bool
	// RetryAfter é o valor a ser retornado em Retry-After quando bloquear.
	// Se 0, não há recomendação.
	RetryAfter time.Duration
}
