package application

import (
	"time"

	"serial-allocator/admission/domain"
)

// ThrottleService decide se um cliente pode submeter um booking agora.
//
// Ele não sabe nada sobre HTTP (headers/status), apenas retorna uma decisão.
// É independente da admissão por chave: um cliente barrado aqui nunca chega a
// disputar o lease.
type ThrottleService struct {
	Store      domain.LimiterStore
	RetryAfter time.Duration
}

func (s ThrottleService) Decide(key domain.ClientKey) domain.ThrottleDecision {
	if s.Store == nil {
		return domain.ThrottleDecision{Allowed: true}
	}
	if s.RetryAfter <= 0 {
		s.RetryAfter = 1 * time.Second
	}

	lim := s.Store.Get(key)
	if lim == nil || lim.Allow() {
		return domain.ThrottleDecision{Allowed: true}
	}
	return domain.ThrottleDecision{Allowed: false, RetryAfter: s.RetryAfter}
}
