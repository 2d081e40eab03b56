package application

import (
	"context"
	"errors"
	"time"

	"serial-allocator/admission/domain"
)

// Retry repete uma unidade de trabalho inteira enquanto a falha for transitória
// (errors.Is(err, domain.ErrTransient)). Outros erros retornam na hora.
//
// MaxRetries = 0 usa o padrão (3); negativo desliga o retry.
type Retry struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

func (r Retry) withDefaults() Retry {
	if r.MaxRetries == 0 {
		r.MaxRetries = 3
	}
	if r.MaxRetries < 0 {
		r.MaxRetries = 0
	}
	if r.BaseDelay <= 0 {
		r.BaseDelay = 50 * time.Millisecond
	}
	if r.MaxDelay <= 0 {
		r.MaxDelay = 5 * time.Second
	}
	return r
}

// Delay é a espera antes da tentativa seguinte a attempt (0-based).
func (r Retry) Delay(attempt int) time.Duration {
	r = r.withDefaults()
	d := r.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= r.MaxDelay {
			return r.MaxDelay
		}
	}
	return d
}

func (r Retry) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	r = r.withDefaults()
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil || !errors.Is(err, domain.ErrTransient) || attempt >= r.MaxRetries {
			return err
		}

		t := time.NewTimer(r.Delay(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}
	}
}
