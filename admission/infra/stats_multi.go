package infra

import (
	"context"
	"errors"

	"serial-allocator/admission/domain"
)

// MultiStats repassa o evento para todos os stores; nil é ignorado.
type MultiStats []domain.StatsStore

func (m MultiStats) Record(ctx context.Context, ev domain.StatsEvent) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
