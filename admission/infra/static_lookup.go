package infra

import (
	"context"
	"strconv"
	"strings"

	"serial-allocator/admission/domain"

	"github.com/pkg/errors"
)

// StaticLookup é um CapacityLookup fixo, vindo de configuração.
type StaticLookup struct {
	byPair map[[2]int64]domain.Resource
}

func NewStaticLookup(resources ...domain.Resource) *StaticLookup {
	s := &StaticLookup{byPair: make(map[[2]int64]domain.Resource, len(resources))}
	for _, r := range resources {
		s.byPair[[2]int64{r.DoctorID, r.HospitalID}] = r
	}
	return s
}

// ParseStaticResources lê entradas "resource:doctor:hospital:capacity"
// separadas por vírgula (ex: "5:1:1:50,6:2:1:30").
func ParseStaticResources(s string) ([]domain.Resource, error) {
	var out []domain.Resource
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, ":")
		if len(fields) != 4 {
			return nil, errors.Errorf("invalid resource %q (expected resource:doctor:hospital:capacity)", part)
		}
		var nums [4]int64
		for i, f := range fields {
			n, err := strconv.ParseInt(strings.TrimSpace(f), 10, 64)
			if err != nil || n <= 0 {
				return nil, errors.Errorf("invalid resource %q: field %d must be a positive integer", part, i+1)
			}
			nums[i] = n
		}
		out = append(out, domain.Resource{ID: nums[0], DoctorID: nums[1], HospitalID: nums[2], Capacity: nums[3]})
	}
	return out, nil
}

func (s *StaticLookup) Lookup(_ context.Context, doctorID, hospitalID int64) (domain.Resource, error) {
	r, ok := s.byPair[[2]int64{doctorID, hospitalID}]
	if !ok {
		return domain.Resource{}, errors.Wrapf(domain.ErrNotFound, "doctor %d at hospital %d", doctorID, hospitalID)
	}
	return r, nil
}
