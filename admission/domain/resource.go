package domain

import "context"

// Resource é um médico atendendo em um hospital, com limite diário de pacientes.
type Resource struct {
	ID         int64
	DoctorID   int64
	HospitalID int64
	Capacity   int64
}

// CapacityLookup resolve o par (médico, hospital) para recurso e capacidade.
// Retorna ErrNotFound quando não há associação.
type CapacityLookup interface {
	Lookup(ctx context.Context, doctorID, hospitalID int64) (Resource, error)
}
