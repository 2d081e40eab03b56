package domain

import "errors"

var (
	// ErrCapacityExceeded indica que a cota diária da chave foi atingida.
	ErrCapacityExceeded = errors.New("capacity exceeded")
	// ErrLockTimeout indica que o lease da chave não foi obtido dentro do maxWait.
	ErrLockTimeout = errors.New("lock wait timed out")
	// ErrLeaseLost indica que o lease expirou (ou mudou de dono) antes do release.
	ErrLeaseLost = errors.New("lease lost before release")
	ErrNotFound  = errors.New("not found")
	// ErrPersistence indica falha na escrita durável depois da admissão.
	ErrPersistence = errors.New("durable persistence failed")
	// ErrDispatch indica falha ao entregar o evento para a fila depois da admissão.
	ErrDispatch = errors.New("dispatch failed")
	// ErrTransient marca falhas de storage que podem ser repetidas como unidade.
	ErrTransient = errors.New("transient storage failure")
	// ErrDuplicateSerial indica uma tentativa de gravar um serial já ocupado por outra referência.
	ErrDuplicateSerial = errors.New("serial already recorded for key")
)
