// Package application contém os casos de uso de admissão: as estratégias de
// sequenciamento (transacional e distribuída), o dispatcher assíncrono, o pool de
// workers de persistência e os serviços de borda (throttle e concorrência).
//
// Nada aqui conhece HTTP, Redis ou Postgres; as dependências chegam pelos
// contratos do pacote domain e são passadas explicitamente em cada struct.
package application
