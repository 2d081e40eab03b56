// Package infra contém implementações concretas para os contratos definidos no
// pacote domain.
//
//   - Redis (go-redis): lock com token, contador, status tracker, fila em Streams, stats
//   - Postgres (lib/pq): transação com SELECT ... FOR UPDATE, persistência idempotente, lookup de capacidade
//   - Kafka (kafka-go): fila alternativa com dead-letter topic
//   - Memória: versões em processo de todos os contratos, usadas em testes e setups de um processo só
//   - Prometheus: métricas de admissão
//   - ChanPool e Store: semáforo e token bucket (golang.org/x/time/rate) da borda HTTP
package infra
