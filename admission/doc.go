// Package admission expõe a alocação de serials por HTTP (chi).
//
// Visão geral (camadas):
//
//   - domain: contratos, variantes de resultado e taxonomia de erros (sem net/http)
//   - application: estratégias de sequenciamento, dispatcher assíncrono e workers
//   - infra: Redis, Postgres, Kafka, memória e Prometheus
//   - admission (este pacote): handlers de booking/status/health, throttle por
//     cliente e limite de requisições em andamento
//
// Fluxo de um booking:
//
//  1. Throttle por cliente (token bucket) e limite global de requisições em andamento
//  2. Resolve (doctorId, hospitalId) para recurso e capacidade
//  3. Chama a estratégia escolhida (ALLOCATION_STRATEGY, fixa por deployment)
//  4. Traduz Accepted/Queued/Rejected para 201/202/409/503
//
// Nenhuma regra de admissão mora aqui.
package admission
