// Package domain define contratos e tipos de domínio para a alocação de senhas
// (serials) por chave (recurso, data) com limite de capacidade.
//
// Este pacote não depende de net/http nem de implementações concretas
// (Redis, Postgres, Kafka). Os resultados esperados do negócio (capacidade
// esgotada, lock não obtido) são variantes explícitas (Decision, Outcome) e
// não erros, para que o chamador seja obrigado a tratá-los.
package domain
