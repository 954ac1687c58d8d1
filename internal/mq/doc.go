// Package mq — событийный слой поверх RabbitMQ.
//
// Durable-доставка задач живёт в Postgres (internal/queue); RabbitMQ
// здесь используется только как nudge: публикация run.enqueued будит
// engine-воркеры сразу, не дожидаясь их poll-тика. Потеря nudge
// безвредна — задача будет взята на ближайшем polling fallback.
package mq
