// Package queue реализует durable queue поверх Postgres.
//
// Гарантии:
//   - Задача переживает рестарт любого процесса (строка в БД).
//   - At-least-once: lease, не взятый до Complete, истекает,
//     и задача снова становится доступной.
//   - Задача видна не более чем одному воркеру одновременно
//     (FOR UPDATE SKIP LOCKED + lease_expires_at).
//   - Периодические задачи автоматически возвращаются в очередь
//     через заданный интервал после Complete.
//
// Порядок между задачами разных runs не гарантируется. Идемпотентность
// повторной доставки — обязанность обработчика (engine проверяет
// текущий статус run перед побочными эффектами).
package queue
