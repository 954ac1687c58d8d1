package mq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Топология минимальная: один exchange и одна очередь-nudge.
// Durable-доставка живёт в Postgres, поэтому DLQ не нужна.
const (
	ExchangeRuns Exchange = "conveyor.runs"

	QueueRunsEnqueued Queue = "runs.enqueued"

	RoutingKeyEnqueued RoutingKey = "enqueued"
)

// SetupTopology создаёт exchange, очередь и binding.
func SetupTopology(conn *Connection) error {
	ch := conn.Channel()
	if ch == nil {
		return fmt.Errorf("no channel available")
	}

	err := ch.ExchangeDeclare(
		string(ExchangeRuns), // name
		"direct",             // type
		true,                 // durable
		false,                // auto-deleted
		false,                // internal
		false,                // no-wait
		nil,                  // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange %s: %w", ExchangeRuns, err)
	}

	_, err = ch.QueueDeclare(
		string(QueueRunsEnqueued), // name
		true,                      // durable
		false,                     // delete when unused
		false,                     // exclusive
		false,                     // no-wait
		amqp.Table{"x-message-ttl": int32(60_000)}, // nudge старше минуты бесполезен
	)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", QueueRunsEnqueued, err)
	}

	err = ch.QueueBind(
		string(QueueRunsEnqueued),
		string(RoutingKeyEnqueued),
		string(ExchangeRuns),
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("bind queue %s: %w", QueueRunsEnqueued, err)
	}

	return nil
}
