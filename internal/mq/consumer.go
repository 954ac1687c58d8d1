package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// NudgeHandler вызывается на каждый полученный nudge.
type NudgeHandler func(ctx context.Context, msg *Message)

// Consumer читает nudge-сообщения из очереди.
//
// Сообщения подтверждаются безусловно: nudge не несёт durable-состояния,
// его потеря компенсируется polling fallback воркеров.
type Consumer struct {
	conn    *Connection
	queue   Queue
	handler NudgeHandler
	logger  *slog.Logger
}

// NewConsumer создаёт Consumer для указанной очереди.
func NewConsumer(conn *Connection, queue Queue, handler NudgeHandler, logger *slog.Logger) *Consumer {
	return &Consumer{
		conn:    conn,
		queue:   queue,
		handler: handler,
		logger:  logger,
	}
}

// Start запускает потребление сообщений. Блокирует до отмены ctx.
// При переподключении соединения consume перезапускается.
func (c *Consumer) Start(ctx context.Context) error {
	for {
		deliveries, err := c.setupConsume()
		if err != nil {
			c.logger.Error("failed to setup consume", "queue", c.queue, "error", err)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.conn.ReconnectNotify():
				continue
			}
		}

		if done := c.processDeliveries(ctx, deliveries); done {
			return ctx.Err()
		}

		// Канал deliveries закрылся — ждём reconnect и пробуем снова.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.conn.ReconnectNotify():
		}
	}
}

func (c *Consumer) setupConsume() (<-chan amqp.Delivery, error) {
	ch := c.conn.Channel()
	if ch == nil {
		return nil, fmt.Errorf("no channel available")
	}

	if err := ch.Qos(1, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.Consume(
		string(c.queue), // queue
		"",              // consumer tag
		false,           // auto-ack
		false,           // exclusive
		false,           // no-local
		false,           // no-wait
		nil,             // args
	)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", c.queue, err)
	}

	c.logger.Info("consuming", "queue", c.queue)
	return deliveries, nil
}

// processDeliveries возвращает true, если ctx отменён.
func (c *Consumer) processDeliveries(ctx context.Context, deliveries <-chan amqp.Delivery) bool {
	for {
		select {
		case <-ctx.Done():
			return true
		case d, ok := <-deliveries:
			if !ok {
				return false
			}
			c.handleDelivery(ctx, d)
		}
	}
}

func (c *Consumer) handleDelivery(ctx context.Context, d amqp.Delivery) {
	// Ack сразу: redelivery nudge не нужна.
	if err := d.Ack(false); err != nil {
		c.logger.Warn("failed to ack", "error", err)
	}

	var msg Message
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		c.logger.Warn("malformed message dropped", "queue", c.queue, "error", err)
		return
	}

	c.handler(ctx, &msg)
}
