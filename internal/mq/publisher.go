package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/longrest/internal/telemetry"
)

// appID — AMQP-свойство app_id всех сообщений longrest.
const appID = "longrest"

// Publisher публикует сообщения в RabbitMQ.
// Безопасен для конкурентного использования: канал берётся у Connection
// на каждую публикацию.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{conn: conn, logger: logger}
}

// Publish публикует msg в exchange с routing key.
// Сообщения persistent: переживают рестарт RabbitMQ.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) (err error) {
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}
		telemetry.MessagesPublishedTotal.WithLabelValues(string(msg.Type), result).Inc()
	}()

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", msg.Type, err)
	}

	publishing := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Type:         string(msg.Type),
		AppId:        appID,
		Timestamp:    msg.Timestamp,
		Body:         body,
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		if err := ch.PublishWithContext(ctx, string(exchange), string(routingKey), false, false, publishing); err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)
		return nil
	})
}

// PublishDispatch — work item готов к выполнению. Потребитель: longrest-worker.
func (p *Publisher) PublishDispatch(ctx context.Context, payload WorkItemDispatchPayload) error {
	return p.Publish(ctx, ExchangeWorkItems, RoutingKeyDispatch, NewMessage(MessageTypeWorkItemDispatch, payload))
}

// PublishWorkItemCompleted — work item завершён. Потребитель: движок процессов.
func (p *Publisher) PublishWorkItemCompleted(ctx context.Context, payload WorkItemCompletedPayload) error {
	return p.Publish(ctx, ExchangeWorkItems, RoutingKeyCompleted, NewMessage(MessageTypeWorkItemCompleted, payload))
}

// PublishSignal — сигнал экземпляру процесса. Потребитель: движок процессов.
func (p *Publisher) PublishSignal(ctx context.Context, payload SignalPayload) error {
	return p.Publish(ctx, ExchangeSignals, RoutingKeySignal, NewMessage(MessageTypeSignal, payload))
}
