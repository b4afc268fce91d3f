package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/longrest/internal/telemetry"
)

// ErrReject — обработчик отказывается от сообщения навсегда:
// сообщение уходит в DLQ без повторной доставки.
var ErrReject = errors.New("message rejected")

// Handler обрабатывает сообщение.
// Ошибка приводит к nack: с повторной доставкой, если это не ErrReject.
type Handler func(ctx context.Context, msg *Delivery) error

// Delivery — доставленное сообщение.
type Delivery struct {
	Message Message

	// Redelivered — сообщение уже доставлялось и не было подтверждено.
	Redelivered bool
}

// Исход обработки сообщения (метка метрики).
type settlement string

const (
	settleAck     settlement = "ack"
	settleRequeue settlement = "requeue"
	settleDLQ     settlement = "dlq"
)

// ConsumerConfig — конфигурация consumer.
type ConsumerConfig struct {
	Queue   Queue
	Handler Handler

	// Prefetch — неподтверждённых сообщений на канал (default: 1).
	Prefetch int

	// Types — допустимые типы сообщений. Сообщения других типов уходят
	// в DLQ, не доходя до Handler. Пусто — любые.
	Types []MessageType

	// RejectRedelivered отправляет в DLQ сообщение, которое уже
	// доставлялось и снова не обработано. Подходит очередям, у которых
	// есть другой путь восстановления (polling), чтобы сбойное сообщение
	// не крутилось по кругу.
	RejectRedelivered bool
}

// Consumer потребляет сообщения из очереди RabbitMQ и переживает
// переподключения Connection.
type Consumer struct {
	conn   *Connection
	logger *slog.Logger
	cfg    ConsumerConfig

	cancelFunc context.CancelFunc
}

// NewConsumer создаёт Consumer.
func NewConsumer(conn *Connection, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Consumer{
		conn:   conn,
		logger: logger.With("queue", cfg.Queue),
		cfg:    cfg,
	}
}

// Start потребляет сообщения до отмены ctx или Stop.
// Возвращает ошибку контекста.
func (c *Consumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		deliveries, err := c.subscribe()
		if err != nil {
			c.logger.Error("failed to subscribe", "error", err)
		} else {
			c.logger.Info("consumer started")
			c.drain(ctx, deliveries)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("deliveries channel closed, waiting for reconnect")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.conn.ReconnectNotify():
			c.logger.Info("reconnected, resubscribing")
		}
	}
}

// Stop останавливает consumer.
func (c *Consumer) Stop() {
	if c.cancelFunc != nil {
		c.cancelFunc()
	}
}

// subscribe открывает потребление на текущем канале соединения.
func (c *Consumer) subscribe() (<-chan amqp.Delivery, error) {
	ch := c.conn.Channel()
	if ch == nil {
		return nil, ErrNoChannel
	}

	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}

	// Ручной ack, тег генерирует брокер
	deliveries, err := ch.Consume(string(c.cfg.Queue), "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", c.cfg.Queue, err)
	}
	return deliveries, nil
}

// drain обрабатывает сообщения, пока канал открыт и ctx жив.
func (c *Consumer) drain(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-deliveries:
			if !ok {
				return
			}
			c.handleDelivery(ctx, raw)
		}
	}
}

// handleDelivery обрабатывает одно сообщение и подтверждает его.
func (c *Consumer) handleDelivery(ctx context.Context, raw amqp.Delivery) {
	var msg Message
	if err := json.Unmarshal(raw.Body, &msg); err != nil {
		c.logger.Error("failed to unmarshal message", "error", err, "body", string(raw.Body))
		c.settle(raw, settleDLQ)
		return
	}

	logger := c.logger.With("message_id", msg.ID, "type", msg.Type)

	if len(c.cfg.Types) > 0 && !slices.Contains(c.cfg.Types, msg.Type) {
		logger.Error("unexpected message type")
		c.settle(raw, settleDLQ)
		return
	}

	logger.Debug("received message", "redelivered", raw.Redelivered)

	err := c.cfg.Handler(ctx, &Delivery{Message: msg, Redelivered: raw.Redelivered})
	if err == nil {
		c.settle(raw, settleAck)
		return
	}

	outcome := c.failureSettlement(err, raw.Redelivered)
	logger.Error("handler failed", "settlement", outcome, "error", err)
	c.settle(raw, outcome)
}

func (c *Consumer) failureSettlement(err error, redelivered bool) settlement {
	if errors.Is(err, ErrReject) {
		return settleDLQ
	}
	if redelivered && c.cfg.RejectRedelivered {
		return settleDLQ
	}
	return settleRequeue
}

func (c *Consumer) settle(raw amqp.Delivery, outcome settlement) {
	var err error
	switch outcome {
	case settleAck:
		err = raw.Ack(false)
	case settleRequeue:
		err = raw.Nack(false, true)
	default:
		err = raw.Nack(false, false)
	}
	if err != nil {
		c.logger.Warn("failed to settle message", "settlement", outcome, "error", err)
	}
	telemetry.MessagesTotal.WithLabelValues(string(c.cfg.Queue), string(outcome)).Inc()
}

// ParsePayload декодирует payload сообщения в T.
// После доставки Payload — map[string]any, поэтому идём через JSON.
func ParsePayload[T any](msg *Message) (T, error) {
	var result T

	raw, err := json.Marshal(msg.Payload)
	if err != nil {
		return result, fmt.Errorf("marshal payload: %w", err)
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return result, fmt.Errorf("unmarshal payload: %w", err)
	}
	return result, nil
}
