package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	ExchangeWorkItems Exchange = "longrest.workitems"
	ExchangeSignals   Exchange = "longrest.signals"
	ExchangeDLQ       Exchange = "longrest.dlq"
)

// Queues — имена очередей.
const (
	QueueWorkItemsDispatch  Queue = "workitems.dispatch"
	QueueWorkItemsCompleted Queue = "workitems.completed"
	QueueSignalsEvents      Queue = "signals.events"
	QueueDLQWorkItems       Queue = "dlq.workitems"
)

// Routing keys.
const (
	RoutingKeyDispatch     RoutingKey = "dispatch"
	RoutingKeyCompleted    RoutingKey = "completed"
	RoutingKeySignal       RoutingKey = "signal"
	RoutingKeyDLQWorkItems RoutingKey = "workitems"
)

// exchangeSpec, queueSpec, bindingSpec — декларативное описание топологии.
type exchangeSpec struct {
	name Exchange
	kind string
}

type queueSpec struct {
	name Queue
	args amqp.Table
}

type bindingSpec struct {
	queue      Queue
	routingKey RoutingKey
	exchange   Exchange
}

var topologyExchanges = []exchangeSpec{
	{ExchangeWorkItems, "direct"},
	{ExchangeSignals, "direct"},
	{ExchangeDLQ, "direct"},
}

var topologyQueues = []queueSpec{
	// workitems.dispatch — с DLQ: сообщение, которое не удалось разобрать, уходит в dlq.workitems
	{QueueWorkItemsDispatch, amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQWorkItems),
	}},

	// workitems.completed и signals.events — события для движка процессов
	{QueueWorkItemsCompleted, nil},
	{QueueSignalsEvents, nil},

	{QueueDLQWorkItems, nil},
}

var topologyBindings = []bindingSpec{
	{QueueWorkItemsDispatch, RoutingKeyDispatch, ExchangeWorkItems},
	{QueueWorkItemsCompleted, RoutingKeyCompleted, ExchangeWorkItems},
	{QueueSignalsEvents, RoutingKeySignal, ExchangeSignals},
	{QueueDLQWorkItems, RoutingKeyDLQWorkItems, ExchangeDLQ},
}

// SetupTopology объявляет exchanges, queues и bindings. Идемпотентна:
// каждый бинарник вызывает её при старте.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		for _, ex := range topologyExchanges {
			// durable, не auto-delete, не internal
			if err := ch.ExchangeDeclare(string(ex.name), ex.kind, true, false, false, false, nil); err != nil {
				return fmt.Errorf("declare exchange %s: %w", ex.name, err)
			}
		}

		for _, q := range topologyQueues {
			if _, err := ch.QueueDeclare(string(q.name), true, false, false, false, q.args); err != nil {
				return fmt.Errorf("declare queue %s: %w", q.name, err)
			}
		}

		for _, b := range topologyBindings {
			if err := ch.QueueBind(string(b.queue), string(b.routingKey), string(b.exchange), false, nil); err != nil {
				return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
			}
		}

		conn.logger.Debug("topology declared", "bindings", describeBindings())
		return nil
	})
}

// describeBindings перечисляет привязки как "exchange/key -> queue".
func describeBindings() []string {
	out := make([]string, 0, len(topologyBindings))
	for _, b := range topologyBindings {
		out = append(out, fmt.Sprintf("%s/%s -> %s", b.exchange, b.routingKey, b.queue))
	}
	return out
}
