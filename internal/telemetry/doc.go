// Package telemetry — логирование и метрики longrest.
//
// logging.go настраивает slog: JSON в production, цветной tint для
// log.format=text. Хелперы WithWorkItemID, WithProcessInstanceID и
// WithDeploymentID добавляют к логгеру идентификаторы; API кладёт
// логгер запроса в контекст (WithLogger/FromContext).
//
// metrics.go объявляет Prometheus-счётчики handler'ов, heartbeat
// monitor'а, consumer'ов RabbitMQ и API. Каждый бинарник отдаёт их
// на /metrics.
package telemetry
