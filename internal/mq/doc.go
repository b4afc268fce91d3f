// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — управление соединением с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация сообщений в очереди
//   - consumer.go   — потребление сообщений из очередей
//
// Типы сообщений:
//   - workitem.dispatch  — work item готов к выполнению (API → worker)
//   - workitem.completed — work item завершён или отменён (worker/API → движок)
//   - signal.event       — сигнал процессу: RESTResponded, died, ... (→ движок)
//
// Consumer подтверждает сообщение после успешного Handler'а. Ошибка
// возвращает сообщение в очередь, ErrReject (и повторный сбой при
// RejectRedelivered) отправляет его в DLQ.
//
// Exchanges:
//   - longrest.workitems — события work item'ов
//   - longrest.signals   — сигналы процессов
//   - longrest.dlq       — dead letter queue
package mq
