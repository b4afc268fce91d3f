package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики handler'ов.
var (
	// InvocationsTotal — вызовы удалённых сервисов по handler'у и исходу
	// (success, remote_failure, processing_failure, invalid_parameters, ...).
	InvocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "longrest_invocations_total",
		Help: "Remote service invocations by handler and outcome",
	}, []string{"handler", "outcome"})

	// InvocationDuration — длительность обработки work item handler'ом.
	InvocationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "longrest_invocation_duration_seconds",
		Help:    "Work item handler execution time",
		Buckets: prometheus.DefBuckets,
	}, []string{"handler"})
)

// Метрики heartbeat monitor'а.
var (
	HeartbeatScansTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "longrest_heartbeat_scans_total",
		Help: "Heartbeat monitor scans",
	})

	HeartbeatDiedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "longrest_heartbeat_died_total",
		Help: "Died signals sent by heartbeat monitor",
	})

	HeartbeatScanErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "longrest_heartbeat_scan_errors_total",
		Help: "Per-instance errors skipped during heartbeat scans",
	})
)

// SignalsTotal — сигналы процессов по событию и результату (accepted, already_resolved, error).
var SignalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "longrest_signals_total",
	Help: "Process signals by event and result",
}, []string{"event", "result"})

// WorkItemsTotal — work item'ы, обработанные воркером, по статусу.
var WorkItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "longrest_work_items_total",
	Help: "Work items processed by worker, by final status",
}, []string{"status"})

// HTTPRequestsTotal — запросы к API по методу, шаблону маршрута и статусу.
var HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "longrest_http_requests_total",
	Help: "HTTP requests handled by the API, by method, route and status",
}, []string{"method", "route", "status"})

// MessagesTotal — сообщения RabbitMQ по очереди и исходу (ack, requeue, dlq).
var MessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "longrest_mq_messages_total",
	Help: "Consumed AMQP messages by queue and settlement",
}, []string{"queue", "settlement"})

// MessagesPublishedTotal — опубликованные сообщения по типу и результату (ok, error).
var MessagesPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "longrest_mq_published_total",
	Help: "Published AMQP messages by type and result",
}, []string{"type", "result"})
