// Package api содержит HTTP API сервер longrest.
//
// Структура:
//   - handler.go          — Handler с DI (репозитории, реестры, publisher, logger)
//   - routes.go           — chi router и регистрация маршрутов
//   - middleware.go       — middleware (logging, recovery, metrics)
//   - response.go         — унифицированные JSON-ответы и обработка ошибок
//   - dto.go              — Data Transfer Objects (request/response)
//   - instance_handler.go — обработчики для /processes/instances
//   - signal_handler.go   — callback'и удалённых сервисов (RESTResponded, imAlive)
//   - workitem_handler.go — обработчики для /workitems
//
// Удалённые сервисы обращаются к API по callback URL, который handler
// передаёт им в системных переменных шаблона.
package api
