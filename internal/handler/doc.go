// Package handler содержит work item handler'ы для REST-сервисов.
//
// Основные компоненты:
//   - ProcessResponse — классификация HTTP-ответа (success / remote failure /
//     processing failure) и извлечение cancel URL
//   - LongRunningHandler — шаг, который отправляет запрос долгому сервису
//     и паркуется до callback'а RESTResponded или сигнала died
//   - RestHandler — тот же конвейер для обычных синхронных вызовов
//   - Registry — реестр handler'ов по имени
//
// Handler никогда не оставляет work item висеть: любой путь выполнения,
// включая панику, заканчивается ровно одним CompleteWorkItem с единым
// форматом результата {responseCode, result, cancelUrl, error?}.
// Повторных вызовов handler не делает: живость удалённой стороны
// контролирует heartbeat monitor.
package handler
