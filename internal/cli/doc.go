// Package cli реализует инструмент командной строки longrest.
//
// # Обзор
//
// CLI работает с API через HTTP и не импортирует внутренние пакеты.
// Им удобно регистрировать экземпляры, создавать work item'ы и вручную
// отправлять сигналы, которые обычно шлёт удалённый сервис.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент на resty. Разбирает обёртки {"data": ...} и
// {"error": {"code", "message"}} и превращает последнюю в error.
//
//	client := cli.NewClient("http://localhost:8080")
//	item, err := client.GetWorkItem(id)
//
// ## Output
//
// Таблицы (text/tabwriter) по умолчанию, JSON с флагом --json.
// Данные идут в stdout, сообщения в stderr:
//
//	longrest workitem show ID --json | jq .results
//
// ## Commands
//
//   - instance: create, show
//   - workitem: create, show, abort
//   - signal: responded, alive, send
//
// Группы создаются фабриками (NewWorkItemCmd и т.д.), которые получают
// clientFn и outputFn и создают Client и Output после разбора флагов.
package cli
