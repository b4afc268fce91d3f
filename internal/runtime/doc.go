// Package runtime связывает handler'ы с движком процессов.
//
// Manager (один на деплоймент) принимает результаты handler'ов, паркует
// долгие шаги и доставляет сигналы (RESTResponded, imAlive, died).
// Registry — явный реестр Manager'ов по deployment id; создаётся в main
// и передаётся в API, воркер и heartbeat monitor.
//
// Завершение шага выполняется не более одного раза: статус work item'а
// и статус ожидания меняются compare-and-set'ом, проигравший путь
// получает ErrAlreadyCompleted или ErrAlreadyResolved.
package runtime
