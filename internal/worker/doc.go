// Package worker выполняет work item'ы.
//
// # Обзор
//
// Worker — stateless компонент системы longrest, который забирает
// work item'ы, созданные движком процессов, и выполняет их handler'ы
// (LongRunningRestService, Rest). Worker отвечает за:
//
//   - Получение work item'ов из очереди RabbitMQ workitems.dispatch (event-driven)
//   - Периодическую проверку PENDING work item'ов в БД (polling fallback)
//   - Захват work item'а compare-and-set'ом PENDING → RUNNING
//   - Выполнение handler'а в Pool с ограниченной конкурентностью
//
// Результат handler сообщает сам, через runtime.Manager своего деплоймента.
//
// # Ключевые компоненты
//
// ## Worker
//
//	w := worker.New(worker.Config{
//	    WorkItems: workItemRepo,
//	    Handlers:  handler.DefaultRegistry(handlerCfg),
//	    Managers:  worker.RegistryManagers(managers),
//	    Conn:      mqConn,
//	    Logger:    logger,
//	})
//
//	if err := w.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer w.Stop()
//
// ## Pool
//
// errgroup.Group с SetLimit. Submit возвращает канал с Completion,
// паника handler'а превращается в ошибку ErrHandlerPanic.
// Stop дожидается всех выполняющихся handler'ов (Pool.Wait).
//
// # Ошибки
//
// Невалидное сообщение отклоняется в DLQ (mq.ErrReject). Work item без
// handler'а или без Manager'а завершается с ошибкой kind=internal.
package worker
