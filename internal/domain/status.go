package domain

// ProcessState — состояние экземпляра процесса.
//
// Жизненный цикл:
//
//	ACTIVE → COMPLETED
//	       ↘ ABORTED
type ProcessState string

const (
	// ProcessStateActive — процесс выполняется (в том числе ждёт сигнала).
	ProcessStateActive ProcessState = "ACTIVE"

	// ProcessStateCompleted — процесс завершён.
	ProcessStateCompleted ProcessState = "COMPLETED"

	// ProcessStateAborted — процесс прерван движком.
	ProcessStateAborted ProcessState = "ABORTED"
)

// IsTerminal возвращает true, если состояние финальное.
func (s ProcessState) IsTerminal() bool {
	switch s {
	case ProcessStateCompleted, ProcessStateAborted:
		return true
	default:
		return false
	}
}

// WorkItemStatus — статус work item.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → COMPLETED
//	        ↘         ↘ ABORTED
//
// COMPLETED и ABORTED финальные: переход в них происходит ровно один раз
// (compare-and-set в репозитории).
type WorkItemStatus string

const (
	// WorkItemStatusPending — work item создан движком и ждёт воркера.
	WorkItemStatusPending WorkItemStatus = "PENDING"

	// WorkItemStatusRunning — воркер забрал work item и выполняет handler.
	WorkItemStatusRunning WorkItemStatus = "RUNNING"

	// WorkItemStatusCompleted — work item завершён (успешно или с error в results).
	WorkItemStatusCompleted WorkItemStatus = "COMPLETED"

	// WorkItemStatusAborted — work item прерван движком.
	WorkItemStatusAborted WorkItemStatus = "ABORTED"
)

// IsTerminal возвращает true, если статус финальный.
func (s WorkItemStatus) IsTerminal() bool {
	switch s {
	case WorkItemStatusCompleted, WorkItemStatusAborted:
		return true
	default:
		return false
	}
}

// AwaitStatus — статус ожидания ответа удалённого сервиса.
//
// Жизненный цикл:
//
//	WAITING → RESPONDED (пришёл callback RESTResponded)
//	        ↘ DIED      (heartbeat monitor зафиксировал таймаут)
//	        ↘ CANCELLED (процесс прерван)
type AwaitStatus string

const (
	// AwaitStatusWaiting — шаг припаркован и ждёт callback.
	AwaitStatusWaiting AwaitStatus = "WAITING"

	// AwaitStatusResponded — удалённый сервис ответил.
	AwaitStatusResponded AwaitStatus = "RESPONDED"

	// AwaitStatusDied — удалённый сервис перестал присылать heartbeat.
	AwaitStatusDied AwaitStatus = "DIED"

	// AwaitStatusCancelled — ожидание отменено.
	AwaitStatusCancelled AwaitStatus = "CANCELLED"
)

// IsTerminal возвращает true, если ожидание уже разрешено.
func (s AwaitStatus) IsTerminal() bool {
	return s != AwaitStatusWaiting
}
