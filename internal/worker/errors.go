package worker

import "errors"

// Ошибки воркера.
var (
	// ErrWorkerStopped — воркер остановлен, новые work item'ы не принимаются.
	ErrWorkerStopped = errors.New("worker stopped")

	// ErrNoManager — для деплоймента work item'а нет Manager'а.
	ErrNoManager = errors.New("no manager for deployment")

	// ErrHandlerPanic — handler упал с паникой.
	ErrHandlerPanic = errors.New("handler panicked")

	// ErrWorkerLost — воркер, забравший work item, не сообщил результат.
	ErrWorkerLost = errors.New("worker lost")
)
