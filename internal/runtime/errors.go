package runtime

import "errors"

// Ошибки runtime.
var (
	// ErrAlreadyCompleted — work item уже в финальном статусе.
	ErrAlreadyCompleted = errors.New("work item already completed")

	// ErrAlreadyResolved — ожидание уже разрешено другим сигналом.
	ErrAlreadyResolved = errors.New("await already resolved")

	// ErrNotAwaiting — экземпляр процесса ничего не ждёт.
	ErrNotAwaiting = errors.New("process instance is not awaiting")

	// ErrUnknownDeployment — деплоймент не зарегистрирован.
	ErrUnknownDeployment = errors.New("unknown deployment")

	// ErrInvalidSignal — пустое имя события или некорректные данные сигнала.
	ErrInvalidSignal = errors.New("invalid signal")
)
