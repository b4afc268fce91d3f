package invoker

import (
	"errors"
	"fmt"
)

// Ошибки invoker'а.
var (
	// ErrRemoteInvocation — не удалось дойти до удалённого сервиса
	// (сеть, DNS, отказ в соединении, любой из таймаутов).
	ErrRemoteInvocation = errors.New("remote invocation failed")

	// ErrInvalidRequest — запрос нельзя отправить (нет url/method).
	ErrInvalidRequest = errors.New("invalid remote request")
)

// InvocationError — ошибка вызова удалённого сервиса с контекстом.
//
// Какой именно таймаут сработал, вызывающему не важно:
// все транспортные сбои классифицируются одинаково.
type InvocationError struct {
	Method string
	URL    string
	Err    error
}

// Error реализует интерфейс error.
func (e *InvocationError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

// Unwrap возвращает ErrRemoteInvocation и исходную причину.
func (e *InvocationError) Unwrap() []error {
	return []error{ErrRemoteInvocation, e.Err}
}
