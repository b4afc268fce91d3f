package handler

import "fmt"

// Ключи результата work item'а.
const (
	ResultResponseCode = "responseCode"
	ResultBody         = "result"
	ResultCancelURL    = "cancelUrl"
	ResultError        = "error"
)

// FailureKind — класс ошибки в результате.
// Процесс на стороне движка ветвится по наличию error, а kind нужен
// для диагностики и для условий вида error.kind == "remote_failure".
type FailureKind string

const (
	KindInvalidParameters    FailureKind = "invalid_parameters"
	KindUnresolvableVariable FailureKind = "unresolvable_variable"
	KindRemoteInvocation     FailureKind = "remote_invocation"
	KindRemoteFailure        FailureKind = "remote_failure"
	KindResponseProcessing   FailureKind = "response_processing"
	KindAbortRequested       FailureKind = "abort_requested"
	KindInternal             FailureKind = "internal"
)

// Failure — причина неуспешного завершения шага.
type Failure struct {
	Kind    FailureKind
	Message string
}

// Error реализует интерфейс error.
func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// Map возвращает представление для результата work item'а.
func (f *Failure) Map() map[string]any {
	return map[string]any{
		"kind":    string(f.Kind),
		"message": f.Message,
	}
}

// Result — терминальный результат вызова handler'а.
type Result struct {
	// ResponseCode — HTTP-код ответа (0, если ответа не было).
	ResponseCode int

	// Body — разобранное тело ответа (string-keyed map).
	Body map[string]any

	// CancelURL — URL отмены удалённой операции.
	CancelURL string

	// Err — причина неуспеха; nil для успешного шага.
	Err *Failure
}

// Failed возвращает true, если результат содержит ошибку.
func (r Result) Failed() bool {
	return r.Err != nil
}

// Map возвращает результат в едином формате:
//
//	{"responseCode": 200, "result": {...}, "cancelUrl": "..."}
//
// Ключ error присутствует только при неуспехе.
func (r Result) Map() map[string]any {
	body := r.Body
	if body == nil {
		body = make(map[string]any)
	}

	m := map[string]any{
		ResultResponseCode: r.ResponseCode,
		ResultBody:         body,
		ResultCancelURL:    r.CancelURL,
	}
	if r.Err != nil {
		m[ResultError] = r.Err.Map()
	}
	return m
}

// failed собирает результат с ошибкой.
func failed(code int, kind FailureKind, message string) Result {
	return Result{
		ResponseCode: code,
		Err:          &Failure{Kind: kind, Message: message},
	}
}

// AbortResult — результат отменённого шага.
func AbortResult() Result {
	return failed(0, KindAbortRequested, ErrAbortRequested.Error())
}
