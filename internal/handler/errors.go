package handler

import "errors"

// Ошибки handler'ов.
var (
	// ErrHandlerNotFound — handler с таким именем не зарегистрирован.
	ErrHandlerNotFound = errors.New("work item handler not found")

	// ErrInvalidParameters — у work item нет обязательных параметров.
	ErrInvalidParameters = errors.New("invalid work item parameters")

	// ErrResponseProcessing — тело ответа не разобрать или не извлечь cancel URL.
	ErrResponseProcessing = errors.New("response processing failed")

	// ErrAbortRequested — шаг отменён движком.
	ErrAbortRequested = errors.New("abort requested")
)
