package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/shaiso/longrest/internal/repo"
	"github.com/shaiso/longrest/internal/runtime"
)

// ErrorCode — код ошибки API.
type ErrorCode string

const (
	ErrCodeBadRequest     ErrorCode = "BAD_REQUEST"
	ErrCodeNotFound       ErrorCode = "NOT_FOUND"
	ErrCodeConflict       ErrorCode = "CONFLICT"
	ErrCodeInvalidState   ErrorCode = "INVALID_STATE"
	ErrCodeInternalError  ErrorCode = "INTERNAL_ERROR"
	ErrCodeMethodNotAllow ErrorCode = "METHOD_NOT_ALLOWED"
)

// ErrorResponse — тело ответа с ошибкой: {"error": {"code", "message"}}.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail — детали ошибки.
type ErrorDetail struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// DataResponse — тело успешного ответа: {"data": ...}.
type DataResponse struct {
	Data any `json:"data"`
}

// errorMapping — соответствие доменных ошибок HTTP-статусам.
// Порядок важен: проверяется первое совпадение по errors.Is.
var errorMapping = []struct {
	target error
	status int
	code   ErrorCode
}{
	// Ожидание уже разрешено другим путём (например, died от heartbeat monitor'а)
	{runtime.ErrAlreadyResolved, http.StatusConflict, ErrCodeConflict},
	{runtime.ErrAlreadyCompleted, http.StatusConflict, ErrCodeConflict},
	{runtime.ErrNotAwaiting, http.StatusUnprocessableEntity, ErrCodeInvalidState},
	{runtime.ErrInvalidSignal, http.StatusBadRequest, ErrCodeBadRequest},
	{runtime.ErrUnknownDeployment, http.StatusNotFound, ErrCodeNotFound},
	{repo.ErrNotFound, http.StatusNotFound, ErrCodeNotFound},
	{repo.ErrAlreadyExists, http.StatusConflict, ErrCodeConflict},
	{repo.ErrInvalidState, http.StatusUnprocessableEntity, ErrCodeInvalidState},
}

// JSON отправляет JSON ответ.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Success отправляет 200 с данными.
func Success(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, DataResponse{Data: data})
}

// Created отправляет 201.
func Created(w http.ResponseWriter, data any) {
	JSON(w, http.StatusCreated, DataResponse{Data: data})
}

// Accepted отправляет 202 (сигнал принят к доставке).
func Accepted(w http.ResponseWriter, data any) {
	JSON(w, http.StatusAccepted, DataResponse{Data: data})
}

// Error отправляет ответ с ошибкой.
func Error(w http.ResponseWriter, status int, code ErrorCode, message string) {
	JSON(w, status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}

func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func NotFound(w http.ResponseWriter, message string) {
	Error(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func InvalidState(w http.ResponseWriter, message string) {
	Error(w, http.StatusUnprocessableEntity, ErrCodeInvalidState, message)
}

func MethodNotAllowed(w http.ResponseWriter) {
	Error(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
}

// InternalError логирует причину и отправляет 500 без деталей.
func InternalError(w http.ResponseWriter, logger *slog.Logger, err error) {
	logger.Error("internal error", "error", err)
	Error(w, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")
}

// HandleError пишет ответ для ошибки репозитория или runtime.Manager.
// Возвращает false, если err == nil и обработку нужно продолжить.
//
// notFoundMsg заменяет текст ошибки для 404 ("work item not found"),
// пустой оставляет текст err.
func HandleError(w http.ResponseWriter, logger *slog.Logger, err error, notFoundMsg string) bool {
	if err == nil {
		return false
	}

	for _, m := range errorMapping {
		if !errors.Is(err, m.target) {
			continue
		}
		msg := err.Error()
		if m.status == http.StatusNotFound && notFoundMsg != "" {
			msg = notFoundMsg
		}
		Error(w, m.status, m.code, msg)
		return true
	}

	InternalError(w, logger, err)
	return true
}
