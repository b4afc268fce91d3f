package domain

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Параметры шага, которые движок передаёт в work item.
const (
	ParamURL                  = "url"
	ParamMethod               = "method"
	ParamHeaders              = "headers"
	ParamTemplate             = "template"
	ParamCancelURLJSONPointer = "cancelUrlJsonPointer"
	ParamCancelURLTemplate    = "cancelUrlTemplate"

	// Необязательные таймауты в миллисекундах.
	// Если не заданы, используются значения из конфигурации воркера.
	ParamConnectTimeout = "connectTimeout"
	ParamReadTimeout    = "readTimeout"
	ParamRequestTimeout = "requestTimeout"
)

// WorkItem — единица работы, делегированная движком процессов handler'у.
//
// Движок создаёт work item, когда процесс доходит до шага.
// Воркер забирает его, выполняет handler и сообщает результат
// через CompleteWorkItem / AbortWorkItem.
type WorkItem struct {
	// ID — уникальный идентификатор work item.
	ID uuid.UUID `json:"id"`

	// ProcessInstanceID — экземпляр процесса, которому принадлежит шаг.
	ProcessInstanceID uuid.UUID `json:"process_instance_id"`

	// DeploymentID — деплоймент процесса.
	DeploymentID string `json:"deployment_id"`

	// Name — имя handler'а ("LongRunningRestService", "Rest").
	Name string `json:"name"`

	// Parameters — входные параметры шага (url, method, template, ...).
	Parameters map[string]any `json:"parameters,omitempty"`

	// Status — текущий статус.
	Status WorkItemStatus `json:"status"`

	// Results — результат handler'а: responseCode, result, cancelUrl, error.
	Results map[string]any `json:"results,omitempty"`

	// StartedAt — время, когда воркер забрал work item.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt — время перехода в финальный статус.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// CreatedAt — время создания.
	CreatedAt time.Time `json:"created_at"`
}

// IsFinished возвращает true, если work item в финальном статусе.
func (w *WorkItem) IsFinished() bool {
	return w.Status.IsTerminal()
}

// MarkRunning переводит work item в статус RUNNING.
func (w *WorkItem) MarkRunning() {
	now := time.Now()
	w.Status = WorkItemStatusRunning
	w.StartedAt = &now
}

// MarkCompleted переводит work item в статус COMPLETED с результатом.
func (w *WorkItem) MarkCompleted(results map[string]any) {
	now := time.Now()
	w.Status = WorkItemStatusCompleted
	w.CompletedAt = &now
	w.Results = results
}

// MarkAborted переводит work item в статус ABORTED.
func (w *WorkItem) MarkAborted(results map[string]any) {
	now := time.Now()
	w.Status = WorkItemStatusAborted
	w.CompletedAt = &now
	w.Results = results
}

// StringParam возвращает строковый параметр или "".
func (w *WorkItem) StringParam(name string) string {
	if v, ok := w.Parameters[name]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// DurationParam возвращает параметр-таймаут в миллисекундах как time.Duration.
// Возвращает 0, если параметр не задан или некорректен.
func (w *WorkItem) DurationParam(name string) time.Duration {
	v, ok := w.Parameters[name]
	if !ok || v == nil {
		return 0
	}

	var ms int64
	switch n := v.(type) {
	case int:
		ms = int64(n)
	case int64:
		ms = n
	case float64:
		ms = int64(n)
	case json.Number:
		parsed, err := n.Int64()
		if err != nil {
			return 0
		}
		ms = parsed
	case string:
		parsed, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0
		}
		ms = parsed
	default:
		return 0
	}

	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}
