package domain

import (
	"time"

	"github.com/google/uuid"
)

// ProcessInstance — запущенный экземпляр определения процесса.
//
// Экземпляры могут быть вложены: ParentID указывает на родительский
// экземпляр (подпроцесс). Переменные родителей доступны шаблонам через
// цепочку scope'ов (см. engine.BuildProcessChain).
type ProcessInstance struct {
	// ID — уникальный идентификатор экземпляра.
	ID uuid.UUID `json:"id"`

	// ParentID — родительский экземпляр (nil для корневого процесса).
	ParentID *uuid.UUID `json:"parent_id,omitempty"`

	// DeploymentID — деплоймент (контейнер), которому принадлежит процесс.
	// По нему runtime.Registry находит Manager.
	DeploymentID string `json:"deployment_id"`

	// ProcessName — имя определения процесса.
	// Heartbeat monitor сканирует активные экземпляры по этому имени.
	ProcessName string `json:"process_name"`

	// State — текущее состояние.
	State ProcessState `json:"state"`

	// Variables — переменные процесса (ключ — имя переменной).
	Variables map[string]any `json:"variables,omitempty"`

	// CreatedAt — время создания.
	CreatedAt time.Time `json:"created_at"`
}

// IsActive возвращает true, если экземпляр ещё выполняется.
func (p *ProcessInstance) IsActive() bool {
	return p.State == ProcessStateActive
}

// Variable возвращает переменную процесса.
func (p *ProcessInstance) Variable(name string) (any, bool) {
	if p.Variables == nil {
		return nil, false
	}
	v, ok := p.Variables[name]
	return v, ok
}
