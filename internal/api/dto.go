package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/longrest/internal/domain"
)

// Process instance DTOs

// CreateInstanceRequest — запрос на регистрацию экземпляра процесса.
// ID задаёт движок; если не задан, генерируется.
type CreateInstanceRequest struct {
	ID           *uuid.UUID     `json:"id,omitempty"`
	ParentID     *uuid.UUID     `json:"parent_id,omitempty"`
	DeploymentID string         `json:"deployment_id"`
	ProcessName  string         `json:"process_name"`
	Variables    map[string]any `json:"variables,omitempty"`
}

// InstanceResponse — ответ с экземпляром процесса.
type InstanceResponse struct {
	ID           uuid.UUID      `json:"id"`
	ParentID     *uuid.UUID     `json:"parent_id,omitempty"`
	DeploymentID string         `json:"deployment_id"`
	ProcessName  string         `json:"process_name"`
	State        string         `json:"state"`
	Variables    map[string]any `json:"variables,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// InstanceFromDomain конвертирует domain.ProcessInstance в InstanceResponse.
func InstanceFromDomain(p *domain.ProcessInstance) InstanceResponse {
	return InstanceResponse{
		ID:           p.ID,
		ParentID:     p.ParentID,
		DeploymentID: p.DeploymentID,
		ProcessName:  p.ProcessName,
		State:        string(p.State),
		Variables:    p.Variables,
		CreatedAt:    p.CreatedAt,
	}
}

// Signal DTOs

// ImAliveRequest — тело imAlive. Timeout в ISO-8601 ("PT30S"), необязателен.
type ImAliveRequest struct {
	Timeout string `json:"timeout,omitempty"`
}

// SignalResponse — ответ на принятый сигнал.
type SignalResponse struct {
	ProcessInstanceID uuid.UUID `json:"process_instance_id"`
	Event             string    `json:"event"`
}

// Work item DTOs

// CreateWorkItemRequest — запрос на создание work item.
type CreateWorkItemRequest struct {
	ProcessInstanceID uuid.UUID      `json:"process_instance_id"`
	Name              string         `json:"name"`
	Parameters        map[string]any `json:"parameters,omitempty"`
}

// WorkItemResponse — ответ с work item.
type WorkItemResponse struct {
	ID                uuid.UUID      `json:"id"`
	ProcessInstanceID uuid.UUID      `json:"process_instance_id"`
	DeploymentID      string         `json:"deployment_id"`
	Name              string         `json:"name"`
	Status            string         `json:"status"`
	Parameters        map[string]any `json:"parameters,omitempty"`
	Results           map[string]any `json:"results,omitempty"`
	StartedAt         *time.Time     `json:"started_at,omitempty"`
	CompletedAt       *time.Time     `json:"completed_at,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}

// WorkItemFromDomain конвертирует domain.WorkItem в WorkItemResponse.
func WorkItemFromDomain(w *domain.WorkItem) WorkItemResponse {
	return WorkItemResponse{
		ID:                w.ID,
		ProcessInstanceID: w.ProcessInstanceID,
		DeploymentID:      w.DeploymentID,
		Name:              w.Name,
		Status:            string(w.Status),
		Parameters:        w.Parameters,
		Results:           w.Results,
		StartedAt:         w.StartedAt,
		CompletedAt:       w.CompletedAt,
		CreatedAt:         w.CreatedAt,
	}
}
