package mq

import (
	"time"

	"github.com/google/uuid"
)

// MessageType — тип сообщения (дублируется в AMQP-свойстве type).
type MessageType string

const (
	MessageTypeWorkItemDispatch  MessageType = "workitem.dispatch"
	MessageTypeWorkItemCompleted MessageType = "workitem.completed"
	MessageTypeSignal            MessageType = "signal.event"
)

// Message — конверт всех сообщений longrest.
// После доставки Payload — map[string]any; разбирается ParsePayload.
type Message struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	Payload   any         `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewMessage создаёт сообщение с новым ID.
func NewMessage(msgType MessageType, payload any) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// WorkItemDispatchPayload — work item готов к выполнению.
type WorkItemDispatchPayload struct {
	WorkItemID        uuid.UUID `json:"work_item_id"`
	ProcessInstanceID uuid.UUID `json:"process_instance_id"`
	DeploymentID      string    `json:"deployment_id"`
}

// WorkItemCompletedPayload — work item завершён (COMPLETED или ABORTED).
// Results — единая карта результата шага (responseCode, result, cancelUrl, error).
type WorkItemCompletedPayload struct {
	WorkItemID        uuid.UUID      `json:"work_item_id"`
	ProcessInstanceID uuid.UUID      `json:"process_instance_id"`
	DeploymentID      string         `json:"deployment_id"`
	Status            string         `json:"status"`
	Results           map[string]any `json:"results,omitempty"`
}

// SignalPayload — сигнал экземпляру процесса (RESTResponded, died, ...).
type SignalPayload struct {
	ProcessInstanceID uuid.UUID `json:"process_instance_id"`
	DeploymentID      string    `json:"deployment_id"`
	Event             string    `json:"event"`
	Data              any       `json:"data,omitempty"`
}
