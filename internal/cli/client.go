package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// InstanceResponse — экземпляр процесса из API.
type InstanceResponse struct {
	ID           string         `json:"id"`
	ParentID     string         `json:"parent_id,omitempty"`
	DeploymentID string         `json:"deployment_id"`
	ProcessName  string         `json:"process_name"`
	State        string         `json:"state"`
	Variables    map[string]any `json:"variables,omitempty"`
	CreatedAt    string         `json:"created_at"`
}

// WorkItemResponse — work item из API.
type WorkItemResponse struct {
	ID                string         `json:"id"`
	ProcessInstanceID string         `json:"process_instance_id"`
	DeploymentID      string         `json:"deployment_id"`
	Name              string         `json:"name"`
	Status            string         `json:"status"`
	Parameters        map[string]any `json:"parameters,omitempty"`
	Results           map[string]any `json:"results,omitempty"`
	StartedAt         string         `json:"started_at,omitempty"`
	CompletedAt       string         `json:"completed_at,omitempty"`
	CreatedAt         string         `json:"created_at"`
}

// SignalResponse — подтверждение принятого сигнала.
type SignalResponse struct {
	ProcessInstanceID string `json:"process_instance_id"`
	Event             string `json:"event"`
}

// --- Request types ---

// CreateInstanceRequest — регистрация экземпляра процесса.
type CreateInstanceRequest struct {
	ID           string         `json:"id,omitempty"`
	DeploymentID string         `json:"deployment_id"`
	ProcessName  string         `json:"process_name"`
	Variables    map[string]any `json:"variables,omitempty"`
}

// CreateWorkItemRequest — создание work item.
type CreateWorkItemRequest struct {
	ProcessInstanceID string         `json:"process_instance_id"`
	Name              string         `json:"name"`
	Parameters        map[string]any `json:"parameters,omitempty"`
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для longrest API.
type Client struct {
	http *resty.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(30*time.Second).
			SetHeader("Accept", "application/json"),
	}
}

// --- Process instances ---

// CreateInstance регистрирует экземпляр процесса.
func (c *Client) CreateInstance(req CreateInstanceRequest) (*InstanceResponse, error) {
	var inst InstanceResponse
	err := c.post("/api/v1/processes/instances", req, &inst)
	return &inst, err
}

// GetInstance возвращает экземпляр процесса по ID.
func (c *Client) GetInstance(id string) (*InstanceResponse, error) {
	var inst InstanceResponse
	err := c.get("/api/v1/processes/instances/"+id, &inst)
	return &inst, err
}

// --- Signals ---

// SignalResponded отправляет RESTResponded с телом ответа удалённого сервиса.
func (c *Client) SignalResponded(instanceID string, body any) (*SignalResponse, error) {
	return c.signal(instanceID, "RESTResponded", body)
}

// SignalAlive отправляет imAlive. Пустой timeout оставляет прежний.
func (c *Client) SignalAlive(instanceID, timeout string) (*SignalResponse, error) {
	var body any
	if timeout != "" {
		body = map[string]string{"timeout": timeout}
	}
	return c.signal(instanceID, "imAlive", body)
}

// SignalSend отправляет произвольный сигнал.
func (c *Client) SignalSend(instanceID, event string, data any) (*SignalResponse, error) {
	return c.signal(instanceID, event, data)
}

func (c *Client) signal(instanceID, event string, body any) (*SignalResponse, error) {
	var resp SignalResponse
	err := c.post("/api/v1/processes/instances/"+instanceID+"/signal/"+event, body, &resp)
	return &resp, err
}

// --- Work items ---

// CreateWorkItem создаёт work item.
func (c *Client) CreateWorkItem(req CreateWorkItemRequest) (*WorkItemResponse, error) {
	var item WorkItemResponse
	err := c.post("/api/v1/workitems", req, &item)
	return &item, err
}

// GetWorkItem возвращает work item по ID.
func (c *Client) GetWorkItem(id string) (*WorkItemResponse, error) {
	var item WorkItemResponse
	err := c.get("/api/v1/workitems/"+id, &item)
	return &item, err
}

// AbortWorkItem прерывает work item.
func (c *Client) AbortWorkItem(id string) (*WorkItemResponse, error) {
	var item WorkItemResponse
	err := c.post("/api/v1/workitems/"+id+"/abort", nil, &item)
	return &item, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	var dr dataResponse
	var er errorResponse

	req := c.http.R().
		SetResult(&dr).
		SetError(&er)
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}

	// Ответ с HTTP-ошибкой разбираем, даже если тело не удалось декодировать
	resp, err := req.Execute(method, path)
	if resp != nil && resp.IsError() {
		if er.Error.Code == "" {
			return fmt.Errorf("API error: HTTP %d", resp.StatusCode())
		}
		return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
	}
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}

	// 204 No Content
	if resp.StatusCode() == http.StatusNoContent || result == nil || len(dr.Data) == 0 {
		return nil
	}

	if err := json.Unmarshal(dr.Data, result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
