package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/shaiso/longrest/internal/domain"
)

// CreateInstance регистрирует экземпляр процесса.
// POST /api/v1/processes/instances
func (h *Handler) CreateInstance(w http.ResponseWriter, r *http.Request) {
	var req CreateInstanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if req.DeploymentID == "" {
		BadRequest(w, "deployment_id is required")
		return
	}
	if req.ProcessName == "" {
		BadRequest(w, "process_name is required")
		return
	}
	if _, err := h.managers.Get(req.DeploymentID); HandleError(w, h.logger, err, "") {
		return
	}

	inst := &domain.ProcessInstance{
		ID:           uuid.New(),
		ParentID:     req.ParentID,
		DeploymentID: req.DeploymentID,
		ProcessName:  req.ProcessName,
		State:        domain.ProcessStateActive,
		Variables:    req.Variables,
		CreatedAt:    time.Now(),
	}
	if req.ID != nil {
		inst.ID = *req.ID
	}

	if err := h.processes.Create(r.Context(), inst); HandleError(w, h.logger, err, "") {
		return
	}

	h.logger.Info("process instance registered",
		"process_instance_id", inst.ID,
		"deployment_id", inst.DeploymentID,
		"process_name", inst.ProcessName,
	)

	Created(w, InstanceFromDomain(inst))
}

// GetInstance возвращает экземпляр процесса с переменными.
// GET /api/v1/processes/instances/{id}
func (h *Handler) GetInstance(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	inst, err := h.processes.GetInstance(r.Context(), id)
	if HandleError(w, h.logger, err, "process instance not found") {
		return
	}

	Success(w, InstanceFromDomain(inst))
}

// pathID парсит {id} из пути. При ошибке отвечает 400.
func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		BadRequest(w, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}
