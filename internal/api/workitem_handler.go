package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/longrest/internal/domain"
	"github.com/shaiso/longrest/internal/mq"
	"github.com/shaiso/longrest/internal/telemetry"
)

// CreateWorkItem создаёт work item и публикует workitem.dispatch.
// POST /api/v1/workitems
func (h *Handler) CreateWorkItem(w http.ResponseWriter, r *http.Request) {
	var req CreateWorkItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if req.ProcessInstanceID == uuid.Nil {
		BadRequest(w, "process_instance_id is required")
		return
	}
	if _, err := h.handlers.Get(req.Name); err != nil {
		BadRequest(w, err.Error())
		return
	}

	inst, err := h.processes.GetInstance(r.Context(), req.ProcessInstanceID)
	if HandleError(w, h.logger, err, "process instance not found") {
		return
	}
	if !inst.IsActive() {
		InvalidState(w, "process instance is not active")
		return
	}

	item := &domain.WorkItem{
		ID:                uuid.New(),
		ProcessInstanceID: inst.ID,
		DeploymentID:      inst.DeploymentID,
		Name:              req.Name,
		Parameters:        req.Parameters,
		Status:            domain.WorkItemStatusPending,
		CreatedAt:         time.Now(),
	}

	if err := h.workItems.Create(r.Context(), item); HandleError(w, h.logger, err, "") {
		return
	}

	if h.publisher != nil {
		err := h.publisher.PublishDispatch(r.Context(), mq.WorkItemDispatchPayload{
			WorkItemID:        item.ID,
			ProcessInstanceID: item.ProcessInstanceID,
			DeploymentID:      item.DeploymentID,
		})
		if err != nil {
			// Не возвращаем ошибку: work item в БД, воркер подхватит через polling
			telemetry.FromContext(r.Context()).Warn("failed to publish workitem.dispatch",
				"work_item_id", item.ID,
				"error", err,
			)
		}
	}

	telemetry.FromContext(r.Context()).Info("work item created",
		"work_item_id", item.ID,
		"process_instance_id", item.ProcessInstanceID,
		"handler", item.Name,
	)

	Created(w, WorkItemFromDomain(item))
}

// GetWorkItem возвращает work item.
// GET /api/v1/workitems/{id}
func (h *Handler) GetWorkItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	item, err := h.workItems.GetByID(r.Context(), id)
	if HandleError(w, h.logger, err, "work item not found") {
		return
	}

	Success(w, WorkItemFromDomain(item))
}

// AbortWorkItem отменяет work item через Abort его handler'а.
// POST /api/v1/workitems/{id}/abort
//
// 409, если work item уже завершён и ожидать нечего.
func (h *Handler) AbortWorkItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	item, err := h.workItems.GetByID(r.Context(), id)
	if HandleError(w, h.logger, err, "work item not found") {
		return
	}

	hdl, err := h.handlers.Get(item.Name)
	if err != nil {
		InvalidState(w, err.Error())
		return
	}

	manager, err := h.managers.Get(item.DeploymentID)
	if HandleError(w, h.logger, err, "") {
		return
	}

	if err := hdl.Abort(r.Context(), item, manager); HandleError(w, h.logger, err, "") {
		return
	}

	h.logger.Info("work item aborted", "work_item_id", item.ID)

	Success(w, WorkItemFromDomain(item))
}
