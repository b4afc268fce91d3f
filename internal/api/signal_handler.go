package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/shaiso/longrest/internal/domain"
	"github.com/shaiso/longrest/internal/runtime"
)

// maxSignalBody — предел тела callback'а.
const maxSignalBody = 1 << 20

// SignalResponded принимает результат удалённого сервиса.
// POST /api/v1/processes/instances/{id}/signal/RESTResponded
//
// Тело (любой JSON) передаётся процессу как данные сигнала.
// 409, если ожидание уже разрешено (например, сигналом died).
func (h *Handler) SignalResponded(w http.ResponseWriter, r *http.Request) {
	h.signal(w, r, domain.SignalRESTResponded)
}

// SignalEvent доставляет процессу произвольный сигнал.
// POST /api/v1/processes/instances/{id}/signal/{event}
func (h *Handler) SignalEvent(w http.ResponseWriter, r *http.Request) {
	h.signal(w, r, chi.URLParam(r, "event"))
}

// SignalImAlive обновляет heartbeat экземпляра процесса.
// POST /api/v1/processes/instances/{id}/signal/imAlive
//
// Тело необязательно: {"timeout": "PT30S"} задаёт heartbeatTimeout.
func (h *Handler) SignalImAlive(w http.ResponseWriter, r *http.Request) {
	inst, manager, ok := h.instanceManager(w, r)
	if !ok {
		return
	}

	raw, ok := readBody(w, r)
	if !ok {
		return
	}

	var req ImAliveRequest
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &req); err != nil {
			BadRequest(w, "invalid request body")
			return
		}
	}

	if err := manager.Heartbeat(r.Context(), inst.ID, req.Timeout); HandleError(w, h.logger, err, "") {
		return
	}

	Accepted(w, SignalResponse{ProcessInstanceID: inst.ID, Event: domain.SignalImAlive})
}

func (h *Handler) signal(w http.ResponseWriter, r *http.Request, event string) {
	inst, manager, ok := h.instanceManager(w, r)
	if !ok {
		return
	}

	raw, ok := readBody(w, r)
	if !ok {
		return
	}

	// Числа остаются json.Number: идентификаторы сервиса не теряют точность
	var data any
	if len(raw) > 0 {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&data); err != nil || dec.More() {
			BadRequest(w, "invalid request body")
			return
		}
	}

	if err := manager.SignalEvent(r.Context(), inst.ID, event, data); HandleError(w, h.logger, err, "") {
		return
	}

	Accepted(w, SignalResponse{ProcessInstanceID: inst.ID, Event: event})
}

// instanceManager находит экземпляр по {id} и Manager его деплоймента.
func (h *Handler) instanceManager(w http.ResponseWriter, r *http.Request) (*domain.ProcessInstance, *runtime.Manager, bool) {
	id, ok := pathID(w, r)
	if !ok {
		return nil, nil, false
	}

	inst, err := h.processes.GetInstance(r.Context(), id)
	if HandleError(w, h.logger, err, "process instance not found") {
		return nil, nil, false
	}

	manager, err := h.managers.Get(inst.DeploymentID)
	if HandleError(w, h.logger, err, "") {
		return nil, nil, false
	}
	return inst, manager, true
}

// readBody читает тело запроса. Пустое тело (или только пробелы) даёт nil.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSignalBody))
	if err != nil {
		BadRequest(w, "request body too large")
		return nil, false
	}
	return bytes.TrimSpace(raw), true
}
