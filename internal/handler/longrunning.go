package handler

import (
	"context"

	"github.com/shaiso/longrest/internal/domain"
)

const (
	// LongRunningName — имя handler'а долгих REST-вызовов.
	LongRunningName = "LongRunningRestService"

	// RestName — имя handler'а синхронных REST-вызовов.
	RestName = "Rest"
)

// LongRunningHandler — шаг, делегирующий работу долгому REST-сервису.
//
// Параметры work item'а:
//
//	{
//	    "url": "http://svc/A",
//	    "method": "POST",
//	    "headers": "Authorization=Bearer t;X-Trace=1",
//	    "template": "{\"name\":\"${proc.username}\",\"callback\":\"${system.callbackUrl}\"}",
//	    "cancelUrlJsonPointer": "/cancelUrl",
//	    "cancelUrlTemplate": "http://svc/cancel/${response.id}"
//	}
//
// Шаблон видит системные переменные (callbackUrl, callbackMethod,
// heartBeatUrl, heartBeatMethod), переменные экземпляра и его предков.
// Handler не ждёт окончания удалённой работы: после успешного ответа шаг
// паркуется, а результат придёт позже сигналом RESTResponded
// (или died от heartbeat monitor'а).
type LongRunningHandler struct {
	p *pipeline
}

// NewLongRunningHandler создаёт LongRunningHandler.
func NewLongRunningHandler(cfg Config) *LongRunningHandler {
	return &LongRunningHandler{p: newPipeline(LongRunningName, cfg, true)}
}

// Name возвращает имя handler'а.
func (h *LongRunningHandler) Name() string {
	return LongRunningName
}

// Execute отправляет запрос и завершает шаг.
func (h *LongRunningHandler) Execute(ctx context.Context, item *domain.WorkItem, manager WorkItemManager) error {
	return h.p.execute(ctx, item, manager)
}

// Abort отменяет шаг.
func (h *LongRunningHandler) Abort(ctx context.Context, item *domain.WorkItem, manager WorkItemManager) error {
	return h.p.abort(ctx, item, manager)
}

// RestHandler — синхронный REST-вызов: тот же конвейер без системных
// переменных и без cancel URL. Шаг завершается сразу по ответу.
type RestHandler struct {
	p *pipeline
}

// NewRestHandler создаёт RestHandler.
func NewRestHandler(cfg Config) *RestHandler {
	return &RestHandler{p: newPipeline(RestName, cfg, false)}
}

// Name возвращает имя handler'а.
func (h *RestHandler) Name() string {
	return RestName
}

// Execute выполняет вызов и завершает шаг.
func (h *RestHandler) Execute(ctx context.Context, item *domain.WorkItem, manager WorkItemManager) error {
	return h.p.execute(ctx, item, manager)
}

// Abort отменяет шаг.
func (h *RestHandler) Abort(ctx context.Context, item *domain.WorkItem, manager WorkItemManager) error {
	return h.p.abort(ctx, item, manager)
}
