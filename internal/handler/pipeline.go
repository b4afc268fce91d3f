package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiso/longrest/internal/domain"
	"github.com/shaiso/longrest/internal/engine"
	"github.com/shaiso/longrest/internal/invoker"
	"github.com/shaiso/longrest/internal/telemetry"
)

// Sender отправляет HTTP-запрос. Реализуется *invoker.Invoker.
type Sender interface {
	Send(ctx context.Context, req *invoker.Request, timeouts invoker.Timeouts) (*invoker.Response, error)
}

// Config — зависимости handler'ов.
type Config struct {
	// Sender — HTTP-клиент.
	Sender Sender

	// Store — переменные и иерархия экземпляров процессов.
	Store engine.VariableStore

	// CallbackBaseURL — внешний адрес callback API
	// (например, "http://longrest-api:8080/api/v1").
	CallbackBaseURL string

	// Timeouts — таймауты по умолчанию; параметры шага их переопределяют.
	Timeouts invoker.Timeouts

	Logger *slog.Logger
}

// pipeline — общий конвейер REST handler'ов:
// параметры → шаблон → вызов → классификация ответа → результат.
type pipeline struct {
	name string
	cfg  Config

	// longRunning включает системные переменные и извлечение cancel URL.
	longRunning bool
}

func newPipeline(name string, cfg Config, longRunning bool) *pipeline {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.Timeouts = invoker.DefaultTimeouts().Merge(cfg.Timeouts)

	return &pipeline{
		name:        name,
		cfg:         cfg,
		longRunning: longRunning,
	}
}

// execute выполняет шаг и ровно один раз сообщает результат manager'у.
func (p *pipeline) execute(ctx context.Context, item *domain.WorkItem, manager WorkItemManager) error {
	logger := p.logger(item)
	start := time.Now()

	result := p.run(ctx, item)

	outcome := "success"
	if result.Failed() {
		outcome = string(result.Err.Kind)
		logger.Warn("work item failed",
			"handler", p.name,
			"kind", result.Err.Kind,
			"response_code", result.ResponseCode,
			"error", result.Err.Message,
		)
	} else {
		logger.Info("work item succeeded",
			"handler", p.name,
			"response_code", result.ResponseCode,
			"cancel_url", result.CancelURL,
		)
	}
	telemetry.InvocationsTotal.WithLabelValues(p.name, outcome).Inc()
	telemetry.InvocationDuration.WithLabelValues(p.name).Observe(time.Since(start).Seconds())

	if err := manager.CompleteWorkItem(ctx, item, result.Map()); err != nil {
		return fmt.Errorf("complete work item %s: %w", item.ID, err)
	}
	return nil
}

// abort отменяет шаг с маркером abort_requested.
func (p *pipeline) abort(ctx context.Context, item *domain.WorkItem, manager WorkItemManager) error {
	p.logger(item).Info("work item abort requested", "handler", p.name)

	if err := manager.AbortWorkItem(ctx, item, AbortResult().Map()); err != nil {
		return fmt.Errorf("abort work item %s: %w", item.ID, err)
	}
	return nil
}

// run строит запрос, вызывает сервис и классифицирует ответ.
// Не паникует: паника внутри превращается в результат с ошибкой.
func (p *pipeline) run(ctx context.Context, item *domain.WorkItem) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			p.logger(item).Error("handler panic", "handler", p.name, "panic", r)
			result = failed(0, KindInternal, fmt.Sprintf("handler panic: %v", r))
		}
	}()

	url := item.StringParam(domain.ParamURL)
	method := item.StringParam(domain.ParamMethod)
	if url == "" || method == "" {
		return failed(0, KindInvalidParameters,
			fmt.Sprintf("%v: url and method are required", ErrInvalidParameters))
	}

	scopes := engine.Scopes{Process: engine.BuildProcessChain(ctx, p.cfg.Store, item.ProcessInstanceID)}
	if p.longRunning {
		scopes.System = engine.SystemScope(engine.NewSystemVariables(p.cfg.CallbackBaseURL, item.ProcessInstanceID))
	}

	req := &invoker.Request{
		Method:  method,
		URL:     url,
		Headers: invoker.ParseHeaders(item.StringParam(domain.ParamHeaders)),
	}

	if tmpl := item.StringParam(domain.ParamTemplate); tmpl != "" {
		body, err := engine.Render(tmpl, scopes)
		if err != nil {
			kind := KindInvalidParameters
			if errors.Is(err, engine.ErrUnresolvableVariable) {
				kind = KindUnresolvableVariable
			}
			return failed(0, kind, err.Error())
		}
		req.Body = []byte(body)
	}

	resp, err := p.cfg.Sender.Send(ctx, req, p.timeouts(item))
	if err != nil {
		kind := KindRemoteInvocation
		if errors.Is(err, invoker.ErrInvalidRequest) {
			kind = KindInvalidParameters
		}
		return failed(0, kind, err.Error())
	}

	var spec CancelURLSpec
	if p.longRunning {
		spec = CancelURLSpec{
			Pointer:  item.StringParam(domain.ParamCancelURLJSONPointer),
			Template: item.StringParam(domain.ParamCancelURLTemplate),
		}
	}

	return ProcessResponse(resp, spec, scopes).Result()
}

// timeouts — таймауты по умолчанию с переопределениями из параметров шага.
func (p *pipeline) timeouts(item *domain.WorkItem) invoker.Timeouts {
	return p.cfg.Timeouts.Merge(invoker.Timeouts{
		Connect: item.DurationParam(domain.ParamConnectTimeout),
		Read:    item.DurationParam(domain.ParamReadTimeout),
		Request: item.DurationParam(domain.ParamRequestTimeout),
	})
}

func (p *pipeline) logger(item *domain.WorkItem) *slog.Logger {
	logger := telemetry.WithWorkItemID(p.cfg.Logger, item.ID.String())
	return telemetry.WithProcessInstanceID(logger, item.ProcessInstanceID.String())
}
