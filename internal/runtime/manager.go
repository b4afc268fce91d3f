package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/longrest/internal/domain"
	"github.com/shaiso/longrest/internal/handler"
	"github.com/shaiso/longrest/internal/mq"
	"github.com/shaiso/longrest/internal/repo"
	"github.com/shaiso/longrest/internal/telemetry"
)

// WorkItemStore — переходы статусов work item'ов. Реализуется repo.WorkItemRepo.
type WorkItemStore interface {
	Finish(ctx context.Context, id uuid.UUID, status domain.WorkItemStatus, results map[string]any) error

	// FinishParked атомарно завершает work item и открывает ожидание.
	// repo.ErrAlreadyExists — экземпляр уже ждёт другой шаг.
	FinishParked(ctx context.Context, id uuid.UUID, results map[string]any, await *domain.Await) error
}

// AwaitStore — ожидания шагов. Реализуется repo.AwaitRepo.
type AwaitStore interface {
	Resolve(ctx context.Context, instanceID uuid.UUID, status domain.AwaitStatus) (*domain.Await, error)

	// Cancel отменяет ожидание, только если его открыл шаг workItemID.
	Cancel(ctx context.Context, instanceID, workItemID uuid.UUID) (*domain.Await, error)
}

// VariableWriter — запись переменных процесса. Реализуется repo.ProcessRepo.
type VariableWriter interface {
	SetVariables(ctx context.Context, instanceID uuid.UUID, vars map[string]any) error
}

// Publisher — события для движка. Реализуется mq.Publisher.
type Publisher interface {
	PublishWorkItemCompleted(ctx context.Context, payload mq.WorkItemCompletedPayload) error
	PublishSignal(ctx context.Context, payload mq.SignalPayload) error
}

// Config — зависимости Manager'а.
type Config struct {
	// DeploymentID — деплоймент, которым управляет Manager.
	DeploymentID string

	// ProcessName — процесс, экземпляры которого сканирует heartbeat monitor.
	ProcessName string

	WorkItems WorkItemStore
	Awaits    AwaitStore
	Variables VariableWriter

	// Publisher — может быть nil: тогда события не публикуются.
	Publisher Publisher

	Logger *slog.Logger

	// Now — источник времени (для тестов). По умолчанию time.Now.
	Now func() time.Time
}

// Manager — runtime одного деплоймента.
// Реализует handler.WorkItemManager и heartbeat.Signaler.
type Manager struct {
	cfg    Config
	logger *slog.Logger
}

// NewManager создаёт Manager.
func NewManager(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Manager{
		cfg:    cfg,
		logger: telemetry.WithDeploymentID(cfg.Logger, cfg.DeploymentID),
	}
}

// DeploymentID возвращает идентификатор деплоймента.
func (m *Manager) DeploymentID() string {
	return m.cfg.DeploymentID
}

// ProcessName возвращает имя процесса под heartbeat-супервизией.
func (m *Manager) ProcessName() string {
	return m.cfg.ProcessName
}

// CompleteWorkItem завершает work item (PENDING|RUNNING → COMPLETED).
//
// Успешный шаг LongRunningRestService паркуется в той же транзакции:
// открывается ожидание с cancel URL, и процесс ждёт RESTResponded или died.
// Если экземпляр уже ждёт другой шаг, work item завершается с ошибкой.
// Повторное завершение возвращает ErrAlreadyCompleted.
func (m *Manager) CompleteWorkItem(ctx context.Context, item *domain.WorkItem, results map[string]any) error {
	if item.Name == handler.LongRunningName && !hasError(results) {
		err := m.park(ctx, item, results)
		if err == nil {
			item.MarkCompleted(results)
			return m.publishCompleted(ctx, item)
		}
		if !errors.Is(err, repo.ErrAlreadyExists) {
			return err
		}

		m.logger.Error("cannot park work item",
			"work_item_id", item.ID,
			"process_instance_id", item.ProcessInstanceID,
			"error", err,
		)
		results = withFailure(results, handler.KindInternal, err.Error())
	}

	if err := m.finish(ctx, item, domain.WorkItemStatusCompleted, results); err != nil {
		return err
	}
	item.MarkCompleted(results)
	return m.publishCompleted(ctx, item)
}

// park завершает work item и открывает ожидание одной транзакцией.
func (m *Manager) park(ctx context.Context, item *domain.WorkItem, results map[string]any) error {
	cancelURL, _ := results[handler.ResultCancelURL].(string)
	await := &domain.Await{
		ProcessInstanceID: item.ProcessInstanceID,
		WorkItemID:        item.ID,
		CancelURL:         cancelURL,
		CreatedAt:         m.cfg.Now(),
	}

	err := m.cfg.WorkItems.FinishParked(ctx, item.ID, results, await)
	switch {
	case err == nil:
	case errors.Is(err, repo.ErrInvalidState):
		return fmt.Errorf("%w: %s", ErrAlreadyCompleted, item.ID)
	case errors.Is(err, repo.ErrAlreadyExists):
		return err
	default:
		return fmt.Errorf("park work item %s: %w", item.ID, err)
	}

	telemetry.WorkItemsTotal.WithLabelValues(string(domain.WorkItemStatusCompleted)).Inc()
	m.logger.Info("work item parked",
		"work_item_id", item.ID,
		"process_instance_id", item.ProcessInstanceID,
		"cancel_url", cancelURL,
	)
	return nil
}

// AbortWorkItem отменяет work item (→ ABORTED).
//
// Если этот шаг уже припаркован, отменяется его ожидание; ожидания
// других шагов того же экземпляра не трогаются. ErrAlreadyCompleted
// возвращается, только если отменять было нечего.
func (m *Manager) AbortWorkItem(ctx context.Context, item *domain.WorkItem, results map[string]any) error {
	err := m.finish(ctx, item, domain.WorkItemStatusAborted, results)
	if err != nil && !errors.Is(err, ErrAlreadyCompleted) {
		return err
	}
	aborted := err == nil

	cancelled := false
	if await, cerr := m.cfg.Awaits.Cancel(ctx, item.ProcessInstanceID, item.ID); cerr == nil {
		cancelled = true
		m.logger.Info("await cancelled",
			"work_item_id", item.ID,
			"process_instance_id", item.ProcessInstanceID,
			"cancel_url", await.CancelURL,
		)
	} else if !errors.Is(cerr, repo.ErrNotFound) {
		return fmt.Errorf("cancel await for %s: %w", item.ProcessInstanceID, cerr)
	}

	if !aborted && !cancelled {
		return err
	}

	if aborted {
		item.MarkAborted(results)
	} else {
		// Шаг был припаркован: в событии фиксируем отмену, результат вызова остаётся в БД
		item.Status = domain.WorkItemStatusAborted
		item.Results = results
	}
	return m.publishCompleted(ctx, item)
}

// SignalEvent доставляет сигнал экземпляру процесса.
//
// RESTResponded и died разрешают ожидание compare-and-set'ом WAITING → RESPONDED|DIED:
// проигравший из двух конкурирующих путей получает ErrAlreadyResolved, и
// сигнал не публикуется. Остальные события пересылаются движку как есть.
func (m *Manager) SignalEvent(ctx context.Context, instanceID uuid.UUID, event string, data any) error {
	if event == "" {
		return fmt.Errorf("%w: event name is required", ErrInvalidSignal)
	}

	logger := telemetry.WithProcessInstanceID(m.logger, instanceID.String())

	if status, ok := domain.AwaitStatusForSignal(event); ok {
		if _, err := m.cfg.Awaits.Resolve(ctx, instanceID, status); err != nil {
			switch {
			case errors.Is(err, repo.ErrInvalidState):
				telemetry.SignalsTotal.WithLabelValues(event, "already_resolved").Inc()
				logger.Info("signal ignored: await already resolved", "event", event)
				return fmt.Errorf("%w: %s", ErrAlreadyResolved, instanceID)
			case errors.Is(err, repo.ErrNotFound):
				telemetry.SignalsTotal.WithLabelValues(event, "not_awaiting").Inc()
				return fmt.Errorf("%w: %s", ErrNotAwaiting, instanceID)
			default:
				telemetry.SignalsTotal.WithLabelValues(event, "error").Inc()
				return fmt.Errorf("resolve await: %w", err)
			}
		}
	}

	if m.cfg.Publisher != nil {
		err := m.cfg.Publisher.PublishSignal(ctx, mq.SignalPayload{
			ProcessInstanceID: instanceID,
			DeploymentID:      m.cfg.DeploymentID,
			Event:             event,
			Data:              data,
		})
		if err != nil {
			telemetry.SignalsTotal.WithLabelValues(event, "error").Inc()
			return fmt.Errorf("publish signal %s: %w", event, err)
		}
	}

	telemetry.SignalsTotal.WithLabelValues(event, "accepted").Inc()
	logger.Info("signal accepted", "event", event)
	return nil
}

// Heartbeat записывает lastHeartbeat = now и, если задан, heartbeatTimeout
// (ISO-8601, например "PT30S"). Это обработчик сигнала imAlive.
func (m *Manager) Heartbeat(ctx context.Context, instanceID uuid.UUID, timeout string) error {
	vars := map[string]any{
		domain.VarLastHeartbeat: m.cfg.Now().UnixMilli(),
	}

	if timeout != "" {
		d, err := domain.ParseISODuration(timeout)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSignal, err)
		}
		if d <= 0 {
			return fmt.Errorf("%w: heartbeat timeout must be positive", ErrInvalidSignal)
		}
		vars[domain.VarHeartbeatTimeout] = timeout
	}

	if err := m.cfg.Variables.SetVariables(ctx, instanceID, vars); err != nil {
		return fmt.Errorf("store heartbeat: %w", err)
	}

	telemetry.SignalsTotal.WithLabelValues(domain.SignalImAlive, "accepted").Inc()
	return nil
}

// finish выполняет compare-and-set статуса work item'а.
func (m *Manager) finish(ctx context.Context, item *domain.WorkItem, status domain.WorkItemStatus, results map[string]any) error {
	err := m.cfg.WorkItems.Finish(ctx, item.ID, status, results)
	if errors.Is(err, repo.ErrInvalidState) {
		m.logger.Warn("work item already in final status",
			"work_item_id", item.ID,
			"process_instance_id", item.ProcessInstanceID,
			"target_status", status,
		)
		return fmt.Errorf("%w: %s", ErrAlreadyCompleted, item.ID)
	}
	if err != nil {
		return fmt.Errorf("finish work item %s: %w", item.ID, err)
	}

	telemetry.WorkItemsTotal.WithLabelValues(string(status)).Inc()
	return nil
}

func (m *Manager) publishCompleted(ctx context.Context, item *domain.WorkItem) error {
	if m.cfg.Publisher == nil {
		return nil
	}

	err := m.cfg.Publisher.PublishWorkItemCompleted(ctx, mq.WorkItemCompletedPayload{
		WorkItemID:        item.ID,
		ProcessInstanceID: item.ProcessInstanceID,
		DeploymentID:      m.cfg.DeploymentID,
		Status:            string(item.Status),
		Results:           item.Results,
	})
	if err != nil {
		return fmt.Errorf("publish work item completed: %w", err)
	}
	return nil
}

// withFailure возвращает копию results с ключом error.
func withFailure(results map[string]any, kind handler.FailureKind, message string) map[string]any {
	out := maps.Clone(results)
	if out == nil {
		out = make(map[string]any, 1)
	}
	out[handler.ResultError] = (&handler.Failure{Kind: kind, Message: message}).Map()
	return out
}

func hasError(results map[string]any) bool {
	_, ok := results[handler.ResultError]
	return ok
}
