package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/longrest/internal/domain"
	"github.com/shaiso/longrest/internal/handler"
	"github.com/shaiso/longrest/internal/mq"
	"github.com/shaiso/longrest/internal/repo"
	"github.com/shaiso/longrest/internal/runtime"
	"github.com/shaiso/longrest/internal/telemetry"
)

// Default configuration values.
const (
	defaultPollInterval = 10 * time.Second
	defaultBatchSize    = 50
	defaultPrefetch     = 5
	defaultConcurrency  = 8
	defaultStaleAfter   = 5 * time.Minute
)

// WorkItemStore — доступ к work item'ам. Реализуется repo.WorkItemRepo.
type WorkItemStore interface {
	Claim(ctx context.Context, id uuid.UUID) (*domain.WorkItem, error)
	ListPending(ctx context.Context, limit int) ([]domain.WorkItem, error)
	Finish(ctx context.Context, id uuid.UUID, status domain.WorkItemStatus, results map[string]any) error
	ListStale(ctx context.Context, startedBefore time.Time, limit int) ([]domain.WorkItem, error)
}

// CompletionPublisher публикует workitem.completed. Реализуется mq.Publisher.
type CompletionPublisher interface {
	PublishWorkItemCompleted(ctx context.Context, payload mq.WorkItemCompletedPayload) error
}

// ManagerLookup находит WorkItemManager деплоймента.
type ManagerLookup func(deploymentID string) (handler.WorkItemManager, error)

// RegistryManagers — ManagerLookup поверх runtime.Registry.
func RegistryManagers(r *runtime.Registry) ManagerLookup {
	return func(deploymentID string) (handler.WorkItemManager, error) {
		m, err := r.Get(deploymentID)
		if err != nil {
			return nil, err
		}
		return m, nil
	}
}

// Worker забирает work item'ы и выполняет их handler'ы.
//
// Worker — stateless компонент, который:
//   - Получает work item'ы из очереди workitems.dispatch (event-driven)
//   - Периодически проверяет PENDING work item'ы в БД (polling fallback)
//   - Забирает work item compare-and-set'ом PENDING → RUNNING
//   - Выполняет handler в Pool с ограниченной конкурентностью
//   - Завершает с ошибкой RUNNING work item'ы, брошенные умершими воркерами
//
// Workers масштабируются горизонтально: CAS гарантирует, что каждый
// work item выполнит ровно один воркер.
type Worker struct {
	store    WorkItemStore
	handlers *handler.Registry
	managers ManagerLookup
	events   CompletionPublisher

	// MQ (опционально)
	conn     *mq.Connection
	consumer *mq.Consumer
	prefetch int

	// Configuration
	pollInterval time.Duration
	batchSize    int
	concurrency  int
	staleAfter   time.Duration
	now          func() time.Time

	// Work item'ы, которые выполняет этот воркер
	runningMu sync.Mutex
	running   map[uuid.UUID]struct{}

	// Lifecycle
	logger     *slog.Logger
	pool       *Pool
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Worker.
type Config struct {
	WorkItems WorkItemStore
	Handlers  *handler.Registry
	Managers  ManagerLookup

	// Conn — соединение с RabbitMQ. Если nil, работает только polling.
	Conn *mq.Connection

	// Publisher — события о work item'ах, завершённых в обход Manager'а.
	// Может быть nil.
	Publisher CompletionPublisher

	// Polling configuration
	PollInterval time.Duration // интервал polling (default: 10s)
	BatchSize    int           // количество work item'ов за один poll (default: 50)

	// Concurrency — максимум одновременно выполняемых handler'ов (default: 8).
	Concurrency int

	// Prefetch — prefetch consumer'а (default: 5).
	Prefetch int

	// StaleAfter — возраст RUNNING work item'а, после которого он
	// считается брошенным (default: 5m). К нему прибавляется
	// requestTimeout из параметров шага.
	StaleAfter time.Duration

	// Now — источник времени (default: time.Now).
	Now func() time.Time

	Logger *slog.Logger
}

// New создаёт новый Worker.
func New(cfg Config) *Worker {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = defaultPrefetch
	}

	staleAfter := cfg.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		store:        cfg.WorkItems,
		handlers:     cfg.Handlers,
		managers:     cfg.Managers,
		events:       cfg.Publisher,
		conn:         cfg.Conn,
		prefetch:     prefetch,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		concurrency:  concurrency,
		staleAfter:   staleAfter,
		now:          now,
		running:      make(map[uuid.UUID]struct{}),
		logger:       logger,

		// Handler'ы доживают до конца при остановке: пул не наследует отмену Start
		pool: NewPool(context.Background(), concurrency),
	}
}

// Start запускает Worker.
//
// Запускает:
//   - Consumer для workitems.dispatch (если есть соединение)
//   - Polling горутину для fallback
func (w *Worker) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel

	w.logger.Info("starting worker",
		"poll_interval", w.pollInterval,
		"batch_size", w.batchSize,
		"concurrency", w.concurrency,
		"stale_after", w.staleAfter,
		"handlers", w.handlers.Names(),
	)

	if w.conn != nil {
		// Повторно сбойный dispatch уходит в DLQ: work item подберёт polling
		w.consumer = mq.NewConsumer(w.conn, w.logger, mq.ConsumerConfig{
			Queue:             mq.QueueWorkItemsDispatch,
			Handler:           w.handleDispatch,
			Prefetch:          w.prefetch,
			Types:             []mq.MessageType{mq.MessageTypeWorkItemDispatch},
			RejectRedelivered: true,
		})

		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			if err := w.consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Error("dispatch consumer error", "error", err)
			}
		}()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.pollLoop(ctx)
	}()

	w.logger.Info("worker started")
	return nil
}

// Stop останавливает Worker и дожидается выполняющихся handler'ов.
func (w *Worker) Stop() {
	w.stoppedMu.Lock()
	w.stopped = true
	w.stoppedMu.Unlock()

	w.logger.Info("stopping worker...")

	if w.cancelFunc != nil {
		w.cancelFunc()
	}
	if w.consumer != nil {
		w.consumer.Stop()
	}
	w.wg.Wait()
	w.pool.Wait()

	w.logger.Info("worker stopped")
}

// IsStopped проверяет, остановлен ли Worker.
func (w *Worker) IsStopped() bool {
	w.stoppedMu.RLock()
	defer w.stoppedMu.RUnlock()
	return w.stopped
}

// Dispatch забирает work item и ставит его handler в пул.
//
// Возвращает nil-канал без ошибки, если work item уже забран другим
// воркером, завершён или не существует.
func (w *Worker) Dispatch(ctx context.Context, id uuid.UUID) (<-chan Completion, error) {
	if w.IsStopped() {
		return nil, ErrWorkerStopped
	}

	item, err := w.store.Claim(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) || errors.Is(err, repo.ErrInvalidState) {
			w.logger.Debug("work item not claimed", "work_item_id", id, "reason", err)
			return nil, nil
		}
		return nil, fmt.Errorf("claim work item %s: %w", id, err)
	}

	logger := telemetry.WithWorkItemID(w.logger, item.ID.String())
	logger = telemetry.WithProcessInstanceID(logger, item.ProcessInstanceID.String())
	logger.Info("work item claimed", "handler", item.Name, "deployment_id", item.DeploymentID)

	w.setRunning(item.ID, true)
	return w.pool.Submit(item.ID, func(ctx context.Context) error {
		defer w.setRunning(item.ID, false)
		return w.execute(ctx, item, logger)
	}), nil
}

func (w *Worker) setRunning(id uuid.UUID, running bool) {
	w.runningMu.Lock()
	defer w.runningMu.Unlock()
	if running {
		w.running[id] = struct{}{}
	} else {
		delete(w.running, id)
	}
}

func (w *Worker) isRunning(id uuid.UUID) bool {
	w.runningMu.Lock()
	defer w.runningMu.Unlock()
	_, ok := w.running[id]
	return ok
}

// execute находит handler и manager и выполняет шаг.
// Если выполнить нельзя, work item завершается с ошибкой internal,
// чтобы не остаться в RUNNING навсегда.
func (w *Worker) execute(ctx context.Context, item *domain.WorkItem, logger *slog.Logger) error {
	manager, err := w.managers(item.DeploymentID)
	if err != nil {
		logger.Error("no manager for work item", "error", err)
		w.failDirect(ctx, item, fmt.Errorf("%w: %v", ErrNoManager, err), logger)
		return fmt.Errorf("%w: %s", ErrNoManager, item.DeploymentID)
	}

	h, err := w.handlers.Get(item.Name)
	if err != nil {
		logger.Error("no handler for work item", "error", err)
		result := internalFailure(err)
		if cerr := manager.CompleteWorkItem(ctx, item, result.Map()); cerr != nil {
			logger.Error("failed to complete work item", "error", cerr)
		}
		return err
	}

	if err := h.Execute(ctx, item, manager); err != nil {
		logger.Error("handler failed to report result", "error", err)
		return err
	}
	return nil
}

// failDirect завершает work item в обход Manager'а и публикует
// workitem.completed, чтобы движок не ждал его вечно.
func (w *Worker) failDirect(ctx context.Context, item *domain.WorkItem, cause error, logger *slog.Logger) {
	results := internalFailure(cause).Map()
	if err := w.store.Finish(ctx, item.ID, domain.WorkItemStatusCompleted, results); err != nil {
		if errors.Is(err, repo.ErrInvalidState) {
			logger.Warn("work item already in final status", "error", err)
			return
		}
		logger.Error("failed to finish work item", "error", err)
		return
	}
	telemetry.WorkItemsTotal.WithLabelValues(string(domain.WorkItemStatusCompleted)).Inc()

	if w.events == nil {
		return
	}
	err := w.events.PublishWorkItemCompleted(ctx, mq.WorkItemCompletedPayload{
		WorkItemID:        item.ID,
		ProcessInstanceID: item.ProcessInstanceID,
		DeploymentID:      item.DeploymentID,
		Status:            string(domain.WorkItemStatusCompleted),
		Results:           results,
	})
	if err != nil {
		logger.Error("failed to publish work item completed", "error", err)
	}
}

func internalFailure(err error) handler.Result {
	return handler.Result{
		Err: &handler.Failure{Kind: handler.KindInternal, Message: err.Error()},
	}
}

// handleDispatch обрабатывает сообщение workitem.dispatch.
func (w *Worker) handleDispatch(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.WorkItemDispatchPayload](&delivery.Message)
	if err != nil {
		w.logger.Error("failed to parse workitem.dispatch payload", "error", err)
		return fmt.Errorf("%w: %v", mq.ErrReject, err)
	}
	if payload.WorkItemID == uuid.Nil {
		return fmt.Errorf("%w: work item id is required", mq.ErrReject)
	}

	w.logger.Debug("received workitem.dispatch event",
		"work_item_id", payload.WorkItemID,
		"process_instance_id", payload.ProcessInstanceID,
	)

	// ErrWorkerStopped вернёт сообщение в очередь другому воркеру
	_, err = w.Dispatch(ctx, payload.WorkItemID)
	return err
}

// pollLoop — цикл polling для fallback.
func (w *Worker) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	// Первый poll сразу при старте (подхватываем work item'ы, созданные пока были выключены)
	w.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

// poll выполняет один цикл polling.
func (w *Worker) poll(ctx context.Context) {
	w.reclaimStale(ctx)

	items, err := w.store.ListPending(ctx, w.batchSize)
	if err != nil {
		w.logger.Error("failed to list pending work items", "error", err)
		return
	}
	if len(items) == 0 {
		return
	}

	w.logger.Debug("poll found pending work items", "count", len(items))

	for i := range items {
		if ctx.Err() != nil {
			return
		}
		if _, err := w.Dispatch(ctx, items[i].ID); err != nil {
			w.logger.Error("failed to dispatch work item from poll",
				"work_item_id", items[i].ID,
				"error", err,
			)
		}
	}
}

// reclaimStale завершает с ошибкой internal RUNNING work item'ы,
// которые дольше staleAfter (плюс requestTimeout шага) никто не завершил.
// Work item'ы, выполняемые этим воркером, не трогаются; гонку между
// воркерами разрешает CAS при завершении.
func (w *Worker) reclaimStale(ctx context.Context) {
	now := w.now()
	items, err := w.store.ListStale(ctx, now.Add(-w.staleAfter), w.batchSize)
	if err != nil {
		w.logger.Error("failed to list stale work items", "error", err)
		return
	}

	for i := range items {
		if ctx.Err() != nil {
			return
		}
		item := &items[i]
		if w.isRunning(item.ID) || item.StartedAt == nil {
			continue
		}
		deadline := item.StartedAt.Add(w.staleAfter + item.DurationParam(domain.ParamRequestTimeout))
		if now.Before(deadline) {
			continue
		}

		logger := telemetry.WithWorkItemID(w.logger, item.ID.String())
		logger = telemetry.WithProcessInstanceID(logger, item.ProcessInstanceID.String())
		logger.Warn("reclaiming stale work item", "handler", item.Name, "started_at", *item.StartedAt)

		cause := fmt.Errorf("%w: running since %s", ErrWorkerLost, item.StartedAt.Format(time.RFC3339))
		manager, err := w.managers(item.DeploymentID)
		if err != nil {
			w.failDirect(ctx, item, cause, logger)
			continue
		}
		err = manager.CompleteWorkItem(ctx, item, internalFailure(cause).Map())
		if err != nil && !errors.Is(err, runtime.ErrAlreadyCompleted) {
			logger.Error("failed to complete stale work item", "error", err)
		}
	}
}
