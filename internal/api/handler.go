package api

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/shaiso/longrest/internal/domain"
	"github.com/shaiso/longrest/internal/handler"
	"github.com/shaiso/longrest/internal/mq"
	"github.com/shaiso/longrest/internal/runtime"
)

// ProcessStore — экземпляры процессов. Реализуется repo.ProcessRepo.
type ProcessStore interface {
	Create(ctx context.Context, inst *domain.ProcessInstance) error
	GetInstance(ctx context.Context, id uuid.UUID) (*domain.ProcessInstance, error)
}

// WorkItemStore — work item'ы. Реализуется repo.WorkItemRepo.
type WorkItemStore interface {
	Create(ctx context.Context, item *domain.WorkItem) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.WorkItem, error)
}

// DispatchPublisher — публикация workitem.dispatch. Реализуется mq.Publisher.
type DispatchPublisher interface {
	PublishDispatch(ctx context.Context, payload mq.WorkItemDispatchPayload) error
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	processes ProcessStore
	workItems WorkItemStore
	managers  *runtime.Registry
	handlers  *handler.Registry
	publisher DispatchPublisher
	logger    *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Processes ProcessStore
	WorkItems WorkItemStore
	Managers  *runtime.Registry
	Handlers  *handler.Registry

	// Publisher — может быть nil: тогда work item подхватит polling воркера.
	Publisher DispatchPublisher

	Logger *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		processes: cfg.Processes,
		workItems: cfg.WorkItems,
		managers:  cfg.Managers,
		handlers:  cfg.Handlers,
		publisher: cfg.Publisher,
		logger:    logger,
	}
}
