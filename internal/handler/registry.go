package handler

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shaiso/longrest/internal/domain"
)

// WorkItemManager — сторона движка, принимающая результат шага.
// Реализуется runtime.Manager.
type WorkItemManager interface {
	// CompleteWorkItem завершает шаг с результатом.
	CompleteWorkItem(ctx context.Context, item *domain.WorkItem, results map[string]any) error

	// AbortWorkItem отменяет шаг.
	AbortWorkItem(ctx context.Context, item *domain.WorkItem, results map[string]any) error
}

// Handler — обработчик work item'ов одного вида.
type Handler interface {
	// Name возвращает имя handler'а (совпадает с WorkItem.Name).
	Name() string

	// Execute выполняет шаг и сообщает результат manager'у ровно один раз.
	// Ошибка возвращается, только если результат не удалось сообщить.
	Execute(ctx context.Context, item *domain.WorkItem, manager WorkItemManager) error

	// Abort отменяет шаг по запросу движка.
	Abort(ctx context.Context, item *domain.WorkItem, manager WorkItemManager) error
}

// Registry — реестр handler'ов по имени.
// Потокобезопасен.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// DefaultRegistry создаёт реестр с LongRunningHandler и RestHandler.
func DefaultRegistry(cfg Config) *Registry {
	r := NewRegistry()
	r.Register(NewLongRunningHandler(cfg))
	r.Register(NewRestHandler(cfg))
	return r
}

// Register регистрирует handler.
// Если handler с таким именем уже существует, он будет перезаписан.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.Name()] = h
}

// Get возвращает handler по имени.
// Возвращает ErrHandlerNotFound, если handler не найден.
func (r *Registry) Get(name string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHandlerNotFound, name)
	}
	return h, nil
}

// Names возвращает отсортированный список имён.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
