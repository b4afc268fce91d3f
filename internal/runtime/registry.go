package runtime

import (
	"fmt"
	"sort"
	"sync"
)

// Registry — реестр Manager'ов по deployment id.
// Потокобезопасен. Создаётся в main и передаётся зависимостям явно.
type Registry struct {
	mu       sync.RWMutex
	managers map[string]*Manager
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{
		managers: make(map[string]*Manager),
	}
}

// Register регистрирует Manager. Существующий с тем же id заменяется.
func (r *Registry) Register(m *Manager) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.managers[m.DeploymentID()] = m
}

// Get возвращает Manager деплоймента.
func (r *Registry) Get(deploymentID string) (*Manager, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.managers[deploymentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDeployment, deploymentID)
	}
	return m, nil
}

// Unregister удаляет Manager из реестра.
func (r *Registry) Unregister(deploymentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.managers, deploymentID)
}

// All возвращает все Manager'ы, отсортированные по deployment id.
func (r *Registry) All() []*Manager {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Manager, 0, len(r.managers))
	for _, m := range r.managers {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].DeploymentID() < out[j].DeploymentID()
	})
	return out
}
