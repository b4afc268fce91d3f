package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/longrest/internal/domain"
	"github.com/shaiso/longrest/internal/handler"
	"github.com/shaiso/longrest/internal/mq"
	"github.com/shaiso/longrest/internal/repo"
)

// memStore — in-memory реализация хранилищ с теми же CAS-семантиками, что у repo.
type memStore struct {
	mu        sync.Mutex
	statuses  map[uuid.UUID]domain.WorkItemStatus
	results   map[uuid.UUID]map[string]any
	awaits    map[uuid.UUID]*domain.Await
	variables map[uuid.UUID]map[string]any
}

func newMemStore() *memStore {
	return &memStore{
		statuses:  make(map[uuid.UUID]domain.WorkItemStatus),
		results:   make(map[uuid.UUID]map[string]any),
		awaits:    make(map[uuid.UUID]*domain.Await),
		variables: make(map[uuid.UUID]map[string]any),
	}
}

func (s *memStore) Finish(_ context.Context, id uuid.UUID, status domain.WorkItemStatus, results map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.statuses[id]
	if !ok {
		return repo.ErrNotFound
	}
	if current.IsTerminal() {
		return repo.ErrInvalidState
	}
	s.statuses[id] = status
	s.results[id] = results
	return nil
}

func (s *memStore) FinishParked(_ context.Context, id uuid.UUID, results map[string]any, a *domain.Await) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.statuses[id]
	if !ok {
		return repo.ErrNotFound
	}
	if current.IsTerminal() {
		return repo.ErrInvalidState
	}
	if existing, ok := s.awaits[a.ProcessInstanceID]; ok && existing.Status == domain.AwaitStatusWaiting {
		return fmt.Errorf("%w: process instance %s is already awaiting", repo.ErrAlreadyExists, a.ProcessInstanceID)
	}

	s.statuses[id] = domain.WorkItemStatusCompleted
	s.results[id] = results
	cp := *a
	cp.Status = domain.AwaitStatusWaiting
	s.awaits[a.ProcessInstanceID] = &cp
	return nil
}

func (s *memStore) Cancel(_ context.Context, instanceID, workItemID uuid.UUID) (*domain.Await, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.awaits[instanceID]
	if !ok || a.WorkItemID != workItemID || a.Status != domain.AwaitStatusWaiting {
		return nil, repo.ErrNotFound
	}
	a.Status = domain.AwaitStatusCancelled
	cp := *a
	return &cp, nil
}

func (s *memStore) Resolve(_ context.Context, instanceID uuid.UUID, status domain.AwaitStatus) (*domain.Await, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.awaits[instanceID]
	if !ok {
		return nil, repo.ErrNotFound
	}
	if a.Status != domain.AwaitStatusWaiting {
		return nil, repo.ErrInvalidState
	}
	a.Status = status
	cp := *a
	return &cp, nil
}

func (s *memStore) SetVariables(_ context.Context, id uuid.UUID, vars map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.variables[id]; !ok {
		return repo.ErrNotFound
	}
	for k, v := range vars {
		s.variables[id][k] = v
	}
	return nil
}

// memPublisher запоминает опубликованные события.
type memPublisher struct {
	mu        sync.Mutex
	completed []mq.WorkItemCompletedPayload
	signals   []mq.SignalPayload
}

func (p *memPublisher) PublishWorkItemCompleted(_ context.Context, payload mq.WorkItemCompletedPayload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed = append(p.completed, payload)
	return nil
}

func (p *memPublisher) PublishSignal(_ context.Context, payload mq.SignalPayload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signals = append(p.signals, payload)
	return nil
}

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestManager(store *memStore, pub *memPublisher) *Manager {
	return NewManager(Config{
		DeploymentID: "default",
		ProcessName:  "orders",
		WorkItems:    store,
		Awaits:       store,
		Variables:    store,
		Publisher:    pub,
		Now:          func() time.Time { return fixedNow },
	})
}

func newItem(store *memStore, name string) *domain.WorkItem {
	item := &domain.WorkItem{
		ID:                uuid.New(),
		ProcessInstanceID: uuid.New(),
		DeploymentID:      "default",
		Name:              name,
		Status:            domain.WorkItemStatusRunning,
	}
	store.statuses[item.ID] = item.Status
	store.variables[item.ProcessInstanceID] = map[string]any{}
	return item
}

func successResults(cancelURL string) map[string]any {
	return handler.Result{ResponseCode: 200, Body: map[string]any{}, CancelURL: cancelURL}.Map()
}

func TestManager_CompleteParksLongRunningStep(t *testing.T) {
	store, pub := newMemStore(), &memPublisher{}
	m := newTestManager(store, pub)
	item := newItem(store, handler.LongRunningName)

	require.NoError(t, m.CompleteWorkItem(context.Background(), item, successResults("http://svc/cancel/7")))

	assert.Equal(t, domain.WorkItemStatusCompleted, store.statuses[item.ID])
	assert.Equal(t, domain.WorkItemStatusCompleted, item.Status)

	await := store.awaits[item.ProcessInstanceID]
	require.NotNil(t, await)
	assert.Equal(t, domain.AwaitStatusWaiting, await.Status)
	assert.Equal(t, "http://svc/cancel/7", await.CancelURL)
	assert.Equal(t, item.ID, await.WorkItemID)

	require.Len(t, pub.completed, 1)
	assert.Equal(t, "COMPLETED", pub.completed[0].Status)
	assert.Equal(t, "default", pub.completed[0].DeploymentID)
}

func TestManager_CompleteDoesNotParkFailuresOrRest(t *testing.T) {
	store, pub := newMemStore(), &memPublisher{}
	m := newTestManager(store, pub)

	failedItem := newItem(store, handler.LongRunningName)
	failure := handler.Result{Err: &handler.Failure{Kind: handler.KindRemoteFailure, Message: "502"}}.Map()
	require.NoError(t, m.CompleteWorkItem(context.Background(), failedItem, failure))
	assert.NotContains(t, store.awaits, failedItem.ProcessInstanceID)

	restItem := newItem(store, handler.RestName)
	require.NoError(t, m.CompleteWorkItem(context.Background(), restItem, successResults("")))
	assert.NotContains(t, store.awaits, restItem.ProcessInstanceID)

	assert.Len(t, pub.completed, 2)
}

func TestManager_CompleteTwice(t *testing.T) {
	store, pub := newMemStore(), &memPublisher{}
	m := newTestManager(store, pub)
	item := newItem(store, handler.RestName)

	require.NoError(t, m.CompleteWorkItem(context.Background(), item, successResults("")))

	err := m.CompleteWorkItem(context.Background(), item, successResults(""))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAlreadyCompleted))
	assert.Len(t, pub.completed, 1)
}

func TestManager_AbortRunningItem(t *testing.T) {
	store, pub := newMemStore(), &memPublisher{}
	m := newTestManager(store, pub)
	item := newItem(store, handler.LongRunningName)

	require.NoError(t, m.AbortWorkItem(context.Background(), item, handler.AbortResult().Map()))

	assert.Equal(t, domain.WorkItemStatusAborted, store.statuses[item.ID])
	require.Len(t, pub.completed, 1)
	assert.Equal(t, "ABORTED", pub.completed[0].Status)
}

func TestManager_AbortParkedItemCancelsAwait(t *testing.T) {
	store, pub := newMemStore(), &memPublisher{}
	m := newTestManager(store, pub)
	item := newItem(store, handler.LongRunningName)

	require.NoError(t, m.CompleteWorkItem(context.Background(), item, successResults("http://svc/cancel/1")))
	require.NoError(t, m.AbortWorkItem(context.Background(), item, handler.AbortResult().Map()))

	assert.Equal(t, domain.AwaitStatusCancelled, store.awaits[item.ProcessInstanceID].Status)
	// Work item остаётся COMPLETED с результатом вызова
	assert.Equal(t, domain.WorkItemStatusCompleted, store.statuses[item.ID])
	require.Len(t, pub.completed, 2)
	assert.Equal(t, "ABORTED", pub.completed[1].Status)

	// Второй abort — отменять нечего
	err := m.AbortWorkItem(context.Background(), item, handler.AbortResult().Map())
	assert.True(t, errors.Is(err, ErrAlreadyCompleted))
}

// siblingItem — ещё один шаг того же экземпляра процесса.
func siblingItem(store *memStore, of *domain.WorkItem, name string) *domain.WorkItem {
	item := &domain.WorkItem{
		ID:                uuid.New(),
		ProcessInstanceID: of.ProcessInstanceID,
		DeploymentID:      of.DeploymentID,
		Name:              name,
		Status:            domain.WorkItemStatusRunning,
	}
	store.statuses[item.ID] = item.Status
	return item
}

func TestManager_AbortOtherItemKeepsParkedAwait(t *testing.T) {
	store, pub := newMemStore(), &memPublisher{}
	m := newTestManager(store, pub)
	parked := newItem(store, handler.LongRunningName)
	other := siblingItem(store, parked, handler.RestName)

	require.NoError(t, m.CompleteWorkItem(context.Background(), parked, successResults("http://svc/cancel/1")))
	require.NoError(t, m.AbortWorkItem(context.Background(), other, handler.AbortResult().Map()))

	await := store.awaits[parked.ProcessInstanceID]
	assert.Equal(t, domain.AwaitStatusWaiting, await.Status)
	assert.Equal(t, parked.ID, await.WorkItemID)
	assert.Equal(t, domain.WorkItemStatusAborted, store.statuses[other.ID])

	// Припаркованный шаг по-прежнему получает свой ответ
	require.NoError(t, m.SignalEvent(context.Background(), parked.ProcessInstanceID, domain.SignalRESTResponded, nil))
	assert.Equal(t, domain.AwaitStatusResponded, store.awaits[parked.ProcessInstanceID].Status)

	// Повторный abort уже завершённого шага без ожидания
	err := m.AbortWorkItem(context.Background(), other, handler.AbortResult().Map())
	assert.True(t, errors.Is(err, ErrAlreadyCompleted))
}

func TestManager_CompleteWhileInstanceAwaitsAnotherStep(t *testing.T) {
	store, pub := newMemStore(), &memPublisher{}
	m := newTestManager(store, pub)
	first := newItem(store, handler.LongRunningName)
	second := siblingItem(store, first, handler.LongRunningName)

	require.NoError(t, m.CompleteWorkItem(context.Background(), first, successResults("http://svc/cancel/1")))
	secondResults := successResults("http://svc/cancel/2")
	require.NoError(t, m.CompleteWorkItem(context.Background(), second, secondResults))

	// Второй шаг не паркуется, но завершается ровно один раз и с ошибкой
	assert.Equal(t, domain.WorkItemStatusCompleted, store.statuses[second.ID])
	failure, ok := store.results[second.ID][handler.ResultError].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, string(handler.KindInternal), failure["kind"])
	assert.Contains(t, failure["message"], "already awaiting")

	await := store.awaits[first.ProcessInstanceID]
	assert.Equal(t, first.ID, await.WorkItemID)
	assert.Equal(t, domain.AwaitStatusWaiting, await.Status)

	require.Len(t, pub.completed, 2)
	assert.Contains(t, pub.completed[1].Results, handler.ResultError)
	// Map вызывающего не изменяется
	assert.NotContains(t, secondResults, handler.ResultError)
}

func TestManager_ParkRespectsCompletionGuard(t *testing.T) {
	store, pub := newMemStore(), &memPublisher{}
	m := newTestManager(store, pub)
	item := newItem(store, handler.LongRunningName)
	store.statuses[item.ID] = domain.WorkItemStatusAborted

	err := m.CompleteWorkItem(context.Background(), item, successResults(""))
	assert.True(t, errors.Is(err, ErrAlreadyCompleted))
	assert.NotContains(t, store.awaits, item.ProcessInstanceID)
	assert.Empty(t, pub.completed)
}

func TestManager_SignalResolvesAwaitOnce(t *testing.T) {
	store, pub := newMemStore(), &memPublisher{}
	m := newTestManager(store, pub)
	item := newItem(store, handler.LongRunningName)
	require.NoError(t, m.CompleteWorkItem(context.Background(), item, successResults("")))

	data := map[string]any{"status": "done"}
	require.NoError(t, m.SignalEvent(context.Background(), item.ProcessInstanceID, domain.SignalRESTResponded, data))
	assert.Equal(t, domain.AwaitStatusResponded, store.awaits[item.ProcessInstanceID].Status)

	// died после ответа проигрывает гонку и не публикуется
	err := m.SignalEvent(context.Background(), item.ProcessInstanceID, domain.SignalDied, nil)
	assert.True(t, errors.Is(err, ErrAlreadyResolved))

	require.Len(t, pub.signals, 1)
	assert.Equal(t, domain.SignalRESTResponded, pub.signals[0].Event)
	assert.Equal(t, data, pub.signals[0].Data)
}

func TestManager_SignalRace(t *testing.T) {
	store, pub := newMemStore(), &memPublisher{}
	m := newTestManager(store, pub)
	item := newItem(store, handler.LongRunningName)
	require.NoError(t, m.CompleteWorkItem(context.Background(), item, successResults("")))

	var accepted, rejected atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		event := domain.SignalRESTResponded
		if i%2 == 0 {
			event = domain.SignalDied
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := m.SignalEvent(context.Background(), item.ProcessInstanceID, event, nil)
			switch {
			case err == nil:
				accepted.Add(1)
			case errors.Is(err, ErrAlreadyResolved):
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), accepted.Load())
	assert.Equal(t, int32(19), rejected.Load())
	assert.Len(t, pub.signals, 1)
}

func TestManager_SignalWithoutAwait(t *testing.T) {
	store, pub := newMemStore(), &memPublisher{}
	m := newTestManager(store, pub)

	err := m.SignalEvent(context.Background(), uuid.New(), domain.SignalDied, nil)
	assert.True(t, errors.Is(err, ErrNotAwaiting))

	// Произвольные события пересылаются без ожидания
	require.NoError(t, m.SignalEvent(context.Background(), uuid.New(), "approved", "yes"))
	require.Len(t, pub.signals, 1)
	assert.Equal(t, "approved", pub.signals[0].Event)

	err = m.SignalEvent(context.Background(), uuid.New(), "", nil)
	assert.True(t, errors.Is(err, ErrInvalidSignal))
}

func TestManager_Heartbeat(t *testing.T) {
	store, pub := newMemStore(), &memPublisher{}
	m := newTestManager(store, pub)
	item := newItem(store, handler.LongRunningName)
	id := item.ProcessInstanceID

	require.NoError(t, m.Heartbeat(context.Background(), id, "PT30S"))
	assert.Equal(t, fixedNow.UnixMilli(), store.variables[id][domain.VarLastHeartbeat])
	assert.Equal(t, "PT30S", store.variables[id][domain.VarHeartbeatTimeout])

	rec, err := domain.HeartbeatFromVariables(store.variables[id])
	require.NoError(t, err)
	assert.True(t, rec.Active())
	assert.Equal(t, 30*time.Second, rec.Timeout)

	// Без таймаута обновляется только lastHeartbeat
	require.NoError(t, m.Heartbeat(context.Background(), id, ""))
	assert.Equal(t, "PT30S", store.variables[id][domain.VarHeartbeatTimeout])

	err = m.Heartbeat(context.Background(), id, "thirty seconds")
	assert.True(t, errors.Is(err, ErrInvalidSignal))

	err = m.Heartbeat(context.Background(), uuid.New(), "")
	assert.True(t, errors.Is(err, repo.ErrNotFound))
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	store := newMemStore()

	b := NewManager(Config{DeploymentID: "b", WorkItems: store, Awaits: store, Variables: store})
	a := NewManager(Config{DeploymentID: "a", WorkItems: store, Awaits: store, Variables: store})
	r.Register(b)
	r.Register(a)

	got, err := r.Get("a")
	require.NoError(t, err)
	assert.Same(t, a, got)

	all := r.All()
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].DeploymentID())

	r.Unregister("a")
	_, err = r.Get("a")
	assert.True(t, errors.Is(err, ErrUnknownDeployment))
}
