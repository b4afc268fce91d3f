package handler

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/longrest/internal/domain"
	"github.com/shaiso/longrest/internal/invoker"
)

// memStore — in-memory engine.VariableStore.
type memStore struct {
	instances map[uuid.UUID]*domain.ProcessInstance
}

var errNoInstance = errors.New("no instance")

func newMemStore() *memStore {
	return &memStore{instances: make(map[uuid.UUID]*domain.ProcessInstance)}
}

func (s *memStore) add(parent *uuid.UUID, vars map[string]any) uuid.UUID {
	id := uuid.New()
	s.instances[id] = &domain.ProcessInstance{ID: id, ParentID: parent, State: domain.ProcessStateActive, Variables: vars}
	return id
}

func (s *memStore) GetInstance(_ context.Context, id uuid.UUID) (*domain.ProcessInstance, error) {
	inst, ok := s.instances[id]
	if !ok {
		return nil, errNoInstance
	}
	return inst, nil
}

func (s *memStore) GetVariable(ctx context.Context, id uuid.UUID, name string) (any, error) {
	inst, err := s.GetInstance(ctx, id)
	if err != nil {
		return nil, err
	}
	v, ok := inst.Variable(name)
	if !ok {
		return nil, errNoInstance
	}
	return v, nil
}

// recordingManager запоминает все завершения.
type recordingManager struct {
	mu        sync.Mutex
	completed []map[string]any
	aborted   []map[string]any
	err       error
}

func (m *recordingManager) CompleteWorkItem(_ context.Context, _ *domain.WorkItem, results map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed = append(m.completed, results)
	return m.err
}

func (m *recordingManager) AbortWorkItem(_ context.Context, _ *domain.WorkItem, results map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.aborted = append(m.aborted, results)
	return m.err
}

// panicSender паникует при вызове.
type panicSender struct{}

func (panicSender) Send(context.Context, *invoker.Request, invoker.Timeouts) (*invoker.Response, error) {
	panic("boom")
}

func workItem(instanceID uuid.UUID, name string, params map[string]any) *domain.WorkItem {
	return &domain.WorkItem{
		ID:                uuid.New(),
		ProcessInstanceID: instanceID,
		Name:              name,
		Parameters:        params,
		Status:            domain.WorkItemStatusRunning,
	}
}

func TestLongRunningHandler_EndToEnd(t *testing.T) {
	var receivedBody, receivedContentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/A", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		b, _ := io.ReadAll(r.Body)
		receivedBody = string(b)
		receivedContentType = r.Header.Get("Content-Type")
		w.Write([]byte(`{"cancelUrl":"http://svc/cancel/7"}`))
	}))
	defer server.Close()

	store := newMemStore()
	id := store.add(nil, map[string]any{"username": "Matej"})

	h := NewLongRunningHandler(Config{
		Sender:          invoker.New(invoker.Timeouts{}),
		Store:           store,
		CallbackBaseURL: "http://engine/api/v1",
	})
	manager := &recordingManager{}

	item := workItem(id, LongRunningName, map[string]any{
		domain.ParamURL:                  server.URL + "/A",
		domain.ParamMethod:               "POST",
		domain.ParamTemplate:             `{"name":"${proc.username}"}`,
		domain.ParamCancelURLJSONPointer: "/cancelUrl",
	})

	require.NoError(t, h.Execute(context.Background(), item, manager))

	assert.Equal(t, `{"name":"Matej"}`, receivedBody)
	assert.Equal(t, invoker.ContentTypeJSON, receivedContentType)

	require.Len(t, manager.completed, 1)
	assert.Equal(t, map[string]any{
		"responseCode": 200,
		"result":       map[string]any{"cancelUrl": "http://svc/cancel/7"},
		"cancelUrl":    "http://svc/cancel/7",
	}, manager.completed[0])
}

func TestLongRunningHandler_SystemVariables(t *testing.T) {
	var receivedBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		receivedBody = string(b)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	store := newMemStore()
	parent := store.add(nil, map[string]any{"tenant": "acme"})
	id := store.add(&parent, map[string]any{})

	h := NewLongRunningHandler(Config{
		Sender:          invoker.New(invoker.Timeouts{}),
		Store:           store,
		CallbackBaseURL: "http://engine/api/v1/",
	})
	manager := &recordingManager{}

	item := workItem(id, LongRunningName, map[string]any{
		domain.ParamURL:      server.URL,
		domain.ParamMethod:   "PUT",
		domain.ParamTemplate: `{"cb":"${system.callbackUrl}","hb":"${system.heartBeatUrl}","t":"${tenant}"}`,
	})

	require.NoError(t, h.Execute(context.Background(), item, manager))

	base := "http://engine/api/v1/processes/instances/" + id.String() + "/signal/"
	assert.JSONEq(t, `{"cb":"`+base+`RESTResponded","hb":"`+base+`imAlive","t":"acme"}`, receivedBody)

	require.Len(t, manager.completed, 1)
	assert.Equal(t, 204, manager.completed[0][ResultResponseCode])
	assert.NotContains(t, manager.completed[0], ResultError)
}

func TestLongRunningHandler_Failures(t *testing.T) {
	// Свободный порт без слушателя — connection refused
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	refusedURL := "http://" + ln.Addr().String()
	ln.Close()

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"error":"upstream"}`))
	}))
	defer failing.Close()

	garbage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`<html>`))
	}))
	defer garbage.Close()

	store := newMemStore()
	id := store.add(nil, map[string]any{})

	tests := []struct {
		name     string
		params   map[string]any
		wantKind string
		wantCode int
	}{
		{
			name:     "missing url",
			params:   map[string]any{domain.ParamMethod: "GET"},
			wantKind: "invalid_parameters",
		},
		{
			name:     "missing method",
			params:   map[string]any{domain.ParamURL: failing.URL},
			wantKind: "invalid_parameters",
		},
		{
			name: "unresolvable variable",
			params: map[string]any{
				domain.ParamURL:      failing.URL,
				domain.ParamMethod:   "POST",
				domain.ParamTemplate: `{"x":"${proc.nope}"}`,
			},
			wantKind: "unresolvable_variable",
		},
		{
			name:     "connection refused",
			params:   map[string]any{domain.ParamURL: refusedURL, domain.ParamMethod: "POST"},
			wantKind: "remote_invocation",
		},
		{
			name:     "remote failure",
			params:   map[string]any{domain.ParamURL: failing.URL, domain.ParamMethod: "GET"},
			wantKind: "remote_failure",
			wantCode: http.StatusBadGateway,
		},
		{
			name:     "unparsable body",
			params:   map[string]any{domain.ParamURL: garbage.URL, domain.ParamMethod: "GET"},
			wantKind: "response_processing",
			wantCode: http.StatusOK,
		},
	}

	h := NewLongRunningHandler(Config{
		Sender:          invoker.New(invoker.Timeouts{}),
		Store:           store,
		CallbackBaseURL: "http://engine/api/v1",
	})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager := &recordingManager{}
			require.NoError(t, h.Execute(context.Background(), workItem(id, LongRunningName, tt.params), manager))

			require.Len(t, manager.completed, 1)
			res := manager.completed[0]

			errMap, ok := res[ResultError].(map[string]any)
			require.True(t, ok, "error key must be present")
			assert.Equal(t, tt.wantKind, errMap["kind"])
			assert.Equal(t, tt.wantCode, res[ResultResponseCode])
			assert.Equal(t, map[string]any{}, res[ResultBody])
			assert.Equal(t, "", res[ResultCancelURL])
		})
	}
}

func TestLongRunningHandler_PanicCompletesOnce(t *testing.T) {
	store := newMemStore()
	id := store.add(nil, map[string]any{})

	h := NewLongRunningHandler(Config{Sender: panicSender{}, Store: store})
	manager := &recordingManager{}

	item := workItem(id, LongRunningName, map[string]any{domain.ParamURL: "http://svc", domain.ParamMethod: "GET"})
	require.NoError(t, h.Execute(context.Background(), item, manager))

	require.Len(t, manager.completed, 1)
	errMap := manager.completed[0][ResultError].(map[string]any)
	assert.Equal(t, "internal", errMap["kind"])
}

func TestLongRunningHandler_ManagerError(t *testing.T) {
	store := newMemStore()
	id := store.add(nil, map[string]any{})

	h := NewLongRunningHandler(Config{Sender: panicSender{}, Store: store})
	manager := &recordingManager{err: errors.New("already completed")}

	err := h.Execute(context.Background(), workItem(id, LongRunningName, nil), manager)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already completed")
	assert.Len(t, manager.completed, 1)
}

func TestLongRunningHandler_Abort(t *testing.T) {
	h := NewLongRunningHandler(Config{Sender: panicSender{}, Store: newMemStore()})
	manager := &recordingManager{}

	require.NoError(t, h.Abort(context.Background(), workItem(uuid.New(), LongRunningName, nil), manager))

	assert.Empty(t, manager.completed)
	require.Len(t, manager.aborted, 1)
	errMap := manager.aborted[0][ResultError].(map[string]any)
	assert.Equal(t, "abort_requested", errMap["kind"])
}

func TestRestHandler_IgnoresCancelURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.Header.Get("X-Trace"))
		w.Write([]byte(`{"cancelUrl":"http://svc/cancel/1"}`))
	}))
	defer server.Close()

	store := newMemStore()
	id := store.add(nil, map[string]any{})

	h := NewRestHandler(Config{Sender: invoker.New(invoker.Timeouts{}), Store: store})
	manager := &recordingManager{}

	item := workItem(id, RestName, map[string]any{
		domain.ParamURL:                  server.URL,
		domain.ParamMethod:               "GET",
		domain.ParamHeaders:              "X-Trace=1",
		domain.ParamCancelURLJSONPointer: "/cancelUrl",
	})
	require.NoError(t, h.Execute(context.Background(), item, manager))

	require.Len(t, manager.completed, 1)
	assert.Equal(t, "", manager.completed[0][ResultCancelURL])
	assert.Equal(t, map[string]any{"cancelUrl": "http://svc/cancel/1"}, manager.completed[0][ResultBody])
}

func TestRestHandler_SystemVariablesUnavailable(t *testing.T) {
	store := newMemStore()
	id := store.add(nil, map[string]any{})

	h := NewRestHandler(Config{Sender: panicSender{}, Store: store})
	manager := &recordingManager{}

	item := workItem(id, RestName, map[string]any{
		domain.ParamURL:      "http://svc",
		domain.ParamMethod:   "POST",
		domain.ParamTemplate: `${system.callbackUrl}`,
	})
	require.NoError(t, h.Execute(context.Background(), item, manager))

	errMap := manager.completed[0][ResultError].(map[string]any)
	assert.Equal(t, "unresolvable_variable", errMap["kind"])
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry(Config{Store: newMemStore()})

	assert.Equal(t, []string{LongRunningName, RestName}, r.Names())

	h, err := r.Get(LongRunningName)
	require.NoError(t, err)
	assert.Equal(t, LongRunningName, h.Name())

	_, err = r.Get("Docker")
	assert.True(t, errors.Is(err, ErrHandlerNotFound))
}
