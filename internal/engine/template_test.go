package engine

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shaiso/longrest/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore — in-memory VariableStore для тестов.
type fakeStore struct {
	instances map[uuid.UUID]*domain.ProcessInstance
	lookups   int // количество вызовов GetInstance
	panicOn   string
}

var errNotFound = errors.New("not found")

func newFakeStore() *fakeStore {
	return &fakeStore{instances: make(map[uuid.UUID]*domain.ProcessInstance)}
}

func (s *fakeStore) add(parent *uuid.UUID, vars map[string]any) uuid.UUID {
	id := uuid.New()
	s.instances[id] = &domain.ProcessInstance{
		ID:        id,
		ParentID:  parent,
		State:     domain.ProcessStateActive,
		Variables: vars,
	}
	return id
}

func (s *fakeStore) GetInstance(_ context.Context, id uuid.UUID) (*domain.ProcessInstance, error) {
	s.lookups++
	inst, ok := s.instances[id]
	if !ok {
		return nil, errNotFound
	}
	return inst, nil
}

func (s *fakeStore) GetVariable(_ context.Context, id uuid.UUID, name string) (any, error) {
	if name == s.panicOn {
		var m map[string]any
		m["boom"] = 1 // паника как у хранилища, падающего на отсутствующей переменной
	}
	inst, ok := s.instances[id]
	if !ok {
		return nil, errNotFound
	}
	v, ok := inst.Variable(name)
	if !ok {
		return nil, errNotFound
	}
	return v, nil
}

func TestChain_FirstSuccessWins(t *testing.T) {
	inner := MapScope(map[string]any{"a": "inner"})
	outer := MapScope(map[string]any{"a": "outer", "b": "outer-b"})

	chain := Chain{inner, outer}

	v, err := chain.Resolve("a")
	require.NoError(t, err)
	assert.Equal(t, "inner", v)

	v, err = chain.Resolve("b")
	require.NoError(t, err)
	assert.Equal(t, "outer-b", v)

	_, err = chain.Resolve("c")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnresolvableVariable))

	var uerr *UnresolvableVariableError
	require.True(t, errors.As(err, &uerr))
	assert.Equal(t, "c", uerr.Name)
}

func TestSystemScope(t *testing.T) {
	id := uuid.New()
	vars := NewSystemVariables("http://engine:8080/api/v1/", id)

	assert.Equal(t, "http://engine:8080/api/v1/processes/instances/"+id.String()+"/signal/RESTResponded", vars.CallbackURL)
	assert.Equal(t, "http://engine:8080/api/v1/processes/instances/"+id.String()+"/signal/imAlive", vars.HeartBeatURL)
	assert.Equal(t, "POST", vars.CallbackMethod)
	assert.Equal(t, "POST", vars.HeartBeatMethod)

	scope := SystemScope(vars)

	v, ok := scope(SystemCallbackURL)
	assert.True(t, ok)
	assert.Equal(t, vars.CallbackURL, v)

	// Только точное совпадение ключа
	_, ok = scope("callbackurl")
	assert.False(t, ok)
}

func TestProcessScope_EscapesJSON(t *testing.T) {
	store := newFakeStore()
	id := store.add(nil, map[string]any{
		"quote":   `say "hi"`,
		"html":    "<b>&</b>",
		"count":   float64(42),
		"flag":    true,
		"address": map[string]any{"city": "Brno"},
	})

	scope := ProcessScope(context.Background(), store, id)

	tests := []struct {
		name string
		want string
	}{
		{"quote", `say \"hi\"`},
		{"html", "<b>&</b>"},
		{"count", "42"},
		{"flag", "true"},
		{"address", `{"city":"Brno"}`},
		{"address.city", "Brno"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, ok := scope(tt.name)
			require.True(t, ok)
			assert.Equal(t, tt.want, v)
		})
	}

	_, ok := scope("missing")
	assert.False(t, ok)
}

func TestProcessScope_SwallowsPanics(t *testing.T) {
	store := newFakeStore()
	parent := store.add(nil, map[string]any{"name": "from-parent"})
	child := store.add(&parent, map[string]any{})
	store.panicOn = "name"

	chain := Chain{ProcessScope(context.Background(), store, child)}
	_, err := chain.Resolve("name")
	assert.True(t, errors.Is(err, ErrUnresolvableVariable))
}

func TestBuildProcessChain_ResolvesFromAncestors(t *testing.T) {
	store := newFakeStore()
	root := store.add(nil, map[string]any{"tenant": "acme", "name": "root"})
	mid := store.add(&root, map[string]any{"name": "mid"})
	leaf := store.add(&mid, map[string]any{"own": "leaf"})

	chain := BuildProcessChain(context.Background(), store, leaf)
	require.Len(t, chain, 3)

	v, err := chain.Resolve("own")
	require.NoError(t, err)
	assert.Equal(t, "leaf", v)

	// Ближайший предок выигрывает
	v, err = chain.Resolve("name")
	require.NoError(t, err)
	assert.Equal(t, "mid", v)

	v, err = chain.Resolve("tenant")
	require.NoError(t, err)
	assert.Equal(t, "acme", v)
}

func TestBuildProcessChain_CircuitBreaker(t *testing.T) {
	store := newFakeStore()

	// Цепочка глубиной 150: переменная есть только у самого дальнего предка
	var parent *uuid.UUID
	deepest := store.add(nil, map[string]any{"deep": "value"})
	parent = &deepest
	var leaf uuid.UUID
	for i := 0; i < 150; i++ {
		leaf = store.add(parent, map[string]any{})
		p := leaf
		parent = &p
	}

	chain := BuildProcessChain(context.Background(), store, leaf)

	assert.Len(t, chain, MaxAncestorHops+1)
	assert.LessOrEqual(t, store.lookups, MaxAncestorHops)

	_, err := chain.Resolve("deep")
	assert.True(t, errors.Is(err, ErrUnresolvableVariable))
}

func TestBuildProcessChain_Cycle(t *testing.T) {
	store := newFakeStore()
	a := store.add(nil, map[string]any{"x": "a"})
	b := store.add(&a, map[string]any{})
	// Замыкаем цикл a → b → a
	store.instances[a].ParentID = &b

	chain := BuildProcessChain(context.Background(), store, a)
	assert.Len(t, chain, 2)

	v, err := chain.Resolve("x")
	require.NoError(t, err)
	assert.Equal(t, "a", v)
}

func TestRender(t *testing.T) {
	store := newFakeStore()
	id := store.add(nil, map[string]any{
		"username": "Matej",
		"note":     `line "one"` + "\n" + "line two",
	})

	scopes := Scopes{
		System:  SystemScope(NewSystemVariables("http://engine/api/v1", id)),
		Process: BuildProcessChain(context.Background(), store, id),
	}

	tests := []struct {
		name     string
		template string
		expected string
	}{
		{
			name:     "process variable",
			template: `{"name":"${proc.username}"}`,
			expected: `{"name":"Matej"}`,
		},
		{
			name:     "system variable",
			template: `${system.callbackMethod} ${system.callbackUrl}`,
			expected: "POST http://engine/api/v1/processes/instances/" + id.String() + "/signal/RESTResponded",
		},
		{
			name:     "no namespace and spaces",
			template: `${ username }`,
			expected: "Matej",
		},
		{
			name:     "no template",
			template: "plain text",
			expected: "plain text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Render(tt.template, scopes)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
			assert.NotContains(t, result, "${")
		})
	}

	// Экранированная строка даёт валидный JSON
	out := mustRender(t, `{"note":"${proc.note}"}`, scopes)
	var parsed map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &parsed))
	assert.Equal(t, `line "one"`+"\n"+"line two", parsed["note"])
}

func TestRender_Unresolvable(t *testing.T) {
	scopes := Scopes{Process: Chain{MapScope(map[string]any{"known": "v"})}}

	_, err := Render(`{"a":"${known}","b":"${proc.unknown}"}`, scopes)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTemplateRender))
	assert.True(t, errors.Is(err, ErrUnresolvableVariable))
	assert.True(t, strings.Contains(err.Error(), "proc.unknown"))
}

func TestRender_Namespaces(t *testing.T) {
	id := uuid.New()
	sys := NewSystemVariables("http://engine/api/v1", id)

	// Все три scope'а знают callbackUrl и id
	scopes := Scopes{
		System: SystemScope(sys),
		Process: Chain{MapScope(map[string]any{
			"callbackUrl": "http://proc/cb",
			"id":          "proc-id",
			"user":        "Matej",
		})},
		Response: MapScope(map[string]any{
			"callbackUrl": "http://evil/x",
			"id":          "resp-id",
			"user":        "evil",
			"only":        "resp-only",
		}),
	}

	tests := []struct {
		name     string
		template string
		expected string
	}{
		{name: "system prefix", template: "${system.callbackUrl}", expected: sys.CallbackURL},
		{name: "proc prefix", template: "${proc.callbackUrl}", expected: "http://proc/cb"},
		{name: "response prefix", template: "${response.callbackUrl}", expected: "http://evil/x"},
		{name: "bare name prefers system", template: "${callbackUrl}", expected: sys.CallbackURL},
		{name: "bare name prefers process over response", template: "${user}", expected: "Matej"},
		{name: "bare name falls back to response", template: "${only}", expected: "resp-only"},
		{name: "response id", template: "http://svc/cancel/${response.id}", expected: "http://svc/cancel/resp-id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Render(tt.template, scopes)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestRender_NamespaceIsStrict(t *testing.T) {
	scopes := Scopes{
		Process:  Chain{MapScope(map[string]any{"user": "Matej"})},
		Response: MapScope(map[string]any{"callbackUrl": "http://evil/x"}),
	}

	tests := []struct {
		name     string
		template string
	}{
		// Без System scope системная переменная не берётся из ответа
		{name: "system from response", template: "${system.callbackUrl}"},
		{name: "response from process", template: "${response.user}"},
		{name: "process from response", template: "${proc.callbackUrl}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Render(tt.template, scopes)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrUnresolvableVariable))
		})
	}
}

func TestSplitNamespace(t *testing.T) {
	tests := []struct {
		expr string
		ns   string
		name string
	}{
		{expr: "proc.username", ns: NamespaceProcess, name: "username"},
		{expr: " system.callbackUrl ", ns: NamespaceSystem, name: "callbackUrl"},
		{expr: "response.id", ns: NamespaceResponse, name: "id"},
		{expr: "proc.address.city", ns: NamespaceProcess, name: "address.city"},
		{expr: "address.city", ns: "", name: "address.city"},
		{expr: "plain", ns: "", name: "plain"},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			ns, name := splitNamespace(tt.expr)
			assert.Equal(t, tt.ns, ns)
			assert.Equal(t, tt.name, name)
		})
	}
}

// mustRender рендерит шаблон и останавливает тест при ошибке.
func mustRender(t *testing.T, tmpl string, scopes Scopes) string {
	t.Helper()
	out, err := Render(tmpl, scopes)
	require.NoError(t, err)
	return out
}

func TestMapScope(t *testing.T) {
	scope := MapScope(map[string]any{
		"id":     float64(7),
		"nested": map[string]any{"href": "http://svc/cancel/7"},
	})

	v, ok := scope("id")
	require.True(t, ok)
	assert.Equal(t, "7", v)

	v, ok = scope("nested.href")
	require.True(t, ok)
	assert.Equal(t, "http://svc/cancel/7", v)
}
