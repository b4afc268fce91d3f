package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shaiso/longrest/internal/domain"
)

// MaxAncestorHops — предел обхода родительских экземпляров.
// Защищает от циклов и патологически глубоких цепочек.
const MaxAncestorHops = 100

// Ключи системных переменных, доступных шаблонам как ${system.<key>}.
const (
	SystemCallbackURL     = "callbackUrl"
	SystemCallbackMethod  = "callbackMethod"
	SystemHeartBeatURL    = "heartBeatUrl"
	SystemHeartBeatMethod = "heartBeatMethod"
)

// Resolver — один scope цепочки.
// Возвращает значение, готовое к подстановке в шаблон, и true,
// если имя разрешено в этом scope.
type Resolver func(name string) (string, bool)

// Chain — упорядоченный список scope'ов: выигрывает первый, разрешивший имя.
type Chain []Resolver

// Resolve ищет имя по цепочке от внутреннего scope к внешним.
func (c Chain) Resolve(name string) (string, error) {
	for _, resolve := range c {
		if resolve == nil {
			continue
		}
		if v, ok := resolve(name); ok {
			return v, nil
		}
	}
	return "", &UnresolvableVariableError{Name: name}
}

// SystemVariables — системные переменные, которые видит удалённый сервис:
// куда прислать результат и куда слать heartbeat.
type SystemVariables struct {
	CallbackURL     string
	CallbackMethod  string
	HeartBeatURL    string
	HeartBeatMethod string
}

// NewSystemVariables строит системные переменные для экземпляра процесса.
//
// baseURL — внешний адрес callback API (например, "http://host:8080/api/v1").
func NewSystemVariables(baseURL string, instanceID uuid.UUID) SystemVariables {
	base := strings.TrimRight(baseURL, "/") + "/processes/instances/" + instanceID.String() + "/signal/"
	return SystemVariables{
		CallbackURL:     base + domain.SignalRESTResponded,
		CallbackMethod:  "POST",
		HeartBeatURL:    base + domain.SignalImAlive,
		HeartBeatMethod: "POST",
	}
}

// SystemScope — синтетический внутренний scope с системными переменными.
// Совпадение только по точному ключу.
func SystemScope(vars SystemVariables) Resolver {
	return func(name string) (string, bool) {
		switch name {
		case SystemCallbackURL:
			return vars.CallbackURL, true
		case SystemCallbackMethod:
			return vars.CallbackMethod, true
		case SystemHeartBeatURL:
			return vars.HeartBeatURL, true
		case SystemHeartBeatMethod:
			return vars.HeartBeatMethod, true
		default:
			return "", false
		}
	}
}

// MapScope — scope над готовым набором значений (без JSON-экранирования).
// Строки подставляются как есть, остальное — JSON-текстом.
func MapScope(values map[string]any) Resolver {
	return func(name string) (string, bool) {
		v, ok := lookupPath(values, name)
		if !ok {
			return "", false
		}
		if s, ok := v.(string); ok {
			return s, true
		}
		text, err := marshalJSON(v)
		if err != nil {
			return "", false
		}
		return string(text), true
	}
}

// VariableStore — источник переменных и иерархии экземпляров процесса.
// Реализуется repo.ProcessRepo.
type VariableStore interface {
	GetInstance(ctx context.Context, id uuid.UUID) (*domain.ProcessInstance, error)
	GetVariable(ctx context.Context, instanceID uuid.UUID, name string) (any, error)
}

// ProcessScope — scope переменных одного экземпляра процесса.
//
// Любая ошибка хранилища (и даже паника) означает "здесь не разрешается":
// поиск продолжается во внешнем scope. Значения JSON-экранируются, чтобы
// подстановка строки в JSON-шаблон не ломала JSON.
func ProcessScope(ctx context.Context, store VariableStore, instanceID uuid.UUID) Resolver {
	return func(name string) (value string, ok bool) {
		defer func() {
			if r := recover(); r != nil {
				value, ok = "", false
			}
		}()

		v, found := lookupVariable(ctx, store, instanceID, name)
		if !found {
			return "", false
		}

		escaped, err := EscapeJSON(v)
		if err != nil {
			return "", false
		}
		return escaped, true
	}
}

// lookupVariable ищет переменную целиком, затем — как путь "var.field.sub".
func lookupVariable(ctx context.Context, store VariableStore, instanceID uuid.UUID, name string) (any, bool) {
	if v, err := store.GetVariable(ctx, instanceID, name); err == nil {
		return v, true
	}

	head, rest, found := strings.Cut(name, ".")
	if !found {
		return nil, false
	}

	root, err := store.GetVariable(ctx, instanceID, head)
	if err != nil {
		return nil, false
	}
	m, ok := root.(map[string]any)
	if !ok {
		return nil, false
	}
	return lookupPath(m, rest)
}

// lookupPath ищет ключ целиком, затем — по точечному пути во вложенных map.
func lookupPath(values map[string]any, path string) (any, bool) {
	if v, ok := values[path]; ok {
		return v, true
	}

	current := any(values)
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// BuildProcessChain строит цепочку scope'ов: экземпляр, его родитель,
// родитель родителя и т.д.
//
// Обход останавливается на отсутствующем родителе, на повторе ID (цикл)
// или после MaxAncestorHops переходов.
func BuildProcessChain(ctx context.Context, store VariableStore, instanceID uuid.UUID) Chain {
	chain := Chain{ProcessScope(ctx, store, instanceID)}
	seen := map[uuid.UUID]bool{instanceID: true}

	current := instanceID
	for hop := 0; hop < MaxAncestorHops; hop++ {
		inst, err := store.GetInstance(ctx, current)
		if err != nil || inst == nil || inst.ParentID == nil {
			break
		}

		parentID := *inst.ParentID
		if seen[parentID] {
			break
		}
		seen[parentID] = true

		chain = append(chain, ProcessScope(ctx, store, parentID))
		current = parentID
	}

	return chain
}

// EscapeJSON готовит значение к подстановке внутрь JSON-шаблона.
//
// Строка экранируется без внешних кавычек ("a\"b" → a\"b),
// остальные значения сериализуются в JSON целиком.
func EscapeJSON(v any) (string, error) {
	text, err := marshalJSON(v)
	if err != nil {
		return "", fmt.Errorf("escape value: %w", err)
	}

	if _, isString := v.(string); isString {
		return string(text[1 : len(text)-1]), nil
	}
	return string(text), nil
}

// marshalJSON сериализует без HTML-экранирования и завершающего перевода строки.
func marshalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
