package engine

import (
	"fmt"
	"io"
	"strings"

	"github.com/valyala/fasttemplate"
)

// Разделители выражений в шаблонах: ${proc.username}, ${system.callbackUrl}.
const (
	startTag = "${"
	endTag   = "}"
)

// Namespace'ы выражений шаблона.
const (
	NamespaceSystem   = "system"
	NamespaceProcess  = "proc"
	NamespaceResponse = "response"
)

// Scopes — источники значений шаблона, разложенные по namespace'ам.
//
// ${system.x} ищется только в System, ${proc.x} — только в Process,
// ${response.x} — только в Response. Имя без префикса проходит
// System, затем Process, затем Response: тело ответа удалённого сервиса
// не перекрывает системные переменные и переменные процесса.
type Scopes struct {
	System   Resolver
	Process  Chain
	Response Resolver
}

// Resolve разрешает выражение шаблона с учётом namespace.
func (s Scopes) Resolve(expr string) (string, error) {
	ns, name := splitNamespace(expr)

	var chain Chain
	switch ns {
	case NamespaceSystem:
		chain = Chain{s.System}
	case NamespaceProcess:
		chain = s.Process
	case NamespaceResponse:
		chain = Chain{s.Response}
	default:
		chain = make(Chain, 0, len(s.Process)+2)
		chain = append(chain, s.System)
		chain = append(chain, s.Process...)
		chain = append(chain, s.Response)
	}

	v, err := chain.Resolve(name)
	if err != nil {
		return "", &UnresolvableVariableError{Name: strings.TrimSpace(expr)}
	}
	return v, nil
}

// Render рендерит шаблон, подставляя значения из scope'ов.
//
// Шаблон может содержать выражения:
//
//	{"name": "${proc.username}"}
//	{"callback": "${system.callbackUrl}"}
//	{"city": "${proc.address.city}"}
//
// Имя, не найденное в своём namespace, — ошибка (пустая строка не подставляется).
// Возвращаемая ошибка оборачивает ErrTemplateRender и исходную причину,
// поэтому errors.Is(err, ErrUnresolvableVariable) работает.
func Render(tmpl string, scopes Scopes) (string, error) {
	// Проверяем, содержит ли строка шаблонные выражения
	if !strings.Contains(tmpl, startTag) {
		return tmpl, nil
	}

	out, err := fasttemplate.ExecuteFuncStringWithErr(tmpl, startTag, endTag, func(w io.Writer, tag string) (int, error) {
		value, err := scopes.Resolve(tag)
		if err != nil {
			return 0, err
		}
		return w.Write([]byte(value))
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTemplateRender, err)
	}

	return out, nil
}

// splitNamespace делит выражение на namespace и имя переменной.
// Для выражения без известного префикса namespace пустой.
func splitNamespace(expr string) (ns, name string) {
	name = strings.TrimSpace(expr)
	prefix, rest, found := strings.Cut(name, ".")
	if !found {
		return "", name
	}
	switch prefix {
	case NamespaceSystem, NamespaceProcess, NamespaceResponse:
		return prefix, rest
	default:
		return "", name
	}
}
