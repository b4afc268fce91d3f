package engine

import "errors"

// Ошибки рендеринга шаблонов.
var (
	// ErrTemplateRender — ошибка рендеринга шаблона.
	ErrTemplateRender = errors.New("template render failed")

	// ErrUnresolvableVariable — имя не найдено ни в одном scope цепочки.
	ErrUnresolvableVariable = errors.New("unresolvable variable")
)

// UnresolvableVariableError — ошибка разрешения переменной с контекстом.
type UnresolvableVariableError struct {
	Name string // имя переменной, как оно записано в шаблоне
}

// Error реализует интерфейс error.
func (e *UnresolvableVariableError) Error() string {
	return "unresolvable variable: " + e.Name
}

// Unwrap возвращает базовую ошибку.
func (e *UnresolvableVariableError) Unwrap() error {
	return ErrUnresolvableVariable
}
