package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-openapi/jsonpointer"

	"github.com/shaiso/longrest/internal/engine"
	"github.com/shaiso/longrest/internal/invoker"
)

// OutcomeKind — класс исхода вызова.
type OutcomeKind int

const (
	// OutcomeSuccess — 2xx, тело разобрано.
	OutcomeSuccess OutcomeKind = iota

	// OutcomeRemoteFailure — статус вне [200,300).
	OutcomeRemoteFailure

	// OutcomeProcessingFailure — ответ получен, но не разобран.
	OutcomeProcessingFailure
)

// String возвращает имя исхода для логов и метрик.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeRemoteFailure:
		return "remote_failure"
	case OutcomeProcessingFailure:
		return "processing_failure"
	default:
		return "unknown"
	}
}

// Outcome — результат классификации HTTP-ответа.
type Outcome struct {
	Kind OutcomeKind

	// StatusCode — HTTP-код ответа.
	StatusCode int

	// Reason — reason phrase (для OutcomeRemoteFailure).
	Reason string

	// Body — тело ответа как string-keyed map (для OutcomeSuccess).
	Body map[string]any

	// CancelURL — извлечённый URL отмены (для OutcomeSuccess).
	CancelURL string

	// Err — причина (для OutcomeProcessingFailure), оборачивает ErrResponseProcessing.
	Err error
}

// Result переводит исход в терминальный результат шага.
func (o Outcome) Result() Result {
	switch o.Kind {
	case OutcomeSuccess:
		return Result{
			ResponseCode: o.StatusCode,
			Body:         o.Body,
			CancelURL:    o.CancelURL,
		}
	case OutcomeRemoteFailure:
		return failed(o.StatusCode, KindRemoteFailure, fmt.Sprintf("%d %s", o.StatusCode, o.Reason))
	default:
		msg := ErrResponseProcessing.Error()
		if o.Err != nil {
			msg = o.Err.Error()
		}
		return failed(o.StatusCode, KindResponseProcessing, msg)
	}
}

// CancelURLSpec — как извлечь URL отмены из ответа.
// Template имеет приоритет над Pointer; оба пустые — URL отмены пуст.
type CancelURLSpec struct {
	// Pointer — JSON pointer (RFC 6901) в теле ответа, например "/cancelUrl".
	Pointer string

	// Template — шаблон вида "http://svc/cancel/${response.id}".
	Template string
}

// ProcessResponse классифицирует HTTP-ответ.
//
//   - статус вне [200,300) — OutcomeRemoteFailure с кодом и reason phrase
//   - 204 или пустое тело — OutcomeSuccess с пустым результатом
//   - иначе тело разбирается как JSON: массив превращается в map
//     с ключами "0", "1", ..., объект берётся как есть
//
// Шаблон cancel URL видит тело ответа только как ${response.*}
// (и как последний scope для имён без префикса). Числа тела разбираются
// как json.Number и не теряют точность. Любая ошибка разбора или извлечения
// cancel URL даёт OutcomeProcessingFailure, а не панику или сырую ошибку.
func ProcessResponse(resp *invoker.Response, spec CancelURLSpec, scopes engine.Scopes) Outcome {
	if resp == nil {
		return processingFailure(0, fmt.Errorf("%w: no response", ErrResponseProcessing))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		reason := resp.Reason
		if reason == "" {
			reason = http.StatusText(resp.StatusCode)
		}
		return Outcome{
			Kind:       OutcomeRemoteFailure,
			StatusCode: resp.StatusCode,
			Reason:     reason,
		}
	}

	if resp.StatusCode == http.StatusNoContent || len(resp.Body) == 0 {
		return Outcome{
			Kind:       OutcomeSuccess,
			StatusCode: resp.StatusCode,
			Body:       make(map[string]any),
		}
	}

	var root any
	dec := json.NewDecoder(bytes.NewReader(resp.Body))
	dec.UseNumber()
	if err := dec.Decode(&root); err != nil {
		return processingFailure(resp.StatusCode, fmt.Errorf("%w: parse body: %v", ErrResponseProcessing, err))
	}
	if dec.More() {
		return processingFailure(resp.StatusCode, fmt.Errorf("%w: parse body: trailing data after JSON value", ErrResponseProcessing))
	}

	body, err := normalizeRoot(root)
	if err != nil {
		return processingFailure(resp.StatusCode, err)
	}

	cancelURL, err := extractCancelURL(spec, root, body, scopes)
	if err != nil {
		return processingFailure(resp.StatusCode, err)
	}

	return Outcome{
		Kind:       OutcomeSuccess,
		StatusCode: resp.StatusCode,
		Body:       body,
		CancelURL:  cancelURL,
	}
}

// normalizeRoot приводит корень JSON к string-keyed map.
// Переменные процесса адресуются строками, поэтому массив индексируется "0", "1", ...
func normalizeRoot(root any) (map[string]any, error) {
	switch v := root.(type) {
	case map[string]any:
		return v, nil
	case []any:
		out := make(map[string]any, len(v))
		for i, item := range v {
			out[strconv.Itoa(i)] = item
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unsupported JSON root %T", ErrResponseProcessing, root)
	}
}

// extractCancelURL извлекает URL отмены: сначала шаблон, затем JSON pointer.
func extractCancelURL(spec CancelURLSpec, root any, body map[string]any, scopes engine.Scopes) (string, error) {
	if spec.Template != "" {
		scopes.Response = engine.MapScope(body)
		url, err := engine.Render(spec.Template, scopes)
		if err != nil {
			return "", fmt.Errorf("%w: cancel url template: %w", ErrResponseProcessing, err)
		}
		return url, nil
	}

	if spec.Pointer == "" {
		return "", nil
	}

	ptr, err := jsonpointer.New(spec.Pointer)
	if err != nil {
		return "", fmt.Errorf("%w: cancel url pointer %q: %v", ErrResponseProcessing, spec.Pointer, err)
	}

	// Отсутствующее значение — не ошибка: сервис мог не вернуть URL отмены
	value, _, err := ptr.Get(root)
	if err != nil || value == nil {
		return "", nil
	}

	if s, ok := value.(string); ok {
		return s, nil
	}

	text, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("%w: cancel url value: %v", ErrResponseProcessing, err)
	}
	return string(text), nil
}

func processingFailure(code int, err error) Outcome {
	return Outcome{
		Kind:       OutcomeProcessingFailure,
		StatusCode: code,
		Err:        err,
	}
}
