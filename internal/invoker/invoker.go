package invoker

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	// ContentTypeJSON — Content-Type запросов с телом.
	ContentTypeJSON = "application/json; charset=UTF-8"

	// Значения таймаутов по умолчанию.
	defaultTimeout = 5 * time.Second

	// maxClients — предел кэша клиентов. Таймауты приходят из параметров
	// шага, поэтому набор ключей не ограничен.
	maxClients = 32
)

// Timeouts — таймауты одного вызова.
//
//   - Connect — установка TCP/TLS соединения
//   - Read    — ожидание заголовков ответа после отправки запроса
//   - Request — весь вызов целиком, включая чтение тела
//
// Нулевое значение поля означает "взять значение по умолчанию".
type Timeouts struct {
	Connect time.Duration
	Read    time.Duration
	Request time.Duration
}

// DefaultTimeouts возвращает таймауты по умолчанию (5s/5s/5s).
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Connect: defaultTimeout,
		Read:    defaultTimeout,
		Request: defaultTimeout,
	}
}

// Merge возвращает таймауты, где ненулевые поля override заменяют текущие.
func (t Timeouts) Merge(override Timeouts) Timeouts {
	if override.Connect > 0 {
		t.Connect = override.Connect
	}
	if override.Read > 0 {
		t.Read = override.Read
	}
	if override.Request > 0 {
		t.Request = override.Request
	}
	return t
}

// Request — один исходящий HTTP-запрос.
type Request struct {
	// Method — HTTP-метод (любой глагол, приводится к верхнему регистру).
	Method string

	// URL — адрес удалённого сервиса.
	URL string

	// Headers — дополнительные заголовки.
	Headers map[string]string

	// Body — тело запроса (JSON). nil — запрос без тела.
	Body []byte
}

// Response — ответ удалённого сервиса.
type Response struct {
	// StatusCode — HTTP-код ответа.
	StatusCode int

	// Reason — reason phrase сервера ("Not Found").
	Reason string

	// Body — сырое тело ответа.
	Body []byte

	// Header — заголовки ответа.
	Header http.Header
}

// Invoker выполняет синхронные HTTP-вызовы удалённых сервисов.
//
// Retry на этом уровне не выполняется: повторять вызов или нет, решает
// вызывающая сторона (long-running handler не повторяет — живость
// удалённой стороны контролирует heartbeat monitor).
//
// Клиенты кэшируются по таймаутам транспорта (Connect, Read), поэтому
// соединения переиспользуются между вызовами с одинаковыми настройками.
// Request применяется к каждому вызову через context. Кэш ограничен
// maxClients; вытесненный клиент закрывает простаивающие соединения.
type Invoker struct {
	defaults Timeouts

	mu      sync.Mutex
	clients map[transportKey]*resty.Client
}

// transportKey — таймауты, зашитые в http.Transport.
type transportKey struct {
	connect time.Duration
	read    time.Duration
}

// New создаёт Invoker. Нулевые поля defaults заменяются на 5s.
func New(defaults Timeouts) *Invoker {
	return &Invoker{
		defaults: DefaultTimeouts().Merge(defaults),
		clients:  make(map[transportKey]*resty.Client),
	}
}

// Defaults возвращает таймауты по умолчанию этого Invoker'а.
func (i *Invoker) Defaults() Timeouts {
	return i.defaults
}

// Send выполняет запрос.
//
// Любой HTTP-ответ (включая 4xx/5xx) возвращается как Response:
// классификация по статусу — задача обработчика ответа.
// Транспортные сбои возвращаются как *InvocationError (ErrRemoteInvocation).
func (i *Invoker) Send(ctx context.Context, req *Request, timeouts Timeouts) (*Response, error) {
	if req == nil || req.URL == "" {
		return nil, fmt.Errorf("%w: url is required", ErrInvalidRequest)
	}

	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		return nil, fmt.Errorf("%w: method is required", ErrInvalidRequest)
	}

	t := i.defaults.Merge(timeouts)
	client := i.client(t)

	ctx, cancel := context.WithTimeout(ctx, t.Request)
	defer cancel()

	r := client.R().SetContext(ctx)
	for key, value := range req.Headers {
		r.SetHeader(key, value)
	}

	// Тело всегда JSON — Content-Type переопределяет пользовательский
	if req.Body != nil {
		r.SetHeader("Content-Type", ContentTypeJSON)
		r.SetBody(req.Body)
	}

	resp, err := r.Execute(method, req.URL)
	if err != nil {
		return nil, &InvocationError{Method: method, URL: req.URL, Err: err}
	}

	return &Response{
		StatusCode: resp.StatusCode(),
		Reason:     reasonPhrase(resp.StatusCode(), resp.Status()),
		Body:       resp.Body(),
		Header:     resp.Header(),
	}, nil
}

// client возвращает (создавая при необходимости) клиента для таймаутов.
func (i *Invoker) client(t Timeouts) *resty.Client {
	key := transportKey{connect: t.Connect, read: t.Read}

	i.mu.Lock()
	defer i.mu.Unlock()

	if c, ok := i.clients[key]; ok {
		return c
	}

	if len(i.clients) >= maxClients {
		for k, old := range i.clients {
			delete(i.clients, k)
			old.GetClient().CloseIdleConnections()
			break
		}
	}

	dialer := &net.Dialer{
		Timeout:   t.Connect,
		KeepAlive: 30 * time.Second,
	}

	c := resty.New().
		SetTransport(&http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			TLSHandshakeTimeout:   t.Connect,
			ResponseHeaderTimeout: t.Read,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
		}).
		SetRetryCount(0)

	i.clients[key] = c
	return c
}

// reasonPhrase извлекает reason phrase из строки статуса ("404 Not Found").
func reasonPhrase(code int, status string) string {
	reason := strings.TrimSpace(strings.TrimPrefix(status, strconv.Itoa(code)))
	if reason == "" {
		reason = http.StatusText(code)
	}
	return reason
}
