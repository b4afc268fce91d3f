package domain

import (
	"time"

	"github.com/google/uuid"
)

// Имена сигналов, которые получает припаркованный процесс.
const (
	// SignalRESTResponded — удалённый сервис прислал результат на callback URL.
	SignalRESTResponded = "RESTResponded"

	// SignalImAlive — heartbeat от удалённого сервиса.
	SignalImAlive = "imAlive"

	// SignalDied — heartbeat monitor зафиксировал, что удалённый сервис умер.
	SignalDied = "died"
)

// Await — припаркованный шаг, ожидающий ответа удалённого сервиса.
//
// Создаётся, когда long-running handler успешно отправил запрос.
// Разрешается ровно один раз: callback'ом RESTResponded, сигналом died
// от heartbeat monitor'а или отменой. Гонку между путями решает
// compare-and-set на статусе WAITING.
type Await struct {
	// ProcessInstanceID — процесс, который ждёт (одно ожидание на процесс).
	ProcessInstanceID uuid.UUID `json:"process_instance_id"`

	// WorkItemID — work item, отправивший запрос.
	WorkItemID uuid.UUID `json:"work_item_id"`

	// Status — текущий статус ожидания.
	Status AwaitStatus `json:"status"`

	// CancelURL — URL отмены, который вернул удалённый сервис (может быть пустым).
	CancelURL string `json:"cancel_url,omitempty"`

	// CreatedAt — время парковки.
	CreatedAt time.Time `json:"created_at"`

	// ResolvedAt — время разрешения ожидания.
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// AwaitStatusForSignal возвращает финальный статус ожидания для сигнала.
// Второе значение false, если сигнал не разрешает ожидание.
func AwaitStatusForSignal(event string) (AwaitStatus, bool) {
	switch event {
	case SignalRESTResponded:
		return AwaitStatusResponded, true
	case SignalDied:
		return AwaitStatusDied, true
	default:
		return "", false
	}
}
