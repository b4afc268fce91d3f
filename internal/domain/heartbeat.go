package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sosodev/duration"
)

// Переменные процесса, которые ведут heartbeat-супервизию.
const (
	// VarLastHeartbeat — время последнего heartbeat в epoch millis.
	VarLastHeartbeat = "lastHeartbeat"

	// VarHeartbeatTimeout — допустимая пауза между heartbeat (ISO-8601, например "PT30S").
	VarHeartbeatTimeout = "heartbeatTimeout"
)

// ErrInvalidHeartbeat — переменные heartbeat имеют неожиданный тип или формат.
var ErrInvalidHeartbeat = errors.New("invalid heartbeat variables")

// HeartbeatRecord — состояние heartbeat-супервизии одного экземпляра процесса.
//
// Супервизия опциональна: если lastHeartbeat равен 0 (или отсутствует),
// либо heartbeatTimeout пустой, запись неактивна и monitor её пропускает.
type HeartbeatRecord struct {
	// LastHeartbeat — время последнего heartbeat (zero value — не задано).
	LastHeartbeat time.Time

	// Timeout — допустимая пауза (0 — не задана).
	Timeout time.Duration
}

// Active возвращает true, если экземпляр находится под супервизией.
func (r HeartbeatRecord) Active() bool {
	return !r.LastHeartbeat.IsZero() && r.Timeout > 0
}

// Elapsed возвращает время с последнего heartbeat.
func (r HeartbeatRecord) Elapsed(now time.Time) time.Duration {
	return now.Sub(r.LastHeartbeat)
}

// Expired возвращает true, если пауза превысила таймаут.
// Для неактивной записи всегда false.
func (r HeartbeatRecord) Expired(now time.Time) bool {
	if !r.Active() {
		return false
	}
	return r.Elapsed(now) > r.Timeout
}

// HeartbeatFromVariables читает HeartbeatRecord из переменных процесса.
//
// Отсутствующие переменные дают неактивную запись без ошибки.
// Ошибка возвращается только для значений неожиданного типа/формата.
func HeartbeatFromVariables(vars map[string]any) (HeartbeatRecord, error) {
	var rec HeartbeatRecord

	millis, err := epochMillis(vars[VarLastHeartbeat])
	if err != nil {
		return rec, fmt.Errorf("%w: %s: %v", ErrInvalidHeartbeat, VarLastHeartbeat, err)
	}
	if millis != 0 {
		rec.LastHeartbeat = time.UnixMilli(millis)
	}

	timeout, err := ParseISODuration(vars[VarHeartbeatTimeout])
	if err != nil {
		return rec, fmt.Errorf("%w: %s: %v", ErrInvalidHeartbeat, VarHeartbeatTimeout, err)
	}
	rec.Timeout = timeout

	return rec, nil
}

// ParseISODuration парсит ISO-8601 длительность ("PT5S", "PT1M30S").
// nil и пустая строка дают 0 без ошибки.
func ParseISODuration(v any) (time.Duration, error) {
	if v == nil {
		return 0, nil
	}

	s, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("expected ISO-8601 string, got %T", v)
	}
	if s == "" {
		return 0, nil
	}

	d, err := duration.Parse(s)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", s, err)
	}
	return d.ToTimeDuration(), nil
}

// epochMillis приводит значение переменной к epoch millis.
// Из JSONB числа приходят как float64, из API — иногда строкой.
func epochMillis(v any) (int64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case json.Number:
		return n.Int64()
	case string:
		if n == "" {
			return 0, nil
		}
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, fmt.Errorf("expected epoch millis, got %T", v)
	}
}
