package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/shaiso/longrest/internal/domain"
)

// cronParser — парсер cron-выражений. Секунды необязательны,
// поддерживаются дескрипторы (@every 10s, @hourly).
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseCron парсит cron-выражение.
func ParseCron(expr string) (cron.Schedule, error) {
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse cron expression %q: %w", expr, err)
	}
	return schedule, nil
}

// ValidateCronExpr проверяет валидность cron-выражения.
func ValidateCronExpr(expr string) error {
	_, err := ParseCron(expr)
	return err
}

// ParseInterval парсит интервал в формате ISO-8601 ("PT5S", "PT1M").
// Интервал должен быть положительным.
func ParseInterval(iso string) (time.Duration, error) {
	d, err := domain.ParseISODuration(iso)
	if err != nil {
		return 0, fmt.Errorf("parse interval %q: %w", iso, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("interval %q must be positive", iso)
	}
	return d, nil
}
