package telemetry

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// ParseLevel переводит строковый уровень в slog.Level.
// Возможные значения: DEBUG, INFO, WARN, ERROR (регистр не важен).
// По умолчанию: INFO
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger создаёт логгер и делает его глобальным.
//
// Формат вывода:
//   - "json" (по умолчанию) — JSON формат для production
//   - "text" — человекочитаемый цветной формат (tint) для разработки
func NewLogger(level, format string) *slog.Logger {
	logger := slog.New(newHandler(os.Stdout, ParseLevel(level), format))
	slog.SetDefault(logger)
	return logger
}

func newHandler(w io.Writer, level slog.Level, format string) slog.Handler {
	if strings.EqualFold(format, "text") {
		noColor := true
		if f, ok := w.(*os.File); ok {
			noColor = !isatty.IsTerminal(f.Fd())
		}
		return tint.NewHandler(w, &tint.Options{
			Level:      level,
			AddSource:  level == slog.LevelDebug,
			NoColor:    noColor,
			TimeFormat: time.StampMilli,
		})
	}

	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	})
}

// Ключи контекста для передачи данных в логгер.
type ctxKey string

const (
	// CtxLogger — ключ для логгера в контексте.
	CtxLogger ctxKey = "logger"
)

// WithLogger добавляет логгер в контекст.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, CtxLogger, logger)
}

// FromContext извлекает логгер из контекста.
// Если логгер не найден, возвращает глобальный.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(CtxLogger).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// WithProcessInstanceID возвращает логгер с добавленным process_instance_id.
func WithProcessInstanceID(logger *slog.Logger, id string) *slog.Logger {
	return logger.With("process_instance_id", id)
}

// WithWorkItemID возвращает логгер с добавленным work_item_id.
func WithWorkItemID(logger *slog.Logger, id string) *slog.Logger {
	return logger.With("work_item_id", id)
}

// WithDeploymentID возвращает логгер с добавленным deployment_id.
func WithDeploymentID(logger *slog.Logger, id string) *slog.Logger {
	return logger.With("deployment_id", id)
}
