package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/longrest/internal/domain"
	"github.com/shaiso/longrest/internal/repo"
	"github.com/shaiso/longrest/internal/runtime"
	"github.com/shaiso/longrest/internal/telemetry"
)

// DefaultBatchSize — размер страницы при обходе активных экземпляров.
const DefaultBatchSize = 1000

// InstanceSource — чтение экземпляров процессов. Реализуется repo.ProcessRepo.
type InstanceSource interface {
	// ListActive возвращает страницу активных экземпляров после page,
	// упорядоченных по (created_at, id). Пустой deploymentID — любой деплоймент.
	ListActive(ctx context.Context, deploymentID, processName string, page repo.ActivePage, limit int) ([]domain.ProcessInstance, error)
	GetInstance(ctx context.Context, id uuid.UUID) (*domain.ProcessInstance, error)
}

// Signaler — доставка сигналов. Реализуется runtime.Manager.
type Signaler interface {
	SignalEvent(ctx context.Context, instanceID uuid.UUID, event string, data any) error
}

// Target — что сканировать: процесс одного деплоймента и его Signaler.
type Target struct {
	DeploymentID string
	ProcessName  string
	Signaler     Signaler
}

// ScanReport — итог одного скана.
type ScanReport struct {
	Scanned        int // активных экземпляров на всех страницах
	Pages          int
	Supervised     int // из них под супервизией
	Died           int // отправлено died
	AlreadyHandled int // ожидание уже разрешено другим путём
	Skipped        int // завершились во время скана или ничего не ждут
	Errors         int
}

// MonitorConfig — конфигурация Monitor.
type MonitorConfig struct {
	Source InstanceSource

	// BatchSize (default: DefaultBatchSize).
	BatchSize int

	Logger *slog.Logger

	// Now — источник времени (для тестов).
	Now func() time.Time
}

// Monitor проверяет heartbeat экземпляров процесса.
type Monitor struct {
	source    InstanceSource
	batchSize int
	logger    *slog.Logger
	now       func() time.Time
}

// NewMonitor создаёт Monitor.
func NewMonitor(cfg MonitorConfig) *Monitor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Monitor{
		source:    cfg.Source,
		batchSize: cfg.BatchSize,
		logger:    cfg.Logger,
		now:       cfg.Now,
	}
}

// Scan проверяет все активные экземпляры процесса target.ProcessName.
//
// Ошибка возвращается, только если не удалось получить список экземпляров.
// Ошибки отдельных экземпляров логируются и не прерывают скан.
func (m *Monitor) Scan(ctx context.Context, target Target) (ScanReport, error) {
	var report ScanReport

	telemetry.HeartbeatScansTotal.Inc()

	// Keyset-пагинация: новые экземпляры не прячутся за старыми живыми
	var page repo.ActivePage
	for {
		instances, err := m.source.ListActive(ctx, target.DeploymentID, target.ProcessName, page, m.batchSize)
		if err != nil {
			return report, fmt.Errorf("list active instances of %s: %w", target.ProcessName, err)
		}
		report.Pages++
		report.Scanned += len(instances)

		for _, inst := range instances {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			m.check(ctx, target, inst.ID, &report)
		}

		if len(instances) < m.batchSize {
			break
		}
		last := instances[len(instances)-1]
		page = repo.ActivePage{AfterCreatedAt: last.CreatedAt, AfterID: last.ID}
	}

	m.logger.Debug("heartbeat scan finished",
		"process_name", target.ProcessName,
		"deployment_id", target.DeploymentID,
		"scanned", report.Scanned,
		"pages", report.Pages,
		"supervised", report.Supervised,
		"died", report.Died,
		"errors", report.Errors,
	)
	return report, nil
}

// check проверяет один экземпляр и обновляет report.
func (m *Monitor) check(ctx context.Context, target Target, id uuid.UUID, report *ScanReport) {
	logger := telemetry.WithProcessInstanceID(m.logger, id.String())

	defer func() {
		if r := recover(); r != nil {
			report.Errors++
			telemetry.HeartbeatScanErrorsTotal.Inc()
			logger.Error("heartbeat check panicked", "panic", r)
		}
	}()

	// Перечитываем экземпляр: список мог устареть, а переменные нужны свежие
	inst, err := m.source.GetInstance(ctx, id)
	if err != nil {
		m.fail(logger, report, "failed to load instance", err)
		return
	}
	if !inst.IsActive() {
		report.Skipped++
		logger.Debug("instance finished during scan", "state", inst.State)
		return
	}

	rec, err := domain.HeartbeatFromVariables(inst.Variables)
	if err != nil {
		m.fail(logger, report, "malformed heartbeat variables", err)
		return
	}
	if !rec.Active() {
		return
	}
	report.Supervised++

	now := m.now()
	if !rec.Expired(now) {
		return
	}

	elapsed := rec.Elapsed(now)
	err = target.Signaler.SignalEvent(ctx, id, domain.SignalDied, map[string]any{
		"lastHeartbeat": rec.LastHeartbeat.UnixMilli(),
		"elapsed":       elapsed.String(),
		"timeout":       rec.Timeout.String(),
	})
	switch {
	case err == nil:
		report.Died++
		telemetry.HeartbeatDiedTotal.Inc()
		logger.Warn("remote service died", "elapsed", elapsed, "timeout", rec.Timeout)
	case errors.Is(err, runtime.ErrAlreadyResolved):
		report.AlreadyHandled++
		logger.Debug("await already resolved")
	case errors.Is(err, runtime.ErrNotAwaiting):
		// Heartbeat пришёл, но шаг не припаркован: ждать нечего
		report.Skipped++
		logger.Debug("heartbeat expired but instance is not awaiting")
	default:
		m.fail(logger, report, "failed to signal died", err)
	}
}

func (m *Monitor) fail(logger *slog.Logger, report *ScanReport, msg string, err error) {
	report.Errors++
	telemetry.HeartbeatScanErrorsTotal.Inc()
	logger.Error(msg, "error", err)
}
