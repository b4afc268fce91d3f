package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultRetryDelay — пауза перед повторной попыткой, если Job.Next вернул ошибку.
const DefaultRetryDelay = 5 * time.Second

// Job — повторяющаяся задача.
type Job interface {
	// Name возвращает имя задачи для логов.
	Name() string

	// Run выполняет задачу один раз.
	Run(ctx context.Context, jc *JobContext) error

	// Next возвращает время следующего запуска после from.
	// Вызывается перед каждым запуском, поэтому видит актуальный JobContext.
	Next(jc *JobContext, from time.Time) (time.Time, error)
}

// JobContext — данные задачи, доступные при каждом выполнении.
// Безопасен для конкурентного использования.
type JobContext struct {
	mu         sync.RWMutex
	data       map[string]string
	executions int
	firedAt    time.Time
}

// NewJobContext создаёт JobContext с копией data.
func NewJobContext(data map[string]string) *JobContext {
	jc := &JobContext{data: make(map[string]string, len(data))}
	for k, v := range data {
		jc.data[k] = v
	}
	return jc
}

// Get возвращает значение по ключу или "".
func (jc *JobContext) Get(key string) string {
	jc.mu.RLock()
	defer jc.mu.RUnlock()
	return jc.data[key]
}

// Set задаёт значение; действует со следующего планирования.
func (jc *JobContext) Set(key, value string) {
	jc.mu.Lock()
	defer jc.mu.Unlock()
	jc.data[key] = value
}

// Executions — количество выполнений. Пропуски не-лидером не считаются.
func (jc *JobContext) Executions() int {
	jc.mu.RLock()
	defer jc.mu.RUnlock()
	return jc.executions
}

// FiredAt — время текущего (последнего) запуска.
func (jc *JobContext) FiredAt() time.Time {
	jc.mu.RLock()
	defer jc.mu.RUnlock()
	return jc.firedAt
}

// fire отмечает запуск.
func (jc *JobContext) fire(at time.Time) {
	jc.mu.Lock()
	defer jc.mu.Unlock()
	jc.firedAt = at
	jc.executions++
}

// Gate решает, может ли этот экземпляр выполнять задачи (лидерство).
// Реализуется repo.AdvisoryLock.
type Gate interface {
	TryAcquire(ctx context.Context) (bool, error)
}

// Config — конфигурация Scheduler.
type Config struct {
	// Gate — проверка лидерства (опционально).
	Gate Gate

	Logger *slog.Logger

	// RetryDelay — пауза после ошибки Job.Next (default: DefaultRetryDelay).
	RetryDelay time.Duration
}

type entry struct {
	job Job
	jc  *JobContext
}

// Scheduler запускает повторяющиеся задачи.
type Scheduler struct {
	gate       Gate
	logger     *slog.Logger
	retryDelay time.Duration

	mu      sync.Mutex
	entries []entry
}

// New создаёт новый Scheduler.
func New(cfg Config) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retry := cfg.RetryDelay
	if retry <= 0 {
		retry = DefaultRetryDelay
	}

	return &Scheduler{
		gate:       cfg.Gate,
		logger:     logger,
		retryDelay: retry,
	}
}

// Add регистрирует задачу с данными контекста. Вызывается до Run.
func (s *Scheduler) Add(job Job, data map[string]string) *JobContext {
	jc := NewJobContext(data)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry{job: job, jc: jc})
	return jc
}

// Run запускает все задачи и блокируется до отмены ctx.
// Каждая задача планируется независимо; ошибка выполнения логируется
// и не останавливает ни её, ни остальные задачи.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	entries := append([]entry(nil), s.entries...)
	s.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, e := range entries {
		g.Go(func() error {
			s.loop(ctx, e)
			return nil
		})
	}
	return g.Wait()
}

// RunOnce выполняет задачу немедленно (с проверкой Gate).
// Возвращает false, если этот экземпляр не лидер.
func (s *Scheduler) RunOnce(ctx context.Context, job Job, jc *JobContext) (bool, error) {
	if !s.leader(ctx, job) {
		return false, nil
	}

	jc.fire(time.Now())

	if err := s.safeRun(ctx, job, jc); err != nil {
		return true, err
	}
	return true, nil
}

// loop — цикл одной задачи: спланировать, дождаться, выполнить, повторить.
func (s *Scheduler) loop(ctx context.Context, e entry) {
	logger := s.logger.With("job", e.job.Name())

	for {
		now := time.Now()
		delay := s.retryDelay

		next, err := e.job.Next(e.jc, now)
		if err != nil {
			logger.Error("failed to schedule job, retrying", "delay", delay, "error", err)
		} else if d := next.Sub(now); d > 0 {
			delay = d
		} else {
			delay = 0
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if err != nil {
			continue
		}

		ran, err := s.RunOnce(ctx, e.job, e.jc)
		if !ran {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("job failed", "execution", e.jc.Executions(), "error", err)
			continue
		}
		logger.Debug("job completed", "execution", e.jc.Executions())
	}
}

// leader проверяет Gate. Ошибка Gate трактуется как "не лидер".
func (s *Scheduler) leader(ctx context.Context, job Job) bool {
	if s.gate == nil {
		return true
	}

	ok, err := s.gate.TryAcquire(ctx)
	if err != nil {
		s.logger.Warn("leadership check failed", "job", job.Name(), "error", err)
		return false
	}
	return ok
}

// safeRun выполняет задачу, превращая панику в ошибку.
func (s *Scheduler) safeRun(ctx context.Context, job Job, jc *JobContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name(), r)
		}
	}()
	return job.Run(ctx, jc)
}
