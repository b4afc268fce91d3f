// Package config загружает конфигурацию бинарников longrest.
//
// Источники (по возрастанию приоритета): значения по умолчанию,
// YAML-файл (longrest.yaml), переменные окружения с префиксом LONGREST_
// (LONGREST_DB_URL, LONGREST_WORKER_CONCURRENCY, ...).
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/shaiso/longrest/internal/invoker"
	"github.com/shaiso/longrest/internal/mq"
	"github.com/shaiso/longrest/internal/repo"
	"github.com/shaiso/longrest/internal/scheduler"
)

// EnvPrefix — префикс переменных окружения.
const EnvPrefix = "LONGREST"

// DefaultFile — имя файла конфигурации без расширения.
const DefaultFile = "longrest"

// ErrInvalidConfig — конфигурация не прошла проверку.
var ErrInvalidConfig = errors.New("invalid config")

// Config — конфигурация всех бинарников.
type Config struct {
	DB          DBConfig           `mapstructure:"db"`
	AMQP        AMQPConfig         `mapstructure:"amqp"`
	API         APIConfig          `mapstructure:"api"`
	Callback    CallbackConfig     `mapstructure:"callback"`
	HTTP        HTTPConfig         `mapstructure:"http"`
	Worker      WorkerConfig       `mapstructure:"worker"`
	Monitor     MonitorConfig      `mapstructure:"monitor"`
	Log         LogConfig          `mapstructure:"log"`
	Metrics     MetricsConfig      `mapstructure:"metrics"`
	Deployments []DeploymentConfig `mapstructure:"deployments"`
}

// DBConfig — PostgreSQL.
type DBConfig struct {
	URL     string `mapstructure:"url"`
	Migrate bool   `mapstructure:"migrate"`
}

// AMQPConfig — RabbitMQ.
type AMQPConfig struct {
	URL string `mapstructure:"url"`
}

// APIConfig — HTTP API.
type APIConfig struct {
	Addr        string   `mapstructure:"addr"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// CallbackConfig — куда удалённые сервисы шлют callback'и.
type CallbackConfig struct {
	// BaseURL — внешний адрес API, например "https://longrest.example.com/api/v1".
	BaseURL string `mapstructure:"base_url"`
}

// HTTPConfig — таймауты вызова удалённых сервисов по умолчанию.
type HTTPConfig struct {
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// WorkerConfig — воркер.
type WorkerConfig struct {
	Concurrency  int           `mapstructure:"concurrency"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
	Prefetch     int           `mapstructure:"prefetch"`

	// StaleAfter — через сколько RUNNING work item считается брошенным
	// умершим воркером и завершается с ошибкой internal.
	StaleAfter time.Duration `mapstructure:"stale_after"`
}

// MonitorConfig — heartbeat monitor.
type MonitorConfig struct {
	// Interval — ISO-8601 ("PT5S").
	Interval string `mapstructure:"interval"`

	// Cron — cron-выражение вместо интервала (секунды необязательны).
	Cron string `mapstructure:"cron"`

	BatchSize int `mapstructure:"batch_size"`

	// LockKey — ключ pg_advisory_lock для выбора лидера.
	LockKey int64 `mapstructure:"lock_key"`
}

// LogConfig — логирование.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig — /metrics и /healthz воркера и монитора.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// DeploymentConfig — деплоймент, которым управляет этот экземпляр.
type DeploymentConfig struct {
	ID string `mapstructure:"id"`

	// ProcessName — процесс под heartbeat-супервизией (пусто — не сканировать).
	ProcessName string `mapstructure:"process_name"`
}

// setDefaults задаёт значения по умолчанию.
// Ключ без default не читается из окружения при Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("db.url", repo.DefaultDSN)
	v.SetDefault("db.migrate", true)
	v.SetDefault("amqp.url", mq.DefaultURL())
	v.SetDefault("api.addr", ":8080")
	v.SetDefault("api.cors_origins", []string{})
	v.SetDefault("callback.base_url", "http://localhost:8080/api/v1")
	v.SetDefault("http.connect_timeout", 5*time.Second)
	v.SetDefault("http.read_timeout", 5*time.Second)
	v.SetDefault("http.request_timeout", 5*time.Second)
	v.SetDefault("worker.concurrency", 8)
	v.SetDefault("worker.poll_interval", 10*time.Second)
	v.SetDefault("worker.batch_size", 50)
	v.SetDefault("worker.prefetch", 5)
	v.SetDefault("worker.stale_after", 5*time.Minute)
	v.SetDefault("monitor.interval", "PT5S")
	v.SetDefault("monitor.cron", "")
	v.SetDefault("monitor.batch_size", 1000)
	v.SetDefault("monitor.lock_key", 7_347_001)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("deployments", []map[string]any{{"id": "default"}})
}

// Load читает конфигурацию. Пустой path ищет longrest.yaml в текущей
// директории и в /etc/longrest; отсутствие файла не ошибка.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(DefaultFile)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/longrest")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate проверяет конфигурацию.
func (c *Config) Validate() error {
	var problems []string

	if c.DB.URL == "" {
		problems = append(problems, "db.url is required")
	}
	if c.AMQP.URL == "" {
		problems = append(problems, "amqp.url is required")
	}

	if u, err := url.Parse(c.Callback.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		problems = append(problems, fmt.Sprintf("callback.base_url %q must be an absolute URL", c.Callback.BaseURL))
	}

	if c.HTTP.ConnectTimeout < 0 || c.HTTP.ReadTimeout < 0 || c.HTTP.RequestTimeout < 0 {
		problems = append(problems, "http timeouts must not be negative")
	}

	if c.Worker.Concurrency <= 0 {
		problems = append(problems, "worker.concurrency must be positive")
	}
	if c.Worker.PollInterval <= 0 {
		problems = append(problems, "worker.poll_interval must be positive")
	}
	if c.Worker.StaleAfter <= c.HTTP.RequestTimeout {
		problems = append(problems, "worker.stale_after must exceed http.request_timeout")
	}

	if c.Monitor.Cron != "" {
		if err := scheduler.ValidateCronExpr(c.Monitor.Cron); err != nil {
			problems = append(problems, fmt.Sprintf("monitor.cron: %v", err))
		}
	} else if _, err := c.Monitor.IntervalDuration(); err != nil {
		problems = append(problems, fmt.Sprintf("monitor.interval: %v", err))
	}

	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		problems = append(problems, fmt.Sprintf("log.format %q must be json or text", c.Log.Format))
	}

	if len(c.Deployments) == 0 {
		problems = append(problems, "at least one deployment is required")
	}
	seen := make(map[string]bool, len(c.Deployments))
	for i, d := range c.Deployments {
		if d.ID == "" {
			problems = append(problems, fmt.Sprintf("deployments[%d].id is required", i))
			continue
		}
		if seen[d.ID] {
			problems = append(problems, fmt.Sprintf("duplicate deployment %q", d.ID))
		}
		seen[d.ID] = true
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// IntervalDuration возвращает интервал монитора.
func (m MonitorConfig) IntervalDuration() (time.Duration, error) {
	return scheduler.ParseInterval(m.Interval)
}

// Timeouts возвращает таймауты invoker'а. Нулевые поля берутся из invoker.DefaultTimeouts.
func (h HTTPConfig) Timeouts() invoker.Timeouts {
	return invoker.DefaultTimeouts().Merge(invoker.Timeouts{
		Connect: h.ConnectTimeout,
		Read:    h.ReadTimeout,
		Request: h.RequestTimeout,
	})
}
