package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/longrest/internal/mq"
	"github.com/shaiso/longrest/internal/repo"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, repo.DefaultDSN, cfg.DB.URL)
	assert.Equal(t, mq.DefaultURL(), cfg.AMQP.URL)
	assert.Equal(t, ":8080", cfg.API.Addr)
	assert.Equal(t, 8, cfg.Worker.Concurrency)
	assert.Equal(t, 10*time.Second, cfg.Worker.PollInterval)
	assert.Equal(t, 5*time.Minute, cfg.Worker.StaleAfter)
	assert.Equal(t, "PT5S", cfg.Monitor.Interval)
	assert.Equal(t, []DeploymentConfig{{ID: "default"}}, cfg.Deployments)

	d, err := cfg.Monitor.IntervalDuration()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, d)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "longrest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
callback:
  base_url: https://longrest.example.com/api/v1
http:
  read_timeout: 30s
worker:
  concurrency: 16
monitor:
  interval: PT10S
deployments:
  - id: default
    process_name: Matej
  - id: billing
    process_name: Invoice
`), 0o600))

	t.Setenv("LONGREST_WORKER_CONCURRENCY", "4")
	t.Setenv("LONGREST_DB_URL", "postgresql://u:p@db:5432/longrest")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://longrest.example.com/api/v1", cfg.Callback.BaseURL)
	assert.Equal(t, 4, cfg.Worker.Concurrency)
	assert.Equal(t, "postgresql://u:p@db:5432/longrest", cfg.DB.URL)
	assert.Equal(t, "PT10S", cfg.Monitor.Interval)
	assert.Equal(t, []DeploymentConfig{
		{ID: "default", ProcessName: "Matej"},
		{ID: "billing", ProcessName: "Invoice"},
	}, cfg.Deployments)

	timeouts := cfg.HTTP.Timeouts()
	assert.Equal(t, 30*time.Second, timeouts.Read)
	assert.Equal(t, 5*time.Second, timeouts.Connect)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			DB:          DBConfig{URL: repo.DefaultDSN},
			AMQP:        AMQPConfig{URL: mq.DefaultURL()},
			Callback:    CallbackConfig{BaseURL: "http://localhost:8080/api/v1"},
			HTTP:        HTTPConfig{RequestTimeout: 5 * time.Second},
			Worker:      WorkerConfig{Concurrency: 1, PollInterval: time.Second, StaleAfter: time.Minute},
			Monitor:     MonitorConfig{Interval: "PT5S"},
			Log:         LogConfig{Format: "json"},
			Deployments: []DeploymentConfig{{ID: "default"}},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"cron replaces interval", func(c *Config) { c.Monitor.Interval = ""; c.Monitor.Cron = "*/5 * * * * *" }, ""},
		{"no db", func(c *Config) { c.DB.URL = "" }, "db.url"},
		{"relative callback", func(c *Config) { c.Callback.BaseURL = "/api/v1" }, "callback.base_url"},
		{"zero concurrency", func(c *Config) { c.Worker.Concurrency = 0 }, "worker.concurrency"},
		{"stale before request timeout", func(c *Config) { c.Worker.StaleAfter = 5 * time.Second }, "worker.stale_after"},
		{"no stale threshold", func(c *Config) { c.Worker.StaleAfter = 0 }, "worker.stale_after"},
		{"bad interval", func(c *Config) { c.Monitor.Interval = "5s" }, "monitor.interval"},
		{"bad cron", func(c *Config) { c.Monitor.Cron = "often" }, "monitor.cron"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"no deployments", func(c *Config) { c.Deployments = nil }, "at least one deployment"},
		{"duplicate deployment", func(c *Config) {
			c.Deployments = []DeploymentConfig{{ID: "a"}, {ID: "a"}}
		}, "duplicate deployment"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
