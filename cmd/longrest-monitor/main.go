// longrest-monitor — heartbeat monitor.
//
// Периодически проверяет экземпляры процессов под супервизией и
// отправляет died тем, кто не прислал imAlive за heartbeatTimeout.
// Несколько реплик безопасны: сканирует только держатель
// pg_advisory_lock.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/shaiso/longrest/internal/config"
	"github.com/shaiso/longrest/internal/heartbeat"
	"github.com/shaiso/longrest/internal/mq"
	"github.com/shaiso/longrest/internal/repo"
	"github.com/shaiso/longrest/internal/runtime"
	"github.com/shaiso/longrest/internal/scheduler"
	"github.com/shaiso/longrest/internal/telemetry"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "longrest-monitor",
		Short:         "longrest heartbeat monitor",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}
	rootCmd.Flags().StringVar(&configPath, "config", "", "Path to config file")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.Log.Level, cfg.Log.Format)
	logger.Info("starting longrest-monitor")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB pool
	pool, err := repo.NewPool(ctx, cfg.DB.URL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()
	logger.Info("db connected")

	if cfg.DB.Migrate {
		if err := repo.Migrate(ctx, pool); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
	}

	processRepo := repo.NewProcessRepo(pool)

	base := runtime.Config{
		WorkItems: repo.NewWorkItemRepo(pool),
		Awaits:    repo.NewAwaitRepo(pool),
		Variables: processRepo,
		Logger:    logger,
	}

	// RabbitMQ: signal.died для движка (опционально)
	conn, err := mq.NewConnection(cfg.AMQP.URL, logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, died signals are not published", "error", err)
	} else {
		defer conn.Close()
		if err := mq.SetupTopology(ctx, conn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}
		base.Publisher = mq.NewPublisher(conn, logger)
	}

	registry := runtime.NewRegistry()
	for _, d := range cfg.Deployments {
		mcfg := base
		mcfg.DeploymentID = d.ID
		mcfg.ProcessName = d.ProcessName
		registry.Register(runtime.NewManager(mcfg))
	}

	// Лидер выбирается через pg_advisory_lock
	lock := repo.NewAdvisoryLock(pool, cfg.Monitor.LockKey)
	defer func() {
		if err := lock.Release(context.Background()); err != nil {
			logger.Warn("failed to release advisory lock", "error", err)
		}
	}()

	interval, err := cfg.Monitor.IntervalDuration()
	if err != nil {
		return err
	}

	job, err := heartbeat.NewJob(heartbeat.JobConfig{
		Monitor: heartbeat.NewMonitor(heartbeat.MonitorConfig{
			Source:    processRepo,
			BatchSize: cfg.Monitor.BatchSize,
			Logger:    logger,
		}),
		Targets:  heartbeat.RegistryTargets(registry),
		Interval: interval,
		Cron:     cfg.Monitor.Cron,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	sched := scheduler.New(scheduler.Config{
		Gate:   lock,
		Logger: logger,
	})
	sched.Add(job, map[string]string{heartbeat.IntervalKey: cfg.Monitor.Interval})

	// /healthz + /metrics
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              cfg.Metrics.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", cfg.Metrics.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Блокируется до отмены ctx
	if err := sched.Run(ctx); err != nil {
		logger.Error("scheduler error", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("longrest-monitor stopped")
	return nil
}
