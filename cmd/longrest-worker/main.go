// longrest-worker — выполняет work item'ы.
//
// Worker:
//   - Получает workitem.dispatch из RabbitMQ (и опрашивает БД как fallback)
//   - Выполняет handler (Rest, LongRunningRestService)
//   - Сообщает результат Manager'у деплоймента
//
// Workers масштабируются горизонтально.
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
	"github.com/shaiso/longrest/internal/handler"
	"github.com/shaiso/longrest/internal/invoker"
	"github.com/shaiso/longrest/internal/mq"
	"github.com/shaiso/longrest/internal/repo"
	"github.com/shaiso/longrest/internal/runtime"
	"github.com/shaiso/longrest/internal/telemetry"
	"github.com/shaiso/longrest/internal/worker"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "longrest-worker",
		Short:         "longrest work item worker",
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
	logger.Info("starting longrest-worker")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB pool
	pool, err := repo.NewPool(ctx, cfg.DB.URL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()
	logger.Info("database connected")

	if cfg.DB.Migrate {
		if err := repo.Migrate(ctx, pool); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
	}

	processRepo := repo.NewProcessRepo(pool)
	workItemRepo := repo.NewWorkItemRepo(pool)
	awaitRepo := repo.NewAwaitRepo(pool)

	base := runtime.Config{
		WorkItems: workItemRepo,
		Awaits:    awaitRepo,
		Variables: processRepo,
		Logger:    logger,
	}

	// RabbitMQ
	var (
		mqConn      *mq.Connection
		completions worker.CompletionPublisher
	)
	conn, err := mq.NewConnection(cfg.AMQP.URL, logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, running in polling-only mode", "error", err)
	} else {
		defer conn.Close()
		logger.Info("RabbitMQ connected")

		if err := mq.SetupTopology(ctx, conn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}
		publisher := mq.NewPublisher(conn, logger)
		base.Publisher = publisher
		completions = publisher
		mqConn = conn
	}

	registry := runtime.NewRegistry()
	for _, d := range cfg.Deployments {
		mcfg := base
		mcfg.DeploymentID = d.ID
		mcfg.ProcessName = d.ProcessName
		registry.Register(runtime.NewManager(mcfg))
	}

	timeouts := cfg.HTTP.Timeouts()
	handlers := handler.DefaultRegistry(handler.Config{
		Sender:          invoker.New(timeouts),
		Store:           processRepo,
		CallbackBaseURL: cfg.Callback.BaseURL,
		Timeouts:        timeouts,
		Logger:          logger,
	})

	w := worker.New(worker.Config{
		WorkItems:    workItemRepo,
		Handlers:     handlers,
		Managers:     worker.RegistryManagers(registry),
		Conn:         mqConn,
		Publisher:    completions,
		PollInterval: cfg.Worker.PollInterval,
		BatchSize:    cfg.Worker.BatchSize,
		Concurrency:  cfg.Worker.Concurrency,
		Prefetch:     cfg.Worker.Prefetch,
		StaleAfter:   cfg.Worker.StaleAfter,
		Logger:       logger,
	})

	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}

	// /healthz + /metrics
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		// Без RabbitMQ воркер жив: work item'ы подбирает polling
		status := "ok"
		if mqConn != nil && !mqConn.IsConnected() {
			status = "ok (amqp disconnected, polling only)"
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(status))
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

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	// Дожидаемся выполняющихся handler'ов
	w.Stop()
	logger.Info("longrest-worker stopped")
	return nil
}
