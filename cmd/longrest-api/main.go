// longrest-api — HTTP API движка долгих REST-вызовов.
//
// API:
//   - Регистрирует экземпляры процессов и work item'ы
//   - Принимает callback'и удалённых сервисов (RESTResponded, imAlive)
//   - Публикует workitem.dispatch для воркеров
//
// Использование:
//
//	longrest-api [--config longrest.yaml]
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

	"github.com/spf13/cobra"

	"github.com/shaiso/longrest/internal/api"
	"github.com/shaiso/longrest/internal/config"
	"github.com/shaiso/longrest/internal/handler"
	"github.com/shaiso/longrest/internal/invoker"
	"github.com/shaiso/longrest/internal/mq"
	"github.com/shaiso/longrest/internal/repo"
	"github.com/shaiso/longrest/internal/runtime"
	"github.com/shaiso/longrest/internal/telemetry"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "longrest-api",
		Short:         "longrest HTTP API",
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
	logger.Info("starting longrest-api")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Подключаемся к базе данных
	pool, err := repo.NewPool(ctx, cfg.DB.URL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()
	logger.Info("connected to database")

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
	apiCfg := api.Config{
		Processes: processRepo,
		WorkItems: workItemRepo,
		Logger:    logger,
	}

	// RabbitMQ (опционально: без него воркеры подхватят work item'ы polling'ом)
	mqConn, err := mq.NewConnection(cfg.AMQP.URL, logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, dispatch falls back to worker polling", "error", err)
	} else {
		defer mqConn.Close()
		logger.Info("RabbitMQ connected")

		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}
		publisher := mq.NewPublisher(mqConn, logger)
		base.Publisher = publisher
		apiCfg.Publisher = publisher
	}

	registry := runtime.NewRegistry()
	for _, d := range cfg.Deployments {
		mcfg := base
		mcfg.DeploymentID = d.ID
		mcfg.ProcessName = d.ProcessName
		registry.Register(runtime.NewManager(mcfg))
	}
	apiCfg.Managers = registry

	// Handler'ы нужны API для Abort и проверки имени при создании work item'а
	apiCfg.Handlers = handler.DefaultRegistry(handler.Config{
		Sender:          invoker.New(cfg.HTTP.Timeouts()),
		Store:           processRepo,
		CallbackBaseURL: cfg.Callback.BaseURL,
		Timeouts:        cfg.HTTP.Timeouts(),
		Logger:          logger,
	})

	server := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           api.NewHandler(apiCfg).Routes(api.RouterConfig{CORSOrigins: cfg.API.CORSOrigins}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", cfg.API.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	// Graceful shutdown с таймаутом 10 секунд
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("stopped")
	return nil
}
