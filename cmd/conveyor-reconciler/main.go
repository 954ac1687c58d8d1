// Conveyor Reconciler — сверяет живой compute с run state store.
//
// Reconciler:
//   - Периодически перечисляет managed-инстансы провайдера
//   - Терминирует инстансы без живого run
//   - Помечает застрявшие runs как ORPHANED
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/shaiso/Conveyor/internal/provider"
	"github.com/shaiso/Conveyor/internal/queue"
	"github.com/shaiso/Conveyor/internal/reconciler"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting conveyor-reconciler")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB pool
	pool, err := repo.NewPool(ctx)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	runRepo := repo.NewRunRepo(pool)
	pipelineRepo := repo.NewPipelineRepo(pool)
	tasks := queue.New(pool)

	// EC2 provider
	prov, err := provider.NewEC2Provider(ctx, provider.EC2ConfigFromEnv(logger))
	if err != nil {
		logger.Error("failed to create compute provider", "error", err)
		os.Exit(1)
	}

	// Создаём reconciler
	rec := reconciler.New(reconciler.Config{
		Runs:      runRepo,
		Snapshots: pipelineRepo,
		Provider:  prov,
		Tasks:     tasks,
		Logger:    logger,
	})

	// Запускаем reconciler
	if err := rec.Start(ctx); err != nil {
		logger.Error("failed to start reconciler", "error", err)
		os.Exit(1)
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", telemetry.Handler())

	port := ":8084"
	if v := os.Getenv("RECONCILER_PORT"); v != "" {
		port = ":" + v
	}

	go func() {
		logger.Info("listening", "addr", port)
		if err := http.ListenAndServe(port, mux); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()

	// Останавливаем reconciler
	rec.Stop()
	logger.Info("conveyor-reconciler stopped")
}
