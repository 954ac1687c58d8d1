package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/provider"
	"github.com/shaiso/Conveyor/internal/queue"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// Default configuration values.
const (
	defaultWorkers           = 4
	defaultPollInterval      = 10 * time.Second
	defaultLeaseDuration     = 2 * time.Minute
	defaultPollTicksPerLease = 6
	defaultTimeout           = time.Hour
)

// RunStore — операции над run state store, нужные engine.
// Реализуется repo.RunRepo; методы возвращают repo.ErrNotFound и
// repo.ErrStateConflict.
type RunStore interface {
	Create(ctx context.Context, run *domain.Run) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error)
	GetByIdempotencyKey(ctx context.Context, pipelineID uuid.UUID, key string) (*domain.Run, error)
	LatestByPipeline(ctx context.Context, pipelineID uuid.UUID) (*domain.Run, error)
	Transition(ctx context.Context, run *domain.Run, from domain.RunStatus) error
	RequestCancel(ctx context.Context, id uuid.UUID) error
}

// SnapshotStore — доступ к pipeline snapshots.
type SnapshotStore interface {
	GetSnapshot(ctx context.Context, pipelineID uuid.UUID, version int) (*domain.PipelineSnapshot, error)
	LatestSnapshot(ctx context.Context, pipelineID uuid.UUID) (*domain.PipelineSnapshot, error)
}

// TaskQueue — durable queue с точки зрения engine.
type TaskQueue interface {
	Enqueue(ctx context.Context, task *domain.QueueTask) error
	Lease(ctx context.Context, kinds []domain.TaskKind, workerID string, leaseDur time.Duration) (*domain.QueueTask, error)
	Complete(ctx context.Context, taskID uuid.UUID, owner string) error
	Release(ctx context.Context, taskID uuid.UUID, owner string, delay time.Duration) error
	Discard(ctx context.Context, taskID uuid.UUID) error
}

// CompletionChannel — канал завершения run-ов.
type CompletionChannel interface {
	PresignedExitCodeURL(ctx context.Context, runID uuid.UUID, expiry time.Duration) (string, error)
	Poll(ctx context.Context, runID uuid.UUID) (int, error)
}

// LogSigner выдаёт presigned URL для загрузки консольного лога
// с инстанса. Nil — bootstrap-скрипт собирается без загрузки лога.
type LogSigner interface {
	PresignedUploadURL(ctx context.Context, runID uuid.UUID, expiry time.Duration) (string, error)
}

// SecretResolver разрешает секретные ссылки snapshot'а.
type SecretResolver interface {
	ResolveAll(ctx context.Context, refs []domain.SecretRef) (map[string]string, error)
}

// Notifier доставляет уведомления о завершении run.
type Notifier interface {
	Deliver(ctx context.Context, runID uuid.UUID, status, message string) error
}

// Engine — пул воркеров, выполняющих execute- и notify-задачи.
type Engine struct {
	runs      RunStore
	snapshots SnapshotStore
	tasks     TaskQueue
	provider  provider.Provider
	channel   CompletionChannel
	logs      LogSigner
	secrets   SecretResolver
	notifier  Notifier

	conn *mq.Connection

	workers           int
	pollInterval      time.Duration
	leaseDuration     time.Duration
	pollTicksPerLease int
	defaultTimeout    time.Duration

	wake chan struct{}

	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// Config — конфигурация Engine.
type Config struct {
	Runs      RunStore
	Snapshots SnapshotStore
	Tasks     TaskQueue
	Provider  provider.Provider
	Channel   CompletionChannel
	Secrets   SecretResolver
	Notifier  Notifier

	// Logs — опциональный подписчик URL для консольных логов.
	Logs LogSigner

	// Conn — соединение RabbitMQ для nudge-consumer'а.
	// Nil — работа только на polling fallback.
	Conn *mq.Connection

	// Workers — размер пула (default: 4).
	Workers int

	// PollInterval — интервал фонового poll очереди и шаг опроса
	// completion channel (default: 10s).
	PollInterval time.Duration

	// LeaseDuration — срок lease задачи (default: 2m).
	LeaseDuration time.Duration

	// PollTicksPerLease — сколько poll-тиков делает воркер, прежде чем
	// вернуть RUNNING-run обратно в очередь (default: 6).
	PollTicksPerLease int

	// DefaultTimeout — таймаут run при отсутствии в snapshot (default: 1h).
	DefaultTimeout time.Duration

	Logger *slog.Logger
}

// New создаёт новый Engine.
func New(cfg Config) *Engine {
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	leaseDuration := cfg.LeaseDuration
	if leaseDuration <= 0 {
		leaseDuration = defaultLeaseDuration
	}
	pollTicks := cfg.PollTicksPerLease
	if pollTicks <= 0 {
		pollTicks = defaultPollTicksPerLease
	}
	timeout := cfg.DefaultTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		runs:              cfg.Runs,
		snapshots:         cfg.Snapshots,
		tasks:             cfg.Tasks,
		provider:          cfg.Provider,
		channel:           cfg.Channel,
		logs:              cfg.Logs,
		secrets:           cfg.Secrets,
		notifier:          cfg.Notifier,
		conn:              cfg.Conn,
		workers:           workers,
		pollInterval:      pollInterval,
		leaseDuration:     leaseDuration,
		pollTicksPerLease: pollTicks,
		defaultTimeout:    timeout,
		wake:              make(chan struct{}, 1),
		logger:            logger,
	}
}

// Start запускает пул воркеров и nudge-consumer.
func (e *Engine) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	e.cancelFunc = cancel

	e.logger.Info("starting engine",
		"workers", e.workers,
		"poll_interval", e.pollInterval,
		"lease_duration", e.leaseDuration,
	)

	for i := 0; i < e.workers; i++ {
		workerID := fmt.Sprintf("engine-worker-%d", i)
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.workerLoop(ctx, workerID)
		}()
	}

	if e.conn != nil {
		consumer := mq.NewConsumer(e.conn, mq.QueueRunsEnqueued, e.handleNudge, e.logger)
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				e.logger.Error("nudge consumer error", "error", err)
			}
		}()
	}

	e.logger.Info("engine started")
	return nil
}

// Stop останавливает Engine и дожидается воркеров.
// Незавершённые задачи вернутся в очередь по истечении lease.
func (e *Engine) Stop() {
	e.logger.Info("stopping engine...")

	if e.cancelFunc != nil {
		e.cancelFunc()
	}
	e.wg.Wait()

	e.logger.Info("engine stopped")
}

// handleNudge будит один простаивающий воркер.
func (e *Engine) handleNudge(_ context.Context, msg *mq.Message) {
	if msg.Type != mq.MessageTypeRunEnqueued {
		return
	}
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// workerLoop — основной цикл одного воркера.
//
// Лизит задачу; если очередь пуста — спит до poll-тика или nudge.
// После обработанной задачи сразу пытается взять следующую.
func (e *Engine) workerLoop(ctx context.Context, workerID string) {
	kinds := []domain.TaskKind{domain.TaskKindExecute, domain.TaskKindNotify}

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}

		task, err := e.tasks.Lease(ctx, kinds, workerID, e.leaseDuration)
		if errors.Is(err, queue.ErrNoTask) {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			case <-e.wake:
			}
			continue
		}
		if err != nil {
			e.logger.Error("lease failed", "worker", workerID, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			continue
		}

		telemetry.TasksLeased.WithLabelValues(string(task.Kind)).Inc()
		e.process(ctx, workerID, task)
	}
}

// process диспатчит задачу по виду.
func (e *Engine) process(ctx context.Context, workerID string, task *domain.QueueTask) {
	logger := e.logger.With("worker", workerID, "task_id", task.ID, "kind", task.Kind, "attempt", task.Attempt)

	switch task.Kind {
	case domain.TaskKindExecute:
		e.handleExecute(ctx, logger, task)
	case domain.TaskKindNotify:
		e.handleNotify(ctx, logger, task)
	default:
		logger.Warn("unexpected task kind, discarding")
		if err := e.tasks.Discard(ctx, task.ID); err != nil {
			logger.Error("discard failed", "error", err)
		}
	}
}

// handleNotify доставляет уведомление. Доставка best-effort:
// ошибка логируется, задача завершается в любом случае.
func (e *Engine) handleNotify(ctx context.Context, logger *slog.Logger, task *domain.QueueTask) {
	payload, err := domain.ParseTaskPayload[domain.NotifyPayload](task)
	if err != nil {
		logger.Warn("malformed notify payload, discarding", "error", err)
		if err := e.tasks.Discard(ctx, task.ID); err != nil {
			logger.Error("discard failed", "error", err)
		}
		return
	}

	if err := e.notifier.Deliver(ctx, payload.RunID, string(payload.Status), payload.Message); err != nil {
		logger.Warn("notification delivery failed", "run_id", payload.RunID, "error", err)
	}

	if err := e.tasks.Complete(ctx, task.ID, task.LeaseOwner); err != nil {
		logger.Error("complete notify task failed", "error", err)
	}
}
