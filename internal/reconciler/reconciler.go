package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/provider"
	"github.com/shaiso/Conveyor/internal/queue"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// Default configuration values.
const (
	defaultSweepInterval  = 5 * time.Minute
	defaultLeaseDuration  = 10 * time.Minute
	defaultDefaultTimeout = time.Hour
	defaultBatchSize      = 500

	// Run моложе grace-периода не считается брошенным вторым проходом:
	// его инстанс мог ещё не появиться в листинге провайдера.
	vanishedGrace = 10 * time.Minute
)

// RunStore — операции run state store, нужные reconciler'у.
type RunStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error)
	Transition(ctx context.Context, run *domain.Run, from domain.RunStatus) error
	ListLive(ctx context.Context, cutoff time.Time, limit int) ([]domain.Run, error)
}

// SnapshotStore — доступ к snapshot для чтения таймаута run.
type SnapshotStore interface {
	GetSnapshot(ctx context.Context, pipelineID uuid.UUID, version int) (*domain.PipelineSnapshot, error)
}

// TaskQueue — durable queue; reconciler ведётся периодической задачей
// cleanup-sweep, поэтому в каждый момент времени метёт ровно одна
// реплика независимо от числа процессов.
type TaskQueue interface {
	Enqueue(ctx context.Context, task *domain.QueueTask) error
	EnqueuePeriodic(ctx context.Context, kind domain.TaskKind, interval time.Duration) error
	Lease(ctx context.Context, kinds []domain.TaskKind, workerID string, leaseDur time.Duration) (*domain.QueueTask, error)
	Complete(ctx context.Context, taskID uuid.UUID, owner string) error
}

// Reconciler сверяет живой compute с run state store.
type Reconciler struct {
	runs      RunStore
	snapshots SnapshotStore
	provider  provider.Provider
	tasks     TaskQueue

	sweepInterval  time.Duration
	leaseDuration  time.Duration
	defaultTimeout time.Duration
	batchSize      int

	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// Config — конфигурация Reconciler.
type Config struct {
	Runs      RunStore
	Snapshots SnapshotStore
	Provider  provider.Provider
	Tasks     TaskQueue

	// SweepInterval — период между проходами (default: 5m).
	SweepInterval time.Duration

	// LeaseDuration — lease задачи cleanup-sweep (default: 10m).
	LeaseDuration time.Duration

	// DefaultTimeout — таймаут run без значения в snapshot (default: 1h).
	DefaultTimeout time.Duration

	// BatchSize — лимит выборки live runs вторым проходом (default: 500).
	BatchSize int

	Logger *slog.Logger
}

// New создаёт Reconciler.
func New(cfg Config) *Reconciler {
	sweepInterval := cfg.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = defaultSweepInterval
	}
	leaseDuration := cfg.LeaseDuration
	if leaseDuration <= 0 {
		leaseDuration = defaultLeaseDuration
	}
	timeout := cfg.DefaultTimeout
	if timeout <= 0 {
		timeout = defaultDefaultTimeout
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Reconciler{
		runs:           cfg.Runs,
		snapshots:      cfg.Snapshots,
		provider:       cfg.Provider,
		tasks:          cfg.Tasks,
		sweepInterval:  sweepInterval,
		leaseDuration:  leaseDuration,
		defaultTimeout: timeout,
		batchSize:      batchSize,
		logger:         logger,
	}
}

// Start регистрирует периодическую задачу cleanup-sweep и запускает
// цикл её обработки.
func (r *Reconciler) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	r.cancelFunc = cancel

	if err := r.tasks.EnqueuePeriodic(ctx, domain.TaskKindCleanupSweep, r.sweepInterval); err != nil {
		cancel()
		return fmt.Errorf("register cleanup-sweep task: %w", err)
	}

	r.logger.Info("starting reconciler", "sweep_interval", r.sweepInterval)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.loop(ctx)
	}()

	return nil
}

// Stop останавливает Reconciler.
func (r *Reconciler) Stop() {
	r.logger.Info("stopping reconciler...")
	if r.cancelFunc != nil {
		r.cancelFunc()
	}
	r.wg.Wait()
	r.logger.Info("reconciler stopped")
}

func (r *Reconciler) loop(ctx context.Context) {
	ticker := time.NewTicker(r.sweepInterval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		task, err := r.tasks.Lease(ctx, []domain.TaskKind{domain.TaskKindCleanupSweep}, "reconciler", r.leaseDuration)
		if errors.Is(err, queue.ErrNoTask) {
			continue
		}
		if err != nil {
			r.logger.Error("lease sweep task failed", "error", err)
			continue
		}

		if err := r.Sweep(ctx); err != nil {
			r.logger.Error("sweep failed", "error", err)
		}

		if err := r.tasks.Complete(ctx, task.ID, task.LeaseOwner); err != nil {
			r.logger.Error("complete sweep task failed", "error", err)
		}
	}
}

// Sweep выполняет один проход сверки.
//
// Проход первый: каждый живой инстанс с тегом conveyor:managed
// проверяется против store — гасится, если run отсутствует, не в
// живом статусе, либо возраст инстанса превысил 2x таймаута run.
// Проход второй: живые runs, чей записанный инстанс исчез из
// листинга провайдера, помечаются ORPHANED.
// Ошибки по отдельным элементам изолированы и не прерывают проход.
func (r *Reconciler) Sweep(ctx context.Context) error {
	resources, err := r.provider.List(ctx, map[string]string{
		provider.TagManaged: provider.TagManagedValue,
	})
	if err != nil {
		return fmt.Errorf("list managed instances: %w", err)
	}

	liveInstances := make(map[string]bool, len(resources))
	for _, res := range resources {
		liveInstances[res.ID] = true
		r.reconcileResource(ctx, res)
	}

	r.reconcileVanished(ctx, liveInstances)
	return nil
}

// reconcileResource решает судьбу одного живого инстанса.
func (r *Reconciler) reconcileResource(ctx context.Context, res provider.Resource) {
	logger := r.logger.With("instance_id", res.ID)

	runID := res.RunID()
	if runID == uuid.Nil {
		logger.Warn("managed instance without run-id tag")
		r.terminateOrphan(ctx, logger, res.ID)
		return
	}
	logger = logger.With("run_id", runID)

	run, err := r.runs.GetByID(ctx, runID)
	if errors.Is(err, repo.ErrNotFound) {
		// Крах до того, как run вообще записался в store.
		logger.Info("instance bound to unknown run")
		r.terminateOrphan(ctx, logger, res.ID)
		return
	}
	if err != nil {
		logger.Error("load run failed", "error", err)
		return
	}

	if !run.Status.IsLive() {
		r.terminateOrphan(ctx, logger, res.ID)
		if !run.Status.IsTerminal() {
			// Run застрял в ранней стадии: воркер упал после launch,
			// но до коммита RUNNING.
			r.markOrphaned(ctx, logger, run, "compute instance found for run stuck in "+string(run.Status))
		}
		return
	}

	timeout := r.runTimeout(ctx, run)
	if res.Age(time.Now()) > 2*timeout {
		logger.Info("instance exceeded 2x run timeout", "age", res.Age(time.Now()), "timeout", timeout)
		r.terminateOrphan(ctx, logger, res.ID)
		r.markOrphaned(ctx, logger, run, fmt.Sprintf("instance age exceeded 2x timeout (%s)", timeout))
		return
	}

	// Живой run в пределах таймаута — не трогаем.
}

// reconcileVanished помечает ORPHANED живые runs, чей инстанс исчез.
func (r *Reconciler) reconcileVanished(ctx context.Context, liveInstances map[string]bool) {
	cutoff := time.Now().Add(-vanishedGrace)
	runs, err := r.runs.ListLive(ctx, cutoff, r.batchSize)
	if err != nil {
		r.logger.Error("list live runs failed", "error", err)
		return
	}

	for i := range runs {
		run := &runs[i]
		if run.InstanceID != "" && liveInstances[run.InstanceID] {
			continue
		}
		logger := r.logger.With("run_id", run.ID, "instance_id", run.InstanceID)
		logger.Info("live run without live compute")
		r.markOrphaned(ctx, logger, run, "compute instance vanished")
	}
}

func (r *Reconciler) terminateOrphan(ctx context.Context, logger *slog.Logger, instanceID string) {
	if err := r.provider.Terminate(ctx, instanceID); err != nil {
		logger.Error("terminate orphan failed", "error", err)
		return
	}
	telemetry.OrphansTerminated.Inc()
	logger.Info("orphan instance terminated")
}

// markOrphaned фиксирует ORPHANED через conditional update. Конфликт
// означает, что engine успел финализировать run между нашим чтением
// и записью — это не ошибка.
//
// ORPHANED — failure-вариант терминального статуса, поэтому после
// успешного перехода ставится notify-задача, как при FAILED/TIMED_OUT
// у engine.
func (r *Reconciler) markOrphaned(ctx context.Context, logger *slog.Logger, run *domain.Run, reason string) {
	from := run.Status
	run.MarkOrphaned(reason)
	err := r.runs.Transition(ctx, run, from)
	if errors.Is(err, repo.ErrStateConflict) {
		logger.Debug("run finalized concurrently, orphan mark skipped")
		return
	}
	if err != nil {
		logger.Error("mark orphaned failed", "error", err)
		return
	}
	telemetry.RunsFinished.WithLabelValues(string(domain.RunStatusOrphaned)).Inc()
	logger.Info("run marked orphaned", "reason", reason)

	snap, err := r.snapshots.GetSnapshot(ctx, run.PipelineID, run.Version)
	if err != nil {
		logger.Warn("load snapshot for notify failed", "error", err)
		return
	}
	if !snap.NotifyOnFailure {
		return
	}
	notifyTask, err := domain.NewNotifyTask(run.ID, run.Status, run.Error)
	if err != nil {
		logger.Error("build notify task failed", "error", err)
		return
	}
	if err := r.tasks.Enqueue(ctx, notifyTask); err != nil {
		logger.Error("enqueue notify task failed", "error", err)
	}
}

// runTimeout читает таймаут из snapshot run; при любой ошибке
// используется дефолт.
func (r *Reconciler) runTimeout(ctx context.Context, run *domain.Run) time.Duration {
	snap, err := r.snapshots.GetSnapshot(ctx, run.PipelineID, run.Version)
	if err != nil {
		return r.defaultTimeout
	}
	return snap.Timeout(r.defaultTimeout)
}
