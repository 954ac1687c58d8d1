package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/repo"
)

// NudgePublisher будит engine-воркеры после постановки run в очередь.
type NudgePublisher interface {
	PublishRunEnqueued(ctx context.Context, runID uuid.UUID) error
}

// Trigger принимает run-интенты из всех источников (API, scheduler,
// dependency watcher) и превращает их в PENDING run + execute-задачу.
type Trigger struct {
	runs      RunStore
	snapshots SnapshotStore
	tasks     TaskQueue
	publisher NudgePublisher
	logger    *slog.Logger
}

// NewTrigger создаёт Trigger. publisher может быть nil — тогда
// воркеры подхватят задачу на ближайшем poll-тике.
func NewTrigger(runs RunStore, snapshots SnapshotStore, tasks TaskQueue, publisher NudgePublisher, logger *slog.Logger) *Trigger {
	return &Trigger{
		runs:      runs,
		snapshots: snapshots,
		tasks:     tasks,
		publisher: publisher,
		logger:    logger,
	}
}

// RequestRun создаёт run последней версии pipeline и ставит его в очередь.
//
// Непустой idempotencyKey делает вызов идемпотентным: повторный запрос
// с тем же ключом возвращает уже существующий run без нового enqueue.
func (t *Trigger) RequestRun(ctx context.Context, pipelineID uuid.UUID, kind domain.TriggerKind, triggeredBy, idempotencyKey string) (*domain.Run, error) {
	if idempotencyKey != "" {
		existing, err := t.runs.GetByIdempotencyKey(ctx, pipelineID, idempotencyKey)
		if err == nil {
			t.logger.Debug("run already exists for idempotency key",
				"pipeline_id", pipelineID,
				"idempotency_key", idempotencyKey,
				"run_id", existing.ID,
			)
			return existing, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("check idempotency key: %w", err)
		}
	}

	snap, err := t.snapshots.LatestSnapshot(ctx, pipelineID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNoSnapshot, pipelineID)
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	run := &domain.Run{
		ID:             uuid.New(),
		PipelineID:     pipelineID,
		Version:        snap.Version,
		Status:         domain.RunStatusPending,
		TriggerKind:    kind,
		TriggeredBy:    triggeredBy,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      time.Now(),
	}

	if err := t.runs.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	task, err := domain.NewExecuteTask(run.ID)
	if err != nil {
		return nil, fmt.Errorf("build execute task: %w", err)
	}
	if err := t.tasks.Enqueue(ctx, task); err != nil {
		return nil, fmt.Errorf("enqueue execute task: %w", err)
	}

	if t.publisher != nil {
		if err := t.publisher.PublishRunEnqueued(ctx, run.ID); err != nil {
			t.logger.Warn("nudge publish failed, workers will poll", "run_id", run.ID, "error", err)
		}
	}

	t.logger.Info("run requested",
		"run_id", run.ID,
		"pipeline_id", pipelineID,
		"version", snap.Version,
		"trigger", kind,
	)
	return run, nil
}
