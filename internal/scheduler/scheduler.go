package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
)

// RunRequester — приём run-интентов. Реализуется engine.Trigger.
type RunRequester interface {
	RequestRun(ctx context.Context, pipelineID uuid.UUID, kind domain.TriggerKind, triggeredBy, idempotencyKey string) (*domain.Run, error)
}

// ScheduleStore — доступ к schedules. Реализуется repo.ScheduleRepo.
type ScheduleStore interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Schedule, error)
	Update(ctx context.Context, schedule *domain.Schedule) error
}

// RunStore — доступ к завершившимся runs. Реализуется repo.RunRepo.
type RunStore interface {
	ListSucceededSince(ctx context.Context, since time.Time, limit int) ([]domain.Run, error)
}

// PipelineStore — поиск зависимых pipelines. Реализуется repo.PipelineRepo.
type PipelineStore interface {
	ListDependents(ctx context.Context, dependencyID uuid.UUID) ([]uuid.UUID, error)
}

// Scheduler — планировщик, обрабатывающий due schedules и
// перезапускающий зависимые pipelines.
type Scheduler struct {
	schedules ScheduleStore
	runs      RunStore
	pipelines PipelineStore
	trigger   RunRequester
	logger    *slog.Logger
	batchSize int

	// lastWatermark — finished_at последнего увиденного SUCCEEDED run.
	// Dependency watcher смотрит только вперёд от этой метки.
	lastWatermark time.Time
}

// Config — конфигурация Scheduler.
type Config struct {
	Schedules ScheduleStore
	Runs      RunStore
	Pipelines PipelineStore
	Trigger   RunRequester
	Logger    *slog.Logger
	BatchSize int // количество schedules/runs за один тик (default: 100)
}

// New создаёт новый Scheduler.
func New(cfg Config) *Scheduler {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		schedules:     cfg.Schedules,
		runs:          cfg.Runs,
		pipelines:     cfg.Pipelines,
		trigger:       cfg.Trigger,
		logger:        logger,
		batchSize:     batchSize,
		lastWatermark: time.Now(),
	}
}

// Tick выполняет один тик планировщика.
//
// 1. Due schedules превращаются в run-интенты.
// 2. Dependency watcher перезапускает зависимые pipelines.
//
// Ошибки одного элемента не блокируют обработку остальных.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := time.Now()

	if err := s.tickSchedules(ctx, now); err != nil {
		return err
	}

	s.tickDependencies(ctx)
	return nil
}

func (s *Scheduler) tickSchedules(ctx context.Context, now time.Time) error {
	schedules, err := s.schedules.ListDue(ctx, now, s.batchSize)
	if err != nil {
		return fmt.Errorf("list due schedules: %w", err)
	}

	if len(schedules) == 0 {
		return nil
	}

	s.logger.Debug("found due schedules", "count", len(schedules))

	var processed int
	for i := range schedules {
		sched := &schedules[i]

		if err := s.processSchedule(ctx, sched, now); err != nil {
			s.logger.Error("failed to process schedule",
				"schedule_id", sched.ID,
				"schedule_name", sched.Name,
				"error", err,
			)
			continue
		}
		processed++
	}

	s.logger.Info("scheduler tick completed",
		"due", len(schedules),
		"processed", processed,
	)
	return nil
}

// processSchedule создаёт run для одного due schedule.
//
// Ключ идемпотентности "{schedule_id}_{next_due_unix}" гарантирует
// один run на schedule и конкретное время срабатывания, сколько бы
// раз тик ни повторился.
func (s *Scheduler) processSchedule(ctx context.Context, sched *domain.Schedule, now time.Time) error {
	idempKey := fmt.Sprintf("%s_%d", sched.ID, sched.NextDueAt.Unix())

	run, err := s.trigger.RequestRun(ctx, sched.PipelineID, domain.TriggerSchedule, sched.ID.String(), idempKey)
	if err != nil {
		return fmt.Errorf("request run: %w", err)
	}

	nextDue, err := CalculateNextDue(sched, now)
	if err != nil {
		// Schedule некорректный — next_due_at не трогаем, чтобы не
		// потерять расписание молча.
		s.logger.Error("failed to calculate next due",
			"schedule_id", sched.ID,
			"error", err,
		)
		return nil
	}

	sched.RecordRun(run.ID, nextDue)
	if err := s.schedules.Update(ctx, sched); err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}

	s.logger.Info("run created from schedule",
		"run_id", run.ID,
		"schedule_id", sched.ID,
		"next_due_at", nextDue,
	)
	return nil
}

// tickDependencies перезапускает pipelines, зависимость которых
// успешно завершилась с прошлого тика.
//
// Ключ идемпотентности "{dep_run_id}_{pipeline_id}": один успешный run
// зависимости запускает каждого зависимого ровно один раз.
func (s *Scheduler) tickDependencies(ctx context.Context) {
	succeeded, err := s.runs.ListSucceededSince(ctx, s.lastWatermark, s.batchSize)
	if err != nil {
		s.logger.Error("list succeeded runs failed", "error", err)
		return
	}

	for i := range succeeded {
		depRun := &succeeded[i]

		dependents, err := s.pipelines.ListDependents(ctx, depRun.PipelineID)
		if err != nil {
			s.logger.Error("list dependents failed",
				"pipeline_id", depRun.PipelineID,
				"error", err,
			)
			continue
		}

		for _, pipelineID := range dependents {
			idempKey := fmt.Sprintf("%s_%s", depRun.ID, pipelineID)
			run, err := s.trigger.RequestRun(ctx, pipelineID, domain.TriggerDependency, depRun.ID.String(), idempKey)
			if err != nil {
				s.logger.Error("dependency re-trigger failed",
					"pipeline_id", pipelineID,
					"dependency_run_id", depRun.ID,
					"error", err,
				)
				continue
			}
			s.logger.Info("dependent pipeline triggered",
				"run_id", run.ID,
				"pipeline_id", pipelineID,
				"dependency_run_id", depRun.ID,
			)
		}

		// Watermark двигается только после обработки: упавший тик
		// повторит run, идемпотентность отсечёт дубликаты.
		if depRun.FinishedAt != nil && depRun.FinishedAt.After(s.lastWatermark) {
			s.lastWatermark = *depRun.FinishedAt
		}
	}
}
