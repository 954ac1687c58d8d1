package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiso/Conveyor/internal/channel"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/provider"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// handleExecute ведёт run по машине состояний в рамках одного lease.
//
// Шаги выполняются строго последовательно; следующий не начинается,
// пока переход предыдущего не зафиксирован в store. ErrStateConflict
// на любом переходе означает гонку с повторной доставкой или
// Reconciler'ом — run перечитывается, побочные эффекты не повторяются.
func (e *Engine) handleExecute(ctx context.Context, logger *slog.Logger, task *domain.QueueTask) {
	payload, err := domain.ParseTaskPayload[domain.ExecutePayload](task)
	if err != nil {
		logger.Warn("malformed execute payload, discarding", "error", err)
		e.discard(ctx, logger, task)
		return
	}
	logger = logger.With("run_id", payload.RunID)

	run, err := e.runs.GetByID(ctx, payload.RunID)
	if errors.Is(err, repo.ErrNotFound) {
		logger.Warn("run not found, discarding task")
		e.discard(ctx, logger, task)
		return
	}
	if err != nil {
		logger.Error("load run failed", "error", err)
		return // lease истечёт, задача вернётся
	}

	// Разрешённые секреты живут только в памяти воркера. При
	// возобновлении после краха они резолвятся заново на шаге
	// provisioning — secrets read-only, операция идемпотентна.
	var env map[string]string

	for {
		if ctx.Err() != nil {
			return
		}

		// Повторная доставка для терминального run — no-op.
		if run.Status.IsTerminal() {
			logger.Debug("run already terminal, completing task", "status", run.Status)
			e.complete(ctx, logger, task)
			return
		}

		snap, err := e.snapshots.GetSnapshot(ctx, run.PipelineID, run.Version)
		if err != nil {
			logger.Error("load snapshot failed", "version", run.Version, "error", err)
			return
		}

		switch run.Status {
		case domain.RunStatusPending:
			run.Status = domain.RunStatusDependencyCheck
			if conflict := e.commit(ctx, logger, run, domain.RunStatusPending); conflict {
				run = e.reload(ctx, logger, run)
				if run == nil {
					return
				}
			}

		case domain.RunStatusDependencyCheck:
			if err := e.checkDependencies(ctx, snap); err != nil {
				run.MarkFailed(err.Error(), nil)
				e.commitTerminal(ctx, logger, run, domain.RunStatusDependencyCheck, snap)
				e.complete(ctx, logger, task)
				return
			}
			run.Status = domain.RunStatusSecretFetch
			if conflict := e.commit(ctx, logger, run, domain.RunStatusDependencyCheck); conflict {
				run = e.reload(ctx, logger, run)
				if run == nil {
					return
				}
			}

		case domain.RunStatusSecretFetch:
			env, err = e.secrets.ResolveAll(ctx, snap.SecretRefs)
			if err != nil {
				run.MarkFailed(fmt.Sprintf("secret resolution failed: %v", err), nil)
				e.commitTerminal(ctx, logger, run, domain.RunStatusSecretFetch, snap)
				e.complete(ctx, logger, task)
				return
			}
			run.Status = domain.RunStatusProvisioning
			if conflict := e.commit(ctx, logger, run, domain.RunStatusSecretFetch); conflict {
				run = e.reload(ctx, logger, run)
				if run == nil {
					return
				}
			}

		case domain.RunStatusProvisioning:
			done := e.stepProvision(ctx, logger, task, run, snap, env)
			if done {
				return
			}
			run = e.reload(ctx, logger, run)
			if run == nil {
				return
			}

		case domain.RunStatusRunning:
			released := e.pollCompletion(ctx, logger, task, run, snap)
			if released {
				return
			}
			e.complete(ctx, logger, task)
			return

		default:
			logger.Error("unexpected run status", "status", run.Status)
			return
		}
	}
}

// stepProvision выполняет шаг PROVISIONING → RUNNING.
//
// Возвращает true, если задача завершена/отпущена и обработку надо
// прекратить; false — run перечитан вызывающим и цикл продолжается.
func (e *Engine) stepProvision(ctx context.Context, logger *slog.Logger, task *domain.QueueTask, run *domain.Run, snap *domain.PipelineSnapshot, env map[string]string) bool {
	instanceID := run.InstanceID
	launched := false

	// Повторная доставка: инстанс мог быть запущен до краха воркера,
	// а переход в RUNNING — не зафиксирован. Ищем его по тегу run-id,
	// чтобы не нарушить инвариант единственного живого binding.
	if instanceID == "" {
		resources, err := e.provider.List(ctx, map[string]string{
			provider.TagManaged: provider.TagManagedValue,
			provider.TagRunID:   run.ID.String(),
		})
		if err != nil {
			logger.Warn("instance discovery failed", "error", err)
			return false
		}
		if len(resources) > 0 {
			instanceID = resources[0].ID
			logger.Info("adopted instance from previous delivery", "instance_id", instanceID)
		}
	}

	if instanceID == "" {
		if env == nil {
			resolved, err := e.secrets.ResolveAll(ctx, snap.SecretRefs)
			if err != nil {
				run.MarkFailed(fmt.Sprintf("secret resolution failed: %v", err), nil)
				e.commitTerminal(ctx, logger, run, domain.RunStatusProvisioning, snap)
				e.complete(ctx, logger, task)
				return true
			}
			env = resolved
		}

		id, err := e.launch(ctx, run, snap, env)
		if err != nil {
			telemetry.ProvisionErrors.Inc()
			logger.Error("launch failed", "error", err)
			run.MarkFailed(fmt.Sprintf("provisioning failed: %v", err), nil)
			e.commitTerminal(ctx, logger, run, domain.RunStatusProvisioning, snap)
			e.complete(ctx, logger, task)
			return true
		}
		instanceID = id
		launched = true
	}

	run.MarkRunning(instanceID)
	if conflict := e.commit(ctx, logger, run, domain.RunStatusProvisioning); conflict {
		// Кто-то перевёл run, пока мы запускали инстанс. Наш инстанс
		// теперь лишний binding — гасим немедленно, не дожидаясь
		// Reconciler'а.
		if launched {
			e.terminate(ctx, logger, instanceID)
		}
		return false
	}

	telemetry.RunsStarted.Inc()
	logger.Info("run started", "instance_id", instanceID)
	return false
}

// launch собирает LaunchSpec из snapshot и запускает инстанс.
func (e *Engine) launch(ctx context.Context, run *domain.Run, snap *domain.PipelineSnapshot, secretEnv map[string]string) (string, error) {
	timeout := snap.Timeout(e.defaultTimeout)

	// URL должен пережить run вплоть до границы, за которой инстанс
	// добьёт Reconciler (2x таймаут).
	exitCodeURL, err := e.channel.PresignedExitCodeURL(ctx, run.ID, 2*timeout+time.Hour)
	if err != nil {
		return "", fmt.Errorf("presign completion url: %w", err)
	}

	fullEnv := make(map[string]string, len(snap.Env)+len(secretEnv))
	for k, v := range snap.Env {
		fullEnv[k] = v
	}
	for k, v := range secretEnv {
		fullEnv[k] = v
	}

	// Лог — best-effort: без URL скрипт просто не грузит лог.
	var logURL string
	if e.logs != nil {
		logURL, err = e.logs.PresignedUploadURL(ctx, run.ID, 2*timeout+time.Hour)
		if err != nil {
			e.logger.Warn("presign log url failed, run will not upload logs", "run_id", run.ID, "error", err)
			logURL = ""
		}
	}

	script := provider.BuildBootstrapScript(provider.BootstrapParams{
		BuildRef:    snap.BuildRef,
		Env:         fullEnv,
		ExitCodeURL: exitCodeURL,
		LogURL:      logURL,
	})

	return e.provider.Launch(ctx, provider.LaunchSpec{
		RunID:        run.ID,
		MemoryMB:     snap.Hints.MemoryMB,
		CPUs:         snap.Hints.CPUs,
		InstanceType: snap.Hints.InstanceType,
		UserData:     script,
	})
}

// pollCompletion опрашивает completion channel для RUNNING-run.
//
// Не более pollTicksPerLease тиков за один lease; затем задача
// возвращается в очередь с задержкой — воркер не закреплён за run
// на всё время его выполнения. Каждый тик наблюдает durable-флаг
// отмены и таймаут. Возвращает true, если задача отпущена обратно.
func (e *Engine) pollCompletion(ctx context.Context, logger *slog.Logger, task *domain.QueueTask, run *domain.Run, snap *domain.PipelineSnapshot) (released bool) {
	timeout := snap.Timeout(e.defaultTimeout)

	for tick := 0; tick < e.pollTicksPerLease; tick++ {
		fresh, err := e.runs.GetByID(ctx, run.ID)
		if err != nil {
			logger.Warn("refresh run failed", "error", err)
		} else {
			run = fresh
		}

		if run.Status != domain.RunStatusRunning {
			// Run финализирован кем-то другим, наших эффектов не нужно.
			return false
		}

		if run.CancelRequested {
			e.terminate(ctx, logger, run.InstanceID)
			run.MarkCancelled()
			e.commitTerminal(ctx, logger, run, domain.RunStatusRunning, snap)
			return false
		}

		if run.StartedAt != nil && time.Since(*run.StartedAt) > timeout {
			e.terminate(ctx, logger, run.InstanceID)
			run.MarkTimedOut(timeout)
			e.commitTerminal(ctx, logger, run, domain.RunStatusRunning, snap)
			return false
		}

		telemetry.CompletionPolls.Inc()
		code, err := e.channel.Poll(ctx, run.ID)
		switch {
		case errors.Is(err, channel.ErrNotReady):
			// Контейнер ещё выполняется.

		case errors.Is(err, channel.ErrMalformed):
			e.terminate(ctx, logger, run.InstanceID)
			run.MarkFailed(err.Error(), nil)
			e.commitTerminal(ctx, logger, run, domain.RunStatusRunning, snap)
			return false

		case err != nil:
			logger.Warn("completion poll failed", "error", err)

		default:
			e.terminate(ctx, logger, run.InstanceID)
			if code == 0 {
				run.MarkSucceeded()
			} else {
				exitCode := code
				run.MarkFailed(fmt.Sprintf("container exited with code %d", code), &exitCode)
			}
			e.commitTerminal(ctx, logger, run, domain.RunStatusRunning, snap)
			return false
		}

		select {
		case <-ctx.Done():
			// Shutdown: отдаём задачу сразу, чтобы её подхватили без
			// ожидания истечения lease.
			if err := e.tasks.Release(context.WithoutCancel(ctx), task.ID, task.LeaseOwner, 0); err != nil {
				logger.Warn("release on shutdown failed", "error", err)
			}
			return true
		case <-time.After(e.pollInterval):
		}
	}

	if err := e.tasks.Release(ctx, task.ID, task.LeaseOwner, e.pollInterval); err != nil {
		logger.Error("release task failed", "error", err)
		return false
	}
	logger.Debug("poll budget exhausted, task released")
	return true
}

// checkDependencies проверяет, что последний run каждой зависимости
// завершился SUCCEEDED.
func (e *Engine) checkDependencies(ctx context.Context, snap *domain.PipelineSnapshot) error {
	for _, depID := range snap.DependsOn {
		last, err := e.runs.LatestByPipeline(ctx, depID)
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: pipeline %s has no runs", ErrDependencyNotSatisfied, depID)
		}
		if err != nil {
			return fmt.Errorf("check dependency %s: %w", depID, err)
		}
		if last.Status != domain.RunStatusSucceeded {
			return fmt.Errorf("%w: latest run of pipeline %s is %s", ErrDependencyNotSatisfied, depID, last.Status)
		}
	}
	return nil
}

// commit фиксирует переход. Возвращает true при ErrStateConflict.
func (e *Engine) commit(ctx context.Context, logger *slog.Logger, run *domain.Run, from domain.RunStatus) (conflict bool) {
	err := e.runs.Transition(ctx, run, from)
	if errors.Is(err, repo.ErrStateConflict) {
		logger.Debug("transition conflict, rereading run", "from", from, "to", run.Status)
		return true
	}
	if err != nil {
		logger.Error("transition failed", "from", from, "to", run.Status, "error", err)
		return true
	}
	return false
}

// commitTerminal фиксирует терминальный переход и его побочные
// эффекты: метрики и notify-задачу. При конфликте run уже
// финализирован другим актором — эффекты не повторяются.
func (e *Engine) commitTerminal(ctx context.Context, logger *slog.Logger, run *domain.Run, from domain.RunStatus, snap *domain.PipelineSnapshot) {
	if conflict := e.commit(ctx, logger, run, from); conflict {
		return
	}

	telemetry.RunsFinished.WithLabelValues(string(run.Status)).Inc()
	if d := run.Duration(); d > 0 {
		telemetry.RunDuration.Observe(d.Seconds())
	}

	logger.Info("run finished",
		"status", run.Status,
		"error", run.Error,
		"duration", run.Duration(),
	)

	if snap.NotifyOnFailure && run.Status != domain.RunStatusSucceeded {
		notifyTask, err := domain.NewNotifyTask(run.ID, run.Status, run.Error)
		if err != nil {
			logger.Error("build notify task failed", "error", err)
			return
		}
		if err := e.tasks.Enqueue(ctx, notifyTask); err != nil {
			logger.Error("enqueue notify task failed", "error", err)
		}
	}
}

// terminate гасит инстанс перед финализацией run. Ошибка логируется:
// доводить терминацию до конца — работа Reconciler'а, переход
// состояния из-за неё не блокируется.
func (e *Engine) terminate(ctx context.Context, logger *slog.Logger, instanceID string) {
	if instanceID == "" {
		return
	}
	if err := e.provider.Terminate(ctx, instanceID); err != nil {
		logger.Warn("terminate failed, reconciler will retry", "instance_id", instanceID, "error", err)
	}
}

// reload перечитывает run после конфликта перехода.
func (e *Engine) reload(ctx context.Context, logger *slog.Logger, run *domain.Run) *domain.Run {
	fresh, err := e.runs.GetByID(ctx, run.ID)
	if err != nil {
		logger.Error("reload run failed", "error", err)
		return nil
	}
	return fresh
}

func (e *Engine) complete(ctx context.Context, logger *slog.Logger, task *domain.QueueTask) {
	if err := e.tasks.Complete(ctx, task.ID, task.LeaseOwner); err != nil {
		logger.Error("complete task failed", "error", err)
	}
}

func (e *Engine) discard(ctx context.Context, logger *slog.Logger, task *domain.QueueTask) {
	if err := e.tasks.Discard(ctx, task.ID); err != nil {
		logger.Error("discard task failed", "error", err)
	}
}
