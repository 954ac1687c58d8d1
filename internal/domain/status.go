package domain

// RunStatus — статус выполнения run.
//
// Жизненный цикл:
//
//	PENDING → DEPENDENCY_CHECK → SECRET_FETCH → PROVISIONING → RUNNING
//	RUNNING → SUCCEEDED | FAILED | CANCELLED | TIMED_OUT
//	любой не-терминальный → FAILED | CANCELLED
//	PROVISIONING | RUNNING → ORPHANED (только Reconciler)
//
// Каждый переход фиксируется в БД через conditional update
// (см. repo.RunRepo.Transition) — last-writer-wins здесь небезопасен.
type RunStatus string

const (
	// RunStatusPending — run создан, но ещё не взят в обработку.
	RunStatusPending RunStatus = "PENDING"

	// RunStatusDependencyCheck — проверяются зависимости pipeline.
	RunStatusDependencyCheck RunStatus = "DEPENDENCY_CHECK"

	// RunStatusSecretFetch — резолвятся secret references.
	RunStatusSecretFetch RunStatus = "SECRET_FETCH"

	// RunStatusProvisioning — запрошен запуск compute-инстанса.
	RunStatusProvisioning RunStatus = "PROVISIONING"

	// RunStatusRunning — контейнер выполняется, engine поллит exit code.
	RunStatusRunning RunStatus = "RUNNING"

	// RunStatusSucceeded — контейнер завершился с кодом 0.
	RunStatusSucceeded RunStatus = "SUCCEEDED"

	// RunStatusFailed — run завершился с ошибкой (зависимости, секреты,
	// provisioning или ненулевой exit code).
	RunStatusFailed RunStatus = "FAILED"

	// RunStatusCancelled — run отменён по запросу.
	RunStatusCancelled RunStatus = "CANCELLED"

	// RunStatusTimedOut — превышен таймаут pipeline, compute принудительно
	// остановлен. Вариант failure, но отличим от FAILED: оператор должен
	// видеть разницу между инфраструктурной проблемой и падением pipeline.
	RunStatusTimedOut RunStatus = "TIMED_OUT"

	// RunStatusOrphaned — Reconciler нашёл compute без консистентного run
	// (или run без живого compute) и закрыл его. Тоже вариант failure.
	RunStatusOrphaned RunStatus = "ORPHANED"
)

// IsTerminal возвращает true, если статус финальный (run завершён).
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusSucceeded, RunStatusFailed, RunStatusCancelled,
		RunStatusTimedOut, RunStatusOrphaned:
		return true
	default:
		return false
	}
}

// IsLive возвращает true, если за run может числиться живой compute.
func (s RunStatus) IsLive() bool {
	return s == RunStatusProvisioning || s == RunStatusRunning
}

// TriggerKind — источник запуска run.
type TriggerKind string

const (
	// TriggerAPI — запуск через HTTP API или CLI.
	TriggerAPI TriggerKind = "api"

	// TriggerSchedule — запуск по расписанию.
	TriggerSchedule TriggerKind = "schedule"

	// TriggerDependency — перезапуск после успешного завершения
	// pipeline-зависимости (dependency watcher).
	TriggerDependency TriggerKind = "dependency"
)
