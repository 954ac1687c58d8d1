package domain

import (
	"time"

	"github.com/google/uuid"
)

// Run — одна попытка выполнения конкретной версии pipeline.
//
// Run создаётся когда:
// - Пользователь запускает pipeline вручную (через API/CLI)
// - Scheduler создаёт run по расписанию
// - Dependency watcher перезапускает зависимый pipeline
//
// Run мутируется только Engine и Reconciler; терминальные runs
// никогда не удаляются (retention — забота внешней политики).
type Run struct {
	// ID — уникальный идентификатор run.
	ID uuid.UUID `json:"id"`

	// PipelineID — ссылка на pipeline, который выполняется.
	PipelineID uuid.UUID `json:"pipeline_id"`

	// Version — версия snapshot, зафиксированная на момент запуска.
	Version int `json:"version"`

	// Status — текущий статус выполнения.
	Status RunStatus `json:"status"`

	// TriggerKind — источник запуска: api, schedule, dependency.
	TriggerKind TriggerKind `json:"trigger_kind"`

	// TriggeredBy — кто/что инициировало запуск (пользователь,
	// schedule id, run id зависимости).
	TriggeredBy string `json:"triggered_by,omitempty"`

	// InstanceID — идентификатор compute-инстанса, выданный провайдером.
	// Заполняется при provisioning и сохраняется после терминации
	// для аудита. За run числится не более одного живого инстанса.
	InstanceID string `json:"instance_id,omitempty"`

	// ExitCode — код завершения контейнера. Заполняется только для
	// терминальных статусов, достигнутых через completion channel
	// (SUCCEEDED и FAILED с ненулевым кодом). Для TIMED_OUT/CANCELLED/
	// ORPHANED остаётся nil.
	ExitCode *int `json:"exit_code,omitempty"`

	// Error — текст ошибки для failure-вариантов терминальных статусов.
	Error string `json:"error,omitempty"`

	// CancelRequested — durable-флаг отмены. Выставляется
	// CancelController'ом, наблюдается engine на каждом poll tick.
	CancelRequested bool `json:"cancel_requested,omitempty"`

	// IdempotencyKey — ключ идемпотентности для предотвращения дубликатов.
	// Для scheduled runs: "{schedule_id}_{next_due_at}",
	// для dependency runs: "{dep_run_id}_{pipeline_id}".
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	// StartedAt — время перехода в RUNNING. Nil, если run не дошёл
	// до запуска контейнера.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время достижения терминального статуса.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// CreatedAt — время создания run.
	CreatedAt time.Time `json:"created_at"`
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если run не запускался или ещё не завершён.
func (r *Run) Duration() time.Duration {
	if r.StartedAt == nil || r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(*r.StartedAt)
}

// IsFinished возвращает true, если run завершён (в любом статусе).
func (r *Run) IsFinished() bool {
	return r.Status.IsTerminal()
}

// HasCompute возвращает true, если за run записан compute-инстанс
// и статус допускает, что он жив.
func (r *Run) HasCompute() bool {
	return r.InstanceID != "" && r.Status.IsLive()
}

// MarkRunning переводит run в RUNNING с привязкой инстанса.
func (r *Run) MarkRunning(instanceID string) {
	now := time.Now()
	r.Status = RunStatusRunning
	r.InstanceID = instanceID
	r.StartedAt = &now
}

// MarkSucceeded переводит run в SUCCEEDED с кодом завершения 0.
func (r *Run) MarkSucceeded() {
	now := time.Now()
	zero := 0
	r.Status = RunStatusSucceeded
	r.ExitCode = &zero
	r.FinishedAt = &now
}

// MarkFailed переводит run в FAILED с текстом ошибки.
// exitCode передаётся, только если падение зафиксировано через
// completion channel; иначе nil.
func (r *Run) MarkFailed(errMsg string, exitCode *int) {
	now := time.Now()
	r.Status = RunStatusFailed
	r.Error = errMsg
	r.ExitCode = exitCode
	r.FinishedAt = &now
}

// MarkCancelled переводит run в CANCELLED.
func (r *Run) MarkCancelled() {
	now := time.Now()
	r.Status = RunStatusCancelled
	r.Error = "cancelled by request"
	r.FinishedAt = &now
}

// MarkTimedOut переводит run в TIMED_OUT. Exit code не записывается.
func (r *Run) MarkTimedOut(timeout time.Duration) {
	now := time.Now()
	r.Status = RunStatusTimedOut
	r.Error = "timeout exceeded after " + timeout.String()
	r.FinishedAt = &now
}

// MarkOrphaned переводит run в ORPHANED с причиной.
func (r *Run) MarkOrphaned(reason string) {
	now := time.Now()
	r.Status = RunStatusOrphaned
	r.Error = reason
	r.FinishedAt = &now
}
