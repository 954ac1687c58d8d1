package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Pipeline DTOs

// CreatePipelineRequest — запрос на регистрацию pipeline.
type CreatePipelineRequest struct {
	Name string `json:"name"`
}

// PipelineResponse — ответ с pipeline.
type PipelineResponse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// PipelineFromDomain конвертирует domain.Pipeline в PipelineResponse.
func PipelineFromDomain(p domain.Pipeline) PipelineResponse {
	return PipelineResponse{
		ID:        p.ID,
		Name:      p.Name,
		IsActive:  p.IsActive,
		CreatedAt: p.CreatedAt,
	}
}

// Snapshot DTOs

// PutSnapshotRequest — запрос definition-sync на загрузку новой версии.
type PutSnapshotRequest struct {
	Version         int                  `json:"version"`
	BuildRef        string               `json:"build_ref"`
	Hints           domain.ResourceHints `json:"resource_hints"`
	Env             map[string]string    `json:"env,omitempty"`
	SecretRefs      []domain.SecretRef   `json:"secret_refs,omitempty"`
	DependsOn       []uuid.UUID          `json:"depends_on,omitempty"`
	TimeoutSec      int                  `json:"timeout_sec"`
	NotifyOnFailure bool                 `json:"notify_on_failure,omitempty"`
}

// Run DTOs

// CreateRunRequest — запрос на запуск pipeline.
type CreateRunRequest struct {
	TriggeredBy    string `json:"triggered_by,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// RunResponse — ответ с run.
type RunResponse struct {
	ID          uuid.UUID          `json:"id"`
	PipelineID  uuid.UUID          `json:"pipeline_id"`
	Version     int                `json:"version"`
	Status      domain.RunStatus   `json:"status"`
	TriggerKind domain.TriggerKind `json:"trigger_kind"`
	TriggeredBy string             `json:"triggered_by,omitempty"`
	InstanceID  string             `json:"instance_id,omitempty"`
	ExitCode    *int               `json:"exit_code,omitempty"`
	Error       string             `json:"error,omitempty"`
	StartedAt   *time.Time         `json:"started_at,omitempty"`
	FinishedAt  *time.Time         `json:"finished_at,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
}

// RunFromDomain конвертирует domain.Run в RunResponse.
func RunFromDomain(r domain.Run) RunResponse {
	return RunResponse{
		ID:          r.ID,
		PipelineID:  r.PipelineID,
		Version:     r.Version,
		Status:      r.Status,
		TriggerKind: r.TriggerKind,
		TriggeredBy: r.TriggeredBy,
		InstanceID:  r.InstanceID,
		ExitCode:    r.ExitCode,
		Error:       r.Error,
		StartedAt:   r.StartedAt,
		FinishedAt:  r.FinishedAt,
		CreatedAt:   r.CreatedAt,
	}
}

// LogHandleResponse — временная ссылка на консольный лог run.
type LogHandleResponse struct {
	RunID uuid.UUID `json:"run_id"`
	URL   string    `json:"url"`
}

// Schedule DTOs

// CreateScheduleRequest — запрос на создание schedule.
type CreateScheduleRequest struct {
	Name        string `json:"name,omitempty"`
	CronExpr    string `json:"cron_expr,omitempty"`
	IntervalSec int    `json:"interval_sec,omitempty"`
	Timezone    string `json:"timezone,omitempty"`
}

// SetScheduleEnabledRequest — запрос на включение/выключение schedule.
type SetScheduleEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// ScheduleResponse — ответ со schedule.
type ScheduleResponse struct {
	ID          uuid.UUID  `json:"id"`
	PipelineID  uuid.UUID  `json:"pipeline_id"`
	Name        string     `json:"name,omitempty"`
	CronExpr    string     `json:"cron_expr,omitempty"`
	IntervalSec int        `json:"interval_sec,omitempty"`
	Timezone    string     `json:"timezone"`
	Enabled     bool       `json:"enabled"`
	NextDueAt   *time.Time `json:"next_due_at,omitempty"`
	LastRunAt   *time.Time `json:"last_run_at,omitempty"`
	LastRunID   *uuid.UUID `json:"last_run_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// ScheduleFromDomain конвертирует domain.Schedule в ScheduleResponse.
func ScheduleFromDomain(s domain.Schedule) ScheduleResponse {
	return ScheduleResponse{
		ID:          s.ID,
		PipelineID:  s.PipelineID,
		Name:        s.Name,
		CronExpr:    s.CronExpr,
		IntervalSec: s.IntervalSec,
		Timezone:    s.Timezone,
		Enabled:     s.Enabled,
		NextDueAt:   s.NextDueAt,
		LastRunAt:   s.LastRunAt,
		LastRunID:   s.LastRunID,
		CreatedAt:   s.CreatedAt,
	}
}
