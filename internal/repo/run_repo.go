package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Conveyor/internal/domain"
)

const runColumns = `id, pipeline_id, version, status, trigger_kind, triggered_by,
	       instance_id, exit_code, error, cancel_requested, idempotency_key,
	       started_at, finished_at, created_at`

// RunRepo — репозиторий для работы с runs.
type RunRepo struct {
	pool *pgxpool.Pool
}

// NewRunRepo создаёт новый RunRepo.
func NewRunRepo(pool *pgxpool.Pool) *RunRepo {
	return &RunRepo{pool: pool}
}

// Create создаёт новый run.
func (r *RunRepo) Create(ctx context.Context, run *domain.Run) error {
	query := `
		INSERT INTO runs (id, pipeline_id, version, status, trigger_kind, triggered_by,
		                  idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.pool.Exec(ctx, query,
		run.ID,
		run.PipelineID,
		run.Version,
		run.Status,
		run.TriggerKind,
		nullString(run.TriggeredBy),
		nullString(run.IdempotencyKey),
		run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetByID возвращает run по ID.
func (r *RunRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = $1`
	return scanRun(r.pool.QueryRow(ctx, query, id))
}

// GetByIdempotencyKey возвращает run по ключу идемпотентности.
func (r *RunRepo) GetByIdempotencyKey(ctx context.Context, pipelineID uuid.UUID, key string) (*domain.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE pipeline_id = $1 AND idempotency_key = $2`
	return scanRun(r.pool.QueryRow(ctx, query, pipelineID, key))
}

// LatestByPipeline возвращает последний run pipeline (по created_at).
// Используется при проверке зависимостей.
func (r *RunRepo) LatestByPipeline(ctx context.Context, pipelineID uuid.UUID) (*domain.Run, error) {
	query := `
		SELECT ` + runColumns + `
		FROM runs
		WHERE pipeline_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	return scanRun(r.pool.QueryRow(ctx, query, pipelineID))
}

// Transition фиксирует переход run в новый статус.
//
// Update условный: строка перезаписывается только если текущий статус
// в БД равен from. Ноль затронутых строк означает, что кто-то уже
// перевёл run дальше (повторная доставка задачи или гонка с
// Reconciler) — возвращается ErrStateConflict, и вызывающая сторона
// обязана перечитать run вместо повторения побочных эффектов.
func (r *RunRepo) Transition(ctx context.Context, run *domain.Run, from domain.RunStatus) error {
	query := `
		UPDATE runs
		SET status = $2, instance_id = $3, exit_code = $4, error = $5,
		    started_at = $6, finished_at = $7
		WHERE id = $1 AND status = $8
	`
	result, err := r.pool.Exec(ctx, query,
		run.ID,
		run.Status,
		nullString(run.InstanceID),
		run.ExitCode,
		nullString(run.Error),
		run.StartedAt,
		run.FinishedAt,
		from,
	)
	if err != nil {
		return fmt.Errorf("transition run %s → %s: %w", from, run.Status, err)
	}
	if result.RowsAffected() == 0 {
		return ErrStateConflict
	}
	return nil
}

// RequestCancel выставляет durable-флаг отмены.
//
// Для терминальных runs флаг не выставляется — вызывающая сторона
// различает "уже терминальный" и "не существует" по ErrStateConflict
// и ErrNotFound.
func (r *RunRepo) RequestCancel(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE runs
		SET cancel_requested = TRUE
		WHERE id = $1
		  AND status NOT IN ('SUCCEEDED', 'FAILED', 'CANCELLED', 'TIMED_OUT', 'ORPHANED')
	`
	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("request cancel: %w", err)
	}
	if result.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return ErrStateConflict
	}
	return nil
}

// List возвращает список runs с фильтрацией.
func (r *RunRepo) List(ctx context.Context, filter RunFilter) ([]domain.Run, error) {
	query := `
		SELECT ` + runColumns + `
		FROM runs
		WHERE ($1::uuid IS NULL OR pipeline_id = $1)
		  AND ($2::text IS NULL OR status = $2::run_status)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.pool.Query(ctx, query,
		nullUUID(filter.PipelineID),
		nullString(string(filter.Status)),
		filter.Limit,
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	return collectRuns(rows)
}

// ListLive возвращает runs в живых статусах (PROVISIONING, RUNNING),
// перешедшие туда раньше cutoff. Используется вторым проходом
// Reconciler'а для поиска runs с исчезнувшим compute.
func (r *RunRepo) ListLive(ctx context.Context, cutoff time.Time, limit int) ([]domain.Run, error) {
	query := `
		SELECT ` + runColumns + `
		FROM runs
		WHERE status IN ('PROVISIONING', 'RUNNING')
		  AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list live runs: %w", err)
	}
	defer rows.Close()
	return collectRuns(rows)
}

// ListSucceededSince возвращает runs, завершившиеся SUCCEEDED после
// метки since. Используется dependency watcher'ом.
func (r *RunRepo) ListSucceededSince(ctx context.Context, since time.Time, limit int) ([]domain.Run, error) {
	query := `
		SELECT ` + runColumns + `
		FROM runs
		WHERE status = 'SUCCEEDED' AND finished_at > $1
		ORDER BY finished_at ASC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, since, limit)
	if err != nil {
		return nil, fmt.Errorf("list succeeded runs: %w", err)
	}
	defer rows.Close()
	return collectRuns(rows)
}

// --- Helpers ---

// RunFilter — параметры фильтрации runs.
type RunFilter struct {
	PipelineID *uuid.UUID
	Status     domain.RunStatus
	Limit      int
	Offset     int
}

func collectRuns(rows pgx.Rows) ([]domain.Run, error) {
	var runs []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// scanRun сканирует строку в Run. pgx.Rows реализует pgx.Row,
// поэтому хелпер общий для QueryRow и Query.
func scanRun(row pgx.Row) (*domain.Run, error) {
	var run domain.Run
	var triggeredBy, instanceID, runError, idempotencyKey *string

	err := row.Scan(
		&run.ID,
		&run.PipelineID,
		&run.Version,
		&run.Status,
		&run.TriggerKind,
		&triggeredBy,
		&instanceID,
		&run.ExitCode,
		&runError,
		&run.CancelRequested,
		&idempotencyKey,
		&run.StartedAt,
		&run.FinishedAt,
		&run.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}

	if triggeredBy != nil {
		run.TriggeredBy = *triggeredBy
	}
	if instanceID != nil {
		run.InstanceID = *instanceID
	}
	if runError != nil {
		run.Error = *runError
	}
	if idempotencyKey != nil {
		run.IdempotencyKey = *idempotencyKey
	}

	return &run, nil
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullUUID возвращает nil для пустого UUID.
func nullUUID(id *uuid.UUID) *uuid.UUID {
	if id == nil || *id == uuid.Nil {
		return nil
	}
	return id
}
