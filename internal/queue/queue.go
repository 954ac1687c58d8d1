package queue

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

const taskColumns = `id, kind, payload, status, attempt, lease_owner, lease_expires_at,
	       available_at, periodic_interval_sec, created_at`

// Queue — durable queue поверх Postgres.
type Queue struct {
	pool *pgxpool.Pool
}

// New создаёт Queue.
func New(pool *pgxpool.Pool) *Queue {
	return &Queue{pool: pool}
}

// Enqueue сохраняет задачу и немедленно возвращается.
func (q *Queue) Enqueue(ctx context.Context, task *domain.QueueTask) error {
	query := `
		INSERT INTO queue_tasks (id, kind, payload, status, attempt, available_at,
		                         periodic_interval_sec, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := q.pool.Exec(ctx, query,
		task.ID,
		task.Kind,
		task.Payload,
		task.Status,
		task.Attempt,
		task.AvailableAt,
		task.PeriodicIntervalSec,
		task.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("enqueue task: %w", err)
	}
	return nil
}

// EnqueuePeriodic регистрирует периодическую задачу.
//
// На один kind существует не более одной периодической строки
// (partial unique index по kind для periodic_interval_sec > 0);
// повторный вызов обновляет интервал. После каждого Complete задача
// автоматически возвращается в AVAILABLE через interval.
func (q *Queue) EnqueuePeriodic(ctx context.Context, kind domain.TaskKind, interval time.Duration) error {
	now := time.Now()
	query := `
		INSERT INTO queue_tasks (id, kind, status, attempt, available_at,
		                         periodic_interval_sec, created_at)
		VALUES ($1, $2, 'AVAILABLE', 0, $3, $4, $5)
		ON CONFLICT (kind) WHERE periodic_interval_sec > 0
		DO UPDATE SET periodic_interval_sec = EXCLUDED.periodic_interval_sec
	`
	_, err := q.pool.Exec(ctx, query, uuid.New(), kind, now, int(interval.Seconds()), now)
	if err != nil {
		return fmt.Errorf("enqueue periodic %s: %w", kind, err)
	}
	return nil
}

// Lease атомарно захватывает не более одной доступной задачи.
//
// Доступна задача в AVAILABLE с наступившим available_at, либо в
// LEASED с истёкшим lease (воркер упал до Complete — повторная
// доставка). SKIP LOCKED исключает выдачу одной задачи двум воркерам.
// Возвращает ErrNoTask, если подходящих задач нет.
func (q *Queue) Lease(ctx context.Context, kinds []domain.TaskKind, workerID string, leaseDur time.Duration) (*domain.QueueTask, error) {
	kindStrs := make([]string, len(kinds))
	for i, k := range kinds {
		kindStrs[i] = string(k)
	}

	query := `
		UPDATE queue_tasks
		SET status = 'LEASED',
		    attempt = attempt + 1,
		    lease_owner = $2,
		    lease_expires_at = now() + $3
		WHERE id = (
			SELECT id FROM queue_tasks
			WHERE kind = ANY($1)
			  AND available_at <= now()
			  AND (status = 'AVAILABLE'
			       OR (status = 'LEASED' AND lease_expires_at < now()))
			ORDER BY available_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING ` + taskColumns

	task, err := scanTask(q.pool.QueryRow(ctx, query, kindStrs, workerID, leaseDur))
	if errors.Is(err, ErrTaskNotFound) {
		return nil, ErrNoTask
	}
	if err != nil {
		return nil, fmt.Errorf("lease task: %w", err)
	}
	return task, nil
}

// Complete помечает задачу обработанной.
// Периодическая задача вместо этого возвращается в AVAILABLE через
// свой интервал (отсчёт от завершения — проходы не накладываются).
//
// Срабатывает только для текущего владельца lease: задача, чей lease
// истёк и перевыдан другому воркеру, для отставшего владельца уже
// чужая — ErrNotLeased.
func (q *Queue) Complete(ctx context.Context, taskID uuid.UUID, owner string) error {
	query := `
		UPDATE queue_tasks
		SET status = CASE WHEN periodic_interval_sec > 0 THEN 'AVAILABLE' ELSE 'COMPLETED' END,
		    available_at = CASE WHEN periodic_interval_sec > 0
		                        THEN now() + make_interval(secs => periodic_interval_sec)
		                        ELSE available_at END,
		    lease_owner = NULL,
		    lease_expires_at = NULL
		WHERE id = $1 AND status = 'LEASED' AND lease_owner = $2
	`
	result, err := q.pool.Exec(ctx, query, taskID, owner)
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotLeased
	}
	return nil
}

// Release возвращает задачу в AVAILABLE с задержкой delay.
// Используется engine для non-blocking ожидания завершения контейнера:
// задача отдаётся обратно в очередь вместо удержания воркера.
// Как и Complete, действует только для текущего владельца lease.
func (q *Queue) Release(ctx context.Context, taskID uuid.UUID, owner string, delay time.Duration) error {
	query := `
		UPDATE queue_tasks
		SET status = 'AVAILABLE',
		    available_at = now() + $3,
		    lease_owner = NULL,
		    lease_expires_at = NULL
		WHERE id = $1 AND status = 'LEASED' AND lease_owner = $2
	`
	result, err := q.pool.Exec(ctx, query, taskID, owner, delay)
	if err != nil {
		return fmt.Errorf("release task: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotLeased
	}
	return nil
}

// Discard отбрасывает задачу (некорректный payload, несуществующий run).
func (q *Queue) Discard(ctx context.Context, taskID uuid.UUID) error {
	query := `
		UPDATE queue_tasks
		SET status = 'DISCARDED', lease_owner = NULL, lease_expires_at = NULL
		WHERE id = $1
	`
	result, err := q.pool.Exec(ctx, query, taskID)
	if err != nil {
		return fmt.Errorf("discard task: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func scanTask(row pgx.Row) (*domain.QueueTask, error) {
	var task domain.QueueTask
	var leaseOwner *string

	err := row.Scan(
		&task.ID,
		&task.Kind,
		&task.Payload,
		&task.Status,
		&task.Attempt,
		&leaseOwner,
		&task.LeaseExpiresAt,
		&task.AvailableAt,
		&task.PeriodicIntervalSec,
		&task.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}

	if leaseOwner != nil {
		task.LeaseOwner = *leaseOwner
	}
	return &task, nil
}
