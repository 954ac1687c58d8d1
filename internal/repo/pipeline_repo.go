package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Conveyor/internal/domain"
)

// PipelineRepo — репозиторий для pipelines и их snapshots.
type PipelineRepo struct {
	pool *pgxpool.Pool
}

// NewPipelineRepo создаёт новый PipelineRepo.
func NewPipelineRepo(pool *pgxpool.Pool) *PipelineRepo {
	return &PipelineRepo{pool: pool}
}

// Create регистрирует pipeline.
func (r *PipelineRepo) Create(ctx context.Context, p *domain.Pipeline) error {
	query := `
		INSERT INTO pipelines (id, name, is_active, created_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := r.pool.Exec(ctx, query, p.ID, p.Name, p.IsActive, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert pipeline: %w", err)
	}
	return nil
}

// GetByID возвращает pipeline по ID.
func (r *PipelineRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Pipeline, error) {
	query := `SELECT id, name, is_active, created_at FROM pipelines WHERE id = $1`

	var p domain.Pipeline
	err := r.pool.QueryRow(ctx, query, id).Scan(&p.ID, &p.Name, &p.IsActive, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan pipeline: %w", err)
	}
	return &p, nil
}

// List возвращает все pipelines.
func (r *PipelineRepo) List(ctx context.Context) ([]domain.Pipeline, error) {
	query := `SELECT id, name, is_active, created_at FROM pipelines ORDER BY name`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list pipelines: %w", err)
	}
	defer rows.Close()

	var pipelines []domain.Pipeline
	for rows.Next() {
		var p domain.Pipeline
		if err := rows.Scan(&p.ID, &p.Name, &p.IsActive, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan pipeline: %w", err)
		}
		pipelines = append(pipelines, p)
	}
	return pipelines, rows.Err()
}

// PutSnapshot сохраняет новую версию snapshot.
// Версии неизменяемы: повторная запись той же версии — конфликт.
func (r *PipelineRepo) PutSnapshot(ctx context.Context, s *domain.PipelineSnapshot) error {
	spec, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	query := `
		INSERT INTO pipeline_snapshots (pipeline_id, version, spec, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (pipeline_id, version) DO NOTHING
	`
	result, err := r.pool.Exec(ctx, query, s.PipelineID, s.Version, spec, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	return nil
}

// GetSnapshot возвращает snapshot по pipeline id и версии.
func (r *PipelineRepo) GetSnapshot(ctx context.Context, pipelineID uuid.UUID, version int) (*domain.PipelineSnapshot, error) {
	query := `SELECT spec FROM pipeline_snapshots WHERE pipeline_id = $1 AND version = $2`
	return scanSnapshot(r.pool.QueryRow(ctx, query, pipelineID, version))
}

// LatestSnapshot возвращает snapshot последней версии.
func (r *PipelineRepo) LatestSnapshot(ctx context.Context, pipelineID uuid.UUID) (*domain.PipelineSnapshot, error) {
	query := `
		SELECT spec FROM pipeline_snapshots
		WHERE pipeline_id = $1
		ORDER BY version DESC
		LIMIT 1
	`
	return scanSnapshot(r.pool.QueryRow(ctx, query, pipelineID))
}

// ListDependents возвращает pipelines, у которых последний snapshot
// перечисляет dependencyID в depends_on. Используется dependency
// watcher'ом для перезапуска зависимых pipelines.
//
// Сначала выбирается последняя версия каждого pipeline, и только по
// ней проверяется depends_on: старый snapshot с уже убранной
// зависимостью не должен давать совпадение.
func (r *PipelineRepo) ListDependents(ctx context.Context, dependencyID uuid.UUID) ([]uuid.UUID, error) {
	query := `
		SELECT pipeline_id FROM (
			SELECT DISTINCT ON (pipeline_id) pipeline_id, spec
			FROM pipeline_snapshots
			ORDER BY pipeline_id, version DESC
		) latest
		WHERE spec->'depends_on' @> to_jsonb($1::text)
	`
	rows, err := r.pool.Query(ctx, query, dependencyID.String())
	if err != nil {
		return nil, fmt.Errorf("list dependents: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan dependent: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanSnapshot(row pgx.Row) (*domain.PipelineSnapshot, error) {
	var spec []byte
	err := row.Scan(&spec)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan snapshot: %w", err)
	}

	var s domain.PipelineSnapshot
	if err := json.Unmarshal(spec, &s); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &s, nil
}
