package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/repo"
)

// CancelController распространяет интент отмены на выполняющийся run.
//
// Отмена кооперативная: durable-флаг наблюдается engine на каждом
// poll-тике, так что латентность ограничена интервалом опроса, а не
// мгновенна. Compute гарантированно гасится до финализации run.
type CancelController struct {
	runs   RunStore
	logger *slog.Logger
}

// NewCancelController создаёт CancelController.
func NewCancelController(runs RunStore, logger *slog.Logger) *CancelController {
	return &CancelController{runs: runs, logger: logger}
}

// RequestCancel выставляет durable-флаг отмены.
//
// Для терминального run возвращает ErrNotCancellable, состояние не
// меняется. Для несуществующего — repo.ErrNotFound.
func (c *CancelController) RequestCancel(ctx context.Context, runID uuid.UUID) error {
	err := c.runs.RequestCancel(ctx, runID)
	if errors.Is(err, repo.ErrStateConflict) {
		return fmt.Errorf("%w: %s", ErrNotCancellable, runID)
	}
	if err != nil {
		return err
	}

	c.logger.Info("cancellation requested", "run_id", runID)
	return nil
}
