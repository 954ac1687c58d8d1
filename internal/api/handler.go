package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/engine"
	"github.com/shaiso/Conveyor/internal/repo"
)

// LogStore выдаёт временные ссылки на консольные логи run-ов.
// Реализуется channel.LogStore; nil — логи недоступны через API.
type LogStore interface {
	Handle(ctx context.Context, runID uuid.UUID, expiry time.Duration) (string, error)
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	pipelineRepo *repo.PipelineRepo
	runRepo      *repo.RunRepo
	scheduleRepo *repo.ScheduleRepo
	trigger      *engine.Trigger
	canceller    *engine.CancelController
	logs         LogStore
	logger       *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	PipelineRepo *repo.PipelineRepo
	RunRepo      *repo.RunRepo
	ScheduleRepo *repo.ScheduleRepo
	Trigger      *engine.Trigger
	Canceller    *engine.CancelController
	Logs         LogStore
	Logger       *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	return &Handler{
		pipelineRepo: cfg.PipelineRepo,
		runRepo:      cfg.RunRepo,
		scheduleRepo: cfg.ScheduleRepo,
		trigger:      cfg.Trigger,
		canceller:    cfg.Canceller,
		logs:         cfg.Logs,
		logger:       cfg.Logger,
	}
}
