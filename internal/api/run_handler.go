package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
	"github.com/shaiso/Conveyor/internal/repo"
)

// CreateRun запускает pipeline.
// POST /api/v1/pipelines/{id}/runs
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	pipelineID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid pipeline id")
		return
	}

	var req CreateRunRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			BadRequest(w, "invalid request body")
			return
		}
	}

	if _, err := h.pipelineRepo.GetByID(r.Context(), pipelineID); HandleRepoError(w, h.logger, err, "pipeline not found") {
		return
	}

	run, err := h.trigger.RequestRun(r.Context(), pipelineID, domain.TriggerAPI, req.TriggeredBy, req.IdempotencyKey)
	if errors.Is(err, engine.ErrNoSnapshot) {
		Conflict(w, "pipeline has no snapshot")
		return
	}
	if HandleRepoError(w, h.logger, err, "pipeline not found") {
		return
	}

	Created(w, RunFromDomain(*run))
}

// ListRuns возвращает список runs с фильтрацией.
// GET /api/v1/runs?pipeline_id=...&status=...&limit=...&offset=...
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	filter := repo.RunFilter{Limit: 50}

	if pipelineIDStr := r.URL.Query().Get("pipeline_id"); pipelineIDStr != "" {
		pipelineID, err := uuid.Parse(pipelineIDStr)
		if err != nil {
			BadRequest(w, "invalid pipeline_id")
			return
		}
		filter.PipelineID = &pipelineID
	}

	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = domain.RunStatus(status)
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit <= 0 || limit > 500 {
			BadRequest(w, "invalid limit")
			return
		}
		filter.Limit = limit
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil || offset < 0 {
			BadRequest(w, "invalid offset")
			return
		}
		filter.Offset = offset
	}

	runs, err := h.runRepo.List(r.Context(), filter)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]RunResponse, len(runs))
	for i, run := range runs {
		result[i] = RunFromDomain(run)
	}

	List(w, result, len(result))
}

// GetRun возвращает run по ID.
// GET /api/v1/runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	run, err := h.runRepo.GetByID(r.Context(), runID)
	if HandleRepoError(w, h.logger, err, "run not found") {
		return
	}

	Success(w, RunFromDomain(*run))
}

// GetRunLogs возвращает временную ссылку на консольный лог run.
// GET /api/v1/runs/{id}/logs
func (h *Handler) GetRunLogs(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	if h.logs == nil {
		NotFound(w, "log store is not configured")
		return
	}

	if _, err := h.runRepo.GetByID(r.Context(), runID); HandleRepoError(w, h.logger, err, "run not found") {
		return
	}

	url, err := h.logs.Handle(r.Context(), runID, 15*time.Minute)
	if err != nil {
		InternalError(w, h.logger, err)
		return
	}

	Success(w, LogHandleResponse{RunID: runID, URL: url})
}

// CancelRun запрашивает отмену run.
// POST /api/v1/runs/{id}/cancel
//
// Для уже терминального run — 409: отмена завершённого невозможна.
func (h *Handler) CancelRun(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	err = h.canceller.RequestCancel(r.Context(), runID)
	if errors.Is(err, engine.ErrNotCancellable) {
		Conflict(w, "run is already in a terminal state")
		return
	}
	if HandleRepoError(w, h.logger, err, "run not found") {
		return
	}

	NoContent(w)
}
