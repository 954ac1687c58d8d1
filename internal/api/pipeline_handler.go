package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
)

// ListPipelines возвращает все pipelines.
// GET /api/v1/pipelines
func (h *Handler) ListPipelines(w http.ResponseWriter, r *http.Request) {
	pipelines, err := h.pipelineRepo.List(r.Context())
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]PipelineResponse, len(pipelines))
	for i, p := range pipelines {
		result[i] = PipelineFromDomain(p)
	}

	List(w, result, len(result))
}

// CreatePipeline регистрирует pipeline.
// POST /api/v1/pipelines
func (h *Handler) CreatePipeline(w http.ResponseWriter, r *http.Request) {
	var req CreatePipelineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	if req.Name == "" {
		BadRequest(w, "name is required")
		return
	}

	pipeline := &domain.Pipeline{
		ID:        uuid.New(),
		Name:      req.Name,
		IsActive:  true,
		CreatedAt: time.Now(),
	}

	if err := h.pipelineRepo.Create(r.Context(), pipeline); HandleRepoError(w, h.logger, err, "") {
		return
	}

	Created(w, PipelineFromDomain(*pipeline))
}

// GetPipeline возвращает pipeline по ID.
// GET /api/v1/pipelines/{id}
func (h *Handler) GetPipeline(w http.ResponseWriter, r *http.Request) {
	pipelineID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid pipeline id")
		return
	}

	pipeline, err := h.pipelineRepo.GetByID(r.Context(), pipelineID)
	if HandleRepoError(w, h.logger, err, "pipeline not found") {
		return
	}

	Success(w, PipelineFromDomain(*pipeline))
}

// PutSnapshot принимает новую версию snapshot от definition-sync.
// PUT /api/v1/pipelines/{id}/snapshots
//
// Версии неизменяемы: повторная загрузка существующей версии — 409.
func (h *Handler) PutSnapshot(w http.ResponseWriter, r *http.Request) {
	pipelineID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid pipeline id")
		return
	}

	var req PutSnapshotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	if req.Version <= 0 {
		BadRequest(w, "version must be positive")
		return
	}
	if req.BuildRef == "" {
		BadRequest(w, "build_ref is required")
		return
	}

	if _, err := h.pipelineRepo.GetByID(r.Context(), pipelineID); HandleRepoError(w, h.logger, err, "pipeline not found") {
		return
	}

	snapshot := &domain.PipelineSnapshot{
		PipelineID:      pipelineID,
		Version:         req.Version,
		BuildRef:        req.BuildRef,
		Hints:           req.Hints,
		Env:             req.Env,
		SecretRefs:      req.SecretRefs,
		DependsOn:       req.DependsOn,
		TimeoutSec:      req.TimeoutSec,
		NotifyOnFailure: req.NotifyOnFailure,
		CreatedAt:       time.Now(),
	}

	if err := h.pipelineRepo.PutSnapshot(r.Context(), snapshot); HandleRepoError(w, h.logger, err, "") {
		return
	}

	Created(w, snapshot)
}

// GetLatestSnapshot возвращает последнюю версию snapshot.
// GET /api/v1/pipelines/{id}/snapshots/latest
func (h *Handler) GetLatestSnapshot(w http.ResponseWriter, r *http.Request) {
	pipelineID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid pipeline id")
		return
	}

	snapshot, err := h.pipelineRepo.LatestSnapshot(r.Context(), pipelineID)
	if HandleRepoError(w, h.logger, err, "pipeline has no snapshot") {
		return
	}

	Success(w, snapshot)
}
