package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ilovetoast/brandlens/internal/asset"
	"github.com/ilovetoast/brandlens/internal/audit"
	"github.com/ilovetoast/brandlens/internal/models"
	"github.com/ilovetoast/brandlens/internal/queue"
	"github.com/ilovetoast/brandlens/internal/scoring"
	"github.com/ilovetoast/brandlens/internal/tenant"
)

type AssetHandler struct {
	repo     *asset.Repo
	queue    queue.Enqueuer
	engine   *scoring.Engine
	scores   scoring.ScoreStore
	auditSvc *audit.Service
}

func NewAssetHandler(repo *asset.Repo, q queue.Enqueuer, engine *scoring.Engine, scores scoring.ScoreStore, auditSvc *audit.Service) *AssetHandler {
	return &AssetHandler{repo: repo, queue: q, engine: engine, scores: scores, auditSvc: auditSvc}
}

func (h *AssetHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid asset ID"})
		return
	}

	a, err := h.repo.GetByID(r.Context(), id)
	if errors.Is(err, asset.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "asset not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, a)
}

// Analyze kicks the pipeline for an uploaded asset: the upload-completed
// flag is recorded and the first stage task enqueued.
func (h *AssetHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid asset ID"})
		return
	}

	a, err := h.repo.GetByID(r.Context(), id)
	if errors.Is(err, asset.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "asset not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	if err := h.repo.MergeMetadata(r.Context(), id, map[string]interface{}{
		models.MetaUploadCompleted: true,
	}); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	if err := h.queue.EnqueueStage(queue.TypeAssetProcess, queue.AssetStagePayload{
		AssetID:  id.String(),
		TenantID: a.TenantID.String(),
	}); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// Reanalyze clears every derived artifact and restarts the pipeline. The
// previous compliance verdict is nulled first so no stale score survives.
func (h *AssetHandler) Reanalyze(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid asset ID"})
		return
	}

	a, err := h.repo.GetByID(r.Context(), id)
	if errors.Is(err, asset.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "asset not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	if err := h.engine.MarkPending(r.Context(), id, a.BrandID); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if err := h.repo.ResetAnalysis(r.Context(), id); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	if err := h.queue.EnqueueStage(queue.TypeAssetProcess, queue.AssetStagePayload{
		AssetID:  id.String(),
		TenantID: a.TenantID.String(),
	}); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	if h.auditSvc != nil {
		_ = h.auditSvc.Log(r.Context(), audit.LogEntry{
			TenantID:     tenant.IDFromContext(r.Context()),
			Action:       "asset.reanalyze",
			ResourceType: "asset",
			ResourceID:   &id,
		})
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "reanalysis queued"})
}

type thumbnailCompleteRequest struct {
	Paths map[string]string `json:"paths"`
}

// ThumbnailComplete is the external renderer's callback: it records the
// rendered paths, advances the asset into metadata extraction, and enqueues
// the next stage plus the parallel tagging task.
func (h *AssetHandler) ThumbnailComplete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid asset ID"})
		return
	}

	var req thumbnailCompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Paths) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "paths required"})
		return
	}

	a, err := h.repo.GetByID(r.Context(), id)
	if errors.Is(err, asset.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "asset not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	advanced, err := h.repo.CompleteThumbnailRendering(r.Context(), id, req.Paths)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if !advanced {
		// Duplicate or out-of-order callback; the pipeline discipline makes
		// it harmless.
		writeJSON(w, http.StatusOK, map[string]interface{}{"advanced": false})
		return
	}

	payload := queue.AssetStagePayload{AssetID: id.String(), TenantID: a.TenantID.String()}
	if err := h.queue.EnqueueStage(queue.TypeAssetExtractMetadata, payload); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if err := h.queue.EnqueueTagging(queue.AssetTagPayload{AssetID: id.String(), TenantID: a.TenantID.String()}); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"advanced": true})
}

// Score returns the stored compliance verdict for the asset against a brand
// (the asset's own brand unless brand_id says otherwise).
func (h *AssetHandler) Score(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid asset ID"})
		return
	}

	a, err := h.repo.GetByID(r.Context(), id)
	if errors.Is(err, asset.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "asset not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	brandID := a.BrandID
	if raw := r.URL.Query().Get("brand_id"); raw != "" {
		brandID, err = uuid.Parse(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid brand_id"})
			return
		}
	}

	score, err := h.scores.Get(r.Context(), id, brandID)
	if errors.Is(err, scoring.ErrScoreNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no score for asset and brand"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, score)
}
