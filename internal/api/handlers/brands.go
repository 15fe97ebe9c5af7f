package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ilovetoast/brandlens/internal/brand"
	"github.com/ilovetoast/brandlens/internal/models"
)

type BrandHandler struct {
	svc *brand.Service
}

func NewBrandHandler(svc *brand.Service) *BrandHandler {
	return &BrandHandler{svc: svc}
}

func (h *BrandHandler) GetModel(w http.ResponseWriter, r *http.Request) {
	brandID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid brand ID"})
		return
	}

	model, err := h.svc.GetEnabledModel(r.Context(), brandID)
	if errors.Is(err, brand.ErrNoEnabledModel) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "brand has no enabled model"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	version, err := h.svc.GetActiveVersion(r.Context(), model)
	if err != nil && !errors.Is(err, brand.ErrNoActiveVersion) {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"model":          model,
		"active_version": version,
	})
}

type createVersionRequest struct {
	Payload models.ModelPayload `json:"model_payload"`
	Enable  bool                `json:"enable"`
}

// CreateVersion appends a new immutable scoring-rules version to the brand's
// model (initializing the model on first use) and makes it active.
func (h *BrandHandler) CreateVersion(w http.ResponseWriter, r *http.Request) {
	brandID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid brand ID"})
		return
	}

	var req createVersionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	cfg := req.Payload.ScoringConfig
	if cfg.ColorWeight < 0 || cfg.TypographyWeight < 0 || cfg.ToneWeight < 0 || cfg.ImageryWeight < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "weights must be non-negative"})
		return
	}

	model, err := h.svc.GetOrInitModel(r.Context(), brandID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	version, err := h.svc.CreateVersion(r.Context(), model.ID, req.Payload)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	if req.Enable && !model.Enabled {
		if err := h.svc.SetEnabled(r.Context(), model.ID, true); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
	}

	writeJSON(w, http.StatusCreated, version)
}

func (h *BrandHandler) ListReferences(w http.ResponseWriter, r *http.Request) {
	brandID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid brand ID"})
		return
	}

	var types []string
	if t := r.URL.Query().Get("type"); t != "" {
		types = []string{t}
	}

	refs, err := h.svc.ListReferences(r.Context(), brandID, types)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"references": refs, "count": len(refs)})
}

type addReferenceRequest struct {
	Type   string    `json:"type"`
	Label  string    `json:"label"`
	Vector []float32 `json:"vector"`
}

func (h *BrandHandler) AddReference(w http.ResponseWriter, r *http.Request) {
	brandID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid brand ID"})
		return
	}

	var req addReferenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Type == "" || len(req.Vector) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "type and vector required"})
		return
	}

	ref := &models.BrandVisualReference{
		BrandID: brandID,
		Type:    req.Type,
		Label:   req.Label,
		Vector:  req.Vector,
	}
	if err := h.svc.AddReference(r.Context(), ref); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusCreated, ref)
}

func (h *BrandHandler) DeleteReference(w http.ResponseWriter, r *http.Request) {
	brandID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid brand ID"})
		return
	}
	refID, err := uuid.Parse(chi.URLParam(r, "refID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid reference ID"})
		return
	}

	if err := h.svc.DeleteReference(r.Context(), brandID, refID); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
