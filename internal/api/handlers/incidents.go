package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ilovetoast/brandlens/internal/incident"
	"github.com/ilovetoast/brandlens/internal/tenant"
)

type IncidentHandler struct {
	svc *incident.Service
}

func NewIncidentHandler(svc *incident.Service) *IncidentHandler {
	return &IncidentHandler{svc: svc}
}

func (h *IncidentHandler) ListOpen(w http.ResponseWriter, r *http.Request) {
	tenantID := tenant.IDFromContext(r.Context())
	if tenantID == uuid.Nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "tenant context required"})
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	incidents, err := h.svc.ListOpen(r.Context(), tenantID, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"incidents": incidents, "count": len(incidents)})
}

func (h *IncidentHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid incident ID"})
		return
	}

	if err := h.svc.Resolve(r.Context(), id, false); err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}
