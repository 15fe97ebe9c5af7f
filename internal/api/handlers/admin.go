package handlers

import (
	"net/http"

	"github.com/ilovetoast/brandlens/internal/queue"
)

type AdminHandler struct {
	queue *queue.Client
}

func NewAdminHandler(q *queue.Client) *AdminHandler {
	return &AdminHandler{queue: q}
}

// TriggerRecoveryScan enqueues an immediate scan pass, outside the cron
// cadence. Useful after an operator fixes the underlying cause of a stall.
func (h *AdminHandler) TriggerRecoveryScan(w http.ResponseWriter, r *http.Request) {
	if err := h.queue.EnqueueRecoveryScan(); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scan queued"})
}
