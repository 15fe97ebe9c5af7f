package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/ilovetoast/brandlens/internal/models"
	"github.com/ilovetoast/brandlens/internal/tenant"
)

// TenantContext resolves the calling tenant from the X-Tenant-ID header and
// stores it on the request context. Authentication happens upstream at the
// gateway; this service only needs the scoping identity.
func TenantContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get("X-Tenant-ID")
		if raw == "" {
			writeError(w, http.StatusBadRequest, "X-Tenant-ID header required")
			return
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid X-Tenant-ID header")
			return
		}

		ctx := tenant.WithTenant(r.Context(), &models.Tenant{ID: id})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
