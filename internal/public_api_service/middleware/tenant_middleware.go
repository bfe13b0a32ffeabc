package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// ContextKey is a custom type for context keys to avoid collisions.
type ContextKey string

const (
	TenantIDContextKey = ContextKey("tenantID")
	TenantHeader       = "X-Tenant-Id"
)

// TenantMiddleware requires a valid X-Tenant-Id header and stores the tenant in the request context.
func TenantMiddleware(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get(TenantHeader))
			if raw == "" {
				logger.WarnContext(r.Context(), "Tenant header missing", "path", r.URL.Path)
				writeMessage(w, http.StatusBadRequest, "X-Tenant-Id required.")
				return
			}
			tenantID, err := uuid.Parse(raw)
			if err != nil || tenantID == uuid.Nil {
				logger.WarnContext(r.Context(), "Invalid tenant header", "value", raw)
				writeMessage(w, http.StatusBadRequest, "X-Tenant-Id must be a UUID.")
				return
			}
			ctx := context.WithValue(r.Context(), TenantIDContextKey, tenantID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// TenantIDFromContext returns the tenant set by TenantMiddleware.
func TenantIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(TenantIDContextKey).(uuid.UUID)
	return id, ok && id != uuid.Nil
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": msg})
}
