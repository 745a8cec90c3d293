package api

import (
	"context"
	"net/http"
	"time"
)

const healthCheckTimeout = 3 * time.Second

// healthResponse reports model readiness and dependency status.
type healthResponse struct {
	Status       string            `json:"status"`
	Models       map[string]bool   `json:"models"`
	Dependencies map[string]string `json:"dependencies"`
}

// handleHealth reports per-model readiness and per-dependency connectivity.
// Missing models degrade features but are not a health failure; a failing
// dependency marks the whole service degraded.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	dbStatus := "error"
	if s.db != nil && s.db.CheckConnection(ctx) == nil {
		dbStatus = "ok"
	}
	minioStatus := "error"
	if s.blobs != nil && s.blobs.Check(ctx) == nil {
		minioStatus = "ok"
	}

	status := "ok"
	if dbStatus != "ok" || minioStatus != "ok" {
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:       status,
		Models:       s.registry.Status(),
		Dependencies: map[string]string{"database": dbStatus, "minio": minioStatus},
	})
}
