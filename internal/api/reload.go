package api

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/adengine/internal/middleware"
)

// ReloadHandler refreshes the in-memory ad graph and the blocklist and
// geography files from their sources.
func (s *Server) ReloadHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "ReloadHandler")
	defer span.End()

	logger := middleware.LoggerFromRequest(r, s.Logger)
	start := time.Now()
	const endpoint = "reload"
	status := "200"
	defer func() {
		s.Metrics.IncrementRequests(endpoint, "POST", status)
		s.Metrics.RecordRequestLatency(endpoint, "POST", time.Since(start))
	}()

	if err := s.Reload(ctx); err != nil {
		logger.Error("reload failed", zap.Error(err))
		status = "500"
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "reload failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}
