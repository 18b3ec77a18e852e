package api

import (
	"net/http"
	"time"
)

// HealthHandler reports liveness. It returns 503 when the rollup worker's
// heartbeat is older than the configured threshold, so load balancers stop
// routing to a process with stale flight totals.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "health"
	status := "200"
	defer func() {
		s.Metrics.IncrementRequests(endpoint, "GET", status)
		s.Metrics.RecordRequestLatency(endpoint, "GET", time.Since(start))
	}()

	w.Header().Set("Content-Type", "application/json")

	beat, err := s.Redis.Heartbeat(r.Context(), "rollup")
	if err != nil {
		status = "503"
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"error","detail":"heartbeat unavailable"}`))
		return
	}
	if !beat.IsZero() && time.Since(beat) > s.Config.HeartbeatThreshold {
		status = "503"
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"error","detail":"rollup heartbeat stale"}`))
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
