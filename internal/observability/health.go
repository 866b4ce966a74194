package observability

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

// HealthChecker backs /healthz (liveness) and /readyz (readiness). Readiness
// flips on once migrations ran, the market is registered, and the event
// pipeline is wired.
type HealthChecker struct {
	ready   atomic.Bool
	started time.Time
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{started: time.Now()}
}

// SetReady marks the service as ready to accept traffic.
func (h *HealthChecker) SetReady(ready bool) { h.ready.Store(ready) }

// IsReady returns whether the service is ready.
func (h *HealthChecker) IsReady() bool { return h.ready.Load() }

// LivenessHandler always answers 200 while the process runs.
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, http.StatusOK, map[string]string{
		"status": "alive",
		"uptime": time.Since(h.started).String(),
	})
}

// ReadinessHandler answers 200 once SetReady(true) was called, 503 before.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if h.ready.Load() {
		writeHealth(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	writeHealth(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
}

func writeHealth(w http.ResponseWriter, code int, body map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}
