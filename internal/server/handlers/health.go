package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/tenexa/wanworker/pkg/supervisor"
)

// EngineState reports the supervised engine's readiness state.
type EngineState interface {
	State() supervisor.State
}

// HealthResponse is the GET /health body.
type HealthResponse struct {
	Status      string `json:"status"`
	EngineState string `json:"engine_state"`
	Version     string `json:"version"`
}

// HealthHandler serves the health endpoints off the engine state.
type HealthHandler struct {
	engine  EngineState
	version string
}

// NewHealthHandler wires the health endpoints.
func NewHealthHandler(engine EngineState, version string) *HealthHandler {
	return &HealthHandler{engine: engine, version: version}
}

// Health answers 200 once the engine is ready, 503 otherwise. The body
// always carries the current state so operators see startup progress.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	state := h.engine.State()
	status := "unhealthy"
	code := http.StatusServiceUnavailable
	if state == supervisor.StateReady {
		status = "healthy"
		code = http.StatusOK
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(HealthResponse{
		Status:      status,
		EngineState: string(state),
		Version:     h.version,
	})
}

// Live always answers 200: the process is up even while the engine boots.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "alive"})
}

// Ready answers 200 only when the engine accepts submissions.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	state := h.engine.State()
	code := http.StatusServiceUnavailable
	if state == supervisor.StateReady {
		code = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"engine_state": string(state)})
}
