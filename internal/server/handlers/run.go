// Package handlers holds the HTTP endpoint handlers.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/tenexa/wanworker/internal/server/middleware"
	"github.com/tenexa/wanworker/pkg/dispatcher"
)

// JobDispatcher runs one job and returns its response payload.
type JobDispatcher interface {
	Dispatch(ctx context.Context, req *dispatcher.JobRequest) any
}

// runEnvelope is the POST /run request body. The input wrapper matches the
// serverless platform's job shape so payloads work unchanged in both
// deployments.
type runEnvelope struct {
	Input *dispatcher.JobRequest `json:"input"`
}

// RunHandler serves POST /run.
type RunHandler struct {
	dispatcher JobDispatcher
	logger     *zap.Logger
}

// NewRunHandler wires the run endpoint.
func NewRunHandler(d JobDispatcher, logger *zap.Logger) *RunHandler {
	return &RunHandler{dispatcher: d, logger: logger}
}

// ServeHTTP decodes the job envelope and dispatches it. Job-level failures
// still answer 200 with a failed-status body; only transport problems use
// HTTP error codes.
func (h *RunHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var env runEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		middleware.WriteError(w, r, http.StatusBadRequest, "BAD_REQUEST",
			"request body is not valid JSON: "+err.Error())
		return
	}
	req := env.Input
	if req == nil {
		req = &dispatcher.JobRequest{}
	}

	out := h.dispatcher.Dispatch(r.Context(), req)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(out); err != nil {
		h.logger.Error("failed to encode job response", zap.Error(err))
	}
}
