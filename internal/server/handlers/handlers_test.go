package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tenexa/wanworker/pkg/dispatcher"
	"github.com/tenexa/wanworker/pkg/supervisor"
)

type stubDispatcher struct {
	got  *dispatcher.JobRequest
	resp any
}

func (s *stubDispatcher) Dispatch(ctx context.Context, req *dispatcher.JobRequest) any {
	s.got = req
	return s.resp
}

type stubEngine struct{ state supervisor.State }

func (s *stubEngine) State() supervisor.State { return s.state }

func TestRunHandler_DispatchesInput(t *testing.T) {
	stub := &stubDispatcher{resp: map[string]string{"status": "completed"}}
	h := NewRunHandler(stub, zap.NewNop())

	body := `{"input": {"test": true}}`
	req := httptest.NewRequest(http.MethodPost, "/run", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, stub.got)
	assert.True(t, stub.got.Test)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "completed", resp["status"])
}

func TestRunHandler_FailedJobStillAnswers200(t *testing.T) {
	stub := &stubDispatcher{resp: dispatcher.Envelope{
		Status:       "failed",
		ErrorCode:    dispatcher.CodeNoImage,
		ErrorMessage: "missing required parameter: image_base64",
	}}
	h := NewRunHandler(stub, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/run", strings.NewReader(`{"input": {}}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var env dispatcher.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "failed", env.Status)
	assert.Equal(t, dispatcher.CodeNoImage, env.ErrorCode)
}

func TestRunHandler_MalformedBody(t *testing.T) {
	h := NewRunHandler(&stubDispatcher{}, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/run", strings.NewReader(`{not json`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "BAD_REQUEST")
}

func TestRunHandler_MissingInputDefaultsToGenerate(t *testing.T) {
	stub := &stubDispatcher{resp: dispatcher.Envelope{Status: "failed", ErrorCode: dispatcher.CodeNoImage}}
	h := NewRunHandler(stub, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/run", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, stub.got)
	assert.Equal(t, dispatcher.ModeGenerate, stub.got.Mode())
}

func TestHealthHandler(t *testing.T) {
	cases := []struct {
		state      supervisor.State
		wantCode   int
		wantStatus string
	}{
		{supervisor.StateReady, http.StatusOK, "healthy"},
		{supervisor.StateStarting, http.StatusServiceUnavailable, "unhealthy"},
		{supervisor.StatePolling, http.StatusServiceUnavailable, "unhealthy"},
		{supervisor.StateFailed, http.StatusServiceUnavailable, "unhealthy"},
	}
	for _, tc := range cases {
		t.Run(string(tc.state), func(t *testing.T) {
			h := NewHealthHandler(&stubEngine{state: tc.state}, "1.0.0")

			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			rec := httptest.NewRecorder()
			h.Health(rec, req)

			assert.Equal(t, tc.wantCode, rec.Code)

			var resp HealthResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tc.wantStatus, resp.Status)
			assert.Equal(t, string(tc.state), resp.EngineState)
			assert.Equal(t, "1.0.0", resp.Version)
		})
	}
}

func TestLiveAlwaysOK(t *testing.T) {
	h := NewHealthHandler(&stubEngine{state: supervisor.StateFailed}, "1.0.0")

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	rec := httptest.NewRecorder()
	h.Live(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyFollowsEngineState(t *testing.T) {
	h := NewHealthHandler(&stubEngine{state: supervisor.StatePolling}, "1.0.0")

	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	rec := httptest.NewRecorder()
	h.Ready(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "polling")

	h = NewHealthHandler(&stubEngine{state: supervisor.StateReady}, "1.0.0")
	rec = httptest.NewRecorder()
	h.Ready(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestVersionHandler(t *testing.T) {
	h := NewVersionHandler("wanworker", "0.3.0", "v23")

	req := httptest.NewRequest(http.MethodGet, "/version", nil)
	rec := httptest.NewRecorder()
	h(rec, req)

	var resp VersionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "wanworker", resp.Name)
	assert.Equal(t, "0.3.0", resp.Version)
	assert.Equal(t, "v23", resp.HandlerVersion)
}
