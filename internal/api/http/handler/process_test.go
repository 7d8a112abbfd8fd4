package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overmesh/nebula-admin/internal/api/http/dto"
	"github.com/overmesh/nebula-admin/internal/supervisor"
)

func newTestSupervisor(t *testing.T) *supervisor.Supervisor {
	t.Helper()
	dir := t.TempDir()

	bin := filepath.Join(dir, "nebula")
	err := os.WriteFile(bin, []byte("#!/bin/sh\nexec sleep 60\n"), 0o755)
	require.NoError(t, err)

	sup, err := supervisor.New(bin, filepath.Join(dir, "configs"))
	require.NoError(t, err)
	return sup
}

func setupProcessRouter(h *ProcessHandler) *gin.Engine {
	r := gin.New()
	r.POST("/api/process/start", h.Start)
	r.POST("/api/process/stop/:name", h.Stop)
	r.POST("/api/process/stop-all", h.StopAll)
	r.GET("/api/process/status", h.StatusAll)
	r.GET("/api/process/status/:name", h.Status)
	return r
}

func TestProcessLifecycleOverHTTP(t *testing.T) {
	sup := newTestSupervisor(t)
	defer sup.KillAll()

	h := NewProcessHandler(sup)
	r := setupProcessRouter(h)

	body, _ := json.Marshal(dto.StartProcessRequest{
		ConfigName: "mesh",
		Config:     "tun:\n  dev: nebula1\n",
	})
	req, _ := http.NewRequest("POST", "/api/process/start", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var started dto.StartProcessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &started))
	assert.Equal(t, "mesh", started.ConfigName)
	assert.NotZero(t, started.PID)

	// Starting the same config again conflicts.
	req, _ = http.NewRequest("POST", "/api/process/start", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusConflict, w.Code)

	req, _ = http.NewRequest("GET", "/api/process/status/mesh", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	var status supervisor.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.True(t, status.Running)

	req, _ = http.NewRequest("POST", "/api/process/stop/mesh", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStopUnknownProcess(t *testing.T) {
	h := NewProcessHandler(newTestSupervisor(t))
	r := setupProcessRouter(h)

	req, _ := http.NewRequest("POST", "/api/process/stop/ghost", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStatusUnknownProcess(t *testing.T) {
	h := NewProcessHandler(newTestSupervisor(t))
	r := setupProcessRouter(h)

	req, _ := http.NewRequest("GET", "/api/process/status/ghost", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var status supervisor.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.False(t, status.Running)
	assert.Equal(t, supervisor.StateStopped, status.State)
}

func TestStopAllEmpty(t *testing.T) {
	h := NewProcessHandler(newTestSupervisor(t))
	r := setupProcessRouter(h)

	req, _ := http.NewRequest("POST", "/api/process/stop-all", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp dto.StopAllResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Empty(t, resp.Results)
}
