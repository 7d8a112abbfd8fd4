package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/overmesh/nebula-admin/internal/api/http/dto"
	"github.com/overmesh/nebula-admin/internal/supervisor"
)

type ProcessHandler struct {
	supervisor *supervisor.Supervisor
}

func NewProcessHandler(sup *supervisor.Supervisor) *ProcessHandler {
	return &ProcessHandler{supervisor: sup}
}

// Start writes the submitted config and launches a daemon for it.
func (h *ProcessHandler) Start(c *gin.Context) {
	var req dto.StartProcessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.supervisor.Start(req.ConfigName, []byte(req.Config))
	if err != nil {
		if errors.Is(err, supervisor.ErrAlreadyRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": "daemon already running for this config"})
			return
		}
		if errors.Is(err, supervisor.ErrLaunchFailed) {
			slog.Error("Daemon failed to launch", "error", err, "config_name", req.ConfigName)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		slog.Error("Failed to start daemon", "error", err, "config_name", req.ConfigName)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start daemon"})
		return
	}

	c.JSON(http.StatusOK, dto.StartProcessResponse{
		ConfigName: result.Name,
		PID:        result.PID,
		StartedAt:  result.StartedAt,
	})
}

// Stop terminates the daemon for the named config.
func (h *ProcessHandler) Stop(c *gin.Context) {
	name := c.Param("name")

	stoppedAt, err := h.supervisor.Stop(name)
	if err != nil {
		if errors.Is(err, supervisor.ErrNotRunning) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no running daemon for this config"})
			return
		}
		slog.Error("Failed to stop daemon", "error", err, "config_name", name)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to stop daemon"})
		return
	}

	c.JSON(http.StatusOK, dto.StopProcessResponse{
		ConfigName: name,
		StoppedAt:  stoppedAt,
	})
}

// Status reports the reconciled state of one config.
func (h *ProcessHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.supervisor.Status(c.Param("name")))
}

// StatusAll reports every known config.
func (h *ProcessHandler) StatusAll(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"processes": h.supervisor.StatusAll()})
}

// StopAll terminates every supervised daemon, best-effort.
func (h *ProcessHandler) StopAll(c *gin.Context) {
	results := h.supervisor.KillAll()

	resp := dto.StopAllResponse{Results: make([]dto.StopAllEntry, 0, len(results))}
	for _, r := range results {
		entry := dto.StopAllEntry{
			ConfigName: r.Name,
			Stopped:    r.Err == nil,
		}
		if r.Err != nil {
			entry.Error = r.Err.Error()
		}
		resp.Results = append(resp.Results, entry)
	}

	c.JSON(http.StatusOK, resp)
}
