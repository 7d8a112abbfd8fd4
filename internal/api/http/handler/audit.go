package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/overmesh/nebula-admin/internal/api/http/dto"
	"github.com/overmesh/nebula-admin/internal/audit"
)

const defaultAuditLimit = 100

type AuditHandler struct {
	store *audit.Store
}

func NewAuditHandler(store *audit.Store) *AuditHandler {
	return &AuditHandler{store: store}
}

// List returns the most recent audit events, newest first.
func (h *AuditHandler) List(c *gin.Context) {
	limit := defaultAuditLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 1000 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 1000"})
			return
		}
		limit = parsed
	}

	events, err := h.store.List(c.Request.Context(), limit)
	if err != nil {
		slog.Error("Failed to list audit events", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list audit events"})
		return
	}

	resp := dto.ListAuditEventsResponse{Events: make([]dto.AuditEventResponse, 0, len(events))}
	for _, e := range events {
		resp.Events = append(resp.Events, dto.AuditEventResponse{
			Actor:        e.Actor,
			Action:       e.Action,
			ResourceType: e.ResourceType,
			ResourceRef:  e.ResourceRef,
			Outcome:      e.Outcome,
			Detail:       e.Detail,
			OccurredAt:   e.OccurredAt,
		})
	}
	resp.Count = len(resp.Events)
	c.JSON(http.StatusOK, resp)
}
