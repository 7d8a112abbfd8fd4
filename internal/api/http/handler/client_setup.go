package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/overmesh/nebula-admin/internal/api/http/dto"
	"github.com/overmesh/nebula-admin/internal/nebulacert"
	"github.com/overmesh/nebula-admin/internal/provision"
	"github.com/overmesh/nebula-admin/internal/provisioning"
)

type ClientSetupHandler struct {
	service *provisioning.Service
}

func NewClientSetupHandler(service *provisioning.Service) *ClientSetupHandler {
	return &ClientSetupHandler{service: service}
}

// Provision issues a one-time download token for a new client device.
func (h *ClientSetupHandler) Provision(c *gin.Context) {
	var req dto.ProvisionClientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	issued, err := h.service.IssueToken(c.Request.Context(), provisioning.TokenRequest{
		DeviceName:  req.DeviceName,
		DeviceType:  req.DeviceType,
		IPAddress:   req.IPAddress,
		CAName:      req.CAName,
		AutoConnect: req.AutoConnect,
	}, c.GetString("username"))
	if err != nil {
		if errors.Is(err, provisioning.ErrCANotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("CA %q not found", req.CAName)})
			return
		}
		if errors.Is(err, provisioning.ErrPoolExhausted) {
			c.JSON(http.StatusConflict, gin.H{"error": "address pool exhausted"})
			return
		}
		slog.Error("Failed to provision client", "error", err, "device_name", req.DeviceName)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to provision client"})
		return
	}

	c.JSON(http.StatusCreated, dto.ProvisionClientResponse{
		Token:       issued.Token,
		DeviceName:  issued.DeviceName,
		IPAddress:   issued.IPAddress,
		ExpiresAt:   issued.ExpiresAt,
		DownloadURL: issued.DownloadURL,
	})
}

// Download redeems a provisioning token and streams the client package. The
// token in the URL is the sole credential; this route is unauthenticated so a
// freshly provisioned device can fetch its own bundle.
func (h *ClientSetupHandler) Download(c *gin.Context) {
	token := c.Param("token")

	pkg, err := h.service.Redeem(c.Request.Context(), token)
	if err != nil {
		switch {
		case errors.Is(err, provision.ErrTokenNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "invalid or already used token"})
		case errors.Is(err, provision.ErrTokenExpired):
			c.JSON(http.StatusGone, gin.H{"error": "token has expired"})
		case errors.Is(err, provisioning.ErrCANotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "CA certificate not found"})
		case errors.Is(err, nebulacert.ErrTimeout):
			slog.Error("Certificate signing timed out", "error", err)
			c.JSON(http.StatusGatewayTimeout, gin.H{"error": "certificate signing timed out"})
		default:
			slog.Error("Failed to build client package", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build client package"})
		}
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", pkg.Filename))
	c.Data(http.StatusOK, "application/zip", pkg.Content)
}
