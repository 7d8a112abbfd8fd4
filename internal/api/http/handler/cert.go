package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/overmesh/nebula-admin/internal/api/http/dto"
	"github.com/overmesh/nebula-admin/internal/certstore"
	"github.com/overmesh/nebula-admin/internal/nebulacert"
	"github.com/overmesh/nebula-admin/internal/provisioning"
)

type CertHandler struct {
	provisioner *provisioning.Service
	certs       *certstore.Store
	inspector   *nebulacert.Client
}

func NewCertHandler(provisioner *provisioning.Service, certs *certstore.Store, inspector *nebulacert.Client) *CertHandler {
	return &CertHandler{
		provisioner: provisioner,
		certs:       certs,
		inspector:   inspector,
	}
}

// CreateCA creates a new certificate authority.
func (h *CertHandler) CreateCA(c *gin.Context) {
	var req dto.CreateCARequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec, err := h.provisioner.CreateCA(c.Request.Context(), provisioning.CARequest{
		Name:     req.Name,
		Validity: time.Duration(req.ValidityHours) * time.Hour,
		Groups:   req.Groups,
	}, c.GetString("username"))
	if err != nil {
		if errors.Is(err, nebulacert.ErrTimeout) {
			c.JSON(http.StatusGatewayTimeout, gin.H{"error": "CA creation timed out"})
			return
		}
		slog.Error("Failed to create CA", "error", err, "name", req.Name)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create CA"})
		return
	}

	c.JSON(http.StatusCreated, toCertResponse(rec))
}

// ListCAs lists the stored certificate authorities.
func (h *CertHandler) ListCAs(c *gin.Context) {
	cas, err := h.certs.ListCAs(c.Request.Context())
	if err != nil {
		slog.Error("Failed to list CAs", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list CAs"})
		return
	}

	resp := dto.ListCAsResponse{CAs: make([]dto.CertificateResponse, 0, len(cas))}
	for _, ca := range cas {
		resp.CAs = append(resp.CAs, toCertResponse(ca))
	}
	resp.Count = len(resp.CAs)
	c.JSON(http.StatusOK, resp)
}

// InspectCA reports the details the certificate tool prints for a stored CA.
func (h *CertHandler) InspectCA(c *gin.Context) {
	name := c.Param("name")

	if _, err := h.certs.FindCA(c.Request.Context(), name); err != nil {
		if errors.Is(err, certstore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "CA certificate not found"})
			return
		}
		slog.Error("Failed to look up CA", "error", err, "name", name)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to look up CA"})
		return
	}

	certPath, _ := h.inspector.CAPaths(name)
	details, err := h.inspector.InspectCertificate(c.Request.Context(), certPath)
	if err != nil {
		if errors.Is(err, nebulacert.ErrTimeout) {
			c.JSON(http.StatusGatewayTimeout, gin.H{"error": "certificate inspection timed out"})
			return
		}
		slog.Error("Failed to inspect CA", "error", err, "name", name)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to inspect CA"})
		return
	}

	c.JSON(http.StatusOK, dto.CertificateDetailsResponse{
		Name:        details.Name,
		Issuer:      details.Issuer,
		IsCA:        details.IsCA,
		Groups:      details.Groups,
		IPs:         details.IPs,
		Subnets:     details.Subnets,
		NotBefore:   details.NotBefore,
		NotAfter:    details.NotAfter,
		Fingerprint: details.Fingerprint,
	})
}

// GetCertificate returns the newest non-revoked certificate issued under a
// host name.
func (h *CertHandler) GetCertificate(c *gin.Context) {
	name := c.Param("name")

	rec, err := h.certs.FindByName(c.Request.Context(), name)
	if err != nil {
		if errors.Is(err, certstore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "certificate not found"})
			return
		}
		slog.Error("Failed to look up certificate", "error", err, "name", name)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to look up certificate"})
		return
	}

	c.JSON(http.StatusOK, toCertResponse(rec))
}

// Revoke marks the newest certificate under a host name as revoked.
func (h *CertHandler) Revoke(c *gin.Context) {
	name := c.Param("name")

	if err := h.provisioner.RevokeCertificate(c.Request.Context(), name, c.GetString("username")); err != nil {
		if errors.Is(err, certstore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "certificate not found"})
			return
		}
		slog.Error("Failed to revoke certificate", "error", err, "name", name)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to revoke certificate"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "certificate revoked", "name": name})
}

// toCertResponse never includes the private key.
func toCertResponse(rec certstore.Record) dto.CertificateResponse {
	return dto.CertificateResponse{
		ID:        rec.ID.String(),
		Name:      rec.Name,
		CertType:  rec.CertType,
		IPAddress: rec.IPAddress,
		Groups:    rec.Groups,
		IsCA:      rec.IsCA,
		CertPEM:   rec.CertPEM,
		CreatedBy: rec.CreatedBy,
		ExpiresAt: rec.ExpiresAt,
		CreatedAt: rec.CreatedAt,
		Revoked:   rec.Revoked,
		RevokedAt: rec.RevokedAt,
	}
}
