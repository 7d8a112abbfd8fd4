package handler

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overmesh/nebula-admin/internal/api/http/dto"
	"github.com/overmesh/nebula-admin/internal/certstore"
	"github.com/overmesh/nebula-admin/internal/nebulacert"
	"github.com/overmesh/nebula-admin/internal/provision"
	"github.com/overmesh/nebula-admin/internal/provisioning"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubSigner struct{}

func (stubSigner) CreateCA(_ context.Context, name string, _ time.Duration, _ []string) (nebulacert.Material, error) {
	return nebulacert.Material{Name: name, CertPEM: "ca-cert", KeyPEM: "ca-key"}, nil
}

func (stubSigner) SignCertificate(_ context.Context, req nebulacert.SignRequest) (nebulacert.Material, error) {
	return nebulacert.Material{Name: req.Name, CertPEM: "host-cert", KeyPEM: "host-key"}, nil
}

func (stubSigner) CAPaths(name string) (string, string) {
	return "/certs/" + name + ".crt", "/certs/" + name + ".key"
}

type stubCertStore struct {
	cas map[string]certstore.Record
}

func (s *stubCertStore) Save(_ context.Context, rec certstore.Record) (certstore.Record, error) {
	return rec, nil
}

func (s *stubCertStore) FindCA(_ context.Context, name string) (certstore.Record, error) {
	ca, ok := s.cas[name]
	if !ok {
		return certstore.Record{}, certstore.ErrNotFound
	}
	return ca, nil
}

func (s *stubCertStore) ListAddressesByPrefix(context.Context, string) ([]string, error) {
	return nil, nil
}

func (s *stubCertStore) Revoke(context.Context, string) error {
	return nil
}

func newSetupService(t *testing.T) *provisioning.Service {
	t.Helper()
	pool, err := provisioning.NewAddressPool("192.168.100.0/24", 10)
	require.NoError(t, err)

	certs := &stubCertStore{cas: map[string]certstore.Record{
		"home": {Name: "home", CertType: "ca", IsCA: true, CertPEM: "ca-cert"},
	}}
	return provisioning.NewService(provision.NewTokenStore(0), stubSigner{}, certs, pool, nil, provisioning.Config{})
}

func setupClientRouter(h *ClientSetupHandler) *gin.Engine {
	r := gin.New()
	r.POST("/api/client-setup/provision", h.Provision)
	r.GET("/api/client-setup/download/:token", h.Download)
	return r
}

func TestProvisionClient(t *testing.T) {
	h := NewClientSetupHandler(newSetupService(t))
	r := setupClientRouter(h)

	body, _ := json.Marshal(dto.ProvisionClientRequest{
		DeviceName: "laptop1",
		DeviceType: "linux",
		CAName:     "home",
	})
	req, _ := http.NewRequest("POST", "/api/client-setup/provision", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)

	var resp dto.ProvisionClientResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "laptop1", resp.DeviceName)
	assert.Equal(t, "192.168.100.10/24", resp.IPAddress)
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, "/api/client-setup/download/"+resp.Token, resp.DownloadURL)
}

func TestProvisionClientUnknownCA(t *testing.T) {
	h := NewClientSetupHandler(newSetupService(t))
	r := setupClientRouter(h)

	body, _ := json.Marshal(dto.ProvisionClientRequest{
		DeviceName: "laptop1",
		DeviceType: "linux",
		CAName:     "missing",
	})
	req, _ := http.NewRequest("POST", "/api/client-setup/provision", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestProvisionClientInvalidDeviceType(t *testing.T) {
	h := NewClientSetupHandler(newSetupService(t))
	r := setupClientRouter(h)

	body, _ := json.Marshal(dto.ProvisionClientRequest{
		DeviceName: "laptop1",
		DeviceType: "toaster",
		CAName:     "home",
	})
	req, _ := http.NewRequest("POST", "/api/client-setup/provision", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDownloadClientPackage(t *testing.T) {
	svc := newSetupService(t)
	h := NewClientSetupHandler(svc)
	r := setupClientRouter(h)

	issued, err := svc.IssueToken(context.Background(), provisioning.TokenRequest{
		DeviceName: "laptop1",
		DeviceType: "linux",
		CAName:     "home",
	}, "admin")
	require.NoError(t, err)

	req, _ := http.NewRequest("GET", issued.DownloadURL, nil)
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/zip", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "laptop1-nebula-client.zip")

	zr, err := zip.NewReader(bytes.NewReader(w.Body.Bytes()), int64(w.Body.Len()))
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range zr.File {
		names[f.Name] = true
	}
	assert.True(t, names["laptop1/ca.crt"])
	assert.True(t, names["laptop1/host.crt"])
	assert.True(t, names["laptop1/host.key"])
	assert.True(t, names["laptop1/config.yaml"])
}

func TestDownloadTwiceFails(t *testing.T) {
	svc := newSetupService(t)
	h := NewClientSetupHandler(svc)
	r := setupClientRouter(h)

	issued, err := svc.IssueToken(context.Background(), provisioning.TokenRequest{
		DeviceName: "laptop1",
		DeviceType: "linux",
		CAName:     "home",
	}, "admin")
	require.NoError(t, err)

	first := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", issued.DownloadURL, nil)
	r.ServeHTTP(first, req)
	assert.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	req, _ = http.NewRequest("GET", issued.DownloadURL, nil)
	r.ServeHTTP(second, req)
	assert.Equal(t, http.StatusNotFound, second.Code)
}

func TestDownloadUnknownToken(t *testing.T) {
	h := NewClientSetupHandler(newSetupService(t))
	r := setupClientRouter(h)

	req, _ := http.NewRequest("GET", "/api/client-setup/download/nt_bogus", nil)
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
