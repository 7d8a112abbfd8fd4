package provisioning

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overmesh/nebula-admin/internal/audit"
	"github.com/overmesh/nebula-admin/internal/certstore"
	"github.com/overmesh/nebula-admin/internal/nebulacert"
	"github.com/overmesh/nebula-admin/internal/provision"
)

type fakeSigner struct {
	mu        sync.Mutex
	signCalls []nebulacert.SignRequest
	signErr   error
}

func (f *fakeSigner) CreateCA(_ context.Context, name string, _ time.Duration, _ []string) (nebulacert.Material, error) {
	return nebulacert.Material{
		Name:    name,
		CertPEM: "-----BEGIN NEBULA CERTIFICATE-----\nca\n-----END NEBULA CERTIFICATE-----\n",
		KeyPEM:  "-----BEGIN NEBULA ED25519 PRIVATE KEY-----\nca\n-----END NEBULA ED25519 PRIVATE KEY-----\n",
	}, nil
}

func (f *fakeSigner) SignCertificate(_ context.Context, req nebulacert.SignRequest) (nebulacert.Material, error) {
	f.mu.Lock()
	f.signCalls = append(f.signCalls, req)
	f.mu.Unlock()
	if f.signErr != nil {
		return nebulacert.Material{}, f.signErr
	}
	return nebulacert.Material{
		Name:    req.Name,
		CertPEM: "-----BEGIN NEBULA CERTIFICATE-----\n" + req.Name + "\n-----END NEBULA CERTIFICATE-----\n",
		KeyPEM:  "-----BEGIN NEBULA ED25519 PRIVATE KEY-----\n" + req.Name + "\n-----END NEBULA ED25519 PRIVATE KEY-----\n",
	}, nil
}

func (f *fakeSigner) CAPaths(name string) (string, string) {
	return "/certs/" + name + ".crt", "/certs/" + name + ".key"
}

type fakeCertStore struct {
	mu    sync.Mutex
	cas   map[string]certstore.Record
	saved []certstore.Record
}

func newFakeCertStore() *fakeCertStore {
	return &fakeCertStore{cas: make(map[string]certstore.Record)}
}

func (f *fakeCertStore) addCA(name string) {
	f.cas[name] = certstore.Record{
		Name:     name,
		CertType: "ca",
		IsCA:     true,
		CertPEM:  "-----BEGIN NEBULA CERTIFICATE-----\n" + name + "\n-----END NEBULA CERTIFICATE-----\n",
	}
}

func (f *fakeCertStore) Save(_ context.Context, rec certstore.Record) (certstore.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, rec)
	if rec.IsCA {
		f.cas[rec.Name] = rec
	}
	return rec, nil
}

func (f *fakeCertStore) FindCA(_ context.Context, name string) (certstore.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ca, ok := f.cas[name]
	if !ok {
		return certstore.Record{}, certstore.ErrNotFound
	}
	return ca, nil
}

func (f *fakeCertStore) Revoke(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.saved) - 1; i >= 0; i-- {
		if f.saved[i].Name == name && !f.saved[i].Revoked {
			f.saved[i].Revoked = true
			return nil
		}
	}
	return certstore.ErrNotFound
}

func (f *fakeCertStore) ListAddressesByPrefix(_ context.Context, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, rec := range f.saved {
		if strings.HasPrefix(rec.IPAddress, prefix) {
			out = append(out, rec.IPAddress)
		}
	}
	return out, nil
}

type recordingAuditor struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recordingAuditor) Record(_ context.Context, event audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingAuditor) find(action, outcome string) []audit.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []audit.Event
	for _, e := range r.events {
		if e.Action == action && e.Outcome == outcome {
			out = append(out, e)
		}
	}
	return out
}

func newTestService(t *testing.T) (*Service, *fakeSigner, *fakeCertStore, *recordingAuditor) {
	t.Helper()
	pool, err := NewAddressPool("192.168.100.0/24", 10)
	require.NoError(t, err)

	signer := &fakeSigner{}
	certs := newFakeCertStore()
	auditor := &recordingAuditor{}
	svc := NewService(provision.NewTokenStore(0), signer, certs, pool, auditor, Config{
		LighthouseHosts: []string{"192.168.100.1"},
	})
	return svc, signer, certs, auditor
}

func TestIssueToken_UnknownCA(t *testing.T) {
	svc, _, _, auditor := newTestService(t)

	_, err := svc.IssueToken(context.Background(), TokenRequest{
		DeviceName: "laptop1",
		DeviceType: "linux",
		CAName:     "missing",
	}, "admin")
	assert.ErrorIs(t, err, ErrCANotFound)
	assert.Len(t, auditor.find("provision_token_created", audit.OutcomeFailure), 1)
}

func TestIssueToken_AutoAssignsAddress(t *testing.T) {
	svc, _, certs, auditor := newTestService(t)
	certs.addCA("home")

	issued, err := svc.IssueToken(context.Background(), TokenRequest{
		DeviceName: "laptop1",
		DeviceType: "linux",
		CAName:     "home",
	}, "admin")
	require.NoError(t, err)

	assert.Equal(t, "192.168.100.10/24", issued.IPAddress)
	assert.True(t, strings.HasPrefix(issued.Token, "nt_"))
	assert.Equal(t, "/api/client-setup/download/"+issued.Token, issued.DownloadURL)
	assert.WithinDuration(t, time.Now().Add(provision.DefaultTTL), issued.ExpiresAt, time.Minute)
	assert.Len(t, auditor.find("provision_token_created", audit.OutcomeSuccess), 1)
}

func TestIssueToken_ExplicitAddressKept(t *testing.T) {
	svc, _, certs, _ := newTestService(t)
	certs.addCA("home")

	issued, err := svc.IssueToken(context.Background(), TokenRequest{
		DeviceName: "nas",
		DeviceType: "linux",
		IPAddress:  "192.168.100.200/24",
		CAName:     "home",
	}, "admin")
	require.NoError(t, err)
	assert.Equal(t, "192.168.100.200/24", issued.IPAddress)
}

func TestIssueToken_ConcurrentAssignmentsAreUnique(t *testing.T) {
	svc, _, certs, _ := newTestService(t)
	certs.addCA("home")

	const workers = 20

	var wg sync.WaitGroup
	addresses := make(chan string, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			issued, err := svc.IssueToken(context.Background(), TokenRequest{
				DeviceName: fmt.Sprintf("device-%d", n),
				DeviceType: "linux",
				CAName:     "home",
			}, "admin")
			if err == nil {
				addresses <- issued.IPAddress
			}
		}(i)
	}
	wg.Wait()
	close(addresses)

	seen := make(map[string]bool)
	for addr := range addresses {
		assert.False(t, seen[addr], "address %s assigned to two tokens", addr)
		seen[addr] = true
	}
	assert.Len(t, seen, workers)
}

func TestRedeem_EndToEnd(t *testing.T) {
	svc, signer, certs, auditor := newTestService(t)
	certs.addCA("home")

	issued, err := svc.IssueToken(context.Background(), TokenRequest{
		DeviceName: "laptop1",
		DeviceType: "linux",
		CAName:     "home",
	}, "admin")
	require.NoError(t, err)

	pkg, err := svc.Redeem(context.Background(), issued.Token)
	require.NoError(t, err)

	assert.Equal(t, "laptop1", pkg.DeviceName)
	assert.Equal(t, "laptop1-nebula-client.zip", pkg.Filename)
	assert.NotEmpty(t, pkg.Content)

	require.Len(t, signer.signCalls, 1)
	call := signer.signCalls[0]
	assert.Equal(t, "laptop1", call.Name)
	assert.Equal(t, "192.168.100.10/24", call.IP)
	assert.Equal(t, "/certs/home.crt", call.CACertPath)
	assert.Equal(t, "/certs/home.key", call.CAKeyPath)
	assert.Equal(t, []string{"clients"}, call.Groups)

	require.Len(t, certs.saved, 1)
	saved := certs.saved[0]
	assert.Equal(t, "laptop1", saved.Name)
	assert.Equal(t, "host", saved.CertType)
	assert.Equal(t, "192.168.100.10/24", saved.IPAddress)
	assert.Equal(t, "admin", saved.CreatedBy)

	assert.Len(t, auditor.find("certificate_signed", audit.OutcomeSuccess), 1)
	assert.Len(t, auditor.find("client_package_downloaded", audit.OutcomeSuccess), 1)
}

func TestRedeem_TokenConsumedExactlyOnce(t *testing.T) {
	svc, _, certs, _ := newTestService(t)
	certs.addCA("home")

	issued, err := svc.IssueToken(context.Background(), TokenRequest{
		DeviceName: "laptop1",
		DeviceType: "linux",
		CAName:     "home",
	}, "admin")
	require.NoError(t, err)

	_, err = svc.Redeem(context.Background(), issued.Token)
	require.NoError(t, err)

	_, err = svc.Redeem(context.Background(), issued.Token)
	assert.ErrorIs(t, err, provision.ErrTokenNotFound)
}

func TestRedeem_SigningFailureStillConsumesToken(t *testing.T) {
	svc, signer, certs, auditor := newTestService(t)
	certs.addCA("home")
	signer.signErr = nebulacert.ErrTimeout

	issued, err := svc.IssueToken(context.Background(), TokenRequest{
		DeviceName: "laptop1",
		DeviceType: "linux",
		CAName:     "home",
	}, "admin")
	require.NoError(t, err)

	_, err = svc.Redeem(context.Background(), issued.Token)
	assert.ErrorIs(t, err, nebulacert.ErrTimeout)

	// The failed attempt burned the token; a retry needs a new one.
	_, err = svc.Redeem(context.Background(), issued.Token)
	assert.ErrorIs(t, err, provision.ErrTokenNotFound)

	assert.Empty(t, certs.saved)
	assert.Len(t, auditor.find("certificate_signed", audit.OutcomeFailure), 1)
}

func TestRedeem_UnknownToken(t *testing.T) {
	svc, _, _, auditor := newTestService(t)

	_, err := svc.Redeem(context.Background(), "nt_doesnotexist")
	assert.ErrorIs(t, err, provision.ErrTokenNotFound)

	failures := auditor.find("client_package_downloaded", audit.OutcomeFailure)
	require.Len(t, failures, 1)
	assert.NotContains(t, failures[0].ResourceRef, "doesnotexist")
}

func TestRevokeCertificate(t *testing.T) {
	svc, _, certs, auditor := newTestService(t)
	certs.addCA("home")

	issued, err := svc.IssueToken(context.Background(), TokenRequest{
		DeviceName: "laptop1",
		DeviceType: "linux",
		CAName:     "home",
	}, "admin")
	require.NoError(t, err)
	_, err = svc.Redeem(context.Background(), issued.Token)
	require.NoError(t, err)

	err = svc.RevokeCertificate(context.Background(), "laptop1", "admin")
	require.NoError(t, err)
	assert.True(t, certs.saved[0].Revoked)
	assert.Len(t, auditor.find("certificate_revoked", audit.OutcomeSuccess), 1)

	err = svc.RevokeCertificate(context.Background(), "ghost", "admin")
	assert.ErrorIs(t, err, certstore.ErrNotFound)
}

func TestCreateCA_PersistsAndAudits(t *testing.T) {
	svc, _, _, auditor := newTestService(t)

	rec, err := svc.CreateCA(context.Background(), CARequest{
		Name:   "home",
		Groups: []string{"admins", "clients"},
	}, "admin")
	require.NoError(t, err)

	assert.Equal(t, "home", rec.Name)
	assert.True(t, rec.IsCA)
	assert.Equal(t, "ca", rec.CertType)
	assert.Len(t, auditor.find("ca_created", audit.OutcomeSuccess), 1)

	// The new CA is immediately usable for provisioning.
	_, err = svc.IssueToken(context.Background(), TokenRequest{
		DeviceName: "laptop1",
		DeviceType: "linux",
		CAName:     "home",
	}, "admin")
	assert.NoError(t, err)
}
