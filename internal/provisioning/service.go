// Package provisioning orchestrates device enrollment: it issues one-time
// provisioning tokens, and on redemption drives certificate signing and
// artifact packaging, auditing every state-changing step.
package provisioning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/overmesh/nebula-admin/internal/audit"
	"github.com/overmesh/nebula-admin/internal/bundle"
	"github.com/overmesh/nebula-admin/internal/certstore"
	"github.com/overmesh/nebula-admin/internal/nebulacert"
	"github.com/overmesh/nebula-admin/internal/provision"
)

var ErrCANotFound = errors.New("ca certificate not found")

// Signer drives the external certificate tool. Implemented by
// *nebulacert.Client.
type Signer interface {
	CreateCA(ctx context.Context, name string, validity time.Duration, groups []string) (nebulacert.Material, error)
	SignCertificate(ctx context.Context, req nebulacert.SignRequest) (nebulacert.Material, error)
	CAPaths(name string) (certPath, keyPath string)
}

// CertificateStore is the persistence collaborator for issued certificates.
// Implemented by *certstore.Store.
type CertificateStore interface {
	Save(ctx context.Context, rec certstore.Record) (certstore.Record, error)
	FindCA(ctx context.Context, name string) (certstore.Record, error)
	ListAddressesByPrefix(ctx context.Context, prefix string) ([]string, error)
	Revoke(ctx context.Context, name string) error
}

// Config carries the orchestrator's policy knobs.
type Config struct {
	TokenTTL        time.Duration
	HostValidity    time.Duration
	HostGroups      []string
	LighthouseHosts []string
	StaticHostMap   map[string][]string
}

type Service struct {
	tokens  *provision.TokenStore
	signer  Signer
	certs   CertificateStore
	pool    *AddressPool
	auditor audit.Recorder

	tokenTTL     time.Duration
	hostValidity time.Duration
	hostGroups   []string
	bundleOpts   bundle.ClientOptions
}

func NewService(tokens *provision.TokenStore, signer Signer, certs CertificateStore, pool *AddressPool, auditor audit.Recorder, cfg Config) *Service {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = provision.DefaultTTL
	}
	if cfg.HostValidity <= 0 {
		cfg.HostValidity = nebulacert.DefaultHostValidity
	}
	if len(cfg.HostGroups) == 0 {
		cfg.HostGroups = []string{"clients"}
	}
	if auditor == nil {
		auditor = audit.LogRecorder{}
	}
	return &Service{
		tokens:       tokens,
		signer:       signer,
		certs:        certs,
		pool:         pool,
		auditor:      auditor,
		tokenTTL:     cfg.TokenTTL,
		hostValidity: cfg.HostValidity,
		hostGroups:   cfg.HostGroups,
		bundleOpts: bundle.ClientOptions{
			LighthouseHosts: cfg.LighthouseHosts,
			StaticHostMap:   cfg.StaticHostMap,
		},
	}
}

// CreateCA creates a certificate authority through the external tool and
// persists the record.
func (s *Service) CreateCA(ctx context.Context, req CARequest, principal string) (certstore.Record, error) {
	material, err := s.signer.CreateCA(ctx, req.Name, req.Validity, req.Groups)
	if err != nil {
		audit.Failure(ctx, s.auditor, principal, "ca_created", "certificate", req.Name, err)
		return certstore.Record{}, err
	}

	validity := req.Validity
	if validity <= 0 {
		validity = nebulacert.DefaultCAValidity
	}

	rec, err := s.certs.Save(ctx, certstore.Record{
		Name:      req.Name,
		CertType:  "ca",
		Groups:    req.Groups,
		IsCA:      true,
		CertPEM:   material.CertPEM,
		KeyPEM:    material.KeyPEM,
		CreatedBy: principal,
		ExpiresAt: time.Now().Add(validity),
	})
	if err != nil {
		audit.Failure(ctx, s.auditor, principal, "ca_created", "certificate", req.Name, err)
		return certstore.Record{}, err
	}

	audit.Success(ctx, s.auditor, principal, "ca_created", "certificate", req.Name, "")
	return rec, nil
}

// IssueToken validates the request against the referenced CA, assigns an
// address when none was supplied, and issues a one-time provisioning token.
func (s *Service) IssueToken(ctx context.Context, req TokenRequest, principal string) (IssuedToken, error) {
	if _, err := s.findCA(ctx, req.CAName); err != nil {
		audit.Failure(ctx, s.auditor, principal, "provision_token_created", "device", req.DeviceName, err)
		return IssuedToken{}, err
	}

	address := req.IPAddress
	assigned := false
	if address == "" {
		var err error
		address, err = s.assignAddress(ctx)
		if err != nil {
			audit.Failure(ctx, s.auditor, principal, "provision_token_created", "device", req.DeviceName, err)
			return IssuedToken{}, err
		}
		assigned = true
	}

	token, expiresAt, err := s.tokens.Issue(provision.Payload{
		DeviceName:  req.DeviceName,
		DeviceType:  req.DeviceType,
		IPAddress:   address,
		CAName:      req.CAName,
		RequestedBy: principal,
		AutoConnect: req.AutoConnect,
	}, s.tokenTTL)
	if err != nil {
		if assigned {
			s.pool.Release(address)
		}
		audit.Failure(ctx, s.auditor, principal, "provision_token_created", "device", req.DeviceName, err)
		return IssuedToken{}, err
	}

	audit.Success(ctx, s.auditor, principal, "provision_token_created", "device", req.DeviceName,
		fmt.Sprintf("token for %s device at %s", req.DeviceType, address))

	return IssuedToken{
		Token:       token,
		ExpiresAt:   expiresAt,
		DeviceName:  req.DeviceName,
		IPAddress:   address,
		DownloadURL: "/api/client-setup/download/" + token,
	}, nil
}

// Redeem consumes a provisioning token, signs the host certificate it stands
// for, persists the issued certificate and returns the client package.
// Consumption happens first: whatever fails afterwards, the token can never
// authorize a second issuance.
func (s *Service) Redeem(ctx context.Context, token string) (bundle.Package, error) {
	payload, err := s.tokens.Redeem(token)
	if err != nil {
		audit.Failure(ctx, s.auditor, "anonymous", "client_package_downloaded", "token", redactToken(token), err)
		return bundle.Package{}, err
	}
	actor := payload.RequestedBy

	ca, err := s.findCA(ctx, payload.CAName)
	if err != nil {
		audit.Failure(ctx, s.auditor, actor, "client_package_downloaded", "device", payload.DeviceName, err)
		return bundle.Package{}, err
	}

	caCertPath, caKeyPath := s.signer.CAPaths(payload.CAName)
	material, err := s.signer.SignCertificate(ctx, nebulacert.SignRequest{
		Name:       payload.DeviceName,
		IP:         payload.IPAddress,
		CACertPath: caCertPath,
		CAKeyPath:  caKeyPath,
		Groups:     s.hostGroups,
		Validity:   s.hostValidity,
	})
	if err != nil {
		audit.Failure(ctx, s.auditor, actor, "certificate_signed", "device", payload.DeviceName, err)
		return bundle.Package{}, err
	}
	audit.Success(ctx, s.auditor, actor, "certificate_signed", "device", payload.DeviceName, payload.IPAddress)

	if _, err := s.certs.Save(ctx, certstore.Record{
		Name:      payload.DeviceName,
		CertType:  "host",
		IPAddress: payload.IPAddress,
		Groups:    s.hostGroups,
		CertPEM:   material.CertPEM,
		KeyPEM:    material.KeyPEM,
		CreatedBy: actor,
		ExpiresAt: time.Now().Add(s.hostValidity),
	}); err != nil {
		audit.Failure(ctx, s.auditor, actor, "certificate_saved", "device", payload.DeviceName, err)
		return bundle.Package{}, fmt.Errorf("failed to persist certificate for %q: %w", payload.DeviceName, err)
	}

	pkg, err := bundle.Build(bundle.Input{
		DeviceName: payload.DeviceName,
		DeviceType: payload.DeviceType,
		CACertPEM:  ca.CertPEM,
		HostCert:   material.CertPEM,
		HostKey:    material.KeyPEM,
		Options:    s.bundleOpts,
	})
	if err != nil {
		audit.Failure(ctx, s.auditor, actor, "client_package_downloaded", "device", payload.DeviceName, err)
		return bundle.Package{}, err
	}

	audit.Success(ctx, s.auditor, actor, "client_package_downloaded", "device", payload.DeviceName,
		fmt.Sprintf("package for %s device", payload.DeviceType))

	slog.Info("client package assembled",
		"device_name", payload.DeviceName,
		"device_type", payload.DeviceType,
		"ip", payload.IPAddress)
	return pkg, nil
}

// RevokeCertificate marks the newest certificate issued under name as
// revoked. The address it held stays burned; pools only ever grow upward.
func (s *Service) RevokeCertificate(ctx context.Context, name, principal string) error {
	if err := s.certs.Revoke(ctx, name); err != nil {
		audit.Failure(ctx, s.auditor, principal, "certificate_revoked", "certificate", name, err)
		return err
	}
	audit.Success(ctx, s.auditor, principal, "certificate_revoked", "certificate", name, "")
	return nil
}

func (s *Service) findCA(ctx context.Context, name string) (certstore.Record, error) {
	ca, err := s.certs.FindCA(ctx, name)
	if err != nil {
		if errors.Is(err, certstore.ErrNotFound) {
			return certstore.Record{}, fmt.Errorf("%w: %q", ErrCANotFound, name)
		}
		return certstore.Record{}, err
	}
	return ca, nil
}

// assignAddress scans the pool's issued addresses and reserves the next free
// one. The pool lock covers the scan, so concurrent requests cannot observe
// the same highest address.
func (s *Service) assignAddress(ctx context.Context) (string, error) {
	issued, err := s.certs.ListAddressesByPrefix(ctx, s.pool.Prefix())
	if err != nil {
		return "", fmt.Errorf("failed to scan address pool: %w", err)
	}
	return s.pool.Allocate(issued, s.tokenTTL)
}

// redactToken keeps audit entries for failed redemptions useful without
// writing a possibly-valid bearer token into the log.
func redactToken(token string) string {
	if len(token) <= 8 {
		return "invalid"
	}
	return token[:8] + "..."
}
