package nebulacert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	signTimeout  = 30 * time.Second
	printTimeout = 10 * time.Second
	probeTimeout = 5 * time.Second

	// DefaultCAValidity is ten years, matching nebula-cert's own default.
	DefaultCAValidity = 87600 * time.Hour
	// DefaultHostValidity is one year.
	DefaultHostValidity = 8760 * time.Hour
)

var (
	ErrToolNotFound     = errors.New("nebula-cert binary not found")
	ErrCANotFound       = errors.New("ca certificate or key not found")
	ErrInvocationFailed = errors.New("nebula-cert invocation failed")
	ErrTimeout          = errors.New("nebula-cert invocation timed out")
	ErrParse            = errors.New("failed to parse nebula-cert output")
)

// DefaultSearchPaths is the ordered list of locations probed for the
// nebula-cert binary. The bare name falls through to PATH lookup.
var DefaultSearchPaths = []string{
	"/usr/local/bin/nebula-cert",
	"/usr/bin/nebula-cert",
	"nebula-cert",
}

// Material is the PEM output of a CA creation or certificate signing, plus
// the on-disk locations the tool wrote it to. KeyPEM is sensitive and must
// never be logged.
type Material struct {
	Name     string
	CertPEM  string
	KeyPEM   string
	CertPath string
	KeyPath  string
}

// SignRequest describes one host certificate to sign.
type SignRequest struct {
	Name       string
	IP         string // CIDR form, e.g. 192.168.100.7/24
	CACertPath string
	CAKeyPath  string
	Groups     []string
	Subnets    []string
	Validity   time.Duration
}

// Details is the structured metadata nebula-cert reports for a certificate.
type Details struct {
	Name        string    `json:"name"`
	Issuer      string    `json:"issuer"`
	IsCA        bool      `json:"isCa"`
	Groups      []string  `json:"groups"`
	IPs         []string  `json:"ips"`
	Subnets     []string  `json:"subnets"`
	NotBefore   time.Time `json:"notBefore"`
	NotAfter    time.Time `json:"notAfter"`
	Fingerprint string    `json:"-"`
}

// Client drives the external nebula-cert tool. Every operation is a single
// subprocess invocation with captured output and a hard timeout; nothing is
// retried, because a signing that timed out may still have succeeded and a
// blind retry could double-issue.
type Client struct {
	bin         string
	certDir     string
	runner      Runner
	searchPaths []string
}

type Option func(*Client)

// WithRunner replaces the subprocess runner, used by tests to fake the tool.
func WithRunner(r Runner) Option {
	return func(c *Client) { c.runner = r }
}

// WithSearchPaths overrides the binary discovery list.
func WithSearchPaths(paths []string) Option {
	return func(c *Client) { c.searchPaths = paths }
}

// New locates the nebula-cert binary and returns a client rooted at certDir.
// Discovery probes each candidate path with a version query; the first one
// that answers is cached for the lifetime of the process.
func New(certDir string, opts ...Option) (*Client, error) {
	c := &Client{
		certDir:     certDir,
		runner:      execRunner{},
		searchPaths: DefaultSearchPaths,
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := os.MkdirAll(certDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create cert directory %s: %w", certDir, err)
	}

	bin, err := discoverBinary(c.runner, c.searchPaths)
	if err != nil {
		return nil, err
	}
	c.bin = bin

	slog.Info("nebula-cert binary located", "path", bin, "cert_dir", certDir)
	return c, nil
}

func discoverBinary(runner Runner, paths []string) (string, error) {
	ctx := context.Background()
	for _, path := range paths {
		res, err := runner.Run(ctx, path, versionCommand())
		if err != nil {
			continue
		}
		if res.ExitCode == 0 {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: tried %s", ErrToolNotFound, strings.Join(paths, ", "))
}

// CertDir returns the directory certificate material is written to.
func (c *Client) CertDir() string { return c.certDir }

// CAPaths returns the on-disk cert/key locations for a CA name.
func (c *Client) CAPaths(name string) (certPath, keyPath string) {
	return filepath.Join(c.certDir, name+".crt"), filepath.Join(c.certDir, name+".key")
}

// CreateCA creates a new certificate authority. The validity window defaults
// to DefaultCAValidity when zero.
func (c *Client) CreateCA(ctx context.Context, name string, validity time.Duration, groups []string) (Material, error) {
	if validity <= 0 {
		validity = DefaultCAValidity
	}

	certPath, keyPath := c.CAPaths(name)
	cmd := caCommand(name, validity, groups, certPath, keyPath)

	res, err := c.runner.Run(ctx, c.bin, cmd)
	if err != nil {
		return Material{}, fmt.Errorf("create ca %q: %w", name, err)
	}
	if res.ExitCode != 0 {
		return Material{}, fmt.Errorf("%w: ca creation for %q exited %d: %s",
			ErrInvocationFailed, name, res.ExitCode, strings.TrimSpace(string(res.Stderr)))
	}

	material, err := readMaterial(name, certPath, keyPath)
	if err != nil {
		return Material{}, err
	}

	slog.Info("certificate authority created", "name", name, "cert_path", certPath)
	return material, nil
}

// SignCertificate signs a host certificate against the CA material referenced
// in the request. The validity window defaults to DefaultHostValidity.
func (c *Client) SignCertificate(ctx context.Context, req SignRequest) (Material, error) {
	if req.Validity <= 0 {
		req.Validity = DefaultHostValidity
	}

	if !fileExists(req.CACertPath) || !fileExists(req.CAKeyPath) {
		return Material{}, fmt.Errorf("%w: %s / %s", ErrCANotFound, req.CACertPath, req.CAKeyPath)
	}

	certPath := filepath.Join(c.certDir, req.Name+".crt")
	keyPath := filepath.Join(c.certDir, req.Name+".key")
	cmd := signCommand(req, certPath, keyPath)

	res, err := c.runner.Run(ctx, c.bin, cmd)
	if err != nil {
		return Material{}, fmt.Errorf("sign certificate %q: %w", req.Name, err)
	}
	if res.ExitCode != 0 {
		return Material{}, fmt.Errorf("%w: signing %q exited %d: %s",
			ErrInvocationFailed, req.Name, res.ExitCode, strings.TrimSpace(string(res.Stderr)))
	}

	material, err := readMaterial(req.Name, certPath, keyPath)
	if err != nil {
		return Material{}, err
	}

	slog.Info("host certificate signed", "name", req.Name, "ip", req.IP)
	return material, nil
}

// InspectCertificate reads the structured metadata of a certificate file.
func (c *Client) InspectCertificate(ctx context.Context, path string) (Details, error) {
	res, err := c.runner.Run(ctx, c.bin, printCommand(path))
	if err != nil {
		return Details{}, fmt.Errorf("inspect certificate %s: %w", path, err)
	}
	if res.ExitCode != 0 {
		return Details{}, fmt.Errorf("%w: print for %s exited %d: %s",
			ErrInvocationFailed, path, res.ExitCode, strings.TrimSpace(string(res.Stderr)))
	}

	return parseDetails(res.Stdout)
}

func parseDetails(out []byte) (Details, error) {
	var payload struct {
		Details     Details `json:"details"`
		Fingerprint string  `json:"fingerprint"`
	}
	if err := json.Unmarshal(out, &payload); err != nil {
		return Details{}, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if payload.Details.Name == "" {
		return Details{}, fmt.Errorf("%w: missing certificate details", ErrParse)
	}
	payload.Details.Fingerprint = payload.Fingerprint
	return payload.Details, nil
}

func readMaterial(name, certPath, keyPath string) (Material, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return Material{}, fmt.Errorf("%w: tool reported success but %s is unreadable: %v", ErrInvocationFailed, certPath, err)
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return Material{}, fmt.Errorf("%w: tool reported success but %s is unreadable: %v", ErrInvocationFailed, keyPath, err)
	}
	return Material{
		Name:     name,
		CertPEM:  string(certPEM),
		KeyPEM:   string(keyPEM),
		CertPath: certPath,
		KeyPath:  keyPath,
	}, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
