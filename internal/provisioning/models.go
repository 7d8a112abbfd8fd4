package provisioning

import (
	"time"
)

// TokenRequest is a request to provision a new client device.
type TokenRequest struct {
	DeviceName  string
	DeviceType  string // windows, macos, linux, android, ios
	IPAddress   string // CIDR; auto-assigned from the pool when empty
	CAName      string
	AutoConnect bool
}

// IssuedToken is the one-time provisioning credential returned to the
// operator. The token itself is a bearer capability for one certificate
// issuance and download.
type IssuedToken struct {
	Token       string
	ExpiresAt   time.Time
	DeviceName  string
	IPAddress   string
	DownloadURL string
}

// CARequest asks for a new certificate authority.
type CARequest struct {
	Name     string
	Validity time.Duration
	Groups   []string
}
