package dto

import "time"

type CreateCARequest struct {
	Name          string   `json:"name" binding:"required,min=1,max=63"`
	ValidityHours int      `json:"validity_hours" binding:"omitempty,min=1"`
	Groups        []string `json:"groups"`
}

type CertificateResponse struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	CertType  string     `json:"cert_type"`
	IPAddress string     `json:"ip_address,omitempty"`
	Groups    []string   `json:"groups,omitempty"`
	IsCA      bool       `json:"is_ca"`
	CertPEM   string     `json:"cert_pem"`
	CreatedBy string     `json:"created_by,omitempty"`
	ExpiresAt time.Time  `json:"expires_at"`
	CreatedAt time.Time  `json:"created_at"`
	Revoked   bool       `json:"revoked"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

type ListCAsResponse struct {
	CAs   []CertificateResponse `json:"cas"`
	Count int                   `json:"count"`
}

type CertificateDetailsResponse struct {
	Name        string    `json:"name"`
	Issuer      string    `json:"issuer,omitempty"`
	IsCA        bool      `json:"is_ca"`
	Groups      []string  `json:"groups,omitempty"`
	IPs         []string  `json:"ips,omitempty"`
	Subnets     []string  `json:"subnets,omitempty"`
	NotBefore   time.Time `json:"not_before"`
	NotAfter    time.Time `json:"not_after"`
	Fingerprint string    `json:"fingerprint,omitempty"`
}
